package sync

import (
	"context"
	"os"
	"testing"

	"github.com/kimhsiao/scriberr-companion/internal/db"
	apperrors "github.com/kimhsiao/scriberr-companion/internal/errors"
	"github.com/kimhsiao/scriberr-companion/internal/models"
	"github.com/kimhsiao/scriberr-companion/internal/notify"
	"github.com/kimhsiao/scriberr-companion/internal/remote"
)

func TestSyncNowAdvancesPendingToProcessing(t *testing.T) {
	engine, repo, fake, _ := setupEngine(t)
	fake.uploadID = "job-1"

	rec := newDraft(t, repo, "h1")
	id := string(rec.LocalID)
	if _, err := engine.Upload(context.Background(), id); err != nil {
		t.Fatalf("Setup upload failed: %v", err)
	}

	fake.jobs = []remote.Job{{ID: "job-1", Status: "processing"}}
	if err := engine.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	got, _ := repo.GetRecording(id)
	if got.SyncStatus != models.StatusProcessingRemote {
		t.Errorf("Expected PROCESSING_REMOTE, got %s", got.SyncStatus)
	}
}

func TestSyncNowMergesResultsAndPrunes(t *testing.T) {
	engine, repo, fake, recorder := setupEngine(t)
	fake.uploadID = "job-1"

	rec := newDraft(t, repo, "h1")
	id := string(rec.LocalID)
	capturePath := rec.LocalFilePath
	if _, err := engine.Upload(context.Background(), id); err != nil {
		t.Fatalf("Setup upload failed: %v", err)
	}

	fake.jobs = []remote.Job{{
		ID: "job-1", Status: "completed",
		Transcript: "hello world", Summary: "greeting",
	}}
	if err := engine.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	got, _ := repo.GetRecording(id)
	if got.SyncStatus != models.StatusCompletedSynced {
		t.Errorf("Expected COMPLETED_SYNCED, got %s", got.SyncStatus)
	}
	if got.TranscriptText != "hello world" || got.SummaryText != "greeting" {
		t.Error("Expected remote results merged")
	}
	if got.RemoteAudioURL == "" {
		t.Error("Expected remote audio URL recorded")
	}
	if got.LocalFilePath != "" {
		t.Errorf("Expected local file path pruned, got %q", got.LocalFilePath)
	}
	if _, err := os.Stat(capturePath); !os.IsNotExist(err) {
		t.Error("Expected pruned capture file removed from disk")
	}
	if recorder.count(notify.EventSyncCompleted) != 1 {
		t.Errorf("Expected exactly one sync-completed event, got %d",
			recorder.count(notify.EventSyncCompleted))
	}
}

func TestSyncNowKeepsPinnedAudio(t *testing.T) {
	engine, repo, fake, _ := setupEngine(t)
	fake.uploadID = "job-1"

	rec := newDraft(t, repo, "h1")
	id := string(rec.LocalID)
	if _, err := engine.Pin(context.Background(), id); err != nil {
		t.Fatalf("Pin failed: %v", err)
	}
	if _, err := engine.Upload(context.Background(), id); err != nil {
		t.Fatalf("Setup upload failed: %v", err)
	}

	fake.jobs = []remote.Job{{ID: "job-1", Status: "completed"}}
	if err := engine.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	got, _ := repo.GetRecording(id)
	if got.LocalFilePath == "" {
		t.Error("Expected pinned recording to keep its capture file")
	}
}

func TestSyncNowMarksRemoteFailure(t *testing.T) {
	engine, repo, fake, _ := setupEngine(t)
	fake.uploadID = "job-1"

	rec := newDraft(t, repo, "h1")
	id := string(rec.LocalID)
	if _, err := engine.Upload(context.Background(), id); err != nil {
		t.Fatalf("Setup upload failed: %v", err)
	}

	fake.jobs = []remote.Job{{ID: "job-1", Status: "failed"}}
	if err := engine.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	got, _ := repo.GetRecording(id)
	if got.SyncStatus != models.StatusFailed {
		t.Errorf("Expected FAILED, got %s", got.SyncStatus)
	}
	if got.SyncError == "" {
		t.Error("Expected failure reason recorded")
	}
}

func TestSyncNowVanishedJobWithLocalAudio(t *testing.T) {
	engine, repo, fake, recorder := setupEngine(t)
	fake.uploadID = "job-1"

	rec := newDraft(t, repo, "h1")
	id := string(rec.LocalID)
	if _, err := engine.Upload(context.Background(), id); err != nil {
		t.Fatalf("Setup upload failed: %v", err)
	}

	// Remote catalog no longer knows job-1. The capture file is still
	// local, so the row is kept and downgraded.
	fake.jobs = nil
	if err := engine.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	got, err := repo.GetRecording(id)
	if err != nil {
		t.Fatalf("Expected row kept: %v", err)
	}
	if got.SyncStatus != models.StatusFailed {
		t.Errorf("Expected FAILED, got %s", got.SyncStatus)
	}
	if got.SyncError != db.RemoteMissingMarker {
		t.Errorf("Expected remote-missing marker, got %q", got.SyncError)
	}
	if recorder.count(notify.EventRecordingDeletedRemote) != 0 {
		t.Error("Expected no deletion event for a kept row")
	}
}

func TestSyncNowVanishedJobWithoutLocalAudio(t *testing.T) {
	engine, repo, fake, recorder := setupEngine(t)
	fake.uploadID = "job-1"

	rec := newDraft(t, repo, "h1")
	id := string(rec.LocalID)
	if _, err := engine.Upload(context.Background(), id); err != nil {
		t.Fatalf("Setup upload failed: %v", err)
	}

	// Complete and prune first, then make the job vanish.
	fake.jobs = []remote.Job{{ID: "job-1", Status: "completed"}}
	if err := engine.SyncNow(context.Background()); err != nil {
		t.Fatalf("First SyncNow failed: %v", err)
	}
	fake.jobs = nil
	if err := engine.SyncNow(context.Background()); err != nil {
		t.Fatalf("Second SyncNow failed: %v", err)
	}

	if _, err := repo.GetRecording(id); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected row removed, got %v", err)
	}
	if recorder.count(notify.EventRecordingDeletedRemote) != 1 {
		t.Errorf("Expected one deletion event, got %d",
			recorder.count(notify.EventRecordingDeletedRemote))
	}
}

func TestSyncNowSkipsFailedRowsOnVanish(t *testing.T) {
	engine, repo, fake, _ := setupEngine(t)
	fake.uploadID = "job-1"

	rec := newDraft(t, repo, "h1")
	id := string(rec.LocalID)
	if _, err := engine.Upload(context.Background(), id); err != nil {
		t.Fatalf("Setup upload failed: %v", err)
	}
	if _, err := repo.MarkRemoteFailed(id, "remote transcription failed"); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	fake.jobs = nil
	if err := engine.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	got, err := repo.GetRecording(id)
	if err != nil {
		t.Fatalf("Expected FAILED row untouched: %v", err)
	}
	if got.SyncError != "remote transcription failed" {
		t.Errorf("Expected original failure preserved, got %q", got.SyncError)
	}
}

func TestSyncNowAdoptsRemoteOnlyJobs(t *testing.T) {
	engine, repo, fake, recorder := setupEngine(t)

	fake.jobs = []remote.Job{{
		ID: "job-remote", Title: "Recorded elsewhere", Status: "completed",
		Transcript: "text", CreatedAt: "2026-08-30T10:00:00Z",
	}}
	if err := engine.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	adopted, err := repo.FindByRemoteJobID("job-remote")
	if err != nil {
		t.Fatalf("Expected adopted row: %v", err)
	}
	if adopted.SyncStatus != models.StatusCompletedSynced {
		t.Errorf("Expected COMPLETED_SYNCED, got %s", adopted.SyncStatus)
	}
	if adopted.TranscriptText != "text" {
		t.Error("Expected transcript carried into adopted row")
	}
	if recorder.count(notify.EventRecordingAdded) != 1 {
		t.Errorf("Expected one added event, got %d", recorder.count(notify.EventRecordingAdded))
	}

	// A second pass refreshes, it does not duplicate.
	if err := engine.SyncNow(context.Background()); err != nil {
		t.Fatalf("Second SyncNow failed: %v", err)
	}
	recs, _ := repo.ListRecordings()
	if len(recs) != 1 {
		t.Errorf("Expected 1 recording after second pass, got %d", len(recs))
	}
	if recorder.count(notify.EventRecordingAdded) != 1 {
		t.Error("Expected no further added events")
	}
}

func TestSyncNowAbortsWhenCatalogUnavailable(t *testing.T) {
	engine, _, fake, recorder := setupEngine(t)
	fake.listErr = apperrors.New(apperrors.ErrNetwork, "connection refused")

	err := engine.SyncNow(context.Background())
	if !apperrors.Is(err, apperrors.ErrNetwork) {
		t.Fatalf("Expected NETWORK_ERROR, got %v", err)
	}
	if recorder.count(notify.EventSyncCompleted) != 0 {
		t.Error("Expected no sync-completed event for an aborted pass")
	}
	if engine.LastError() == nil {
		t.Error("Expected last error recorded")
	}
	if engine.LastSync() != nil {
		t.Error("Expected no last-sync time for an aborted pass")
	}
}

func TestSyncNowUnconfigured(t *testing.T) {
	engine, _, fake, _ := setupEngine(t)
	fake.configured = false

	if err := engine.SyncNow(context.Background()); !apperrors.Is(err, apperrors.ErrSyncNotConfigured) {
		t.Errorf("Expected SYNC_NOT_CONFIGURED, got %v", err)
	}
}

// Full lifecycle: capture, upload, poll to completion, remote vanish.
func TestSyncLifecycleEndToEnd(t *testing.T) {
	engine, repo, fake, recorder := setupEngine(t)
	fake.uploadID = "job-e2e"

	rec := newDraft(t, repo, "e2e")
	id := string(rec.LocalID)

	if _, err := engine.Upload(context.Background(), id); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	fake.jobs = []remote.Job{{ID: "job-e2e", Status: "processing"}}
	if err := engine.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	got, _ := repo.GetRecording(id)
	if got.SyncStatus != models.StatusProcessingRemote {
		t.Fatalf("Expected PROCESSING_REMOTE, got %s", got.SyncStatus)
	}

	fake.jobs = []remote.Job{{ID: "job-e2e", Status: "completed", Transcript: "done"}}
	if err := engine.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	got, _ = repo.GetRecording(id)
	if got.SyncStatus != models.StatusCompletedSynced {
		t.Fatalf("Expected COMPLETED_SYNCED, got %s", got.SyncStatus)
	}

	fake.jobs = nil
	if err := engine.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	if _, err := repo.GetRecording(id); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("Expected row removed after remote vanish, got %v", err)
	}

	if recorder.count(notify.EventSyncCompleted) != 3 {
		t.Errorf("Expected 3 completed passes, got %d", recorder.count(notify.EventSyncCompleted))
	}
}

func TestParseRemoteTime(t *testing.T) {
	if got := parseRemoteTime("2026-08-30T10:00:00Z"); got == 0 {
		t.Error("Expected RFC3339 timestamp parsed")
	}
	if got := parseRemoteTime("2026-08-30 10:00:00"); got == 0 {
		t.Error("Expected SQL-style timestamp parsed")
	}
	if got := parseRemoteTime("not a time"); got != 0 {
		t.Errorf("Expected 0 for garbage, got %d", got)
	}
	if got := parseRemoteTime(""); got != 0 {
		t.Errorf("Expected 0 for empty, got %d", got)
	}
}
