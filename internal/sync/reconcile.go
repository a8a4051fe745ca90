package sync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/kimhsiao/scriberr-companion/internal/errors"
	"github.com/kimhsiao/scriberr-companion/internal/models"
	"github.com/kimhsiao/scriberr-companion/internal/remote"
)

// SyncNow runs one reconciliation pass against the remote catalog.
//
// Passes are serialized; a second caller blocks until the current pass
// finishes. Fetching the remote catalog is the only step that aborts
// the pass. Per-row failures are logged and skipped so one bad row
// cannot starve the rest, and the pass still counts as completed. The
// sync-completed event fires exactly once, after the last row.
func (e *Engine) SyncNow(ctx context.Context) error {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	if !e.remote.Configured() {
		return apperrors.New(apperrors.ErrSyncNotConfigured, "Scriberr URL is not configured")
	}

	jobs, err := e.remote.ListJobs(ctx)
	if err != nil {
		e.setLastErr(err)
		return err
	}

	jobsByID := make(map[string]*remote.Job, len(jobs))
	for i := range jobs {
		jobsByID[jobs[i].ID] = &jobs[i]
	}

	locals, err := e.repo.ListRecordings()
	if err != nil {
		e.setLastErr(err)
		return err
	}

	seen := make(map[string]struct{}, len(locals))
	for _, rec := range locals {
		if rec.RemoteJobID == "" {
			continue
		}
		seen[rec.RemoteJobID] = struct{}{}

		job, present := jobsByID[rec.RemoteJobID]
		if present {
			e.reconcileRow(rec, job)
		} else {
			e.reconcileVanished(rec)
		}
	}

	// Jobs the remote knows and this ledger does not were created
	// from another client. Adopt them so the catalog stays complete.
	for i := range jobs {
		job := &jobs[i]
		if _, known := seen[job.ID]; known {
			continue
		}
		e.adoptRemoteJob(job)
	}

	now := time.Now()
	e.statusMu.Lock()
	e.lastSync = &now
	e.lastErr = nil
	e.statusMu.Unlock()

	e.notifier.SyncCompleted()
	return nil
}

// reconcileRow advances one local row toward the status the remote
// service reports for its job.
func (e *Engine) reconcileRow(rec *models.Recording, job *remote.Job) {
	target := models.StatusFromRemote(job.Status)
	if rec.SyncStatus == target {
		return
	}

	log := e.log.WithFields(logrus.Fields{
		"local_id":      rec.LocalID,
		"remote_job_id": rec.RemoteJobID,
		"from":          rec.SyncStatus,
		"to":            target,
	})

	switch rec.SyncStatus {
	case models.StatusRemotePending, models.StatusProcessingRemote:
	default:
		// UPLOADING rows belong to an in-flight upload; FAILED and
		// COMPLETED_SYNCED rows only move by user action.
		return
	}

	var updated *models.Recording
	var err error
	switch target {
	case models.StatusProcessingRemote:
		updated, err = e.repo.MarkProcessing(string(rec.LocalID))
	case models.StatusCompletedSynced:
		prune := !rec.KeepOffline
		updated, err = e.repo.MarkSynced(string(rec.LocalID),
			job.Transcript, job.Summary, job.IndividualTranscripts,
			e.remote.AudioURL(job.ID), prune)
		if err == nil && prune {
			removeFileIfSet(rec.LocalFilePath)
		}
	case models.StatusFailed:
		updated, err = e.repo.MarkRemoteFailed(string(rec.LocalID),
			"remote transcription failed")
	default:
		return
	}

	if err != nil {
		log.WithError(err).Warn("failed to advance recording")
		return
	}
	log.Info("recording advanced")
	e.notifier.RecordingUpdated(updated)
}

// reconcileVanished handles a local row whose remote job no longer
// exists upstream. Rows with local audio or a pin are downgraded to
// FAILED with the remote-missing marker so nothing the user still has
// is thrown away; rows with nothing left locally are removed and a
// remote-deletion event tells observers why.
func (e *Engine) reconcileVanished(rec *models.Recording) {
	switch rec.SyncStatus {
	case models.StatusUploading, models.StatusFailed:
		// An upload in flight may not be visible in the catalog yet,
		// and a FAILED row already records what went wrong.
		return
	}

	log := e.log.WithFields(logrus.Fields{
		"local_id":      rec.LocalID,
		"remote_job_id": rec.RemoteJobID,
	})

	if rec.KeepOffline || rec.HasLocalAudio() {
		updated, err := e.repo.MarkRemoteMissing(string(rec.LocalID))
		if err != nil {
			log.WithError(err).Warn("failed to mark remote job missing")
			return
		}
		log.Info("remote job vanished, recording kept locally")
		e.notifier.RecordingUpdated(updated)
		return
	}

	if err := e.repo.DeleteRecording(string(rec.LocalID)); err != nil {
		log.WithError(err).Warn("failed to remove recording for vanished job")
		return
	}
	log.Info("remote job vanished, recording removed")
	e.notifier.RecordingDeletedRemote(rec.RemoteJobID)
}

// adoptRemoteJob pulls a job created from another client into this
// ledger.
func (e *Engine) adoptRemoteJob(job *remote.Job) {
	createdAt := parseRemoteTime(job.CreatedAt)
	rec, created, err := e.repo.UpsertRemoteRecording(
		job.ID, job.Title, models.StatusFromRemote(job.Status), createdAt,
		job.Transcript, job.Summary, job.IndividualTranscripts,
		e.remote.AudioURL(job.ID))
	if err != nil {
		e.log.WithError(err).WithField("remote_job_id", job.ID).
			Warn("failed to adopt remote job")
		return
	}
	if created {
		e.log.WithFields(logrus.Fields{
			"local_id":      rec.LocalID,
			"remote_job_id": job.ID,
		}).Info("adopted remote recording")
		e.notifier.RecordingAdded(rec)
	}
}

// parseRemoteTime converts the remote created_at timestamp to unix
// seconds. Zero means "unknown" and the store substitutes now.
func parseRemoteTime(s string) int64 {
	if s == "" {
		return 0
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix()
		}
	}
	return 0
}
