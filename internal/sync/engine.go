// Package sync drives every sync_status transition in the recording
// ledger and all communication with the remote transcription service.
package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kimhsiao/scriberr-companion/internal/db"
	apperrors "github.com/kimhsiao/scriberr-companion/internal/errors"
	"github.com/kimhsiao/scriberr-companion/internal/logging"
	"github.com/kimhsiao/scriberr-companion/internal/models"
	"github.com/kimhsiao/scriberr-companion/internal/notify"
	"github.com/kimhsiao/scriberr-companion/internal/remote"
)

// RemoteService is the slice of the Scriberr client the engine needs.
type RemoteService interface {
	Configured() bool
	Upload(ctx context.Context, filePath, title string) (string, error)
	ListJobs(ctx context.Context) ([]remote.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
	AudioURL(jobID string) string
}

// Engine owns the sync state machine. The ledger repository is the
// only writer it mutates through, and the notifier is told after
// every externally visible change.
type Engine struct {
	repo     *db.Repository
	remote   RemoteService
	notifier *notify.Notifier
	log      *logrus.Entry

	pinnedDir string

	// inflight guards against concurrent uploads of the same
	// recording. syncMu serializes reconciliation passes.
	mu       gosync.Mutex
	inflight map[string]struct{}
	syncMu   gosync.Mutex

	statusMu gosync.RWMutex
	lastSync *time.Time
	lastErr  error
}

// NewEngine creates an Engine. pinnedDir is where pinned audio copies
// are retained.
func NewEngine(repo *db.Repository, remoteSvc RemoteService, notifier *notify.Notifier, pinnedDir string) *Engine {
	return &Engine{
		repo:      repo,
		remote:    remoteSvc,
		notifier:  notifier,
		log:       logging.WithComponent("sync"),
		pinnedDir: pinnedDir,
		inflight:  make(map[string]struct{}),
	}
}

// LastSync returns when the last reconciliation pass completed.
func (e *Engine) LastSync() *time.Time {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.lastSync
}

// LastError returns the error of the most recent failed operation.
func (e *Engine) LastError() error {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.lastErr
}

func (e *Engine) setLastErr(err error) {
	e.statusMu.Lock()
	e.lastErr = err
	e.statusMu.Unlock()
}

// acquireUpload claims the per-recording upload slot.
func (e *Engine) acquireUpload(localID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[localID]; busy {
		return apperrors.New(apperrors.ErrAlreadyInProgress,
			fmt.Sprintf("upload already in flight for %s", localID))
	}
	e.inflight[localID] = struct{}{}
	return nil
}

func (e *Engine) releaseUpload(localID string) {
	e.mu.Lock()
	delete(e.inflight, localID)
	e.mu.Unlock()
}

// Upload streams a recording to the remote service.
//
// Preconditions: the recording exists, is in DRAFT_READY or FAILED,
// and no upload for it is already in flight. On success the row moves
// UPLOADING→REMOTE_PENDING with the assigned remote job id; on
// failure it moves to FAILED with retry_count incremented and the
// error is returned to the caller. The engine never retries on its
// own. A row deleted while its upload was in flight stays deleted;
// the late result is discarded.
func (e *Engine) Upload(ctx context.Context, localID string) (*models.Recording, error) {
	if !e.remote.Configured() {
		return nil, apperrors.New(apperrors.ErrSyncNotConfigured, "Scriberr URL is not configured")
	}

	if err := e.acquireUpload(localID); err != nil {
		return nil, err
	}
	defer e.releaseUpload(localID)

	rec, err := e.repo.GetRecording(localID)
	if err != nil {
		return nil, err
	}

	// The state machine is checked before anything about the file, so a
	// pruned COMPLETED_SYNCED row is rejected as an invalid transition
	// rather than as a missing-audio complaint.
	if !rec.SyncStatus.CanTransition(models.StatusUploading) {
		return nil, apperrors.New(apperrors.ErrInvalidTransition,
			fmt.Sprintf("cannot upload recording in status %s", rec.SyncStatus))
	}

	audioPath := rec.LocalFilePath
	if audioPath == "" {
		audioPath = rec.LocalAudioPath
	}
	if audioPath == "" {
		return nil, apperrors.New(apperrors.ErrValidation,
			fmt.Sprintf("recording %s has no local audio to upload", localID))
	}
	if _, err := os.Stat(audioPath); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation,
			fmt.Sprintf("audio file missing on disk: %s", audioPath), err)
	}

	// MarkUploading enforces the DRAFT_READY/FAILED precondition; an
	// invalid starting state is rejected here with no side effects.
	updated, err := e.repo.MarkUploading(localID)
	if err != nil {
		return nil, err
	}
	e.notifier.RecordingUpdated(updated)

	// Identical content already accepted by the remote service means
	// the stream is unnecessary: the synced row donates its job id.
	if donor, derr := e.repo.FindUploadedByFileHash(rec.FileHash, localID); derr == nil {
		e.log.WithFields(logrus.Fields{
			"local_id":      localID,
			"remote_job_id": donor.RemoteJobID,
		}).Info("skipping upload, identical content already uploaded")
		return e.finishUpload(localID, donor.RemoteJobID)
	}

	jobID, err := e.remote.Upload(ctx, audioPath, rec.Title)
	if err != nil {
		e.setLastErr(err)
		failed, ferr := e.repo.MarkUploadFailed(localID, err.Error())
		if ferr != nil {
			if apperrors.Is(ferr, apperrors.ErrNotFound) {
				// Deleted mid-flight; nothing to resurrect.
				return nil, err
			}
			return nil, ferr
		}
		e.notifier.RecordingUpdated(failed)
		return nil, err
	}

	return e.finishUpload(localID, jobID)
}

func (e *Engine) finishUpload(localID, jobID string) (*models.Recording, error) {
	updated, err := e.repo.FinalizeUpload(localID, jobID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			// Deleted mid-flight; discard the result rather than
			// resurrecting the row.
			e.log.WithField("local_id", localID).Info("discarding upload result for deleted recording")
			return nil, err
		}
		return nil, err
	}
	e.notifier.RecordingUpdated(updated)
	return updated, nil
}

// Delete removes a recording from the local ledger, cascading to its
// children. Local state is authoritative for the user's intent: when
// alsoRemote is set the remote deletion is best-effort and its
// failure neither blocks nor reverses the local removal. Deleting an
// absent id succeeds.
func (e *Engine) Delete(ctx context.Context, localID string, alsoRemote bool) error {
	rec, err := e.repo.GetRecording(localID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := e.repo.DeleteRecording(localID); err != nil {
		return err
	}

	removeFileIfSet(rec.LocalFilePath)
	removeFileIfSet(rec.LocalAudioPath)

	if alsoRemote && rec.RemoteJobID != "" {
		if err := e.remote.DeleteJob(ctx, rec.RemoteJobID); err != nil {
			e.log.WithFields(logrus.Fields{
				"local_id":      localID,
				"remote_job_id": rec.RemoteJobID,
			}).WithError(err).Warn("best-effort remote delete failed")
		}
	}

	return nil
}

// IngestCapture records a finished capture handed over by the capture
// subsystem. Re-ingesting a path the ledger already tracks is a
// no-op, so startup rescans are safe.
func (e *Engine) IngestCapture(ctx context.Context, filePath, title string, durationSec float64, createdAt time.Time) (*models.Recording, error) {
	if existing, err := e.repo.FindByLocalFilePath(filePath); err == nil {
		return existing, nil
	}

	hash, err := hashFile(filePath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation,
			fmt.Sprintf("cannot hash capture file %s", filePath), err)
	}

	if title == "" {
		title = strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	}

	rec := &models.Recording{
		Title:         title,
		DurationSec:   durationSec,
		CreatedAt:     createdAt.Unix(),
		LocalFilePath: filePath,
		FileHash:      hash,
	}
	if err := e.repo.CreateRecording(rec); err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"local_id": rec.LocalID,
		"title":    rec.Title,
	}).Info("ingested capture")
	e.notifier.RecordingAdded(rec)
	return rec, nil
}

// Pin marks a recording keep-offline and retains a persistent audio
// copy under the pinned directory.
func (e *Engine) Pin(ctx context.Context, localID string) (*models.Recording, error) {
	rec, err := e.repo.GetRecording(localID)
	if err != nil {
		return nil, err
	}

	pinnedPath := rec.LocalAudioPath
	if pinnedPath == "" {
		source := rec.LocalFilePath
		if source == "" {
			return nil, apperrors.New(apperrors.ErrValidation,
				fmt.Sprintf("recording %s has no local audio to pin", localID))
		}
		pinnedPath = filepath.Join(e.pinnedDir, localID+filepath.Ext(source))
		if err := copyFile(source, pinnedPath); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to retain pinned copy", err)
		}
	}

	if err := e.repo.SetKeepOffline(localID, true, pinnedPath); err != nil {
		return nil, err
	}
	updated, err := e.repo.GetRecording(localID)
	if err != nil {
		return nil, err
	}
	e.notifier.RecordingUpdated(updated)
	return updated, nil
}

// Unpin clears keep-offline. The retained copy stays on disk; only
// future pruning is re-enabled.
func (e *Engine) Unpin(ctx context.Context, localID string) (*models.Recording, error) {
	if err := e.repo.SetKeepOffline(localID, false, ""); err != nil {
		return nil, err
	}
	updated, err := e.repo.GetRecording(localID)
	if err != nil {
		return nil, err
	}
	e.notifier.RecordingUpdated(updated)
	return updated, nil
}

// Rename updates the display title.
func (e *Engine) Rename(ctx context.Context, localID, title string) (*models.Recording, error) {
	if err := e.repo.RenameRecording(localID, title); err != nil {
		return nil, err
	}
	updated, err := e.repo.GetRecording(localID)
	if err != nil {
		return nil, err
	}
	e.notifier.RecordingUpdated(updated)
	return updated, nil
}

// UpdateSpeakers replaces the speaker-name overrides for a recording.
func (e *Engine) UpdateSpeakers(ctx context.Context, localID string, maps []models.SpeakerMap) (*models.Recording, error) {
	if err := e.repo.ReplaceSpeakerMaps(localID, maps); err != nil {
		return nil, err
	}
	updated, err := e.repo.GetRecording(localID)
	if err != nil {
		return nil, err
	}
	e.notifier.RecordingUpdated(updated)
	return updated, nil
}

// UpdateTracks replaces the track list for a recording.
func (e *Engine) UpdateTracks(ctx context.Context, localID string, tracks []models.Track) (*models.Recording, error) {
	if err := e.repo.ReplaceTracks(localID, tracks); err != nil {
		return nil, err
	}
	updated, err := e.repo.GetRecording(localID)
	if err != nil {
		return nil, err
	}
	e.notifier.RecordingUpdated(updated)
	return updated, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func removeFileIfSet(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.WithComponent("sync").WithError(err).WithField("path", path).
			Warn("failed to remove local audio file")
	}
}
