// Package db provides the repository over the recording ledger tables.
package db

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/scriberr-companion/internal/errors"
	"github.com/kimhsiao/scriberr-companion/internal/models"
	"github.com/kimhsiao/scriberr-companion/internal/uuid"
)

const recordingColumns = `local_id, remote_job_id, title, duration_sec, created_at,
	sync_status, local_file_path, remote_audio_url, local_audio_path, file_hash,
	keep_offline, transcript_text, summary_text, individual_transcripts_json,
	retry_count, sync_error`

// Repository provides CRUD operations for the recording ledger.
// It enforces the sync state machine on every status change; callers
// cannot move a row along an edge the machine does not have.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecording(row rowScanner) (*models.Recording, error) {
	var rec models.Recording
	var remoteJobID, localFilePath, remoteAudioURL, localAudioPath sql.NullString
	var fileHash, transcript, summary, individualJSON, syncError sql.NullString

	err := row.Scan(
		&rec.LocalID, &remoteJobID, &rec.Title, &rec.DurationSec, &rec.CreatedAt,
		&rec.SyncStatus, &localFilePath, &remoteAudioURL, &localAudioPath, &fileHash,
		&rec.KeepOffline, &transcript, &summary, &individualJSON,
		&rec.RetryCount, &syncError,
	)
	if err != nil {
		return nil, err
	}

	rec.RemoteJobID = remoteJobID.String
	rec.LocalFilePath = localFilePath.String
	rec.RemoteAudioURL = remoteAudioURL.String
	rec.LocalAudioPath = localAudioPath.String
	rec.FileHash = fileHash.String
	rec.TranscriptText = transcript.String
	rec.SummaryText = summary.String
	rec.IndividualTranscriptsJSON = individualJSON.String
	rec.SyncError = syncError.String
	return &rec, nil
}

// nullable converts "" to a SQL NULL so optional columns stay NULL
// instead of accumulating empty strings.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// =====================================================
// Recording Operations
// =====================================================

// CreateRecording inserts a new recording in DRAFT_READY state.
// A missing LocalID is generated; CreatedAt defaults to now.
// Returns DUPLICATE_ID if the local_id already exists.
func (r *Repository) CreateRecording(rec *models.Recording) error {
	if rec.LocalID == "" {
		rec.LocalID = models.UUID(uuid.New())
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}
	rec.SyncStatus = models.StatusDraftReady

	query := `
	INSERT INTO cached_recordings (
		local_id, title, duration_sec, created_at, sync_status,
		local_file_path, file_hash, keep_offline, retry_count
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
	`
	_, err := r.db.Exec(query, rec.LocalID, rec.Title, rec.DurationSec, rec.CreatedAt,
		rec.SyncStatus, nullable(rec.LocalFilePath), nullable(rec.FileHash), rec.KeepOffline)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Wrap(apperrors.ErrDuplicateID,
				fmt.Sprintf("recording %s already exists", rec.LocalID), err)
		}
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to insert recording", err)
	}
	return nil
}

// GetRecording retrieves a recording by local id.
func (r *Repository) GetRecording(localID string) (*models.Recording, error) {
	query := `SELECT ` + recordingColumns + ` FROM cached_recordings WHERE local_id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to prepare query", err)
	}

	rec, err := scanRecording(stmt.QueryRow(localID))
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound,
			fmt.Sprintf("recording not found: %s", localID))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan recording", err)
	}
	return rec, nil
}

// ListRecordings returns all recordings ordered by creation time,
// newest first.
func (r *Repository) ListRecordings() ([]*models.Recording, error) {
	query := `SELECT ` + recordingColumns + ` FROM cached_recordings ORDER BY created_at DESC, local_id`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to prepare query", err)
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list recordings", err)
	}
	defer rows.Close()

	var recs []*models.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan recording", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate recordings", err)
	}
	return recs, nil
}

// FindByRemoteJobID maps a remote job back to its local row.
func (r *Repository) FindByRemoteJobID(remoteJobID string) (*models.Recording, error) {
	query := `SELECT ` + recordingColumns + ` FROM cached_recordings WHERE remote_job_id = ?`
	rec, err := scanRecording(r.db.QueryRow(query, remoteJobID))
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound,
			fmt.Sprintf("no recording for remote job %s", remoteJobID))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan recording", err)
	}
	return rec, nil
}

// FindByLocalFilePath returns the recording that owns a capture file,
// if any. The capture watcher uses this to make rescans idempotent.
func (r *Repository) FindByLocalFilePath(path string) (*models.Recording, error) {
	query := `SELECT ` + recordingColumns + ` FROM cached_recordings WHERE local_file_path = ?`
	rec, err := scanRecording(r.db.QueryRow(query, path))
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound,
			fmt.Sprintf("no recording for file %s", path))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan recording", err)
	}
	return rec, nil
}

// FindUploadedByFileHash returns another recording with the same file
// hash that already holds a remote job id. Used to skip re-uploading
// content the remote service has already accepted.
func (r *Repository) FindUploadedByFileHash(fileHash string, excludeLocalID string) (*models.Recording, error) {
	if fileHash == "" {
		return nil, apperrors.New(apperrors.ErrNotFound, "no file hash to match")
	}
	query := `SELECT ` + recordingColumns + ` FROM cached_recordings
		WHERE file_hash = ? AND local_id != ? AND remote_job_id IS NOT NULL
		  AND sync_status != ? AND sync_error IS NULL
		LIMIT 1`
	rec, err := scanRecording(r.db.QueryRow(query, fileHash, excludeLocalID, models.StatusFailed))
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound,
			fmt.Sprintf("no uploaded recording with hash %s", fileHash))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan recording", err)
	}
	return rec, nil
}

// DeleteRecording removes a recording. Child speaker maps and tracks
// cascade in the same transaction via foreign keys. Deleting an
// absent id is a no-op success: a remote-triggered deletion may race
// a user-triggered one.
func (r *Repository) DeleteRecording(localID string) error {
	_, err := r.db.Exec("DELETE FROM cached_recordings WHERE local_id = ?", localID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete recording", err)
	}
	return nil
}

// RenameRecording updates a recording's display title.
func (r *Repository) RenameRecording(localID, title string) error {
	result, err := r.db.Exec("UPDATE cached_recordings SET title = ? WHERE local_id = ?", title, localID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to rename recording", err)
	}
	return requireRowAffected(result, localID)
}

// =====================================================
// Status transitions
// =====================================================

// statusUpdate carries the column changes that commit atomically with
// a status transition.
type statusUpdate struct {
	remoteJobID    string
	remoteAudioURL string
	transcript     string
	summary        string
	individualJSON string
	syncError      string
	clearSyncError bool
	clearLocalFile bool
	bumpRetry      bool
}

// transition moves a recording to next inside one transaction. The
// current status is read, validated against the state machine, and
// the row is updated together with the companion fields, so a
// transition and its fields commit together or not at all.
func (r *Repository) transition(localID string, next models.SyncStatus, upd statusUpdate) (*models.Recording, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	var current models.SyncStatus
	err = tx.QueryRow("SELECT sync_status FROM cached_recordings WHERE local_id = ?", localID).Scan(&current)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound,
			fmt.Sprintf("recording not found: %s", localID))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read current status", err)
	}

	if !current.CanTransition(next) {
		return nil, apperrors.New(apperrors.ErrInvalidTransition,
			fmt.Sprintf("cannot transition %s from %s to %s", localID, current, next))
	}

	query := "UPDATE cached_recordings SET sync_status = ?"
	args := []interface{}{next}

	if upd.remoteJobID != "" {
		query += ", remote_job_id = ?"
		args = append(args, upd.remoteJobID)
	}
	if upd.remoteAudioURL != "" {
		query += ", remote_audio_url = ?"
		args = append(args, upd.remoteAudioURL)
	}
	if upd.transcript != "" {
		query += ", transcript_text = ?"
		args = append(args, upd.transcript)
	}
	if upd.summary != "" {
		query += ", summary_text = ?"
		args = append(args, upd.summary)
	}
	if upd.individualJSON != "" {
		query += ", individual_transcripts_json = ?"
		args = append(args, upd.individualJSON)
	}
	if upd.syncError != "" {
		query += ", sync_error = ?"
		args = append(args, upd.syncError)
	} else if upd.clearSyncError {
		query += ", sync_error = NULL"
	}
	if upd.clearLocalFile {
		query += ", local_file_path = NULL"
	}
	if upd.bumpRetry {
		query += ", retry_count = retry_count + 1"
	}
	query += " WHERE local_id = ?"
	args = append(args, localID)

	if _, err := tx.Exec(query, args...); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to update status", err)
	}

	rec, err := scanRecording(tx.QueryRow(
		`SELECT `+recordingColumns+` FROM cached_recordings WHERE local_id = ?`, localID))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to reload recording", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to commit transition", err)
	}
	return rec, nil
}

// MarkUploading moves a DRAFT_READY or FAILED recording to UPLOADING.
func (r *Repository) MarkUploading(localID string) (*models.Recording, error) {
	return r.transition(localID, models.StatusUploading, statusUpdate{clearSyncError: true})
}

// FinalizeUpload records the remote job id the service assigned and
// moves the recording to REMOTE_PENDING.
func (r *Repository) FinalizeUpload(localID, remoteJobID string) (*models.Recording, error) {
	return r.transition(localID, models.StatusRemotePending, statusUpdate{
		remoteJobID:    remoteJobID,
		clearSyncError: true,
	})
}

// MarkUploadFailed moves a recording to FAILED and increments its
// retry counter.
func (r *Repository) MarkUploadFailed(localID, reason string) (*models.Recording, error) {
	return r.transition(localID, models.StatusFailed, statusUpdate{
		syncError: reason,
		bumpRetry: true,
	})
}

// MarkProcessing moves a REMOTE_PENDING recording to PROCESSING_REMOTE.
func (r *Repository) MarkProcessing(localID string) (*models.Recording, error) {
	return r.transition(localID, models.StatusProcessingRemote, statusUpdate{clearSyncError: true})
}

// MarkSynced moves a recording to COMPLETED_SYNCED and merges the
// remote results in the same transaction. pruneLocalFile clears
// local_file_path for recordings that are not kept offline.
func (r *Repository) MarkSynced(localID, transcript, summary, individualJSON, remoteAudioURL string, pruneLocalFile bool) (*models.Recording, error) {
	return r.transition(localID, models.StatusCompletedSynced, statusUpdate{
		transcript:     transcript,
		summary:        summary,
		individualJSON: individualJSON,
		remoteAudioURL: remoteAudioURL,
		clearSyncError: true,
		clearLocalFile: pruneLocalFile,
	})
}

// MarkRemoteFailed moves a recording to FAILED because the remote
// service reported the job as failed.
func (r *Repository) MarkRemoteFailed(localID, reason string) (*models.Recording, error) {
	return r.transition(localID, models.StatusFailed, statusUpdate{syncError: reason})
}

// RemoteMissingMarker is stored in sync_error when reconciliation
// finds the remote job gone but the recording is pinned locally.
const RemoteMissingMarker = "remote job missing"

// MarkRemoteMissing downgrades a pinned recording whose remote job
// vanished to FAILED with the remote-missing marker.
func (r *Repository) MarkRemoteMissing(localID string) (*models.Recording, error) {
	return r.transition(localID, models.StatusFailed, statusUpdate{syncError: RemoteMissingMarker})
}

// =====================================================
// Pinning and local audio
// =====================================================

// SetKeepOffline pins or unpins a recording. When pinning with a
// retained copy, localAudioPath records where it lives. A populated
// local_audio_path is never cleared here; unpinning only drops the
// flag so normal pruning may apply later.
func (r *Repository) SetKeepOffline(localID string, keep bool, localAudioPath string) error {
	query := "UPDATE cached_recordings SET keep_offline = ?"
	args := []interface{}{keep}
	if localAudioPath != "" {
		query += ", local_audio_path = ?"
		args = append(args, localAudioPath)
	}
	query += " WHERE local_id = ?"
	args = append(args, localID)

	result, err := r.db.Exec(query, args...)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to update pin state", err)
	}
	return requireRowAffected(result, localID)
}

// =====================================================
// Remote adoption (reconciliation upsert)
// =====================================================

// UpsertRemoteRecording merges a remote job into the ledger. An
// existing row keyed by remote_job_id is refreshed; an unknown job is
// adopted as a new local row so recordings created elsewhere appear
// in this catalog too.
func (r *Repository) UpsertRemoteRecording(remoteJobID, title string, status models.SyncStatus,
	createdAt int64, transcript, summary, individualJSON, remoteAudioURL string) (*models.Recording, bool, error) {

	existing, err := r.FindByRemoteJobID(remoteJobID)
	if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, false, err
	}

	if existing != nil {
		query := `
		UPDATE cached_recordings
		SET title = ?, sync_status = ?, transcript_text = ?, summary_text = ?,
			individual_transcripts_json = ?, remote_audio_url = ?
		WHERE local_id = ?
		`
		_, err := r.db.Exec(query, title, status, nullable(transcript), nullable(summary),
			nullable(individualJSON), nullable(remoteAudioURL), existing.LocalID)
		if err != nil {
			return nil, false, apperrors.Wrap(apperrors.ErrDatabase, "failed to refresh remote recording", err)
		}
		rec, err := r.GetRecording(string(existing.LocalID))
		return rec, false, err
	}

	localID := models.UUID(uuid.New())
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}
	query := `
	INSERT INTO cached_recordings (
		local_id, remote_job_id, title, duration_sec, created_at, sync_status,
		transcript_text, summary_text, individual_transcripts_json,
		remote_audio_url, keep_offline, retry_count
	)
	VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?, ?, 0, 0)
	`
	_, err = r.db.Exec(query, localID, remoteJobID, title, createdAt, status,
		nullable(transcript), nullable(summary), nullable(individualJSON), nullable(remoteAudioURL))
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrDatabase, "failed to adopt remote recording", err)
	}
	rec, err := r.GetRecording(string(localID))
	return rec, true, err
}

// =====================================================
// SpeakerMap Operations
// =====================================================

// ReplaceSpeakerMaps swaps the full set of speaker-name overrides for
// a recording in one transaction.
func (r *Repository) ReplaceSpeakerMaps(localID string, maps []models.SpeakerMap) error {
	if _, err := r.GetRecording(localID); err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM cached_speaker_maps WHERE local_recording_id = ?", localID); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to clear speaker maps", err)
	}

	for _, m := range maps {
		_, err := tx.Exec(`
			INSERT INTO cached_speaker_maps (local_recording_id, original_speaker_label, display_name)
			VALUES (?, ?, ?)`,
			localID, m.OriginalSpeakerLabel, m.DisplayName)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to insert speaker map", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to commit speaker maps", err)
	}
	return nil
}

// ListSpeakerMaps returns the speaker-name overrides for a recording.
func (r *Repository) ListSpeakerMaps(localID string) ([]models.SpeakerMap, error) {
	rows, err := r.db.Query(`
		SELECT id, local_recording_id, original_speaker_label, display_name
		FROM cached_speaker_maps WHERE local_recording_id = ?
		ORDER BY original_speaker_label`, localID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list speaker maps", err)
	}
	defer rows.Close()

	var maps []models.SpeakerMap
	for rows.Next() {
		var m models.SpeakerMap
		if err := rows.Scan(&m.ID, &m.LocalRecordingID, &m.OriginalSpeakerLabel, &m.DisplayName); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan speaker map", err)
		}
		maps = append(maps, m)
	}
	return maps, rows.Err()
}

// =====================================================
// Track Operations
// =====================================================

// ReplaceTracks swaps the ordered track list for a recording in one
// transaction.
func (r *Repository) ReplaceTracks(localID string, tracks []models.Track) error {
	if _, err := r.GetRecording(localID); err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM cached_tracks WHERE local_recording_id = ?", localID); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to clear tracks", err)
	}

	for _, t := range tracks {
		_, err := tx.Exec(`
			INSERT INTO cached_tracks (local_recording_id, track_name, track_index)
			VALUES (?, ?, ?)`,
			localID, t.TrackName, t.TrackIndex)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to insert track", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to commit tracks", err)
	}
	return nil
}

// ListTracks returns the tracks for a recording in index order.
func (r *Repository) ListTracks(localID string) ([]models.Track, error) {
	rows, err := r.db.Query(`
		SELECT id, local_recording_id, track_name, track_index
		FROM cached_tracks WHERE local_recording_id = ?
		ORDER BY track_index`, localID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list tracks", err)
	}
	defer rows.Close()

	var tracks []models.Track
	for rows.Next() {
		var t models.Track
		if err := rows.Scan(&t.ID, &t.LocalRecordingID, &t.TrackName, &t.TrackIndex); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan track", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// =====================================================
// helpers
// =====================================================

func requireRowAffected(result sql.Result, localID string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to read rows affected", err)
	}
	if rows == 0 {
		return apperrors.New(apperrors.ErrNotFound,
			fmt.Sprintf("recording not found: %s", localID))
	}
	return nil
}

// isUniqueViolation detects a primary-key conflict from the sqlite
// driver without importing its error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
