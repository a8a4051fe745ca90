// Package models provides data model definitions for the Scriberr companion.
package models

import (
	"database/sql/driver"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	if value == nil {
		*u = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// Recording is the ledger's primary entity: one locally captured
// recording and everything known about its remote transcription job.
// Optional columns map to empty strings; RemoteJobID is set only once
// an upload has been accepted by the remote service.
type Recording struct {
	LocalID                   UUID       `db:"local_id" json:"local_id"`
	RemoteJobID               string     `db:"remote_job_id" json:"remote_job_id,omitempty"`
	Title                     string     `db:"title" json:"title"`
	DurationSec               float64    `db:"duration_sec" json:"duration_sec"`
	CreatedAt                 int64      `db:"created_at" json:"created_at"`
	SyncStatus                SyncStatus `db:"sync_status" json:"sync_status"`
	LocalFilePath             string     `db:"local_file_path" json:"local_file_path,omitempty"`
	RemoteAudioURL            string     `db:"remote_audio_url" json:"remote_audio_url,omitempty"`
	LocalAudioPath            string     `db:"local_audio_path" json:"local_audio_path,omitempty"`
	FileHash                  string     `db:"file_hash" json:"file_hash,omitempty"`
	KeepOffline               bool       `db:"keep_offline" json:"keep_offline"`
	TranscriptText            string     `db:"transcript_text" json:"transcript_text,omitempty"`
	SummaryText               string     `db:"summary_text" json:"summary_text,omitempty"`
	IndividualTranscriptsJSON string     `db:"individual_transcripts_json" json:"individual_transcripts_json,omitempty"`
	RetryCount                int        `db:"retry_count" json:"retry_count"`
	SyncError                 string     `db:"sync_error" json:"sync_error,omitempty"`
}

// TableName returns the table name for Recording.
func (Recording) TableName() string {
	return "cached_recordings"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (r *Recording) CreatedAtTime() time.Time {
	return time.Unix(r.CreatedAt, 0)
}

// HasLocalAudio reports whether any local copy of the audio remains,
// either the original capture file or a pinned copy.
func (r *Recording) HasLocalAudio() bool {
	return r.LocalFilePath != "" || r.LocalAudioPath != ""
}

// SpeakerMap maps a speaker label from the remote transcript to a
// user-chosen display name, scoped to one recording.
type SpeakerMap struct {
	ID                   int64  `db:"id" json:"id"`
	LocalRecordingID     UUID   `db:"local_recording_id" json:"local_recording_id"`
	OriginalSpeakerLabel string `db:"original_speaker_label" json:"original_speaker_label"`
	DisplayName          string `db:"display_name" json:"display_name"`
}

// TableName returns the table name for SpeakerMap.
func (SpeakerMap) TableName() string {
	return "cached_speaker_maps"
}

// Track is one named audio track of a multi-track recording.
type Track struct {
	ID               int64  `db:"id" json:"id"`
	LocalRecordingID UUID   `db:"local_recording_id" json:"local_recording_id"`
	TrackName        string `db:"track_name" json:"track_name"`
	TrackIndex       int    `db:"track_index" json:"track_index"`
}

// TableName returns the table name for Track.
func (Track) TableName() string {
	return "cached_tracks"
}
