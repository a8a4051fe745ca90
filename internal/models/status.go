package models

// SyncStatus is the lifecycle stage of a recording with respect to
// the remote transcription service.
type SyncStatus string

const (
	StatusDraftReady       SyncStatus = "DRAFT_READY"
	StatusUploading        SyncStatus = "UPLOADING"
	StatusRemotePending    SyncStatus = "REMOTE_PENDING"
	StatusProcessingRemote SyncStatus = "PROCESSING_REMOTE"
	StatusCompletedSynced  SyncStatus = "COMPLETED_SYNCED"
	StatusFailed           SyncStatus = "FAILED"
)

// IsValid reports whether s is one of the six ledger statuses.
func (s SyncStatus) IsValid() bool {
	switch s {
	case StatusDraftReady, StatusUploading, StatusRemotePending,
		StatusProcessingRemote, StatusCompletedSynced, StatusFailed:
		return true
	}
	return false
}

// AllowsRemoteJobID reports whether a remote_job_id may be present in
// this status. A draft has never touched the remote service.
func (s SyncStatus) AllowsRemoteJobID() bool {
	return s != StatusDraftReady && s.IsValid()
}

// transitions is the sync state machine. A status maps to the set of
// statuses it may move to. Row removal is allowed from any state and
// is not modeled here.
var transitions = map[SyncStatus][]SyncStatus{
	StatusDraftReady:       {StatusUploading},
	StatusUploading:        {StatusRemotePending, StatusFailed},
	StatusRemotePending:    {StatusProcessingRemote, StatusCompletedSynced, StatusFailed},
	StatusProcessingRemote: {StatusCompletedSynced, StatusFailed},
	// The remote job vanishing downgrades a pinned synced row to FAILED.
	StatusCompletedSynced: {StatusFailed},
	StatusFailed:          {StatusUploading},
}

// CanTransition reports whether the state machine permits moving from
// s to next.
func (s SyncStatus) CanTransition(next SyncStatus) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// StatusFromRemote maps a status string reported by the Scriberr API
// to a ledger status. Unknown strings map to REMOTE_PENDING so an
// unrecognized-but-alive job is polled again rather than dropped.
func StatusFromRemote(s string) SyncStatus {
	switch s {
	case "uploaded", "pending", "queued":
		return StatusRemotePending
	case "processing":
		return StatusProcessingRemote
	case "completed":
		return StatusCompletedSynced
	case "failed", "error":
		return StatusFailed
	}
	return StatusRemotePending
}
