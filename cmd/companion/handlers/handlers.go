// Package handlers provides the localhost REST API over the recording
// ledger and sync engine.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/kimhsiao/scriberr-companion/internal/errors"
	"github.com/kimhsiao/scriberr-companion/internal/uuid"
)

// recordingID extracts and validates the {id} path variable. A
// malformed id is rejected before it reaches the ledger, so observers
// can tell a bad request from a recording that does not exist.
func recordingID(r *http.Request) (string, error) {
	id := mux.Vars(r)["id"]
	if err := uuid.Validate(id); err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalid, "malformed recording id", err)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps ledger error codes onto HTTP statuses and emits a
// JSON error body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.Code(err) {
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrValidation, apperrors.ErrInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrDuplicateID, apperrors.ErrInvalidTransition, apperrors.ErrAlreadyInProgress:
		status = http.StatusConflict
	case apperrors.ErrSyncNotConfigured:
		status = http.StatusPreconditionFailed
	case apperrors.ErrNetwork:
		status = http.StatusBadGateway
	}

	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  string(apperrors.Code(err)),
	})
}
