package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kimhsiao/scriberr-companion/internal/db"
	apperrors "github.com/kimhsiao/scriberr-companion/internal/errors"
	"github.com/kimhsiao/scriberr-companion/internal/models"
	syncpkg "github.com/kimhsiao/scriberr-companion/internal/sync"
)

// RecordingsHandler serves the recording catalog endpoints.
type RecordingsHandler struct {
	repo   *db.Repository
	engine *syncpkg.Engine
}

// NewRecordingsHandler creates a RecordingsHandler.
func NewRecordingsHandler(repo *db.Repository, engine *syncpkg.Engine) *RecordingsHandler {
	return &RecordingsHandler{repo: repo, engine: engine}
}

// recordingDetail is a recording together with its child rows.
type recordingDetail struct {
	*models.Recording
	SpeakerMaps []models.SpeakerMap `json:"speaker_maps"`
	Tracks      []models.Track      `json:"tracks"`
}

// List handles GET /api/recordings.
func (h *RecordingsHandler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.repo.ListRecordings()
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []*models.Recording{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// Get handles GET /api/recordings/{id}.
func (h *RecordingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := recordingID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.repo.GetRecording(id)
	if err != nil {
		writeError(w, err)
		return
	}
	maps, err := h.repo.ListSpeakerMaps(id)
	if err != nil {
		writeError(w, err)
		return
	}
	tracks, err := h.repo.ListTracks(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, recordingDetail{
		Recording:   rec,
		SpeakerMaps: maps,
		Tracks:      tracks,
	})
}

// Upload handles POST /api/recordings/{id}/upload.
func (h *RecordingsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id, err := recordingID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.engine.Upload(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Delete handles DELETE /api/recordings/{id}. The optional remote
// query parameter asks for a best-effort remote deletion too.
func (h *RecordingsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := recordingID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	alsoRemote := strings.EqualFold(r.URL.Query().Get("remote"), "true")

	if err := h.engine.Delete(r.Context(), id, alsoRemote); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Rename handles PATCH /api/recordings/{id}.
func (h *RecordingsHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id, err := recordingID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var request struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	if request.Title == "" {
		writeError(w, apperrors.New(apperrors.ErrValidation, "title is required"))
		return
	}

	rec, err := h.engine.Rename(r.Context(), id, request.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Pin handles POST /api/recordings/{id}/pin.
func (h *RecordingsHandler) Pin(w http.ResponseWriter, r *http.Request) {
	id, err := recordingID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.engine.Pin(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Unpin handles DELETE /api/recordings/{id}/pin.
func (h *RecordingsHandler) Unpin(w http.ResponseWriter, r *http.Request) {
	id, err := recordingID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.engine.Unpin(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// SetSpeakers handles PUT /api/recordings/{id}/speakers.
func (h *RecordingsHandler) SetSpeakers(w http.ResponseWriter, r *http.Request) {
	id, err := recordingID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var request struct {
		SpeakerMaps []models.SpeakerMap `json:"speaker_maps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}

	rec, err := h.engine.UpdateSpeakers(r.Context(), id, request.SpeakerMaps)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// SetTracks handles PUT /api/recordings/{id}/tracks.
func (h *RecordingsHandler) SetTracks(w http.ResponseWriter, r *http.Request) {
	id, err := recordingID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var request struct {
		Tracks []models.Track `json:"tracks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}

	rec, err := h.engine.UpdateTracks(r.Context(), id, request.Tracks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
