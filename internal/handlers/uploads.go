package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gabriel-vasile/mimetype"

	"github.com/rgeorgiev/sensorvault/internal/middleware"
	"github.com/rgeorgiev/sensorvault/internal/models"
	"github.com/rgeorgiev/sensorvault/internal/service"
)

// maxStartBodySize bounds the JSON body of a start request.
const maxStartBodySize = 4 * 1024

func sessionResponse(s *models.UploadSession) models.UploadSessionResponse {
	return models.UploadSessionResponse{
		ID:       s.ID,
		DataName: s.DataName,
	}
}

// ListUploadsHandler handles GET /api/uploads.
// Returns the caller's in-progress upload sessions.
func ListUploadsHandler(orch *service.UploadOrchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := middleware.OwnerID(r.Context())

		sessions, err := orch.ListByOwner(r.Context(), owner)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if sessions == nil {
			sessions = []models.UploadSession{}
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

// StartUploadHandler handles POST /api/uploads.
// Opens a new upload session for the request body's data name.
func StartUploadHandler(orch *service.UploadOrchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := middleware.OwnerID(r.Context())

		var req models.StartUploadRequest
		body := http.MaxBytesReader(w, r.Body, maxStartBodySize)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.DataName == "" {
			writeError(w, http.StatusBadRequest, "data_name is required")
			return
		}

		session, err := orch.Start(r.Context(), owner, req.DataName)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sessionResponse(session))
	}
}

// UploadPartHandler handles PUT /api/uploads/{id}.
// The raw request body is one chunk of sensor data.
func UploadPartHandler(orch *service.UploadOrchestrator, maxChunkSize int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := middleware.OwnerID(r.Context())
		id := r.PathValue("id")
		if id == "" {
			writeError(w, http.StatusBadRequest, "upload id is required")
			return
		}

		// Chunks are bounded, so buffering one is safe; buffering also
		// pins down the size before anything touches the object store.
		chunk, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChunkSize))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read chunk body")
			return
		}
		if len(chunk) == 0 {
			writeError(w, http.StatusBadRequest, "empty chunk")
			return
		}

		session, err := orch.UploadPart(r.Context(), owner, id, bytes.NewReader(chunk), int64(len(chunk)))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		// Sniff the data format off the first chunk.
		if len(session.Parts) == 1 && session.DataFormat == "" {
			format := mimetype.Detect(chunk).String()
			orch.SetDataFormat(r.Context(), id, format)
		}

		writeJSON(w, http.StatusOK, sessionResponse(session))
	}
}

// CompleteUploadHandler handles PATCH /api/uploads/{id}.
func CompleteUploadHandler(orch *service.UploadOrchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := middleware.OwnerID(r.Context())
		id := r.PathValue("id")
		if id == "" {
			writeError(w, http.StatusBadRequest, "upload id is required")
			return
		}

		session, err := orch.Complete(r.Context(), owner, id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse(session))
	}
}

// AbortUploadHandler handles DELETE /api/uploads/{id}.
func AbortUploadHandler(orch *service.UploadOrchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := middleware.OwnerID(r.Context())
		id := r.PathValue("id")
		if id == "" {
			writeError(w, http.StatusBadRequest, "upload id is required")
			return
		}

		session, err := orch.Abort(r.Context(), owner, id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, models.UploadSessionResponse{
			ID:        session.ID,
			DataName:  session.DataName,
			Status:    session.Status,
			CreatedAt: &session.CreatedAt,
			UpdatedAt: &session.UpdatedAt,
		})
	}
}
