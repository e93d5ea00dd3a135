package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// FileOpener streams a file from storage.
type FileOpener interface {
	Open(ctx context.Context, fileID, token string) (io.ReadCloser, string, error)
}

// DriveHandler proxies Drive images to the browser, which cannot fetch them
// directly because of CORS and redirects.
type DriveHandler struct {
	files FileOpener
}

// NewDriveHandler creates a new drive handler
func NewDriveHandler(files FileOpener) *DriveHandler {
	return &DriveHandler{files: files}
}

// Image streams one file. The token comes from the access_token query
// parameter so the URL can be used as an <img> source.
func (h *DriveHandler) Image(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileId")
	token := r.URL.Query().Get("access_token")
	if fileID == "" || token == "" {
		respondError(w, http.StatusBadRequest, "file ID and access_token are required")
		return
	}

	body, contentType, err := h.files.Open(r.Context(), fileID, token)
	if err != nil {
		log.Error().Err(err).Str("file_id", sanitizeForLog(fileID)).Msg("Failed to fetch image")
		respondScanError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		log.Debug().Err(err).Str("file_id", sanitizeForLog(fileID)).Msg("Image stream interrupted")
	}
}
