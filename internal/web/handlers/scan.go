package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/kozaktomas/facescan/internal/scan"
)

// Scanner starts scans and reports their state.
type Scanner interface {
	Submit(ctx context.Context, req scan.Request) (scan.Submission, error)
	Status(ctx context.Context, scanID string) (scan.ScanState, error)
}

// ScanHandler handles scan submission and status endpoints
type ScanHandler struct {
	scanner Scanner
}

// NewScanHandler creates a new scan handler
func NewScanHandler(scanner Scanner) *ScanHandler {
	return &ScanHandler{scanner: scanner}
}

// StartScanResponse is returned when a scan has been dispatched.
type StartScanResponse struct {
	Message    string `json:"message"`
	ScanID     string `json:"scan_id"`
	TotalFiles int    `json:"total_files"`
}

// Start validates the request and dispatches one job per image in the folder.
func (h *ScanHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req scan.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.FolderRef == "" || req.TargetFace == "" || req.AccessToken == "" {
		respondError(w, http.StatusBadRequest, "drive_link, target_face and access_token are required")
		return
	}

	sub, err := h.scanner.Submit(r.Context(), req)
	if err != nil {
		log.Warn().Err(err).Str("folder", sanitizeForLog(req.FolderRef)).Msg("Scan request rejected")
		respondScanError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, StartScanResponse{
		Message:    "Scan started",
		ScanID:     sub.ScanID,
		TotalFiles: sub.TotalFiles,
	})
}

// Status returns the derived state of a scan.
func (h *ScanHandler) Status(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanId")
	if scanID == "" {
		respondError(w, http.StatusBadRequest, "missing scan ID")
		return
	}

	state, err := h.scanner.Status(r.Context(), scanID)
	if err != nil {
		respondScanError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}
