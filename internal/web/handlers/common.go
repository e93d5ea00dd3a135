package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/kozaktomas/facescan/internal/scan"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// AuthExpiredMessage is returned to the browser when Google rejects its token.
const AuthExpiredMessage = "Google authentication expired. Please refresh the page and login again."

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondScanError maps scan and storage errors onto HTTP status codes.
func respondScanError(w http.ResponseWriter, err error) {
	status, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	}
	respondError(w, status, message)
}

func classifyError(err error) (int, string) {
	var input *scan.InputError
	var httpErr *scan.HTTPStatusError
	switch {
	case errors.As(err, &input):
		return http.StatusBadRequest, input.Message
	case errors.Is(err, scan.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, scan.ErrNoCandidates):
		return http.StatusNotFound, "No images found in Drive folder"
	case errors.Is(err, scan.ErrAuthExpired):
		return http.StatusUnauthorized, AuthExpiredMessage
	case errors.As(err, &httpErr):
		code := httpErr.Code
		if code < 400 || code > 599 {
			code = http.StatusBadGateway
		}
		return code, fmt.Sprintf("Google Drive error: %s", httpErr.Message)
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
