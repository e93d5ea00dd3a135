package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/kozaktomas/facescan/internal/auth"
)

// OAuth is the Google sign-in flow.
type OAuth interface {
	AuthURL() (string, error)
	Exchange(ctx context.Context, code string) (*auth.Session, error)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	oauth OAuth
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(oauth OAuth) *AuthHandler {
	return &AuthHandler{oauth: oauth}
}

// CallbackRequest represents the OAuth callback request body
type CallbackRequest struct {
	Code string `json:"code"`
}

// URL returns the Google consent page URL.
func (h *AuthHandler) URL(w http.ResponseWriter, r *http.Request) {
	url, err := h.oauth.AuthURL()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, auth.ErrNotConfigured) {
			status = http.StatusServiceUnavailable
		}
		respondError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Callback exchanges the authorization code for an access token.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	session, err := h.oauth.Exchange(r.Context(), req.Code)
	if err != nil {
		log.Warn().Err(err).Msg("OAuth exchange failed")
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Info().Str("email", session.Email).Msg("User signed in")
	respondJSON(w, http.StatusOK, session)
}
