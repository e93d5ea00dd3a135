package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func TestAuthURL(t *testing.T) {
	g := NewGoogle(Config{ClientID: "client", ClientSecret: "secret", RedirectURL: "http://localhost:3000/auth/callback"})

	raw, err := g.AuthURL()
	if err != nil {
		t.Fatalf("AuthURL() error = %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()

	checks := map[string]string{
		"client_id":              "client",
		"redirect_uri":           "http://localhost:3000/auth/callback",
		"access_type":            "offline",
		"prompt":                 "consent",
		"include_granted_scopes": "true",
		"response_type":          "code",
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Errorf("%s = %q; want %q", k, got, want)
		}
	}
	scope := q.Get("scope")
	for _, s := range []string{"drive.readonly", "openid", "userinfo.email"} {
		if !strings.Contains(scope, s) {
			t.Errorf("scope %q missing %s", scope, s)
		}
	}
	if q.Get("state") == "" {
		t.Error("state is empty")
	}
}

func TestAuthURLNotConfigured(t *testing.T) {
	if _, err := NewGoogle(Config{}).AuthURL(); err != ErrNotConfigured {
		t.Errorf("AuthURL() error = %v; want ErrNotConfigured", err)
	}
}

func TestExchange(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.Form.Get("code") != "good" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "ya29.token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/oauth2/v2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer ya29.token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"email": "someone@example.com"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := NewGoogle(Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     &oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		APIEndpoint:  srv.URL + "/",
	})

	session, err := g.Exchange(context.Background(), "good")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if session.AccessToken != "ya29.token" || session.Email != "someone@example.com" {
		t.Errorf("Exchange() = %+v", session)
	}

	if _, err := g.Exchange(context.Background(), "bad"); err == nil {
		t.Error("expected error for rejected code")
	}
	if _, err := g.Exchange(context.Background(), ""); err == nil {
		t.Error("expected error for empty code")
	}
}
