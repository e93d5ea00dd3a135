// Package auth runs the Google OAuth web flow that hands the browser a
// Drive access token.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// Scopes requested from the user.
var Scopes = []string{
	drive.DriveReadonlyScope,
	"openid",
	oauth2api.UserinfoEmailScope,
}

// Config holds the OAuth client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint and APIEndpoint override Google's, for tests.
	Endpoint    *oauth2.Endpoint
	APIEndpoint string
}

// Session is the result of a completed exchange.
type Session struct {
	AccessToken string `json:"access_token"`
	Email       string `json:"email"`
}

// Google wraps the OAuth client.
type Google struct {
	conf        *oauth2.Config
	apiEndpoint string
}

// ErrNotConfigured is returned when no client ID is set.
var ErrNotConfigured = errors.New("google oauth client is not configured")

// NewGoogle creates the OAuth client.
func NewGoogle(cfg Config) *Google {
	endpoint := google.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	return &Google{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       Scopes,
		},
		apiEndpoint: cfg.APIEndpoint,
	}
}

// AuthURL returns the consent page URL. Offline access and a forced consent
// prompt make Google return a refresh token every time.
func (g *Google) AuthURL() (string, error) {
	if g.conf.ClientID == "" {
		return "", ErrNotConfigured
	}
	return g.conf.AuthCodeURL(uuid.NewString(),
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	), nil
}

// Exchange trades an authorization code for an access token and looks up
// the user's email.
func (g *Google) Exchange(ctx context.Context, code string) (*Session, error) {
	if g.conf.ClientID == "" {
		return nil, ErrNotConfigured
	}
	if code == "" {
		return nil, errors.New("missing authorization code")
	}

	tok, err := g.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}

	opts := []option.ClientOption{option.WithTokenSource(g.conf.TokenSource(ctx, tok))}
	if g.apiEndpoint != "" {
		opts = append(opts, option.WithEndpoint(g.apiEndpoint))
	}
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating userinfo service: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("fetching user info: %w", err)
	}

	return &Session{AccessToken: tok.AccessToken, Email: info.Email}, nil
}
