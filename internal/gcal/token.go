package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"startpage/internal/agenda"
	"startpage/internal/config"
	appLog "startpage/internal/log"
)

// TokenSource is the agenda.TokenProvider backed by an OAuth refresh token
// persisted under the data directory.
type TokenSource struct {
	cfg  *oauth2.Config
	path string

	mu  sync.Mutex
	tok *oauth2.Token
	// loaded is set once the token file has been read.
	loaded bool
}

var _ agenda.TokenProvider = (*TokenSource)(nil)

// NewTokenSource creates a token source for the read-only calendar scope.
// path is where the token is persisted (0600).
func NewTokenSource(gc config.GoogleConfig, path string) *TokenSource {
	return &TokenSource{
		cfg: &oauth2.Config{
			ClientID:     gc.ClientID,
			ClientSecret: gc.ClientSecret,
			RedirectURL:  gc.RedirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{calendar.CalendarReadonlyScope},
		},
		path: path,
	}
}

// WithEndpoint overrides the OAuth endpoint (tests).
func (s *TokenSource) WithEndpoint(ep oauth2.Endpoint) *TokenSource {
	s.cfg.Endpoint = ep
	return s
}

// AuthCodeURL returns the consent page URL. Offline access with forced
// approval makes Google always return a refresh token.
func (s *TokenSource) AuthCodeURL(state string) string {
	return s.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and persists it.
func (s *TokenSource) Exchange(ctx context.Context, code string) error {
	tok, err := s.cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("oauth exchange: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	if tok.RefreshToken == "" && s.tok != nil {
		tok.RefreshToken = s.tok.RefreshToken
	}
	s.tok = tok
	return s.saveLocked()
}

// Authorized reports whether a refresh token is available.
func (s *TokenSource) Authorized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	return s.tok != nil && s.tok.RefreshToken != ""
}

// Token returns a valid access token, refreshing it when expired.
// agenda.ErrAuthRequired means the consent flow has to run first.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()

	if s.tok == nil {
		return "", agenda.ErrAuthRequired
	}
	if s.tok.Valid() {
		return s.tok.AccessToken, nil
	}
	if s.tok.RefreshToken == "" {
		return "", agenda.ErrAuthRequired
	}

	fresh, err := s.cfg.TokenSource(ctx, s.tok).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			appLog.Warn("refresh token revoked", err)
			return "", agenda.ErrAuthRequired
		}
		return "", fmt.Errorf("token refresh: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = s.tok.RefreshToken
	}
	s.tok = fresh
	if err := s.saveLocked(); err != nil {
		appLog.Error("token save failed", err, "path", s.path)
	}
	appLog.Debug("access token refreshed", "expiry", fresh.Expiry.Format(time.RFC3339))
	return fresh.AccessToken, nil
}

// Invalidate marks token expired so the next Token call refreshes it.
// Stale tokens (already replaced) are ignored.
func (s *TokenSource) Invalidate(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tok == nil || s.tok.AccessToken != token {
		return
	}
	s.tok.Expiry = time.Unix(1, 0)
}

func (s *TokenSource) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			appLog.Warn("token read failed", err, "path", s.path)
		}
		return
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		appLog.Warn("token file unreadable", err, "path", s.path)
		return
	}
	s.tok = &tok
}

func (s *TokenSource) saveLocked() error {
	data, err := json.MarshalIndent(s.tok, "", "  ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(s.path, data, ".token-*.tmp")
}
