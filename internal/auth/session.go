// Package auth owns the SOS Inventory OAuth2 credential. A single Session
// is passed to every component that talks to the API; it is the only writer
// of the token.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/rs/zerolog/log"
)

// Config wires a session. The endpoint defaults suit SOS Inventory; tests
// override them.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	// ListenAddr is where the local callback server binds during the
	// interactive authorization flow.
	ListenAddr string
	// TokenFile persists the token across restarts so the browser flow is
	// only needed once.
	TokenFile string
}

const (
	defaultAuthURL  = "https://api.sosinventory.com/oauth2/authorize"
	defaultTokenURL = "https://api.sosinventory.com/oauth2/token"
)

// Probe is a cheap authenticated call used to check token validity, wired
// in by the caller to avoid a dependency on the API client.
type Probe func(ctx context.Context) error

// Session holds the current token and knows how to refresh or re-acquire
// it. All methods are safe for use from multiple sheet loops.
type Session struct {
	oauth     oauth2.Config
	tokenFile string
	listen    string
	probe     Probe

	mu    sync.RWMutex
	token *oauth2.Token
}

func NewSession(cfg Config) *Session {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	s := &Session{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"read", "write"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		tokenFile: cfg.TokenFile,
		listen:    cfg.ListenAddr,
	}

	if token, err := loadToken(cfg.TokenFile); err == nil && token != nil {
		log.Debug().Msg("Loaded persisted OAuth token")
		s.token = token
	}
	return s
}

// SetProbe installs the validity check used by EnsureValid.
func (s *Session) SetProbe(probe Probe) {
	s.probe = probe
}

// AccessToken returns the current bearer credential, transparently
// refreshing an expired token. Implements the API client's TokenSource.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == nil {
		return "", errors.New("no access token available, authentication required")
	}
	if token.Valid() {
		return token.AccessToken, nil
	}
	if err := s.Refresh(ctx); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token.AccessToken, nil
}

// EnsureValid makes sure the session can talk to the API: probe the current
// token, refresh on failure, and fall back to the full interactive flow
// only when refresh is impossible.
func (s *Session) EnsureValid(ctx context.Context) error {
	s.mu.RLock()
	hasToken := s.token != nil
	s.mu.RUnlock()

	if hasToken && s.probeOK(ctx) {
		return nil
	}

	if hasToken {
		log.Info().Msg("Access token rejected, attempting refresh")
		if err := s.Refresh(ctx); err == nil && s.probeOK(ctx) {
			return nil
		}
	}

	log.Info().Msg("No usable token, starting interactive authentication")
	if err := s.Authenticate(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	if !s.probeOK(ctx) {
		return errors.New("token acquired but probe call still failing")
	}
	return nil
}

func (s *Session) probeOK(ctx context.Context) bool {
	if s.probe == nil {
		return true
	}
	err := s.probe(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Token probe failed")
	}
	return err == nil
}

// Refresh exchanges the refresh token for a new access token.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == nil || s.token.RefreshToken == "" {
		return errors.New("no refresh token available")
	}

	// Force the exchange even if the library still considers the token
	// valid: the server may have invalidated it early.
	stale := *s.token
	stale.Expiry = time.Now().Add(-time.Minute)

	fresh, err := s.oauth.TokenSource(ctx, &stale).Token()
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = s.token.RefreshToken
	}

	s.token = fresh
	s.persistLocked()
	log.Info().Time("expiry", fresh.Expiry).Msg("Access token refreshed")
	return nil
}

// setToken stores a newly exchanged token.
func (s *Session) setToken(token *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.persistLocked()
}

func (s *Session) persistLocked() {
	if s.tokenFile == "" || s.token == nil {
		return
	}
	if err := saveToken(s.tokenFile, s.token); err != nil {
		log.Warn().Err(err).Str("file", s.tokenFile).Msg("Failed to persist OAuth token")
	}
}

func loadToken(path string) (*oauth2.Token, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token file: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("token file has no access token")
	}
	return &token, nil
}

func saveToken(path string, token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
