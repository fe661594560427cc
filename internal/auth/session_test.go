package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestTokenFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	token := &oauth2.Token{
		AccessToken:  "abc123",
		RefreshToken: "refresh456",
		Expiry:       time.Now().Add(time.Hour).Round(time.Second),
	}

	if err := saveToken(path, token); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	loaded, err := loadToken(path)
	if err != nil {
		t.Fatalf("loadToken: %v", err)
	}
	if loaded.AccessToken != token.AccessToken || loaded.RefreshToken != token.RefreshToken {
		t.Errorf("Token round trip lost fields: %+v", loaded)
	}
}

func TestLoadTokenMissingFile(t *testing.T) {
	if _, err := loadToken(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("Expected error for missing token file")
	}
}

func TestSessionLoadsPersistedToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	token := &oauth2.Token{
		AccessToken: "persisted",
		Expiry:      time.Now().Add(time.Hour),
	}
	if err := saveToken(path, token); err != nil {
		t.Fatalf("saveToken: %v", err)
	}

	session := NewSession(Config{TokenFile: path})
	got, err := session.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if got != "persisted" {
		t.Errorf("Expected persisted token, got %q", got)
	}
}

func TestAccessTokenWithoutToken(t *testing.T) {
	session := NewSession(Config{})
	if _, err := session.AccessToken(context.Background()); err == nil {
		t.Error("Expected error when no token is held")
	}
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	session := NewSession(Config{})
	session.setToken(&oauth2.Token{AccessToken: "x", Expiry: time.Now().Add(time.Hour)})
	if err := session.Refresh(context.Background()); err == nil {
		t.Error("Expected refresh to fail without a refresh token")
	}
}

func TestEnsureValidUsesProbe(t *testing.T) {
	session := NewSession(Config{})
	session.setToken(&oauth2.Token{AccessToken: "x", Expiry: time.Now().Add(time.Hour)})

	probeCalls := 0
	session.SetProbe(func(ctx context.Context) error {
		probeCalls++
		return nil
	})

	if err := session.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid: %v", err)
	}
	if probeCalls != 1 {
		t.Errorf("Expected a single probe call, got %d", probeCalls)
	}
}

func TestEnsureValidFailsClosed(t *testing.T) {
	// No token, probe failing, no way to authenticate interactively within
	// the test: EnsureValid must return an error, not hang.
	session := NewSession(Config{ListenAddr: "127.0.0.1:0"})
	session.SetProbe(func(ctx context.Context) error {
		return errors.New("unauthorized")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := session.EnsureValid(ctx); err == nil {
		t.Error("Expected EnsureValid to fail without any token source")
	}
}
