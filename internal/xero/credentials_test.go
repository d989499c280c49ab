package xero

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func verifiedCreds(expires time.Time) *Credentials {
	ts := NewTimestamp(expires)
	return &Credentials{
		Version:          CredentialsVersion,
		ConsumerKey:      "ck",
		ConsumerSecret:   "cs",
		OAuthToken:       "access",
		OAuthTokenSecret: "access-secret",
		Verified:         true,
		ExpiresAt:        &ts,
	}
}

func TestCredentials_ValidAt(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local)

	tests := []struct {
		name  string
		creds *Credentials
		want  bool
	}{
		{"expires later", verifiedCreds(now.Add(time.Minute)), true},
		{"expires exactly now", verifiedCreds(now), true},
		{"expired a microsecond ago", verifiedCreds(now.Add(-time.Microsecond)), false},
		{"no expiry", &Credentials{Version: 1, ConsumerKey: "ck", OAuthToken: "t", Verified: true}, false},
		{"not verified", func() *Credentials {
			c := verifiedCreds(now.Add(time.Hour))
			c.Verified = false
			return c
		}(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.creds.ValidAt(now); got != tt.want {
				t.Errorf("ValidAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCredentials_JSONPreservesExpiries(t *testing.T) {
	expires := time.Date(2024, 6, 1, 12, 30, 0, 987654000, time.Local)
	orig := verifiedCreds(expires)
	authTS := NewTimestamp(expires.Add(365 * 24 * time.Hour))
	orig.AuthorizationExpiresAt = &authTS
	orig.SessionHandle = "handle"

	doc, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	got, err := decodeChecked(doc)
	if err != nil {
		t.Fatalf("decodeChecked() error: %v", err)
	}
	if !got.ExpiresAt.Equal(orig.ExpiresAt.Time) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt.Time, orig.ExpiresAt.Time)
	}
	if !got.AuthorizationExpiresAt.Equal(authTS.Time) {
		t.Errorf("AuthorizationExpiresAt = %v, want %v", got.AuthorizationExpiresAt.Time, authTS.Time)
	}
	if got.SessionHandle != "handle" || got.OAuthTokenSecret != "access-secret" {
		t.Errorf("decodeChecked() lost fields: %+v", got)
	}
}

func TestCredentials_Check(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{"unknown version", `{"version":7,"consumer_key":"ck","oauth_token":"t"}`, ErrUnsupportedVersion},
		{"missing version", `{"consumer_key":"ck","oauth_token":"t"}`, ErrUnsupportedVersion},
		{"missing token", `{"version":1,"consumer_key":"ck"}`, ErrIncompleteCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeChecked([]byte(tt.doc)); !errors.Is(err, tt.wantErr) {
				t.Errorf("decodeChecked() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := decodeChecked([]byte("not json")); err == nil {
		t.Error("decodeChecked() expected error for bad JSON")
	}
}

func decodeChecked(doc []byte) (*Credentials, error) {
	var c Credentials
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, err
	}
	if err := c.Check(); err != nil {
		return nil, err
	}
	return &c, nil
}
