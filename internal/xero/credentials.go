package xero

import (
	"fmt"
	"time"
)

// CredentialsVersion is the schema version written by this build
const CredentialsVersion = 1

// Credentials is the full OAuth1 state for one handshake or linked account.
// Request-token fields are set when a flow starts; verifier, session handle and
// expiries are added once the verifier has been exchanged for an access token.
type Credentials struct {
	Version          int    `json:"version"`
	ConsumerKey      string `json:"consumer_key"`
	ConsumerSecret   string `json:"consumer_secret"`
	CallbackURI      string `json:"callback_uri,omitempty"`
	OAuthToken       string `json:"oauth_token"`
	OAuthTokenSecret string `json:"oauth_token_secret"`
	Verified         bool   `json:"verified"`
	OAuthVerifier    string `json:"oauth_verifier,omitempty"`
	SessionHandle    string `json:"oauth_session_handle,omitempty"`
	// ExpiresAt is when the access token stops working
	ExpiresAt *Timestamp `json:"oauth_expires_at,omitempty"`
	// AuthorizationExpiresAt is when the user's grant to the application lapses
	AuthorizationExpiresAt *Timestamp `json:"oauth_authorization_expires_at,omitempty"`
	OrgMUID                string     `json:"xero_org_muid,omitempty"`
}

// Consumer returns the OAuth consumer pair
func (c *Credentials) Consumer() Consumer {
	return Consumer{Key: c.ConsumerKey, Secret: c.ConsumerSecret}
}

// ValidAt reports whether the access token is still usable at now. The
// boundary is inclusive; a missing expiry is never valid.
func (c *Credentials) ValidAt(now time.Time) bool {
	if !c.Verified || c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.Before(now)
}

// Check enforces the invariants a stored record must satisfy
func (c *Credentials) Check() error {
	if c.Version != CredentialsVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, c.Version)
	}
	if c.ConsumerKey == "" || c.OAuthToken == "" {
		return ErrIncompleteCredentials
	}
	return nil
}
