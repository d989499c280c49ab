// errors.go defines the provider-level failures surfaced by the token exchanges
// and the signed API client.
package xero

import (
	"errors"
	"fmt"
)

var (
	// ErrVerifierRejected means the access-token exchange was refused: the
	// verifier or request token is invalid, expired or already used.
	ErrVerifierRejected = errors.New("xero: verifier rejected")
	// ErrTokenRequestFailed means a token endpoint could not be reached or
	// answered with something other than a usable token response.
	ErrTokenRequestFailed = errors.New("xero: token request failed")
	// ErrUnsupportedVersion is returned when a stored credentials record has an unknown schema version.
	ErrUnsupportedVersion = errors.New("xero: unsupported credentials version")
	// ErrIncompleteCredentials is returned when a stored record lacks the consumer or token fields.
	ErrIncompleteCredentials = errors.New("xero: incomplete credentials")
)

// APIError describes a non-200 answer from Xero, with everything needed to diagnose it
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	// Problem is the oauth_problem value when the response carried one
	Problem string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("xero: %s %s returned %d", e.Method, e.URL, e.StatusCode)
	if e.Problem != "" {
		msg += " (" + e.Problem + ")"
	}
	if e.Body != "" {
		msg += ": " + truncate(e.Body, 512)
	}
	return msg
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
