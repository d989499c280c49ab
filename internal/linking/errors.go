package linking

import "errors"

var (
	// ErrConfiguration means the provider secrets are not set; an operator must fix it
	ErrConfiguration = errors.New("linking: provider is not configured")
	// ErrNotFound means there is no pending flow for the request token, or no link for the user
	ErrNotFound = errors.New("linking: not found")
	// ErrVerification means Xero refused the verifier; the user must start over
	ErrVerification = errors.New("linking: verification rejected by provider")
	// ErrCorruptState means stored credentials could not be decrypted or decoded
	ErrCorruptState = errors.New("linking: stored credentials are unreadable")
	// ErrMissingEmail means an identity lookup needs the user's email and there is none
	ErrMissingEmail = errors.New("linking: user has no email address")
	// ErrProvider means a call to Xero failed for a reason other than a rejected verifier
	ErrProvider = errors.New("linking: provider request failed")
)
