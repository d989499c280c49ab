package models

import "time"

// AccountLink binds one local user to their Xero credentials.
// LastToken holds the sealed access-token credentials record.
type AccountLink struct {
	ID             string    `db:"id"`
	UserID         string    `db:"user_id"`
	Org            *string   `db:"org"`
	LastToken      string    `db:"last_token"`
	ProviderUserID *string   `db:"provider_user_id"`
	ProviderEmail  *string   `db:"provider_email"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// OrgName returns the free-text org recorded at callback time, or ""
func (a *AccountLink) OrgName() string {
	if a.Org == nil {
		return ""
	}
	return *a.Org
}

// IdentityConfirmed reports whether a provider user id has been stored
func (a *AccountLink) IdentityConfirmed() bool {
	return a.ProviderUserID != nil && *a.ProviderUserID != ""
}
