package models

import "time"

// PendingFlow is an authorization that has been started but not yet completed.
// State holds the sealed request-token credentials record.
type PendingFlow struct {
	RequestToken     string    `db:"request_token" json:"request_token"`
	State            string    `db:"state" json:"state"`
	AuthorizationURL string    `db:"authorization_url" json:"authorization_url"`
	NextPage         *string   `db:"next_page" json:"next_page,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// Next returns the post-completion destination, or fallback when none was recorded
func (p *PendingFlow) Next(fallback string) string {
	if p.NextPage == nil || *p.NextPage == "" {
		return fallback
	}
	return *p.NextPage
}

// Abandoned reports whether the flow is older than ttl at now
func (p *PendingFlow) Abandoned(ttl time.Duration, now time.Time) bool {
	return now.Sub(p.CreatedAt) > ttl
}
