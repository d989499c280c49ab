package models

import "time"

// ProjectsUser records the identifier the Xero projects API uses for a local user
type ProjectsUser struct {
	UserID         string    `db:"user_id"`
	AccountLinkID  *string   `db:"account_link_id"`
	ProjectsUserID string    `db:"projects_user_id"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}
