// Package models - user.go defines the local User account that a Xero link hangs off.
package models

import (
	"strings"
	"time"
)

// User represents a local user in the system
type User struct {
	ID        string    `db:"id"`
	Email     string    `db:"email"`
	FirstName string    `db:"first_name"`
	LastName  string    `db:"last_name"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// HasEmail reports whether the user carries a non-blank email address
func (u *User) HasEmail() bool {
	return strings.TrimSpace(u.Email) != ""
}

// FullName joins first and last name, skipping whichever is empty
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
