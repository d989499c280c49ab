// projects_user_repository.go implements ProjectsUserRepository for the
// secondary per-user identifier used by the Xero projects API.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/xerolink/xerolink/internal/db/models"
)

// ProjectsUserRepository handles projects_users rows
type ProjectsUserRepository struct {
	db *sqlx.DB
}

// NewProjectsUserRepository creates a new ProjectsUserRepository
func NewProjectsUserRepository(db *sqlx.DB) *ProjectsUserRepository {
	return &ProjectsUserRepository{db: db}
}

// UpsertProjectsUser creates or updates the projects identifier for pu.UserID
func (r *ProjectsUserRepository) UpsertProjectsUser(ctx context.Context, pu *models.ProjectsUser) error {
	now := time.Now()
	if pu.CreatedAt.IsZero() {
		pu.CreatedAt = now
	}
	pu.UpdatedAt = now

	query := `
		INSERT INTO projects_users (user_id, account_link_id, projects_user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			account_link_id = EXCLUDED.account_link_id,
			projects_user_id = EXCLUDED.projects_user_id,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		pu.UserID, pu.AccountLinkID, pu.ProjectsUserID, pu.CreatedAt, pu.UpdatedAt,
	)
	return err
}

// GetProjectsUser returns the stored projects identifier for userID, or nil
func (r *ProjectsUserRepository) GetProjectsUser(ctx context.Context, userID string) (*models.ProjectsUser, error) {
	var pu models.ProjectsUser
	query := `
		SELECT user_id, account_link_id, projects_user_id, created_at, updated_at
		FROM projects_users WHERE user_id = $1`
	err := r.db.GetContext(ctx, &pu, query, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pu, nil
}
