// account_link_repository.go implements AccountLinkRepository, persisting the
// one-per-user binding between a local account and its Xero credentials.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/xerolink/xerolink/internal/db/models"
)

const accountLinkColumns = `id, user_id, org, last_token, provider_user_id, provider_email, created_at, updated_at`

// AccountLinkRepository handles account_links rows
type AccountLinkRepository struct {
	db *sqlx.DB
}

// NewAccountLinkRepository creates a new AccountLinkRepository
func NewAccountLinkRepository(db *sqlx.DB) *AccountLinkRepository {
	return &AccountLinkRepository{db: db}
}

// UpsertAccountLink creates the user's link or replaces the stored token on an
// existing one. Org and confirmed identity survive a re-link. The stored row is returned.
func (r *AccountLinkRepository) UpsertAccountLink(ctx context.Context, userID, sealedToken string) (*models.AccountLink, error) {
	now := time.Now()
	query := `
		INSERT INTO account_links (id, user_id, last_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			last_token = EXCLUDED.last_token, updated_at = EXCLUDED.updated_at
		RETURNING ` + accountLinkColumns

	var link models.AccountLink
	if err := r.db.GetContext(ctx, &link, query, uuid.New().String(), userID, sealedToken, now); err != nil {
		return nil, err
	}
	return &link, nil
}

// GetAccountLinkByUserID returns the user's link, or nil when the user is not linked
func (r *AccountLinkRepository) GetAccountLinkByUserID(ctx context.Context, userID string) (*models.AccountLink, error) {
	var link models.AccountLink
	query := `SELECT ` + accountLinkColumns + ` FROM account_links WHERE user_id = $1`
	err := r.db.GetContext(ctx, &link, query, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// UpdateOrg records the organisation reported at callback time
func (r *AccountLinkRepository) UpdateOrg(ctx context.Context, linkID string, org *string) error {
	query := `UPDATE account_links SET org = $2, updated_at = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, linkID, org, time.Now())
	return err
}

// UpdateProviderIdentity stores the caller-confirmed Xero user id and email
func (r *AccountLinkRepository) UpdateProviderIdentity(ctx context.Context, linkID, providerUserID, providerEmail string) error {
	query := `
		UPDATE account_links
		SET provider_user_id = $2, provider_email = $3, updated_at = $4
		WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, linkID, providerUserID, providerEmail, time.Now())
	return err
}

// DeleteAccountLinkByUserID hard-deletes the user's link and reports whether a row existed
func (r *AccountLinkRepository) DeleteAccountLinkByUserID(ctx context.Context, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM account_links WHERE user_id = $1`, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountAccountLinks returns the number of linked users
func (r *AccountLinkRepository) CountAccountLinks(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM account_links`)
	return n, err
}
