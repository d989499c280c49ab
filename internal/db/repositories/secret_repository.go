// secret_repository.go implements SecretRepository over the provider_secrets table.
// Values are stored as ciphertext; sealing and opening happen in package secrets.
package repositories

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/xerolink/xerolink/internal/db/models"
)

// SecretRepository handles provider secret rows
type SecretRepository struct {
	db *sqlx.DB
}

// NewSecretRepository creates a new SecretRepository
func NewSecretRepository(db *sqlx.DB) *SecretRepository {
	return &SecretRepository{db: db}
}

// GetSecret returns the named secret, or nil when no row exists
func (r *SecretRepository) GetSecret(ctx context.Context, name string) (*models.ProviderSecret, error) {
	var secret models.ProviderSecret
	query := `SELECT name, value, label FROM provider_secrets WHERE name = $1`
	err := r.db.GetContext(ctx, &secret, query, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &secret, nil
}

// ListSecrets returns every secret row ordered by name
func (r *SecretRepository) ListSecrets(ctx context.Context) ([]*models.ProviderSecret, error) {
	var secrets []*models.ProviderSecret
	query := `SELECT name, value, label FROM provider_secrets ORDER BY name`
	if err := r.db.SelectContext(ctx, &secrets, query); err != nil {
		return nil, err
	}
	return secrets, nil
}

// SetSecretValue stores value under name, creating the row if needed. An
// existing label is kept; label only applies to newly created rows.
func (r *SecretRepository) SetSecretValue(ctx context.Context, name, value, label string) error {
	query := `
		INSERT INTO provider_secrets (name, value, label)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`

	_, err := r.db.ExecContext(ctx, query, name, value, label)
	return err
}
