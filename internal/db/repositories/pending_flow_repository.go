// pending_flow_repository.go implements PendingFlowRepository, the database
// backend for in-progress authorizations.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/xerolink/xerolink/internal/db/models"
)

// ErrDuplicateFlow is returned when a pending flow already exists for a request token
var ErrDuplicateFlow = errors.New("pending flow already exists for request token")

const pgUniqueViolation = "23505"

// PendingFlowRepository handles pending_flows rows
type PendingFlowRepository struct {
	db *sqlx.DB
}

// NewPendingFlowRepository creates a new PendingFlowRepository
func NewPendingFlowRepository(db *sqlx.DB) *PendingFlowRepository {
	return &PendingFlowRepository{db: db}
}

// CreatePendingFlow inserts a new flow. Request tokens are unique.
func (r *PendingFlowRepository) CreatePendingFlow(ctx context.Context, flow *models.PendingFlow) error {
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO pending_flows (request_token, state, authorization_url, next_page, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query,
		flow.RequestToken, flow.State, flow.AuthorizationURL, flow.NextPage, flow.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return ErrDuplicateFlow
	}
	return err
}

// GetPendingFlow returns the flow for requestToken, or nil when none exists
func (r *PendingFlowRepository) GetPendingFlow(ctx context.Context, requestToken string) (*models.PendingFlow, error) {
	var flow models.PendingFlow
	query := `
		SELECT request_token, state, authorization_url, next_page, created_at
		FROM pending_flows WHERE request_token = $1`
	err := r.db.GetContext(ctx, &flow, query, requestToken)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &flow, nil
}

// DeletePendingFlow removes the flow for requestToken. Deleting a missing flow is not an error.
func (r *PendingFlowRepository) DeletePendingFlow(ctx context.Context, requestToken string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_flows WHERE request_token = $1`, requestToken)
	return err
}

// DeleteFlowsCreatedBefore purges abandoned flows and reports how many were removed
func (r *PendingFlowRepository) DeleteFlowsCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pending_flows WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
