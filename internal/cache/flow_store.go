package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xerolink/xerolink/internal/db/models"
	"github.com/xerolink/xerolink/internal/db/repositories"
)

const flowKeyPrefix = "xerolink:flow:"

// PendingFlowStore keeps pending flows in redis. Entries expire after ttl, so
// abandoned flows need no sweeping.
type PendingFlowStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewPendingFlowStore creates a PendingFlowStore
func NewPendingFlowStore(client redis.Cmdable, ttl time.Duration) *PendingFlowStore {
	return &PendingFlowStore{client: client, ttl: ttl}
}

func flowKey(requestToken string) string {
	return flowKeyPrefix + requestToken
}

// CreatePendingFlow stores flow unless one already exists for its request token
func (s *PendingFlowStore) CreatePendingFlow(ctx context.Context, flow *models.PendingFlow) error {
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = time.Now()
	}
	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("cache: encode flow: %w", err)
	}
	ok, err := s.client.SetNX(ctx, flowKey(flow.RequestToken), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("cache: store flow: %w", err)
	}
	if !ok {
		return repositories.ErrDuplicateFlow
	}
	return nil
}

// GetPendingFlow returns the flow for requestToken, or nil when none exists
func (s *PendingFlowStore) GetPendingFlow(ctx context.Context, requestToken string) (*models.PendingFlow, error) {
	data, err := s.client.Get(ctx, flowKey(requestToken)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: load flow: %w", err)
	}
	var flow models.PendingFlow
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("cache: decode flow: %w", err)
	}
	return &flow, nil
}

// DeletePendingFlow removes the flow for requestToken
func (s *PendingFlowStore) DeletePendingFlow(ctx context.Context, requestToken string) error {
	if err := s.client.Del(ctx, flowKey(requestToken)).Err(); err != nil {
		return fmt.Errorf("cache: delete flow: %w", err)
	}
	return nil
}
