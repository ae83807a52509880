package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/aivira/jobchat/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	activeSessionPrefix = "active_session:"
	activeSessionTTL    = 24 * time.Hour
)

// ActiveSessionIndex tracks the current active session per owner and flow so
// "one active session per owner" can be enforced without a table scan on
// every create.
type ActiveSessionIndex struct {
	client *Client
}

// NewActiveSessionIndex creates a new active session index
func NewActiveSessionIndex(client *Client) *ActiveSessionIndex {
	return &ActiveSessionIndex{client: client}
}

func activeKey(ownerID uuid.UUID, sessionType domain.SessionType) string {
	return fmt.Sprintf("%s%s:%s", activeSessionPrefix, ownerID, sessionType)
}

// Get returns the active session id for an owner and flow, or uuid.Nil on a
// miss.
func (i *ActiveSessionIndex) Get(ctx context.Context, ownerID uuid.UUID, sessionType domain.SessionType) (uuid.UUID, error) {
	val, err := i.client.rdb.Get(ctx, activeKey(ownerID, sessionType)).Result()
	if err == redis.Nil {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to read active session: %w", err)
	}

	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, nil // stale garbage, treat as a miss
	}
	return id, nil
}

// Set records the active session for an owner and flow.
func (i *ActiveSessionIndex) Set(ctx context.Context, ownerID uuid.UUID, sessionType domain.SessionType, sessionID uuid.UUID) error {
	return i.client.rdb.Set(ctx, activeKey(ownerID, sessionType), sessionID.String(), activeSessionTTL).Err()
}

// Clear removes the active session entry for an owner and flow.
func (i *ActiveSessionIndex) Clear(ctx context.Context, ownerID uuid.UUID, sessionType domain.SessionType) error {
	return i.client.rdb.Del(ctx, activeKey(ownerID, sessionType)).Err()
}
