package hooks

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/savingsledger/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DashboardKey is the cache key of a user's dashboard aggregate.
func DashboardKey(userID string) string {
	return "dashboard:" + userID
}

// CacheInvalidator drops the cached dashboard of the user whose ledger changed.
type CacheInvalidator struct {
	client redis.UniversalClient
}

func NewCacheInvalidator(client redis.UniversalClient) *CacheInvalidator {
	return &CacheInvalidator{client: client}
}

func (c *CacheInvalidator) Name() string { return "dashboard_cache" }

func (c *CacheInvalidator) AfterCommit(ctx context.Context, event domain.LedgerEvent) error {
	if err := c.client.Del(ctx, DashboardKey(event.UserID.String())).Err(); err != nil {
		return fmt.Errorf("invalidate dashboard cache: %w", err)
	}
	return nil
}
