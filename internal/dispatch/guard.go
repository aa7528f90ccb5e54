package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
)

// ErrJobInFlight is returned when another generation run already holds the
// scope lock.
var ErrJobInFlight = errors.New("job_in_flight")

// InflightGuard serializes generation per scope. The scope of a project-wide
// run is (projectID, 0); a frame regeneration scopes to (projectID, frameID).
// Entries carry a TTL so a crashed worker cannot wedge a project forever.
type InflightGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewInflightGuard(client *redis.Client, ttl time.Duration) *InflightGuard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &InflightGuard{client: client, ttl: ttl}
}

func guardKey(projectID, frameID snowflake.ID) string {
	return fmt.Sprintf("inflight:%s:%s", projectID, frameID)
}

// Acquire takes the lock or returns ErrJobInFlight if it is already held.
func (g *InflightGuard) Acquire(ctx context.Context, projectID, frameID snowflake.ID) error {
	ok, err := g.client.SetNX(ctx, guardKey(projectID, frameID), "1", g.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrJobInFlight
	}
	return nil
}

// Release frees the lock. Safe to call when the lock is not held.
func (g *InflightGuard) Release(ctx context.Context, projectID, frameID snowflake.ID) {
	_ = g.client.Del(ctx, guardKey(projectID, frameID)).Err()
}

// Held reports whether the scope is currently locked.
func (g *InflightGuard) Held(ctx context.Context, projectID, frameID snowflake.ID) (bool, error) {
	n, err := g.client.Exists(ctx, guardKey(projectID, frameID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
