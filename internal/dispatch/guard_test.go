package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) (*InflightGuard, *miniredis.Miniredis) {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewInflightGuard(client, time.Minute), redisSrv
}

func TestInflightGuardSerializesScope(t *testing.T) {
	guard, _ := newTestGuard(t)
	ctx := context.Background()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	projectID := node.Generate()

	require.NoError(t, guard.Acquire(ctx, projectID, 0))
	assert.ErrorIs(t, guard.Acquire(ctx, projectID, 0), ErrJobInFlight)

	held, err := guard.Held(ctx, projectID, 0)
	require.NoError(t, err)
	assert.True(t, held)

	// A frame-scoped lock is independent of the project-wide lock.
	frameID := node.Generate()
	require.NoError(t, guard.Acquire(ctx, projectID, frameID))

	guard.Release(ctx, projectID, 0)
	require.NoError(t, guard.Acquire(ctx, projectID, 0))
}

func TestInflightGuardExpires(t *testing.T) {
	guard, redisSrv := newTestGuard(t)
	ctx := context.Background()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	projectID := node.Generate()

	require.NoError(t, guard.Acquire(ctx, projectID, 0))

	// A crashed worker never releases; the TTL frees the scope.
	redisSrv.FastForward(2 * time.Minute)
	require.NoError(t, guard.Acquire(ctx, projectID, 0))
}
