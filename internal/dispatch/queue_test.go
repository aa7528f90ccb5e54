package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestQueue(t *testing.T) (*Queue, *redis.Client) {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q, err := NewQueue(client, zap.NewNop(), QueueConfig{
		Stream:     "test:jobs",
		Group:      "test-group",
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)
	q.ensureGroup(context.Background())
	return q, client
}

func testJob(t *testing.T) Job {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return Job{
		ID:        node.Generate(),
		Kind:      KindCreateScreens,
		AccountID: node.Generate(),
		ProjectID: node.Generate(),
		CreateScreens: &CreateScreensPayload{
			Prompt:      "a note taking app",
			ScreenCount: 5,
		},
	}
}

func readOne(t *testing.T, q *Queue) redis.XMessage {
	t.Helper()
	streams, err := q.client.XReadGroup(context.Background(), &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "test-consumer",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Len(t, streams[0].Messages, 1)
	return streams[0].Messages[0]
}

func TestQueueDeliversJob(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job := testJob(t)
	require.NoError(t, q.Enqueue(ctx, job))

	msg := readOne(t, q)
	var handled []Job
	q.handleMessage(ctx, msg, func(_ context.Context, j Job) error {
		handled = append(handled, j)
		return nil
	})

	require.Len(t, handled, 1)
	assert.Equal(t, job.ID, handled[0].ID)
	assert.Equal(t, job.Kind, handled[0].Kind)
	assert.Equal(t, job.CreateScreens.Prompt, handled[0].CreateScreens.Prompt)
	assert.Equal(t, 1, handled[0].Attempt)

	length, err := q.client.XLen(ctx, q.stream).Result()
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestQueueRequeuesTransientFailure(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob(t)))

	msg := readOne(t, q)
	q.handleMessage(ctx, msg, func(context.Context, Job) error {
		return errors.New("model timeout")
	})

	// The failed delivery is replaced by a fresh entry with a bumped
	// attempt counter.
	requeued := readOne(t, q)
	assert.NotEqual(t, msg.ID, requeued.ID)
	assert.Equal(t, "2", requeued.Values["attempt"])

	var handled Job
	q.handleMessage(ctx, requeued, func(_ context.Context, j Job) error {
		handled = j
		return nil
	})
	assert.Equal(t, 2, handled.Attempt)
}

func TestQueuePermanentFailureDoesNotRetry(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob(t)))

	msg := readOne(t, q)
	calls := 0
	q.handleMessage(ctx, msg, func(context.Context, Job) error {
		calls++
		return Permanent(errors.New("project deleted"))
	})

	assert.Equal(t, 1, calls)
	length, err := q.client.XLen(ctx, q.stream).Result()
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestQueueStopsAfterMaxRetries(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob(t)))

	fail := func(context.Context, Job) error { return errors.New("still broken") }
	q.handleMessage(ctx, readOne(t, q), fail) // attempt 1
	q.handleMessage(ctx, readOne(t, q), fail) // attempt 2
	q.handleMessage(ctx, readOne(t, q), fail) // attempt 3, retries exhausted

	length, err := q.client.XLen(ctx, q.stream).Result()
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestQueueNotifiesOnRetryExhaustion(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job := testJob(t)
	require.NoError(t, q.Enqueue(ctx, job))

	var exhausted []Job
	q.OnExhausted(func(_ context.Context, j Job, err error) {
		exhausted = append(exhausted, j)
		assert.EqualError(t, err, "still broken")
	})

	fail := func(context.Context, Job) error { return errors.New("still broken") }
	q.handleMessage(ctx, readOne(t, q), fail)
	assert.Empty(t, exhausted)
	q.handleMessage(ctx, readOne(t, q), fail)
	assert.Empty(t, exhausted)
	q.handleMessage(ctx, readOne(t, q), fail)

	// The final transient failure fires the callback exactly once, with the
	// decoded job so the owner can settle its status row and scope lock.
	require.Len(t, exhausted, 1)
	assert.Equal(t, job.ID, exhausted[0].ID)
	assert.Equal(t, 3, exhausted[0].Attempt)

	length, err := q.client.XLen(ctx, q.stream).Result()
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestQueueBackoffGrowsWithAttempt(t *testing.T) {
	q, _ := newTestQueue(t)

	assert.Equal(t, q.retryDelay, q.backoff(0))
	assert.Equal(t, q.retryDelay, q.backoff(1))
	assert.Equal(t, 2*q.retryDelay, q.backoff(2))
	assert.Equal(t, 3*q.retryDelay, q.backoff(3))
	// Bounded: claimed redeliveries past maxRetries do not wait longer.
	assert.Equal(t, 3*q.retryDelay, q.backoff(10))
}

func TestQueueDiscardsUndecodablePayload(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{"payload": "{not json"},
	}).Err())

	calls := 0
	q.handleMessage(ctx, readOne(t, q), func(context.Context, Job) error {
		calls++
		return nil
	})

	assert.Zero(t, calls)
	length, err := q.client.XLen(ctx, q.stream).Result()
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestEnqueueValidatesJob(t *testing.T) {
	q, _ := newTestQueue(t)

	err := q.Enqueue(context.Background(), Job{Kind: KindCreateScreens})
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestJobValidate(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	base := Job{ID: node.Generate(), AccountID: node.Generate(), ProjectID: node.Generate()}

	create := base
	create.Kind = KindCreateScreens
	create.CreateScreens = &CreateScreensPayload{Prompt: "p", ScreenCount: 3}
	assert.NoError(t, create.Validate())

	zeroCount := create
	zeroCount.CreateScreens = &CreateScreensPayload{Prompt: "p"}
	assert.ErrorIs(t, zeroCount.Validate(), ErrInvalidJob)

	regen := base
	regen.Kind = KindRegenerateFrame
	regen.RegenerateFrame = &RegenerateFramePayload{FrameID: node.Generate()}
	assert.NoError(t, regen.Validate())

	missingFrame := base
	missingFrame.Kind = KindRegenerateFrame
	missingFrame.RegenerateFrame = &RegenerateFramePayload{}
	assert.ErrorIs(t, missingFrame.Validate(), ErrInvalidJob)

	unknown := base
	unknown.Kind = Kind("mystery")
	assert.ErrorIs(t, unknown.Validate(), ErrInvalidJob)
}
