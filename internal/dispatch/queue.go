package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Handler processes one delivered job. Returning a PermanentError (or an
// error wrapping one) acknowledges the job without retrying.
type Handler func(ctx context.Context, job Job) error

// ExhaustedFunc is invoked after a job's final transient failure, just
// before the job is acknowledged and dropped. The owner of the job's side
// effects (status rows, scope locks) settles them here.
type ExhaustedFunc func(ctx context.Context, job Job, err error)

type QueueConfig struct {
	Stream     string
	Group      string
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
}

// Queue is a consumer-group backed job queue over a Redis stream. Delivery
// is at-least-once: handlers must be idempotent or guard themselves.
type Queue struct {
	client       *redis.Client
	log          *zap.Logger
	stream       string
	group        string
	consumerBase string
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	onExhausted  ExhaustedFunc
	once         sync.Once
}

func NewQueue(client *redis.Client, log *zap.Logger, cfg QueueConfig) (*Queue, error) {
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, fmt.Errorf("dispatch: stream name required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "workers"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}

	return &Queue{
		client:       client,
		log:          log.Named("dispatch.queue"),
		stream:       stream,
		group:        group,
		consumerBase: uuid.NewString(),
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   cfg.RetryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
	}, nil
}

func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":  job.ID.String(),
			"kind":    string(job.Kind),
			"payload": string(payload),
			"attempt": "1",
		},
	}).Err()
}

// OnExhausted registers the terminal-failure callback. Must be set before
// Start.
func (q *Queue) OnExhausted(fn ExhaustedFunc) {
	q.onExhausted = fn
}

// Start launches concurrency consumer goroutines. They run until ctx is
// canceled.
func (q *Queue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *Queue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.log.Warn("consumer group create failed", zap.Error(err))
		}
	})
}

func (q *Queue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			q.log.Warn("stream read failed", zap.Error(err))
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *Queue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.readCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *Queue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	raw, _ := msg.Values["payload"].(string)
	if raw == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		q.log.Warn("discarding undecodable job", zap.String("msg_id", msg.ID), zap.Error(err))
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job.Attempt = attemptOf(msg)

	err := handler(ctx, job)
	if err == nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if IsPermanent(err) {
		q.log.Warn("job failed permanently",
			zap.String("job_id", job.ID.String()),
			zap.String("kind", string(job.Kind)),
			zap.Error(err),
		)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if job.Attempt >= q.maxRetries {
		q.log.Error("job retries exhausted",
			zap.String("job_id", job.ID.String()),
			zap.String("kind", string(job.Kind)),
			zap.Int("attempts", job.Attempt),
			zap.Error(err),
		)
		if q.onExhausted != nil {
			q.onExhausted(ctx, job, err)
		}
		q.ackAndDel(ctx, msg.ID)
		return
	}

	q.log.Warn("job failed, requeueing",
		zap.String("job_id", job.ID.String()),
		zap.String("kind", string(job.Kind)),
		zap.Int("attempt", job.Attempt),
		zap.Error(err),
	)
	if delay := q.backoff(job.Attempt); delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	if err := q.requeueAndAck(ctx, msg, raw, job.Attempt+1); err != nil {
		q.log.Error("requeue failed", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

// backoff grows linearly with the attempt number, bounded by maxRetries.
func (q *Queue) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > q.maxRetries {
		attempt = q.maxRetries
	}
	return q.retryDelay * time.Duration(attempt)
}

func (q *Queue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *Queue) requeueAndAck(ctx context.Context, msg redis.XMessage, payload string, nextAttempt int) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":  msg.Values["job_id"],
			"kind":    msg.Values["kind"],
			"payload": payload,
			"attempt": strconv.Itoa(nextAttempt),
		},
	})
	pipe.XAck(ctx, q.stream, q.group, msg.ID)
	pipe.XDel(ctx, q.stream, msg.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func attemptOf(msg redis.XMessage) int {
	raw, _ := msg.Values["attempt"].(string)
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n
	}
	return 1
}
