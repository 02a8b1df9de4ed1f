// Package queue carries outbound send jobs from the action executor to the
// delivery worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"crm-automation/internal/models"
)

// Handler processes one job. A returned error is logged; the job is not redelivered
// by the queue itself.
type Handler func(ctx context.Context, job models.SendJob) error

// Queue is both ends of the outbound send queue.
type Queue interface {
	EnqueueSend(ctx context.Context, job models.SendJob) error
	Consume(ctx context.Context, handle Handler) error
}

// MemoryQueue is an in-process queue for single-instance deployments and tests.
type MemoryQueue struct {
	jobs chan models.SendJob
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{jobs: make(chan models.SendJob, size)}
}

func (q *MemoryQueue) EnqueueSend(ctx context.Context, job models.SendJob) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume runs handle for every job until ctx is cancelled.
func (q *MemoryQueue) Consume(ctx context.Context, handle Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-q.jobs:
			if err := handle(ctx, job); err != nil {
				log.Error().Err(err).Str("message_id", job.MessageID).Msg("send job failed")
			}
		}
	}
}

const defaultKey = "crm:outbound:send"

// RedisQueue is a Redis list shared by every instance: LPUSH to enqueue,
// BRPOP to consume.
type RedisQueue struct {
	client  redis.UniversalClient
	key     string
	timeout time.Duration
}

func NewRedisQueue(client redis.UniversalClient) *RedisQueue {
	return &RedisQueue{client: client, key: defaultKey, timeout: 5 * time.Second}
}

// NewRedisClient parses a redis:// URL and checks the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func (q *RedisQueue) EnqueueSend(ctx context.Context, job models.SendJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode send job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("push send job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Consume(ctx context.Context, handle Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := q.client.BRPop(ctx, q.timeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("pop send job")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		// res is [key, value]
		var job models.SendJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			log.Error().Err(err).Msg("dropping undecodable send job")
			continue
		}
		if err := handle(ctx, job); err != nil {
			log.Error().Err(err).Str("message_id", job.MessageID).Msg("send job failed")
		}
	}
}
