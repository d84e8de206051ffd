package queue

import (
	"context"

	redis "github.com/redis/go-redis/v9"
)

// DefaultStream receives accepted print jobs for the print worker.
const DefaultStream = "print:jobs"

// RedisQueue appends print jobs to a Redis stream as {job_id, data} entries.
type RedisQueue struct {
	client *redis.Client
	Stream string
}

func NewRedisQueue(c *redis.Client, stream string) *RedisQueue {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisQueue{client: c, Stream: stream}
}

// Ping checks redis connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error { return q.client.Ping(ctx).Err() }

// Enqueue adds one job and returns the stream entry id.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string, payload []byte) (string, error) {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream,
		Values: map[string]any{"job_id": jobID, "data": string(payload)},
	}).Result()
}

// Depth is the number of entries currently in the stream.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.Stream).Result()
}
