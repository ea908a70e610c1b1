package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// ErrQueueEmpty is returned by Reserve when no job is pending.
var ErrQueueEmpty = errors.New("review queue is empty")

// Enqueuer is the producer side the API uses to schedule an appointment review.
type Enqueuer interface {
	Enqueue(ctx context.Context, job string) error
}

// ReviewQueue is the consumer side used by the worker. A reserved job stays in the
// processing set until acked, so a crashed worker does not lose it.
type ReviewQueue interface {
	Enqueuer
	Reserve(ctx context.Context, visibility time.Duration) (string, error)
	Ack(ctx context.Context, job string) error
	Retry(ctx context.Context, job string) error
	RequeueExpired(ctx context.Context, now time.Time, maxAttempts int64) (requeued, dropped []string, err error)
	IncrAttempts(ctx context.Context, job string) (int64, error)
	ClearAttempts(ctx context.Context, job string) error
}

// NewRedisClient parses a redis:// URL and pings the server before returning.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("empty redis url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("REDIS_UNAVAILABLE").With("addr", opts.Addr).Wrapf(err, "ping redis")
	}
	return client, nil
}

// RedisQueue is the review queue on Redis: a pending list, a processing sorted set
// scored by visibility deadline, and a hash of delivery attempts.
type RedisQueue struct {
	client     *redis.Client
	pending    string
	processing string
	attempts   string
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client:     client,
		pending:    PendingQueueKey,
		processing: ProcessingQueueKey,
		attempts:   AttemptsKey,
	}
}

// KEYS: pending, processing. ARGV: deadline in unix ms.
var reserveScript = redis.NewScript(`
local job = redis.call('RPOP', KEYS[1])
if not job then
  return false
end
redis.call('ZADD', KEYS[2], ARGV[1], job)
return job
`)

// KEYS: processing, pending. ARGV: job.
var retryScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

// KEYS: processing, pending, attempts. ARGV: now in unix ms, max attempts.
// Returns {requeued, dropped}.
var requeueScript = redis.NewScript(`
local requeued, dropped = {}, {}
local jobs = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, job in ipairs(jobs) do
  redis.call('ZREM', KEYS[1], job)
  local n = redis.call('HINCRBY', KEYS[3], job, 1)
  if n >= tonumber(ARGV[2]) then
    redis.call('HDEL', KEYS[3], job)
    table.insert(dropped, job)
  else
    redis.call('LPUSH', KEYS[2], job)
    table.insert(requeued, job)
  end
end
return {requeued, dropped}
`)

// Enqueue appends job to the pending list.
func (q *RedisQueue) Enqueue(ctx context.Context, job string) error {
	return q.client.LPush(ctx, q.pending, job).Err()
}

// Reserve moves the oldest pending job into the processing set, invisible to other
// consumers until visibility elapses. It returns ErrQueueEmpty when nothing is pending.
func (q *RedisQueue) Reserve(ctx context.Context, visibility time.Duration) (string, error) {
	deadline := time.Now().Add(visibility).UnixMilli()
	job, err := reserveScript.Run(ctx, q.client, []string{q.pending, q.processing}, deadline).Text()
	if errors.Is(err, redis.Nil) {
		return "", ErrQueueEmpty
	}
	return job, err
}

func (q *RedisQueue) Ack(ctx context.Context, job string) error {
	return q.client.ZRem(ctx, q.processing, job).Err()
}

// Retry moves a reserved job back to pending in one step, so no other consumer can
// reserve it between the push and the removal from the processing set.
func (q *RedisQueue) Retry(ctx context.Context, job string) error {
	return retryScript.Run(ctx, q.client, []string{q.processing, q.pending}, job).Err()
}

// RequeueExpired returns reserved jobs whose deadline passed before now to the pending
// list. The timeout counts as an attempt; jobs reaching maxAttempts are dropped instead.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, maxAttempts int64) ([]string, []string, error) {
	keys := []string{q.processing, q.pending, q.attempts}
	res, err := requeueScript.Run(ctx, q.client, keys, now.UnixMilli(), maxAttempts).Slice()
	if err != nil {
		return nil, nil, err
	}
	if len(res) != 2 {
		return nil, nil, fmt.Errorf("requeue script returned %d values", len(res))
	}
	return toStrings(res[0]), toStrings(res[1]), nil
}

func (q *RedisQueue) IncrAttempts(ctx context.Context, job string) (int64, error) {
	return q.client.HIncrBy(ctx, q.attempts, job, 1).Result()
}

func (q *RedisQueue) ClearAttempts(ctx context.Context, job string) error {
	return q.client.HDel(ctx, q.attempts, job).Err()
}

func toStrings(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch s := it.(type) {
		case string:
			out = append(out, s)
		case int64:
			out = append(out, strconv.FormatInt(s, 10))
		}
	}
	return out
}
