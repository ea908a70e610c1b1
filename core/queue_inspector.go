package core

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// QueueDepth is a snapshot of the appointment review queue.
type QueueDepth struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	// Overdue counts reserved jobs past their visibility deadline, waiting for the reclaimer.
	Overdue  int64 `json:"overdue"`
	Retrying int64 `json:"retrying"`
}

type inspectorRedis interface {
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

// QueueInspector reads review queue depth and worker heartbeats for the status endpoint.
type QueueInspector struct {
	redis inspectorRedis
}

func NewQueueInspector(client inspectorRedis) *QueueInspector {
	return &QueueInspector{redis: client}
}

// Depth reads every counter in a single round trip.
func (q *QueueInspector) Depth(ctx context.Context) (QueueDepth, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	var pending, processing, overdue, retrying *redis.IntCmd
	_, err := q.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		pending = p.LLen(ctx, PendingQueueKey)
		processing = p.ZCard(ctx, ProcessingQueueKey)
		overdue = p.ZCount(ctx, ProcessingQueueKey, "-inf", now)
		retrying = p.HLen(ctx, AttemptsKey)
		return nil
	})
	if err != nil {
		return QueueDepth{}, oops.Code("QUEUE_DEPTH_UNAVAILABLE").Wrap(err)
	}
	return QueueDepth{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Overdue:    overdue.Val(),
		Retrying:   retrying.Val(),
	}, nil
}

// Workers returns the live heartbeats ordered by worker id. Entries that expire or
// fail to decode between SCAN and MGET are skipped.
func (q *QueueInspector) Workers(ctx context.Context) ([]WorkerHeartbeat, error) {
	var keys []string
	iter := q.redis.Scan(ctx, 0, WorkerHeartbeatPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, oops.Code("WORKER_SCAN_FAILED").Wrap(err)
	}

	workers := make([]WorkerHeartbeat, 0, len(keys))
	if len(keys) == 0 {
		return workers, nil
	}
	vals, err := q.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, oops.Code("WORKER_SCAN_FAILED").Wrap(err)
	}
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var hb WorkerHeartbeat
		if err := json.Unmarshal([]byte(raw), &hb); err != nil {
			continue
		}
		workers = append(workers, hb)
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].WorkerID < workers[j].WorkerID })
	return workers, nil
}
