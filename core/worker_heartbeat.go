package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"github.com/redis/go-redis/v9"
)

const (
	WorkerHeartbeatPrefix = "appointments:worker:heartbeat:"
	WorkerHeartbeatTTL    = 45 * time.Second

	heartbeatInterval = 5 * time.Second
	maxListedJobs     = 3
)

// Worker states published in heartbeats.
const (
	WorkerStarting  = "starting"
	WorkerIdle      = "idle"
	WorkerReviewing = "reviewing"
)

func WorkerHeartbeatKey(workerID string) string {
	return WorkerHeartbeatPrefix + workerID
}

// WorkerHeartbeat is the liveness record a review worker keeps in Redis. The API
// reads it back for /status/system; it disappears WorkerHeartbeatTTL after the
// worker stops publishing.
type WorkerHeartbeat struct {
	WorkerID    string `json:"worker_id"`
	Hostname    string `json:"hostname"`
	PID         int    `json:"pid"`
	Version     string `json:"version"`
	Concurrency int    `json:"concurrency"`
	State       string `json:"state"`

	InFlight     int        `json:"in_flight"`
	Appointments []string   `json:"appointments,omitempty"`
	Reviewed     int64      `json:"reviewed"`
	Failed       int64      `json:"failed"`
	LastError    string     `json:"last_error,omitempty"`
	LastReviewAt *time.Time `json:"last_review_at,omitempty"`

	RSSBytes   uint64    `json:"rss_bytes"`
	Goroutines int       `json:"goroutines"`
	StartedAt  time.Time `json:"started_at"`
	SeenAt     time.Time `json:"seen_at"`
}

type heartbeatWriter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// SaveHeartbeat stamps hb with the current time and stores it with WorkerHeartbeatTTL.
func SaveHeartbeat(ctx context.Context, client heartbeatWriter, hb WorkerHeartbeat) error {
	hb.SeenAt = time.Now().UTC()
	data, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	return client.Set(ctx, WorkerHeartbeatKey(hb.WorkerID), data, WorkerHeartbeatTTL).Err()
}

// HeartbeatState tracks what one worker process is reviewing. It is safe for use
// by every consumer goroutine of the worker.
type HeartbeatState struct {
	mu       sync.Mutex
	base     WorkerHeartbeat
	inFlight map[string]time.Time
	interval time.Duration
	logger   *slog.Logger
}

func NewHeartbeatState(workerID, hostname, version string, concurrency int) *HeartbeatState {
	return &HeartbeatState{
		base: WorkerHeartbeat{
			WorkerID:    workerID,
			Hostname:    hostname,
			PID:         os.Getpid(),
			Version:     version,
			Concurrency: concurrency,
			State:       WorkerStarting,
			StartedAt:   time.Now().UTC(),
		},
		inFlight: make(map[string]time.Time),
		interval: heartbeatInterval,
		logger:   slog.Default(),
	}
}

// Ready moves a starting worker to idle once its consumers are running.
func (s *HeartbeatState) Ready() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base.State == WorkerStarting {
		s.base.State = WorkerIdle
	}
}

func (s *HeartbeatState) JobStarted(job string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight[job] = time.Now()
	s.base.State = WorkerReviewing
}

// JobFinished counts the job as reviewed, or as failed when err is set.
func (s *HeartbeatState) JobFinished(job string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, job)
	now := time.Now().UTC()
	s.base.LastReviewAt = &now
	if err != nil {
		s.base.Failed++
		s.base.LastError = err.Error()
	} else {
		s.base.Reviewed++
	}
	if len(s.inFlight) == 0 {
		s.base.State = WorkerIdle
	}
}

// Snapshot returns the heartbeat to publish. At most maxListedJobs in-flight
// appointments are listed, oldest first.
func (s *HeartbeatState) Snapshot() WorkerHeartbeat {
	s.mu.Lock()
	hb := s.base
	hb.InFlight = len(s.inFlight)
	jobs := make([]string, 0, len(s.inFlight))
	for job := range s.inFlight {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return s.inFlight[jobs[i]].Before(s.inFlight[jobs[j]])
	})
	s.mu.Unlock()

	if len(jobs) > maxListedJobs {
		jobs = jobs[:maxListedJobs]
	}
	hb.Appointments = jobs
	if hb.LastReviewAt != nil {
		at := *hb.LastReviewAt
		hb.LastReviewAt = &at
	}
	hb.Goroutines = runtime.NumGoroutine()
	hb.RSSBytes = residentBytes()
	return hb
}

// Start publishes a heartbeat right away and then every interval until ctx is done.
func (s *HeartbeatState) Start(ctx context.Context, client heartbeatWriter) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		hb := s.Snapshot()
		if err := SaveHeartbeat(ctx, client, hb); err != nil && ctx.Err() == nil {
			s.logger.Warn("publish heartbeat", "worker_id", hb.WorkerID, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// residentBytes reads the process RSS from procfs, falling back to the memory the
// Go runtime obtained from the OS where /proc is unavailable.
func residentBytes() uint64 {
	if p, err := procfs.Self(); err == nil {
		if st, err := p.Stat(); err == nil {
			return uint64(st.ResidentMemory())
		}
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys
}
