package core

import (
	"context"
	"time"

	"github.com/prometheus/procfs"
)

// SystemStatus is the operator view served on /status/system.
type SystemStatus struct {
	Version       string        `json:"version"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Queue         QueueDepth    `json:"queue"`
	Workers       WorkerSummary `json:"workers"`
	Memory        MemoryUsage   `json:"memory"`

	// Unavailable names the sections that could not be read and were left zeroed.
	Unavailable []string `json:"unavailable,omitempty"`
}

type WorkerSummary struct {
	Active int               `json:"active"`
	Total  int               `json:"total"`
	Items  []WorkerHeartbeat `json:"items"`
}

// MemoryUsage describes host memory.
type MemoryUsage struct {
	UsedBytes  uint64 `json:"used_bytes"`
	TotalBytes uint64 `json:"total_bytes"`
}

// CollectSystemStatus never fails; a nil inspector marks the queue and workers unavailable.
func CollectSystemStatus(ctx context.Context, inspector *QueueInspector, version string, startedAt time.Time) SystemStatus {
	st := SystemStatus{
		Version: version,
		Workers: WorkerSummary{Items: []WorkerHeartbeat{}},
	}
	if !startedAt.IsZero() {
		st.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}

	if inspector == nil {
		st.Unavailable = append(st.Unavailable, "queue", "workers")
	} else {
		if depth, err := inspector.Depth(ctx); err == nil {
			st.Queue = depth
		} else {
			st.Unavailable = append(st.Unavailable, "queue")
		}
		if workers, err := inspector.Workers(ctx); err == nil {
			st.Workers = summarizeWorkers(workers)
		} else {
			st.Unavailable = append(st.Unavailable, "workers")
		}
	}

	if mem, err := hostMemory(); err == nil {
		st.Memory = mem
	} else {
		st.Unavailable = append(st.Unavailable, "memory")
	}
	return st
}

// summarizeWorkers counts a worker as active once it has left the starting state.
func summarizeWorkers(items []WorkerHeartbeat) WorkerSummary {
	s := WorkerSummary{Total: len(items), Items: items}
	for _, hb := range items {
		if hb.State != WorkerStarting {
			s.Active++
		}
	}
	return s
}

func hostMemory() (MemoryUsage, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return MemoryUsage{}, err
	}
	mi, err := fs.Meminfo()
	if err != nil {
		return MemoryUsage{}, err
	}
	return memoryFromMeminfo(mi), nil
}

// memoryFromMeminfo converts the kB counters of /proc/meminfo to bytes.
func memoryFromMeminfo(mi procfs.Meminfo) MemoryUsage {
	if mi.MemTotal == nil {
		return MemoryUsage{}
	}
	total := *mi.MemTotal
	var used uint64
	if mi.MemAvailable != nil && *mi.MemAvailable <= total {
		used = total - *mi.MemAvailable
	}
	return MemoryUsage{UsedBytes: used * 1024, TotalBytes: total * 1024}
}
