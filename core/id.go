package core

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// NewWorkerID returns "<hostname>:<pid>:<short uuid>", unique per worker process.
func NewWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), uuid.NewString()[:8])
}
