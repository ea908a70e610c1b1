package core

import "time"

// Redis keys and defaults for the appointment review queue.
const (
	PendingQueueKey    = "appointments:review:pending"
	ProcessingQueueKey = "appointments:review:processing"
	AttemptsKey        = "appointments:review:attempts"

	// DefaultVisibilityTimeout is how long a reserved job stays invisible before the
	// reclaimer hands it to another worker.
	DefaultVisibilityTimeout = 30 * time.Second
	DefaultReclaimInterval   = 15 * time.Second
	MaxReviewAttempts        = 3
)
