package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// startupBackoff is the first wait between connection attempts; it doubles up to 10s.
var startupBackoff = 500 * time.Millisecond

// Dial calls connect until it succeeds, retries are exhausted or ctx ends. Postgres
// and Redis often come up after the API under docker compose.
func Dial[T any](ctx context.Context, logger *slog.Logger, what string, retries uint64, connect func(context.Context) (T, error)) (T, error) {
	var conn T
	backoff := retry.WithMaxRetries(retries, retry.WithCappedDuration(10*time.Second, retry.NewExponential(startupBackoff)))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		c, err := connect(ctx)
		if err != nil {
			logger.Warn("dependency not ready", "dependency", what, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	return conn, err
}
