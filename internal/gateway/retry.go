package gateway

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"time"

	"github.com/kwong/prefscope/internal/logger"
)

// retryClient wraps a Client with bounded retries and exponential backoff.
// Transient failures are retried; permanent failures and context cancellation
// abort immediately.
type retryClient struct {
	inner    Client
	attempts int
}

// WithRetry wraps the client so every call is attempted up to attempts times.
func WithRetry(inner Client, attempts int) Client {
	if attempts < 1 {
		attempts = 1
	}
	return &retryClient{inner: inner, attempts: attempts}
}

// backoff returns the sleep before retry attempt n (0-based): 2^n seconds
// scaled by a random factor in [1, 2). Stubbed in tests.
var backoff = func(n int) time.Duration {
	base := math.Pow(2, float64(n))
	jitter := 1 + rand.Float64()
	return time.Duration(base * jitter * float64(time.Second))
}

func (c *retryClient) retry(ctx context.Context, call func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt - 1)
			log := logger.FromContext(ctx)
			log.WithFields(logger.Fields{
				"attempt": attempt + 1,
				"backoff": wait.String(),
			}).WithError(lastErr).Warn("retrying gateway call")

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = call()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *retryClient) Complete(ctx context.Context, req Request) (string, error) {
	var out string
	err := c.retry(ctx, func() error {
		var callErr error
		out, callErr = c.inner.Complete(ctx, req)
		return callErr
	})
	return out, err
}

func (c *retryClient) CompleteStructured(ctx context.Context, req Request, schema Schema) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.retry(ctx, func() error {
		var callErr error
		out, callErr = c.inner.CompleteStructured(ctx, req, schema)
		return callErr
	})
	return out, err
}
