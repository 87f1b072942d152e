package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"
)

// RetryConfig represents retry configuration
type RetryConfig struct {
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
	Factor      float64
	Jitter      float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:  2,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     2 * time.Second,
		Factor:      2.0,
		Jitter:      0.1,
	}
}

// StatusError is a non-2xx answer from an upstream HTTP API
type StatusError struct {
	Provider string `json:"provider"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.Code, e.Message)
}

// IsRetryableError determines if an error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if e, ok := err.(*StatusError); ok {
		switch e.Code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}

	return false
}

// backoff returns the wait before the next attempt
func (c *RetryConfig) backoff(wait time.Duration) time.Duration {
	jitter := 1.0 + (c.Jitter * (2*rand.Float64() - 1))
	wait = time.Duration(float64(wait) * c.Factor * jitter)
	if wait > c.MaxWait {
		wait = c.MaxWait
	}
	return wait
}

// RetryWithResult wraps a function that returns a result with retry logic.
// Only errors accepted by IsRetryableError are retried.
func RetryWithResult[T any](ctx context.Context, fn func(context.Context) (T, error), config *RetryConfig) (T, error) {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var (
		result T
		err    error
		wait   = config.InitialWait
	)

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}

		if !IsRetryableError(err) {
			return result, err
		}

		if attempt == config.MaxRetries {
			return result, fmt.Errorf("max retries exceeded: %w", err)
		}

		// Wait with context cancellation support
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(wait):
		}
		wait = config.backoff(wait)
	}

	return result, err
}
