package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jpillora/backoff"
)

// RetryConfig controls the retry schedule for idempotent operations.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration `mapstructure:"base_delay" yaml:"base_delay"`

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// DefaultRetryConfig returns the default schedule: 5 attempts, 100ms base,
// doubling up to 5s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

func (c *RetryConfig) applyDefaults() {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
}

// IsRetryable classifies an error as transient. Transport errors are
// retryable; status errors only for 5xx, 408 and 429. Context cancellation
// is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code >= 500:
			return true
		case se.Code == http.StatusRequestTimeout, se.Code == http.StatusTooManyRequests:
			return true
		default:
			return false
		}
	}

	// Anything that is not a status error is a transport-level failure
	// (connection refused, reset, timeout).
	return true
}

// Retry runs op until it succeeds, returns a non-retryable error, the
// attempt budget is exhausted, or ctx is done. The last error is returned.
func Retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	cfg.applyDefaults()

	b := &backoff.Backoff{
		Min:    cfg.BaseDelay,
		Max:    cfg.MaxDelay,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			return err
		}

		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
