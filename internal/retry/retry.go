// Package retry provides bounded exponential backoff around a single
// operation, retrying only failures classified as transient.
package retry

import (
	"context"
	"time"

	"github.com/EgorkaKv/sensor-gate/internal/domain"
)

// Config bounds the retry loop. Zero fields fall back to defaults.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig mirrors the publisher defaults: three attempts, 1s base
// delay capped at 10s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	return c
}

// Delay returns the backoff before attempt n (1-based):
// min(MaxDelay, BaseDelay * 2^(n-1)).
func (c Config) Delay(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// Do invokes fn up to cfg.MaxAttempts times. Only errors classified
// transient by domain.IsTransient are retried; anything else propagates
// immediately. After the budget is exhausted the last error propagates.
// Context cancellation aborts the backoff sleep.
func Do(ctx context.Context, cfg Config, fn func() (string, error)) (string, error) {
	cfg = cfg.withDefaults()

	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !domain.IsTransient(err) {
			return "", err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(cfg.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	return "", lastErr
}
