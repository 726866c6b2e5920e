// Package retry provides retry with exponential backoff for transient
// failures, such as a serial port that is still re-enumerating after a
// device reset.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int           // 0 means retry forever
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
	Jitter      float64 // fraction of the wait, 0-1
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// transientError marks an error as worth retrying.
type transientError struct {
	err error
}

func (e transientError) Error() string { return e.err.Error() }

func (e transientError) Unwrap() error { return e.err }

// Transient wraps an error to mark it as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether the error was marked with Transient.
func IsTransient(err error) bool {
	var te transientError
	return errors.As(err, &te)
}

func (c Config) wait(attempt int) time.Duration {
	w := float64(c.InitialWait) * math.Pow(c.Multiplier, float64(attempt-1))
	if w > float64(c.MaxWait) {
		w = float64(c.MaxWait)
	}
	if c.Jitter > 0 {
		w += w * c.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(w)
}

// Do runs fn until it succeeds, returns a non-transient error, the attempt
// budget is exhausted, or ctx is cancelled.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	for attempt := 1; cfg.MaxAttempts == 0 || attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.wait(attempt)):
		}
	}
	return lastErr
}

// DoWithResult runs fn with retries and returns its result.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; cfg.MaxAttempts == 0 || attempt <= cfg.MaxAttempts; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return zero, err
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(cfg.wait(attempt)):
		}
	}
	return zero, lastErr
}
