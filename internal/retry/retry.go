// Package retry provides bounded retry helpers for external operations.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/stake-scanner/internal/logging"
)

// Config configures retry behavior
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (including the first)
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Multiplier for exponential backoff; 1.0 yields a fixed delay
}

// DefaultConfig returns a default exponential backoff configuration
// Pattern: 1s, 2s, 4s, 8s, max 30s
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// FixedDelayConfig returns a bounded fixed-delay configuration, the policy
// used for per-identity fetches during imports.
func FixedDelayConfig(attempts int, delay time.Duration) *Config {
	return &Config{
		MaxAttempts:  attempts,
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1.0,
	}
}

// Func is a function that can be retried
type Func func(ctx context.Context, attempt int) error

// AbortError stops retrying immediately and surfaces the wrapped error
type AbortError struct {
	Err error
}

func (e *AbortError) Error() string { return e.Err.Error() }

// Unwrap returns the wrapped error
func (e *AbortError) Unwrap() error { return e.Err }

// Abort marks an error as terminal so Do returns without further attempts
func Abort(err error) error {
	return &AbortError{Err: err}
}

// Result contains information about the retry operation
type Result struct {
	Attempts      int
	Success       bool
	TotalDuration time.Duration
	LastError     error
}

// Do executes fn until it succeeds, the attempt budget is exhausted, or the
// context is cancelled.
func Do(ctx context.Context, config *Config, fn Func) *Result {
	logger := logging.FromContext(ctx)
	startTime := time.Now()

	result := &Result{}

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)

			if attempt > 1 {
				logger.WithFields(map[string]interface{}{
					"attempts":      attempt,
					"totalDuration": result.TotalDuration.String(),
				}).Info("Operation succeeded after retry")
			}

			return result
		}

		result.LastError = err

		var abort *AbortError
		if errors.As(err, &abort) {
			result.LastError = abort.Err
			break
		}

		if attempt >= config.MaxAttempts {
			logger.WithFields(map[string]interface{}{
				"attempts": attempt,
				"error":    err.Error(),
			}).Warn("Operation failed after max retry attempts")
			break
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			break
		}

		delay := delayFor(config, attempt)
		logger.WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": config.MaxAttempts,
			"delay":       delay.String(),
			"error":       err.Error(),
		}).Debug("Operation failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// DoWithError executes fn with the given config and returns a wrapped error
// when all attempts fail.
func DoWithError(ctx context.Context, config *Config, fn Func) error {
	result := Do(ctx, config, fn)
	if !result.Success {
		return fmt.Errorf("operation failed after %d attempts: %w", result.Attempts, result.LastError)
	}
	return nil
}

// delayFor calculates the delay before the next attempt
func delayFor(config *Config, attempt int) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}
