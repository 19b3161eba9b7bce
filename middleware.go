package cacaotrail

import (
	"context"
	"errors"
	"runtime/debug"
	"time"
)

// SubmitFunc is the core submission signature wrapped by middleware.
type SubmitFunc func(ctx context.Context, cmd Command) (Ack, error)

// Middleware wraps command submission with cross-cutting behavior.
type Middleware func(next SubmitFunc) SubmitFunc

// ValidationMiddleware validates commands before they reach the
// coordinator core. A command that fails validation never appends.
func ValidationMiddleware() Middleware {
	return func(next SubmitFunc) SubmitFunc {
		return func(ctx context.Context, cmd Command) (Ack, error) {
			if err := cmd.Validate(); err != nil {
				return Ack{}, err
			}
			return next(ctx, cmd)
		}
	}
}

// RecoveryMiddleware converts handler panics into errors.
func RecoveryMiddleware() Middleware {
	return func(next SubmitFunc) SubmitFunc {
		return func(ctx context.Context, cmd Command) (ack Ack, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = NewPanicError(cmd.CommandName(), r, string(debug.Stack()))
					ack = Ack{}
				}
			}()
			return next(ctx, cmd)
		}
	}
}

// LoggingMiddleware logs command submission outcomes.
func LoggingMiddleware(logger Logger) Middleware {
	return func(next SubmitFunc) SubmitFunc {
		return func(ctx context.Context, cmd Command) (Ack, error) {
			start := time.Now()

			logger.Debug("submitting command", "command", cmd.CommandName())

			ack, err := next(ctx, cmd)
			duration := time.Since(start)

			if err != nil {
				logger.Error("command failed",
					"command", cmd.CommandName(),
					"duration", duration,
					"error", err,
				)
			} else {
				logger.Info("command committed",
					"command", cmd.CommandName(),
					"duration", duration,
					"subject", ack.SubjectID,
					"seq", ack.Seq,
				)
			}

			return ack, err
		}
	}
}

// TimeoutMiddleware bounds command execution time.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next SubmitFunc) SubmitFunc {
		return func(ctx context.Context, cmd Command) (Ack, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, cmd)
		}
	}
}

// RetryConfig configures RetryMiddleware.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// Multiplier scales the delay after each attempt.
	Multiplier float64

	// ShouldRetry decides whether an error is retryable.
	// If nil, DefaultShouldRetry is used.
	ShouldRetry func(err error) bool
}

// DefaultRetryConfig returns a retry configuration with exponential
// backoff and the default retry predicate.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		ShouldRetry:  DefaultShouldRetry,
	}
}

// DefaultShouldRetry retries transient failures only. Validation
// failures, overdrawn batches, chain conflicts, corruption, and halted
// subjects are deterministic outcomes; retrying the identical command
// cannot change them.
func DefaultShouldRetry(err error) bool {
	switch {
	case errors.Is(err, ErrValidationFailed),
		errors.Is(err, ErrConsumptionExceeded),
		errors.Is(err, ErrChainConflict),
		errors.Is(err, ErrChainCorrupted),
		errors.Is(err, ErrSubjectHalted),
		errors.Is(err, ErrUnknownEventKind):
		return false
	}
	return true
}

// RetryMiddleware retries failed submissions with exponential backoff.
func RetryMiddleware(config RetryConfig) Middleware {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 1.0
	}
	if config.ShouldRetry == nil {
		config.ShouldRetry = DefaultShouldRetry
	}

	return func(next SubmitFunc) SubmitFunc {
		return func(ctx context.Context, cmd Command) (Ack, error) {
			var lastAck Ack
			var lastErr error
			delay := config.InitialDelay

			for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
				lastAck, lastErr = next(ctx, cmd)
				if lastErr == nil {
					return lastAck, nil
				}

				if attempt == config.MaxAttempts || !config.ShouldRetry(lastErr) {
					break
				}

				select {
				case <-ctx.Done():
					return Ack{}, ctx.Err()
				case <-time.After(delay):
				}

				delay = time.Duration(float64(delay) * config.Multiplier)
				if delay > config.MaxDelay {
					delay = config.MaxDelay
				}
			}

			return lastAck, lastErr
		}
	}
}

// MetricsCollector records command execution outcomes.
type MetricsCollector interface {
	RecordCommand(commandName string, duration time.Duration, success bool, err error)
}

// MetricsMiddleware records metrics for every submission.
func MetricsMiddleware(collector MetricsCollector) Middleware {
	return func(next SubmitFunc) SubmitFunc {
		return func(ctx context.Context, cmd Command) (Ack, error) {
			start := time.Now()
			ack, err := next(ctx, cmd)
			collector.RecordCommand(cmd.CommandName(), time.Since(start), err == nil, err)
			return ack, err
		}
	}
}

// correlationIDKey is the context key for correlation IDs.
type correlationIDKey struct{}

// CorrelationIDFromContext returns the correlation ID from context.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID returns a context with the correlation ID set.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDMiddleware ensures every submission runs with a
// correlation ID in context, generating one when absent.
func CorrelationIDMiddleware(generator func() string) Middleware {
	return func(next SubmitFunc) SubmitFunc {
		return func(ctx context.Context, cmd Command) (Ack, error) {
			if CorrelationIDFromContext(ctx) != "" {
				return next(ctx, cmd)
			}

			var id string
			if base, ok := cmd.(interface{ GetCorrelationID() string }); ok {
				id = base.GetCorrelationID()
			}
			if id == "" && generator != nil {
				id = generator()
			}
			if id != "" {
				ctx = WithCorrelationID(ctx, id)
			}

			return next(ctx, cmd)
		}
	}
}
