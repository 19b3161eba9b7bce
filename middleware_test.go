package cacaotrail

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passthrough(ack Ack, err error) SubmitFunc {
	return func(ctx context.Context, cmd Command) (Ack, error) {
		return ack, err
	}
}

func TestValidationMiddleware(t *testing.T) {
	mw := ValidationMiddleware()

	t.Run("valid command passes through", func(t *testing.T) {
		called := false
		next := func(ctx context.Context, cmd Command) (Ack, error) {
			called = true
			return Ack{Seq: 1}, nil
		}

		ack, err := mw(next)(context.Background(), RegisterSupplier{SupplierID: "s1", Name: "Finca Uno"})
		require.NoError(t, err)
		assert.True(t, called)
		assert.Equal(t, int64(1), ack.Seq)
	})

	t.Run("invalid command is stopped", func(t *testing.T) {
		next := func(ctx context.Context, cmd Command) (Ack, error) {
			t.Fatal("handler must not run")
			return Ack{}, nil
		}

		_, err := mw(next)(context.Background(), RegisterSupplier{})
		assert.True(t, errors.Is(err, ErrValidationFailed))
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	mw := RecoveryMiddleware()
	next := func(ctx context.Context, cmd Command) (Ack, error) {
		panic("boom")
	}

	_, err := mw(next)(context.Background(), RegisterSupplier{SupplierID: "s1", Name: "Finca Uno"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHandlerPanicked))

	var pe *PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "boom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
}

func TestTimeoutMiddleware(t *testing.T) {
	mw := TimeoutMiddleware(10 * time.Millisecond)
	next := func(ctx context.Context, cmd Command) (Ack, error) {
		select {
		case <-ctx.Done():
			return Ack{}, ctx.Err()
		case <-time.After(time.Second):
			return Ack{Seq: 1}, nil
		}
	}

	_, err := mw(next)(context.Background(), RegisterSupplier{SupplierID: "s1", Name: "Finca Uno"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRetryMiddleware(t *testing.T) {
	cmd := RegisterSupplier{SupplierID: "s1", Name: "Finca Uno"}

	fastRetry := func(max int) RetryConfig {
		return RetryConfig{
			MaxAttempts:  max,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
			Multiplier:   2.0,
		}
	}

	t.Run("retries transient failures", func(t *testing.T) {
		attempts := 0
		next := func(ctx context.Context, cmd Command) (Ack, error) {
			attempts++
			if attempts < 3 {
				return Ack{}, errors.New("connection refused")
			}
			return Ack{Seq: 1}, nil
		}

		ack, err := RetryMiddleware(fastRetry(5))(next)(context.Background(), cmd)
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
		assert.Equal(t, int64(1), ack.Seq)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		attempts := 0
		next := func(ctx context.Context, cmd Command) (Ack, error) {
			attempts++
			return Ack{}, errors.New("connection refused")
		}

		_, err := RetryMiddleware(fastRetry(3))(next)(context.Background(), cmd)
		require.Error(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("deterministic failures are not retried", func(t *testing.T) {
		for _, sentinel := range []error{
			ErrValidationFailed,
			ErrConsumptionExceeded,
			ErrChainConflict,
			ErrChainCorrupted,
			ErrSubjectHalted,
			ErrUnknownEventKind,
		} {
			attempts := 0
			next := func(ctx context.Context, cmd Command) (Ack, error) {
				attempts++
				return Ack{}, sentinel
			}

			_, err := RetryMiddleware(fastRetry(5))(next)(context.Background(), cmd)
			assert.True(t, errors.Is(err, sentinel))
			assert.Equal(t, 1, attempts, "sentinel %v", sentinel)
		}
	})

	t.Run("cancelled context stops the backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		config := RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour}
		_, err := RetryMiddleware(config)(passthrough(Ack{}, errors.New("transient")))(ctx, cmd)
		assert.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("zero config gets defaults", func(t *testing.T) {
		config := DefaultRetryConfig()
		assert.Equal(t, 3, config.MaxAttempts)
		assert.NotNil(t, config.ShouldRetry)
	})
}

type recordingCollector struct {
	name     string
	success  bool
	err      error
	duration time.Duration
	calls    int
}

func (c *recordingCollector) RecordCommand(name string, duration time.Duration, success bool, err error) {
	c.name = name
	c.duration = duration
	c.success = success
	c.err = err
	c.calls++
}

func TestMetricsMiddleware(t *testing.T) {
	cmd := RegisterSupplier{SupplierID: "s1", Name: "Finca Uno"}

	t.Run("success", func(t *testing.T) {
		collector := &recordingCollector{}
		_, err := MetricsMiddleware(collector)(passthrough(Ack{Seq: 1}, nil))(context.Background(), cmd)
		require.NoError(t, err)

		assert.Equal(t, 1, collector.calls)
		assert.Equal(t, "RegisterSupplier", collector.name)
		assert.True(t, collector.success)
		assert.NoError(t, collector.err)
	})

	t.Run("failure", func(t *testing.T) {
		collector := &recordingCollector{}
		boom := errors.New("boom")
		_, err := MetricsMiddleware(collector)(passthrough(Ack{}, boom))(context.Background(), cmd)
		require.Error(t, err)

		assert.False(t, collector.success)
		assert.Equal(t, boom, collector.err)
	})
}

func TestCorrelationIDMiddleware(t *testing.T) {
	capture := func(got *string) SubmitFunc {
		return func(ctx context.Context, cmd Command) (Ack, error) {
			*got = CorrelationIDFromContext(ctx)
			return Ack{}, nil
		}
	}

	t.Run("existing context ID wins", func(t *testing.T) {
		var got string
		mw := CorrelationIDMiddleware(func() string { return "generated" })
		ctx := WithCorrelationID(context.Background(), "from-context")

		_, err := mw(capture(&got))(ctx, RegisterSupplier{SupplierID: "s1", Name: "Finca Uno"})
		require.NoError(t, err)
		assert.Equal(t, "from-context", got)
	})

	t.Run("command metadata is used next", func(t *testing.T) {
		var got string
		mw := CorrelationIDMiddleware(func() string { return "generated" })
		cmd := RegisterSupplier{SupplierID: "s1", Name: "Finca Uno"}
		cmd.CommandBase = cmd.CommandBase.WithCorrelationID("from-command")

		_, err := mw(capture(&got))(context.Background(), cmd)
		require.NoError(t, err)
		assert.Equal(t, "from-command", got)
	})

	t.Run("generator fills the gap", func(t *testing.T) {
		var got string
		mw := CorrelationIDMiddleware(func() string { return "generated" })

		_, err := mw(capture(&got))(context.Background(), RegisterSupplier{SupplierID: "s1", Name: "Finca Uno"})
		require.NoError(t, err)
		assert.Equal(t, "generated", got)
	})

	t.Run("no source leaves the context untouched", func(t *testing.T) {
		var got string
		mw := CorrelationIDMiddleware(nil)

		_, err := mw(capture(&got))(context.Background(), RegisterSupplier{SupplierID: "s1", Name: "Finca Uno"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

type captureLogger struct {
	infos  []string
	errors []string
}

func (l *captureLogger) Debug(msg string, args ...interface{}) {}
func (l *captureLogger) Info(msg string, args ...interface{})  { l.infos = append(l.infos, msg) }
func (l *captureLogger) Warn(msg string, args ...interface{})  {}
func (l *captureLogger) Error(msg string, args ...interface{}) { l.errors = append(l.errors, msg) }

func TestLoggingMiddleware(t *testing.T) {
	cmd := RegisterSupplier{SupplierID: "s1", Name: "Finca Uno"}

	t.Run("success is logged at info", func(t *testing.T) {
		logger := &captureLogger{}
		_, err := LoggingMiddleware(logger)(passthrough(Ack{Seq: 1}, nil))(context.Background(), cmd)
		require.NoError(t, err)
		assert.NotEmpty(t, logger.infos)
		assert.Empty(t, logger.errors)
	})

	t.Run("failure is logged at error", func(t *testing.T) {
		logger := &captureLogger{}
		_, err := LoggingMiddleware(logger)(passthrough(Ack{}, errors.New("boom")))(context.Background(), cmd)
		require.Error(t, err)
		assert.NotEmpty(t, logger.errors)
	})
}
