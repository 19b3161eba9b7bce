package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/cacaotrail/cacaotrail"
	"github.com/cacaotrail/cacaotrail/ledger"
	"github.com/cacaotrail/cacaotrail/ledger/memory"
)

var _ ledger.Store = (*StoreMiddleware)(nil)

func newTestTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewTracer(WithTracerProvider(tp), WithServiceName("test")), recorder
}

func TestSubmitMiddleware(t *testing.T) {
	t.Run("successful command", func(t *testing.T) {
		tracer, recorder := newTestTracer(t)

		next := func(ctx context.Context, cmd cacaotrail.Command) (cacaotrail.Ack, error) {
			return cacaotrail.Ack{
				SubjectID: "CacaoBatch-b1",
				Seq:       1,
				Projected: true,
			}, nil
		}

		cmd := cacaotrail.RecordHarvest{
			BatchID:     "b1",
			SupplierID:  "s1",
			Quantity:    10,
			Unit:        "kg",
			HarvestDate: time.Now(),
		}
		ack, err := SubmitMiddleware(tracer)(next)(context.Background(), cmd)
		require.NoError(t, err)
		assert.Equal(t, int64(1), ack.Seq)

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "command.RecordHarvest", spans[0].Name())
		assert.Equal(t, codes.Ok, spans[0].Status().Code)
	})

	t.Run("failed command records error", func(t *testing.T) {
		tracer, recorder := newTestTracer(t)

		next := func(ctx context.Context, cmd cacaotrail.Command) (cacaotrail.Ack, error) {
			return cacaotrail.Ack{}, cacaotrail.ErrChainConflict
		}

		_, err := SubmitMiddleware(tracer)(next)(context.Background(), cacaotrail.RecordSale{ProductID: "p1", Buyer: "b"})
		require.Error(t, err)

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status().Code)
		require.Len(t, spans[0].Events(), 1)
	})
}

func TestStoreMiddleware(t *testing.T) {
	ctx := context.Background()
	tracer, recorder := newTestTracer(t)
	store := NewStoreMiddleware(memory.NewStore(), tracer)
	defer store.Close()

	_, err := store.Append(ctx, "CacaoBatch-b1", []ledger.EventDraft{
		{Kind: "BatchHarvested", Payload: []byte(`{"batchId":"b1"}`)},
	}, ledger.NoSubject)
	require.NoError(t, err)

	_, err = store.Load(ctx, "CacaoBatch-b1", 0)
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "ledger.append", spans[0].Name())
	assert.Equal(t, "ledger.load", spans[1].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
}
