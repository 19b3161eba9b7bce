// Package tracing provides OpenTelemetry integration for the
// provenance ledger: command submission spans and traced ledger store
// operations.
//
// Basic usage:
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer(tracing.WithServiceName("trail-api"))
//	coordinator := cacaotrail.NewCoordinator(journal, view,
//	    cacaotrail.WithCoordinatorMiddleware(tracing.SubmitMiddleware(tracer)))
//
// Spans capture the command name, the subject the append landed on,
// the resulting seq and global position, and error details.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cacaotrail/cacaotrail"
	"github.com/cacaotrail/cacaotrail/ledger"
)

const (
	// TracerName identifies spans produced by this package.
	TracerName = "github.com/cacaotrail/cacaotrail"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "cacaotrail"
)

// Tracer wraps an OpenTelemetry tracer for ledger operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a Tracer using the global TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

// SubmitMiddleware traces command submission.
func SubmitMiddleware(tracer *Tracer) cacaotrail.Middleware {
	return func(next cacaotrail.SubmitFunc) cacaotrail.SubmitFunc {
		return func(ctx context.Context, cmd cacaotrail.Command) (cacaotrail.Ack, error) {
			spanName := fmt.Sprintf("command.%s", cmd.CommandName())

			ctx, span := tracer.StartSpan(ctx, spanName,
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			defer span.End()

			span.SetAttributes(
				attribute.String("cacaotrail.service", tracer.serviceName),
				attribute.String("cacaotrail.command", cmd.CommandName()),
			)
			if correlationID := cacaotrail.CorrelationIDFromContext(ctx); correlationID != "" {
				span.SetAttributes(attribute.String("cacaotrail.correlation_id", correlationID))
			}

			ack, err := next(ctx, cmd)

			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
				span.SetAttributes(
					attribute.String("cacaotrail.subject", ack.SubjectID),
					attribute.Int64("cacaotrail.seq", ack.Seq),
					attribute.Int64("cacaotrail.global_position", int64(ack.GlobalPosition)),
					attribute.Bool("cacaotrail.projected", ack.Projected),
				)
			}

			return ack, err
		}
	}
}

// StoreMiddleware wraps a ledger.Store and traces its operations.
type StoreMiddleware struct {
	store  ledger.Store
	tracer *Tracer
}

// NewStoreMiddleware wraps a ledger store with tracing.
func NewStoreMiddleware(store ledger.Store, tracer *Tracer) *StoreMiddleware {
	return &StoreMiddleware{store: store, tracer: tracer}
}

// Append traces the append operation.
func (m *StoreMiddleware) Append(ctx context.Context, subjectID string, events []ledger.EventDraft, expectedSeq int64) ([]ledger.Record, error) {
	ctx, span := m.tracer.StartSpan(ctx, "ledger.append",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("cacaotrail.subject", subjectID),
		attribute.Int("cacaotrail.event_count", len(events)),
		attribute.Int64("cacaotrail.expected_seq", expectedSeq),
	)

	records, err := m.store.Append(ctx, subjectID, events, expectedSeq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	if len(records) > 0 {
		tail := records[len(records)-1]
		span.SetAttributes(
			attribute.Int64("cacaotrail.tail_seq", tail.Seq),
			attribute.String("cacaotrail.tail_hash", tail.Hash),
		)
	}
	return records, nil
}

// Load traces the load operation.
func (m *StoreMiddleware) Load(ctx context.Context, subjectID string, fromSeq int64) ([]ledger.Record, error) {
	ctx, span := m.tracer.StartSpan(ctx, "ledger.load",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("cacaotrail.subject", subjectID),
		attribute.Int64("cacaotrail.from_seq", fromSeq),
	)

	records, err := m.store.Load(ctx, subjectID, fromSeq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.Int("cacaotrail.record_count", len(records)))
	return records, nil
}

// LoadFromPosition traces the global load operation.
func (m *StoreMiddleware) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]ledger.Record, error) {
	ctx, span := m.tracer.StartSpan(ctx, "ledger.load_from_position",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.Int64("cacaotrail.from_position", int64(fromPosition)),
		attribute.Int("cacaotrail.limit", limit),
	)

	records, err := m.store.LoadFromPosition(ctx, fromPosition, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.Int("cacaotrail.record_count", len(records)))
	return records, nil
}

// GetSubjectInfo traces the subject info lookup.
func (m *StoreMiddleware) GetSubjectInfo(ctx context.Context, subjectID string) (*ledger.SubjectInfo, error) {
	ctx, span := m.tracer.StartSpan(ctx, "ledger.get_subject_info",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(attribute.String("cacaotrail.subject", subjectID))

	info, err := m.store.GetSubjectInfo(ctx, subjectID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return info, nil
}

// GetLastPosition delegates to the wrapped store.
func (m *StoreMiddleware) GetLastPosition(ctx context.Context) (uint64, error) {
	return m.store.GetLastPosition(ctx)
}

// Initialize delegates to the wrapped store.
func (m *StoreMiddleware) Initialize(ctx context.Context) error {
	return m.store.Initialize(ctx)
}

// Close delegates to the wrapped store.
func (m *StoreMiddleware) Close() error {
	return m.store.Close()
}

// Unwrap returns the underlying store so callers can reach optional
// interfaces like ledger.SubscriptionStore.
func (m *StoreMiddleware) Unwrap() ledger.Store {
	return m.store
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	trace.SpanFromContext(ctx).AddEvent(name, opts...)
}

// SetError records an error on the current span.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
