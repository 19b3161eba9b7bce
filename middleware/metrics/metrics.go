// Package metrics provides Prometheus metrics for the provenance
// ledger: command outcomes, ledger store operations, relay throughput,
// and verification results.
//
// Basic usage:
//
//	m := metrics.New(metrics.WithServiceName("trail-api"))
//	m.MustRegister()
//
//	coordinator := cacaotrail.NewCoordinator(journal, view,
//	    cacaotrail.WithCoordinatorMiddleware(cacaotrail.MetricsMiddleware(m)))
//
//	tracked := m.WrapStore(store)
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cacaotrail/cacaotrail"
	"github.com/cacaotrail/cacaotrail/ledger"
)

// Metric labels.
const (
	LabelService   = "service"
	LabelCommand   = "command"
	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelErrorType = "error_type"
	LabelTarget    = "destination"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation values for store metrics.
const (
	OperationAppend = "append"
	OperationLoad   = "load"
)

// Metrics holds the Prometheus collectors.
type Metrics struct {
	namespace   string
	serviceName string

	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	storeOperationsTotal   *prometheus.CounterVec
	storeOperationDuration *prometheus.HistogramVec
	recordsAppendedTotal   *prometheus.CounterVec
	recordsLoadedTotal     *prometheus.CounterVec

	relayPublishedTotal *prometheus.CounterVec
	relayFailedTotal    *prometheus.CounterVec
	relayBatchDuration  *prometheus.HistogramVec
	relayLag            *prometheus.GaugeVec

	verificationRunsTotal  *prometheus.CounterVec
	verificationProblems   *prometheus.GaugeVec
	verificationDuration   *prometheus.HistogramVec
	verificationLastOKTime *prometheus.GaugeVec

	errorsTotal *prometheus.CounterVec
}

// Option configures Metrics.
type Option func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) Option {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithServiceName sets the service label attached to every metric.
func WithServiceName(name string) Option {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a Metrics instance. Collectors are created but not
// registered; call MustRegister or Register.
func New(opts ...Option) *Metrics {
	m := &Metrics{
		namespace:   "cacaotrail",
		serviceName: "unknown",
	}
	for _, opt := range opts {
		opt(m)
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	m.commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "commands_total",
			Help:      "Total number of commands submitted.",
		},
		[]string{LabelService, LabelCommand, LabelStatus},
	)
	m.commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      "command_duration_seconds",
			Help:      "Duration of command processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelCommand},
	)

	m.storeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "store_operations_total",
			Help:      "Total number of ledger store operations.",
		},
		[]string{LabelService, LabelOperation, LabelStatus},
	)
	m.storeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Duration of ledger store operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelOperation},
	)
	m.recordsAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "records_appended_total",
			Help:      "Total number of records appended to the ledger.",
		},
		[]string{LabelService},
	)
	m.recordsLoadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "records_loaded_total",
			Help:      "Total number of records loaded from the ledger.",
		},
		[]string{LabelService},
	)

	m.relayPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "relay_published_total",
			Help:      "Total number of records published by the relay.",
		},
		[]string{LabelService, LabelTarget},
	)
	m.relayFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "relay_publish_failures_total",
			Help:      "Total number of failed relay publish batches.",
		},
		[]string{LabelService, LabelTarget},
	)
	m.relayBatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      "relay_batch_duration_seconds",
			Help:      "Duration of relay batches in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService},
	)
	m.relayLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      "relay_lag_positions",
			Help:      "How many global positions the relay is behind the ledger tail.",
		},
		[]string{LabelService},
	)

	m.verificationRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "verification_runs_total",
			Help:      "Total number of verification runs.",
		},
		[]string{LabelService, LabelStatus},
	)
	m.verificationProblems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      "verification_problems",
			Help:      "Problems found by the last verification run, by type.",
		},
		[]string{LabelService, LabelErrorType},
	)
	m.verificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      "verification_duration_seconds",
			Help:      "Duration of verification runs in seconds.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300},
		},
		[]string{LabelService},
	)
	m.verificationLastOKTime = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      "verification_last_ok_timestamp_seconds",
			Help:      "Unix time of the last clean verification run.",
		},
		[]string{LabelService},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by type.",
		},
		[]string{LabelService, LabelErrorType},
	)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.commandsTotal,
		m.commandDuration,
		m.storeOperationsTotal,
		m.storeOperationDuration,
		m.recordsAppendedTotal,
		m.recordsLoadedTotal,
		m.relayPublishedTotal,
		m.relayFailedTotal,
		m.relayBatchDuration,
		m.relayLag,
		m.verificationRunsTotal,
		m.verificationProblems,
		m.verificationDuration,
		m.verificationLastOKTime,
		m.errorsTotal,
	}
}

// MustRegister registers all collectors with the default registry.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.Collectors()...)
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, collector := range m.Collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// RecordCommand implements cacaotrail.MetricsCollector.
func (m *Metrics) RecordCommand(commandName string, duration time.Duration, success bool, err error) {
	status := StatusSuccess
	if !success {
		status = StatusError
		m.errorsTotal.WithLabelValues(m.serviceName, errorTypeName(err)).Inc()
	}
	m.commandsTotal.WithLabelValues(m.serviceName, commandName, status).Inc()
	m.commandDuration.WithLabelValues(m.serviceName, commandName).Observe(duration.Seconds())
}

// RecordPublished implements cacaotrail.RelayMetrics.
func (m *Metrics) RecordPublished(destination string, count int) {
	m.relayPublishedTotal.WithLabelValues(m.serviceName, destination).Add(float64(count))
}

// RecordPublishFailed implements cacaotrail.RelayMetrics.
func (m *Metrics) RecordPublishFailed(destination string) {
	m.relayFailedTotal.WithLabelValues(m.serviceName, destination).Inc()
}

// RecordBatchDuration implements cacaotrail.RelayMetrics.
func (m *Metrics) RecordBatchDuration(duration time.Duration) {
	m.relayBatchDuration.WithLabelValues(m.serviceName).Observe(duration.Seconds())
}

// RecordLag implements cacaotrail.RelayMetrics.
func (m *Metrics) RecordLag(positions uint64) {
	m.relayLag.WithLabelValues(m.serviceName).Set(float64(positions))
}

// RecordVerification records the outcome of a verification run.
func (m *Metrics) RecordVerification(report *cacaotrail.Report) {
	status := StatusSuccess
	if !report.OK() {
		status = StatusError
	} else {
		m.verificationLastOKTime.WithLabelValues(m.serviceName).Set(float64(report.FinishedAt.Unix()))
	}
	m.verificationRunsTotal.WithLabelValues(m.serviceName, status).Inc()
	m.verificationDuration.WithLabelValues(m.serviceName).
		Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	m.verificationProblems.WithLabelValues(m.serviceName, "chain").Set(float64(len(report.ChainErrors)))
	m.verificationProblems.WithLabelValues(m.serviceName, "checkpoint").Set(float64(len(report.CheckpointErrors)))
	m.verificationProblems.WithLabelValues(m.serviceName, "drift").Set(float64(len(report.DriftErrors)))
}

// errorTypeName maps an error to a stable label value.
func errorTypeName(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, cacaotrail.ErrValidationFailed):
		return "validation"
	case errors.Is(err, cacaotrail.ErrConsumptionExceeded):
		return "consumption_exceeded"
	case errors.Is(err, cacaotrail.ErrChainConflict):
		return "chain_conflict"
	case errors.Is(err, cacaotrail.ErrChainCorrupted):
		return "chain_corrupted"
	case errors.Is(err, cacaotrail.ErrSubjectHalted):
		return "subject_halted"
	case errors.Is(err, cacaotrail.ErrSubjectNotFound):
		return "subject_not_found"
	case errors.Is(err, cacaotrail.ErrNotFound):
		return "not_found"
	case errors.Is(err, cacaotrail.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, cacaotrail.ErrUnknownEventKind):
		return "unknown_event_kind"
	case errors.Is(err, cacaotrail.ErrSerializationFailed):
		return "serialization"
	case errors.Is(err, cacaotrail.ErrHandlerPanicked):
		return "panic"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unknown"
	}
}

// StoreMiddleware wraps a ledger.Store and records operation metrics.
type StoreMiddleware struct {
	store   ledger.Store
	metrics *Metrics
}

// WrapStore wraps a ledger store with metrics collection.
func (m *Metrics) WrapStore(store ledger.Store) *StoreMiddleware {
	return &StoreMiddleware{store: store, metrics: m}
}

// Append records the append and its outcome.
func (sm *StoreMiddleware) Append(ctx context.Context, subjectID string, events []ledger.EventDraft, expectedSeq int64) ([]ledger.Record, error) {
	start := time.Now()
	records, err := sm.store.Append(ctx, subjectID, events, expectedSeq)
	sm.record(OperationAppend, start, err)
	if err == nil {
		sm.metrics.recordsAppendedTotal.WithLabelValues(sm.metrics.serviceName).Add(float64(len(records)))
	}
	return records, err
}

// Load records the load and how many records it returned.
func (sm *StoreMiddleware) Load(ctx context.Context, subjectID string, fromSeq int64) ([]ledger.Record, error) {
	start := time.Now()
	records, err := sm.store.Load(ctx, subjectID, fromSeq)
	sm.record(OperationLoad, start, err)
	if err == nil {
		sm.metrics.recordsLoadedTotal.WithLabelValues(sm.metrics.serviceName).Add(float64(len(records)))
	}
	return records, err
}

// LoadFromPosition records the load and how many records it returned.
func (sm *StoreMiddleware) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]ledger.Record, error) {
	start := time.Now()
	records, err := sm.store.LoadFromPosition(ctx, fromPosition, limit)
	sm.record(OperationLoad, start, err)
	if err == nil {
		sm.metrics.recordsLoadedTotal.WithLabelValues(sm.metrics.serviceName).Add(float64(len(records)))
	}
	return records, err
}

// GetSubjectInfo delegates to the wrapped store.
func (sm *StoreMiddleware) GetSubjectInfo(ctx context.Context, subjectID string) (*ledger.SubjectInfo, error) {
	return sm.store.GetSubjectInfo(ctx, subjectID)
}

// GetLastPosition delegates to the wrapped store.
func (sm *StoreMiddleware) GetLastPosition(ctx context.Context) (uint64, error) {
	return sm.store.GetLastPosition(ctx)
}

// Initialize delegates to the wrapped store.
func (sm *StoreMiddleware) Initialize(ctx context.Context) error {
	return sm.store.Initialize(ctx)
}

// Close delegates to the wrapped store.
func (sm *StoreMiddleware) Close() error {
	return sm.store.Close()
}

// Unwrap returns the underlying store so callers can reach optional
// interfaces like ledger.SubscriptionStore.
func (sm *StoreMiddleware) Unwrap() ledger.Store {
	return sm.store
}

func (sm *StoreMiddleware) record(operation string, start time.Time, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	sm.metrics.storeOperationsTotal.WithLabelValues(sm.metrics.serviceName, operation, status).Inc()
	sm.metrics.storeOperationDuration.WithLabelValues(sm.metrics.serviceName, operation).
		Observe(time.Since(start).Seconds())
}
