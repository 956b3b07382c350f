// Package metrics provides Prometheus metrics integration for chronicle.
//
// Metrics implements chronicle.MetricsSink, so the snapshot and archive
// services report reconstruction cost, snapshot lifecycle and archival
// volume directly. Adapters can be wrapped to record storage operations.
//
// Basic usage:
//
//	m := metrics.New()
//	prometheus.MustRegister(m.Collectors()...)
//
//	adapter := m.WrapEventStore(postgresAdapter)
//	store := chronicle.New(adapter)
//	snapshots := chronicle.NewSnapshotService(store, m.WrapSnapshots(postgresAdapter),
//	    reconstructor, codec, chronicle.WithMetrics(m))
//
// The metrics collected include:
//   - Reconstruction duration and replayed events by path (snapshot or full replay)
//   - Snapshot creation, failure, size, deletion and fallback counts
//   - Archived events, compression volume and integrity checks
//   - Event store and snapshot store operations
//   - Work queue drops
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/emberforge/chronicle"
	"github.com/emberforge/chronicle/adapters"
)

// Default metric labels.
const (
	LabelEventType = "event_type"
	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelErrorType = "error_type"
	LabelPath      = "path"
	LabelReason    = "reason"
	LabelService   = "service"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation values.
const (
	OperationAppend          = "append"
	OperationLoad            = "load"
	OperationGetStreamInfo   = "get_stream_info"
	OperationListStreams     = "list_streams"
	OperationDeleteEvents    = "delete_events"
	OperationSaveSnapshot    = "save_snapshot"
	OperationLoadSnapshot    = "load_snapshot"
	OperationListSnapshots   = "list_snapshots"
	OperationDeleteSnapshots = "delete_snapshots"
	OperationListCandidates  = "list_candidates"
)

var _ chronicle.MetricsSink = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for chronicle.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	// Reconstruction metrics
	reconstructionDuration *prometheus.HistogramVec
	eventsReplayedTotal    *prometheus.CounterVec
	snapshotFallbacksTotal *prometheus.CounterVec

	// Snapshot metrics
	snapshotsTotal           *prometheus.CounterVec
	snapshotCreationDuration *prometheus.HistogramVec
	snapshotSizeBytes        *prometheus.HistogramVec
	snapshotsDeletedTotal    *prometheus.CounterVec

	// Archive metrics
	eventsArchivedTotal    *prometheus.CounterVec
	compressionInputBytes  *prometheus.CounterVec
	compressionOutputBytes *prometheus.CounterVec
	integrityChecksTotal   *prometheus.CounterVec
	queueDroppedTotal      *prometheus.CounterVec

	// Storage metrics
	storeOperationsTotal   *prometheus.CounterVec
	storeOperationDuration *prometheus.HistogramVec
	eventsAppendedTotal    *prometheus.CounterVec
	eventsLoadedTotal      *prometheus.CounterVec

	// Error metrics
	errorsTotal *prometheus.CounterVec
}

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithMetricsServiceName sets the service name label.
func WithMetricsServiceName(name string) MetricsOption {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a new Metrics instance with default settings.
func New(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		namespace:   "chronicle",
		subsystem:   "",
		serviceName: "unknown",
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initMetrics()
	return m
}

func (m *Metrics) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      name,
			Help:      help,
		},
		append([]string{LabelService}, labels...),
	)
}

func (m *Metrics) histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		append([]string{LabelService}, labels...),
	)
}

// initMetrics initializes all Prometheus metrics.
func (m *Metrics) initMetrics() {
	m.reconstructionDuration = m.histogram("reconstruction_duration_seconds",
		"Duration of aggregate reconstruction in seconds.", prometheus.DefBuckets, LabelPath)
	m.eventsReplayedTotal = m.counter("events_replayed_total",
		"Total number of events folded during reconstruction.", LabelPath)
	m.snapshotFallbacksTotal = m.counter("snapshot_fallbacks_total",
		"Total number of reads that fell back from the snapshot path to full replay.", LabelReason)

	m.snapshotsTotal = m.counter("snapshots_total",
		"Total number of snapshot creation attempts.", LabelStatus)
	m.snapshotCreationDuration = m.histogram("snapshot_creation_duration_seconds",
		"Duration of snapshot creation in seconds.", prometheus.DefBuckets)
	m.snapshotSizeBytes = m.histogram("snapshot_size_bytes",
		"Size of encoded snapshots in bytes.", prometheus.ExponentialBuckets(256, 4, 10))
	m.snapshotsDeletedTotal = m.counter("snapshots_deleted_total",
		"Total number of snapshots removed by retention cleanup.")

	m.eventsArchivedTotal = m.counter("events_archived_total",
		"Total number of events moved from the hot store to the archive.")
	m.compressionInputBytes = m.counter("compression_input_bytes_total",
		"Total bytes of event history fed to compression.")
	m.compressionOutputBytes = m.counter("compression_output_bytes_total",
		"Total bytes of compressed event batches produced.")
	m.integrityChecksTotal = m.counter("integrity_checks_total",
		"Total number of archive integrity validations.", LabelStatus)
	m.queueDroppedTotal = m.counter("work_queue_dropped_total",
		"Total number of background tasks dropped because the work queue was full.")

	m.storeOperationsTotal = m.counter("store_operations_total",
		"Total number of event and snapshot store operations.", LabelOperation, LabelStatus)
	m.storeOperationDuration = m.histogram("store_operation_duration_seconds",
		"Duration of event and snapshot store operations in seconds.", prometheus.DefBuckets, LabelOperation)
	m.eventsAppendedTotal = m.counter("events_appended_total",
		"Total number of events appended to streams.", LabelEventType)
	m.eventsLoadedTotal = m.counter("events_loaded_total",
		"Total number of events loaded from streams.")

	m.errorsTotal = m.counter("errors_total",
		"Total number of errors by type.", LabelErrorType)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.reconstructionDuration,
		m.eventsReplayedTotal,
		m.snapshotFallbacksTotal,
		m.snapshotsTotal,
		m.snapshotCreationDuration,
		m.snapshotSizeBytes,
		m.snapshotsDeletedTotal,
		m.eventsArchivedTotal,
		m.compressionInputBytes,
		m.compressionOutputBytes,
		m.integrityChecksTotal,
		m.queueDroppedTotal,
		m.storeOperationsTotal,
		m.storeOperationDuration,
		m.eventsAppendedTotal,
		m.eventsLoadedTotal,
		m.errorsTotal,
	}
}

// MustRegister registers all collectors with the default registry.
// Panics if registration fails.
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

// =============================================================================
// chronicle.MetricsSink
// =============================================================================

// RecordReconstruction records one successful aggregate read.
func (m *Metrics) RecordReconstruction(path string, duration time.Duration, eventCount int) {
	m.reconstructionDuration.WithLabelValues(m.serviceName, path).Observe(duration.Seconds())
	m.eventsReplayedTotal.WithLabelValues(m.serviceName, path).Add(float64(eventCount))
}

// RecordSnapshotFallback records a read that abandoned the snapshot path.
func (m *Metrics) RecordSnapshotFallback(reason string) {
	m.snapshotFallbacksTotal.WithLabelValues(m.serviceName, reason).Inc()
}

// RecordSnapshotCreated records a persisted snapshot.
func (m *Metrics) RecordSnapshotCreated(duration time.Duration, sizeBytes int64) {
	m.snapshotsTotal.WithLabelValues(m.serviceName, StatusSuccess).Inc()
	m.snapshotCreationDuration.WithLabelValues(m.serviceName).Observe(duration.Seconds())
	m.snapshotSizeBytes.WithLabelValues(m.serviceName).Observe(float64(sizeBytes))
}

// RecordSnapshotFailed records a failed snapshot creation.
func (m *Metrics) RecordSnapshotFailed() {
	m.snapshotsTotal.WithLabelValues(m.serviceName, StatusError).Inc()
}

// RecordSnapshotsDeleted records snapshots removed by retention cleanup.
func (m *Metrics) RecordSnapshotsDeleted(n int) {
	m.snapshotsDeletedTotal.WithLabelValues(m.serviceName).Add(float64(n))
}

// RecordEventsArchived records events moved to the archive.
func (m *Metrics) RecordEventsArchived(n int) {
	m.eventsArchivedTotal.WithLabelValues(m.serviceName).Add(float64(n))
}

// RecordCompression records the volume of one compression run.
func (m *Metrics) RecordCompression(originalBytes, compressedBytes int64) {
	m.compressionInputBytes.WithLabelValues(m.serviceName).Add(float64(originalBytes))
	m.compressionOutputBytes.WithLabelValues(m.serviceName).Add(float64(compressedBytes))
}

// RecordIntegrityCheck records an archive validation outcome.
func (m *Metrics) RecordIntegrityCheck(ok bool) {
	status := StatusSuccess
	if !ok {
		status = StatusError
	}
	m.integrityChecksTotal.WithLabelValues(m.serviceName, status).Inc()
}

// RecordQueueDropped records a background task rejected by a full queue.
func (m *Metrics) RecordQueueDropped() {
	m.queueDroppedTotal.WithLabelValues(m.serviceName).Inc()
}

// RecordError records a custom error.
func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.WithLabelValues(m.serviceName, errorType).Inc()
}

// observe records the outcome of one storage operation.
func (m *Metrics) observe(operation string, start time.Time, err error) {
	m.storeOperationDuration.WithLabelValues(m.serviceName, operation).Observe(time.Since(start).Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
		m.errorsTotal.WithLabelValues(m.serviceName, errorTypeName(err)).Inc()
	}
	m.storeOperationsTotal.WithLabelValues(m.serviceName, operation, status).Inc()
}

// errorTypeName extracts the error type name based on sentinel errors.
func errorTypeName(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, chronicle.ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, chronicle.ErrNotFound):
		return "not_found"
	case errors.Is(err, chronicle.ErrSerializationFailed):
		return "serialization_failed"
	case errors.Is(err, chronicle.ErrIntegrityMismatch):
		return "integrity_mismatch"
	case errors.Is(err, chronicle.ErrArchiveUnsupported):
		return "archive_unsupported"
	case errors.Is(err, adapters.ErrEmptyStreamID):
		return "empty_stream_id"
	case errors.Is(err, adapters.ErrNoEvents):
		return "no_events"
	case errors.Is(err, adapters.ErrInvalidVersion):
		return "invalid_version"
	case errors.Is(err, adapters.ErrAdapterClosed):
		return "adapter_closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	default:
		return "unknown"
	}
}

// =============================================================================
// Getters for testing
// =============================================================================

// ReconstructionDuration returns the reconstruction duration histogram.
func (m *Metrics) ReconstructionDuration() *prometheus.HistogramVec {
	return m.reconstructionDuration
}

// SnapshotFallbacksTotal returns the snapshot fallback counter.
func (m *Metrics) SnapshotFallbacksTotal() *prometheus.CounterVec {
	return m.snapshotFallbacksTotal
}

// SnapshotsTotal returns the snapshot creation counter.
func (m *Metrics) SnapshotsTotal() *prometheus.CounterVec {
	return m.snapshotsTotal
}

// EventsArchivedTotal returns the archived events counter.
func (m *Metrics) EventsArchivedTotal() *prometheus.CounterVec {
	return m.eventsArchivedTotal
}

// StoreOperationsTotal returns the storage operations counter.
func (m *Metrics) StoreOperationsTotal() *prometheus.CounterVec {
	return m.storeOperationsTotal
}

// EventsAppendedTotal returns the events appended counter.
func (m *Metrics) EventsAppendedTotal() *prometheus.CounterVec {
	return m.eventsAppendedTotal
}

// EventsLoadedTotal returns the events loaded counter.
func (m *Metrics) EventsLoadedTotal() *prometheus.CounterVec {
	return m.eventsLoadedTotal
}

// ErrorsTotal returns the errors counter.
func (m *Metrics) ErrorsTotal() *prometheus.CounterVec {
	return m.errorsTotal
}
