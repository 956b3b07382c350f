// Package tracing provides OpenTelemetry integration for chronicle.
//
// Adapters are wrapped so that every storage call made while reconstructing,
// snapshotting or archiving an aggregate shows up as a client span.
//
// Basic usage:
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer()
//	store := chronicle.New(tracing.NewEventStoreMiddleware(hot, tracer),
//	    chronicle.WithArchive(tracing.NewArchiveMiddleware(cold, tracer)))
//	snapshots := chronicle.NewSnapshotService(store,
//	    tracing.NewSnapshotMiddleware(hot, tracer), reconstructor, codec)
//
// The spans capture:
//   - Stream ID and version bounds of each call
//   - Event, snapshot and archive record counts
//   - Error details when a call fails
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/emberforge/chronicle"
	"github.com/emberforge/chronicle/adapters"
)

const (
	// TracerName is the name of the chronicle tracer.
	TracerName = "github.com/emberforge/chronicle"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "chronicle"
)

var (
	_ adapters.EventStoreAdapter      = (*EventStoreMiddleware)(nil)
	_ adapters.ArchivableEventAdapter = (*EventStoreMiddleware)(nil)
	_ adapters.SnapshotAdapter        = (*SnapshotMiddleware)(nil)
	_ adapters.ArchiveAdapter         = (*ArchiveMiddleware)(nil)
	_ chronicle.Notifier              = (*NotifierMiddleware)(nil)
)

// Tracer wraps OpenTelemetry tracer for chronicle operations.
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

// NewTracer creates a new Tracer with the global TracerProvider.
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

// startClient starts a client span tagged with the service and stream.
func (t *Tracer) startClient(ctx context.Context, name, streamID string) (context.Context, trace.Span) {
	ctx, span := t.StartSpan(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("chronicle.service", t.serviceName))
	if streamID != "" {
		span.SetAttributes(attribute.String("chronicle.stream_id", streamID))
	}
	return ctx, span
}

// finish records err on span or marks it Ok.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// =============================================================================
// Event Store Middleware
// =============================================================================

// EventStoreMiddleware wraps an EventStoreAdapter with tracing.
type EventStoreMiddleware struct {
	adapter adapters.EventStoreAdapter
	tracer  *Tracer
}

// NewEventStoreMiddleware wraps an adapter with tracing.
func NewEventStoreMiddleware(adapter adapters.EventStoreAdapter, tracer *Tracer) *EventStoreMiddleware {
	return &EventStoreMiddleware{
		adapter: adapter,
		tracer:  tracer,
	}
}

// Append stores events with tracing.
func (m *EventStoreMiddleware) Append(ctx context.Context, streamID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.startClient(ctx, "eventstore.append", streamID)
	defer span.End()

	span.SetAttributes(
		attribute.Int64("chronicle.expected_version", expectedVersion),
		attribute.Int("chronicle.events.count", len(events)),
	)

	if len(events) > 0 {
		eventTypes := make([]string, len(events))
		for i, e := range events {
			eventTypes[i] = e.Type
		}
		span.SetAttributes(attribute.StringSlice("chronicle.events.types", eventTypes))
	}

	stored, err := m.adapter.Append(ctx, streamID, events, expectedVersion)
	finish(span, err)
	if err == nil && len(stored) > 0 {
		last := stored[len(stored)-1]
		span.SetAttributes(
			attribute.Int64("chronicle.stored.version", last.Version),
			attribute.Int64("chronicle.stored.global_position", int64(last.GlobalPosition)),
		)
	}

	return stored, err
}

// Load retrieves events with tracing.
func (m *EventStoreMiddleware) Load(ctx context.Context, streamID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.startClient(ctx, "eventstore.load", streamID)
	defer span.End()

	span.SetAttributes(attribute.Int64("chronicle.from_version", fromVersion))

	events, err := m.adapter.Load(ctx, streamID, fromVersion)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("chronicle.events.loaded", len(events)))
	}

	return events, err
}

// GetStreamInfo returns stream metadata with tracing.
func (m *EventStoreMiddleware) GetStreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	ctx, span := m.tracer.startClient(ctx, "eventstore.get_stream_info", streamID)
	defer span.End()

	info, err := m.adapter.GetStreamInfo(ctx, streamID)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int64("chronicle.stream.version", info.Version))
	}

	return info, err
}

// ListStreams returns stream summaries with tracing.
func (m *EventStoreMiddleware) ListStreams(ctx context.Context, opts adapters.ListStreamsOptions) ([]adapters.StreamSummary, error) {
	ctx, span := m.tracer.startClient(ctx, "eventstore.list_streams", "")
	defer span.End()

	if opts.Prefix != "" {
		span.SetAttributes(attribute.String("chronicle.prefix", opts.Prefix))
	}

	streams, err := m.adapter.ListStreams(ctx, opts)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("chronicle.streams.count", len(streams)))
	}

	return streams, err
}

// DeleteEventsThrough removes archived events with tracing. It fails with
// chronicle.ErrArchiveUnsupported if the wrapped adapter cannot delete.
func (m *EventStoreMiddleware) DeleteEventsThrough(ctx context.Context, streamID string, throughVersion int64) (int64, error) {
	archivable, ok := m.adapter.(adapters.ArchivableEventAdapter)
	if !ok {
		return 0, chronicle.ErrArchiveUnsupported
	}

	ctx, span := m.tracer.startClient(ctx, "eventstore.delete_events", streamID)
	defer span.End()

	span.SetAttributes(attribute.Int64("chronicle.through_version", throughVersion))

	n, err := archivable.DeleteEventsThrough(ctx, streamID, throughVersion)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int64("chronicle.events.deleted", n))
	}

	return n, err
}

// Initialize initializes the adapter with tracing.
func (m *EventStoreMiddleware) Initialize(ctx context.Context) error {
	ctx, span := m.tracer.startClient(ctx, "eventstore.initialize", "")
	defer span.End()

	err := m.adapter.Initialize(ctx)
	finish(span, err)
	return err
}

// Close closes the adapter.
func (m *EventStoreMiddleware) Close() error {
	return m.adapter.Close()
}

// =============================================================================
// Snapshot Store Middleware
// =============================================================================

// SnapshotMiddleware wraps a SnapshotAdapter with tracing.
type SnapshotMiddleware struct {
	adapter adapters.SnapshotAdapter
	tracer  *Tracer
}

// NewSnapshotMiddleware wraps a snapshot adapter with tracing.
func NewSnapshotMiddleware(adapter adapters.SnapshotAdapter, tracer *Tracer) *SnapshotMiddleware {
	return &SnapshotMiddleware{
		adapter: adapter,
		tracer:  tracer,
	}
}

// SaveSnapshot stores a snapshot with tracing.
func (m *SnapshotMiddleware) SaveSnapshot(ctx context.Context, record *adapters.SnapshotRecord) error {
	streamID := ""
	if record != nil {
		streamID = record.StreamID
	}
	ctx, span := m.tracer.startClient(ctx, "snapshots.save", streamID)
	defer span.End()

	if record != nil {
		span.SetAttributes(
			attribute.Int64("chronicle.snapshot.event_version", record.EventVersion),
			attribute.Int("chronicle.snapshot.size_bytes", len(record.Data)),
		)
	}

	err := m.adapter.SaveSnapshot(ctx, record)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.String("chronicle.snapshot.id", record.ID))
	}
	return err
}

// LoadLatestSnapshot loads the latest snapshot with tracing.
func (m *SnapshotMiddleware) LoadLatestSnapshot(ctx context.Context, streamID string) (*adapters.SnapshotRecord, error) {
	ctx, span := m.tracer.startClient(ctx, "snapshots.load_latest", streamID)
	defer span.End()

	record, err := m.adapter.LoadLatestSnapshot(ctx, streamID)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Bool("chronicle.snapshot.found", record != nil))
		if record != nil {
			span.SetAttributes(attribute.Int64("chronicle.snapshot.event_version", record.EventVersion))
		}
	}
	return record, err
}

// ListSnapshots lists snapshots with tracing.
func (m *SnapshotMiddleware) ListSnapshots(ctx context.Context, streamID string) ([]adapters.SnapshotRecord, error) {
	ctx, span := m.tracer.startClient(ctx, "snapshots.list", streamID)
	defer span.End()

	records, err := m.adapter.ListSnapshots(ctx, streamID)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("chronicle.snapshots.count", len(records)))
	}
	return records, err
}

// DeleteSnapshots deletes snapshots with tracing.
func (m *SnapshotMiddleware) DeleteSnapshots(ctx context.Context, streamID string, ids []string) (int64, error) {
	ctx, span := m.tracer.startClient(ctx, "snapshots.delete", streamID)
	defer span.End()

	span.SetAttributes(attribute.Int("chronicle.snapshots.requested", len(ids)))

	n, err := m.adapter.DeleteSnapshots(ctx, streamID, ids)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int64("chronicle.snapshots.deleted", n))
	}
	return n, err
}

// ListSnapshotCandidates lists candidates with tracing.
func (m *SnapshotMiddleware) ListSnapshotCandidates(ctx context.Context, criteria adapters.SnapshotCandidateCriteria) ([]adapters.SnapshotCandidate, error) {
	ctx, span := m.tracer.startClient(ctx, "snapshots.list_candidates", "")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("chronicle.criteria.min_events", criteria.MinEvents),
		attribute.Int64("chronicle.criteria.event_threshold", criteria.EventThreshold),
		attribute.Int("chronicle.criteria.limit", criteria.Limit),
	)

	candidates, err := m.adapter.ListSnapshotCandidates(ctx, criteria)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("chronicle.candidates.count", len(candidates)))
	}
	return candidates, err
}

// ListSnapshotStreams lists per-stream totals with tracing.
func (m *SnapshotMiddleware) ListSnapshotStreams(ctx context.Context, minCount int) ([]adapters.SnapshotStreamSummary, error) {
	ctx, span := m.tracer.startClient(ctx, "snapshots.list_streams", "")
	defer span.End()

	span.SetAttributes(attribute.Int("chronicle.min_count", minCount))

	summaries, err := m.adapter.ListSnapshotStreams(ctx, minCount)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("chronicle.streams.count", len(summaries)))
	}
	return summaries, err
}

// =============================================================================
// Archive Store Middleware
// =============================================================================

// ArchiveMiddleware wraps an ArchiveAdapter with tracing.
type ArchiveMiddleware struct {
	adapter adapters.ArchiveAdapter
	tracer  *Tracer
}

// NewArchiveMiddleware wraps an archive adapter with tracing.
func NewArchiveMiddleware(adapter adapters.ArchiveAdapter, tracer *Tracer) *ArchiveMiddleware {
	return &ArchiveMiddleware{
		adapter: adapter,
		tracer:  tracer,
	}
}

// ArchiveEvents stores archived events with tracing.
func (m *ArchiveMiddleware) ArchiveEvents(ctx context.Context, events []adapters.ArchivedEvent) error {
	streamID := ""
	if len(events) > 0 {
		streamID = events[0].StreamID
	}
	ctx, span := m.tracer.startClient(ctx, "archive.store_events", streamID)
	defer span.End()

	span.SetAttributes(attribute.Int("chronicle.events.count", len(events)))

	err := m.adapter.ArchiveEvents(ctx, events)
	finish(span, err)
	return err
}

// LoadArchivedEvents loads archived events with tracing.
func (m *ArchiveMiddleware) LoadArchivedEvents(ctx context.Context, streamID string) ([]adapters.ArchivedEvent, error) {
	ctx, span := m.tracer.startClient(ctx, "archive.load_events", streamID)
	defer span.End()

	events, err := m.adapter.LoadArchivedEvents(ctx, streamID)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("chronicle.events.loaded", len(events)))
	}
	return events, err
}

// SaveCompressedBatches stores compressed batches with tracing.
func (m *ArchiveMiddleware) SaveCompressedBatches(ctx context.Context, batches []adapters.CompressedEventBatch) error {
	ctx, span := m.tracer.startClient(ctx, "archive.save_batches", "")
	defer span.End()

	var original, compressed int64
	for _, b := range batches {
		original += b.OriginalSize
		compressed += b.CompressedSize
	}
	span.SetAttributes(
		attribute.Int("chronicle.batches.count", len(batches)),
		attribute.Int64("chronicle.batches.original_bytes", original),
		attribute.Int64("chronicle.batches.compressed_bytes", compressed),
	)

	err := m.adapter.SaveCompressedBatches(ctx, batches)
	finish(span, err)
	return err
}

// LoadCompressedBatches loads compressed batches with tracing.
func (m *ArchiveMiddleware) LoadCompressedBatches(ctx context.Context, streamID string) ([]adapters.CompressedEventBatch, error) {
	ctx, span := m.tracer.startClient(ctx, "archive.load_batches", streamID)
	defer span.End()

	batches, err := m.adapter.LoadCompressedBatches(ctx, streamID)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("chronicle.batches.count", len(batches)))
	}
	return batches, err
}

// SaveRollups stores rollups with tracing.
func (m *ArchiveMiddleware) SaveRollups(ctx context.Context, rollups []adapters.EventRollup) error {
	ctx, span := m.tracer.startClient(ctx, "archive.save_rollups", "")
	defer span.End()

	span.SetAttributes(attribute.Int("chronicle.rollups.count", len(rollups)))

	err := m.adapter.SaveRollups(ctx, rollups)
	finish(span, err)
	return err
}

// ListRollups lists rollups with tracing.
func (m *ArchiveMiddleware) ListRollups(ctx context.Context, streamID string) ([]adapters.EventRollup, error) {
	ctx, span := m.tracer.startClient(ctx, "archive.list_rollups", streamID)
	defer span.End()

	rollups, err := m.adapter.ListRollups(ctx, streamID)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("chronicle.rollups.count", len(rollups)))
	}
	return rollups, err
}

// ArchiveStats returns archive totals with tracing.
func (m *ArchiveMiddleware) ArchiveStats(ctx context.Context) (*adapters.ArchiveStats, error) {
	ctx, span := m.tracer.startClient(ctx, "archive.stats", "")
	defer span.End()

	stats, err := m.adapter.ArchiveStats(ctx)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int64("chronicle.archive.events", stats.ArchivedEvents))
	}
	return stats, err
}

// =============================================================================
// Notifier Middleware
// =============================================================================

// NotifierMiddleware wraps a chronicle.Notifier with tracing.
type NotifierMiddleware struct {
	notifier chronicle.Notifier
	tracer   *Tracer
}

// NewNotifierMiddleware wraps a notifier with tracing.
func NewNotifierMiddleware(notifier chronicle.Notifier, tracer *Tracer) *NotifierMiddleware {
	return &NotifierMiddleware{
		notifier: notifier,
		tracer:   tracer,
	}
}

// Notify publishes a maintenance notice with tracing.
func (m *NotifierMiddleware) Notify(ctx context.Context, notice chronicle.MaintenanceNotice) error {
	ctx, span := m.tracer.StartSpan(ctx, fmt.Sprintf("notify.%s", notice.Kind),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("chronicle.service", m.tracer.serviceName),
		attribute.String("chronicle.notice.kind", notice.Kind),
		attribute.Int("chronicle.notice.count", notice.Count),
		attribute.Int("chronicle.notice.failures", notice.Failures),
	)
	if notice.StreamID != "" {
		span.SetAttributes(attribute.String("chronicle.stream_id", notice.StreamID))
	}

	err := m.notifier.Notify(ctx, notice)
	finish(span, err)
	return err
}

// =============================================================================
// Span Helpers
// =============================================================================

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, opts...)
}

// SetError sets an error on the current span.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}
