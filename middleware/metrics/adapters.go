package metrics

import (
	"context"
	"time"

	"github.com/emberforge/chronicle"
	"github.com/emberforge/chronicle/adapters"
)

var (
	_ adapters.EventStoreAdapter      = (*EventStoreMiddleware)(nil)
	_ adapters.ArchivableEventAdapter = (*EventStoreMiddleware)(nil)
	_ adapters.SnapshotAdapter        = (*SnapshotMiddleware)(nil)
)

// =============================================================================
// Event Store Middleware
// =============================================================================

// EventStoreMiddleware wraps an EventStoreAdapter with metrics.
type EventStoreMiddleware struct {
	adapter adapters.EventStoreAdapter
	metrics *Metrics
}

// WrapEventStore wraps an adapter with metrics collection.
func (m *Metrics) WrapEventStore(adapter adapters.EventStoreAdapter) *EventStoreMiddleware {
	return &EventStoreMiddleware{
		adapter: adapter,
		metrics: m,
	}
}

// Unwrap returns the wrapped adapter.
func (em *EventStoreMiddleware) Unwrap() adapters.EventStoreAdapter {
	return em.adapter
}

// Append stores events with metrics.
func (em *EventStoreMiddleware) Append(ctx context.Context, streamID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	start := time.Now()
	stored, err := em.adapter.Append(ctx, streamID, events, expectedVersion)
	em.metrics.observe(OperationAppend, start, err)

	if err == nil {
		for _, e := range events {
			em.metrics.eventsAppendedTotal.WithLabelValues(em.metrics.serviceName, e.Type).Inc()
		}
	}

	return stored, err
}

// Load retrieves events with metrics.
func (em *EventStoreMiddleware) Load(ctx context.Context, streamID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	start := time.Now()
	events, err := em.adapter.Load(ctx, streamID, fromVersion)
	em.metrics.observe(OperationLoad, start, err)

	if err == nil {
		em.metrics.eventsLoadedTotal.WithLabelValues(em.metrics.serviceName).Add(float64(len(events)))
	}

	return events, err
}

// GetStreamInfo returns stream metadata with metrics.
func (em *EventStoreMiddleware) GetStreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	start := time.Now()
	info, err := em.adapter.GetStreamInfo(ctx, streamID)
	em.metrics.observe(OperationGetStreamInfo, start, err)
	return info, err
}

// ListStreams returns stream summaries with metrics.
func (em *EventStoreMiddleware) ListStreams(ctx context.Context, opts adapters.ListStreamsOptions) ([]adapters.StreamSummary, error) {
	start := time.Now()
	streams, err := em.adapter.ListStreams(ctx, opts)
	em.metrics.observe(OperationListStreams, start, err)
	return streams, err
}

// DeleteEventsThrough removes archived events with metrics. It fails with
// chronicle.ErrArchiveUnsupported if the wrapped adapter cannot delete.
func (em *EventStoreMiddleware) DeleteEventsThrough(ctx context.Context, streamID string, throughVersion int64) (int64, error) {
	archivable, ok := em.adapter.(adapters.ArchivableEventAdapter)
	if !ok {
		return 0, chronicle.ErrArchiveUnsupported
	}

	start := time.Now()
	n, err := archivable.DeleteEventsThrough(ctx, streamID, throughVersion)
	em.metrics.observe(OperationDeleteEvents, start, err)
	return n, err
}

// Initialize initializes the adapter.
func (em *EventStoreMiddleware) Initialize(ctx context.Context) error {
	return em.adapter.Initialize(ctx)
}

// Close closes the adapter.
func (em *EventStoreMiddleware) Close() error {
	return em.adapter.Close()
}

// =============================================================================
// Snapshot Store Middleware
// =============================================================================

// SnapshotMiddleware wraps a SnapshotAdapter with metrics.
type SnapshotMiddleware struct {
	adapter adapters.SnapshotAdapter
	metrics *Metrics
}

// WrapSnapshots wraps a snapshot adapter with metrics collection.
func (m *Metrics) WrapSnapshots(adapter adapters.SnapshotAdapter) *SnapshotMiddleware {
	return &SnapshotMiddleware{
		adapter: adapter,
		metrics: m,
	}
}

// SaveSnapshot stores a snapshot with metrics.
func (sm *SnapshotMiddleware) SaveSnapshot(ctx context.Context, record *adapters.SnapshotRecord) error {
	start := time.Now()
	err := sm.adapter.SaveSnapshot(ctx, record)
	sm.metrics.observe(OperationSaveSnapshot, start, err)
	return err
}

// LoadLatestSnapshot loads the latest snapshot with metrics.
func (sm *SnapshotMiddleware) LoadLatestSnapshot(ctx context.Context, streamID string) (*adapters.SnapshotRecord, error) {
	start := time.Now()
	record, err := sm.adapter.LoadLatestSnapshot(ctx, streamID)
	sm.metrics.observe(OperationLoadSnapshot, start, err)
	return record, err
}

// ListSnapshots lists snapshots with metrics.
func (sm *SnapshotMiddleware) ListSnapshots(ctx context.Context, streamID string) ([]adapters.SnapshotRecord, error) {
	start := time.Now()
	records, err := sm.adapter.ListSnapshots(ctx, streamID)
	sm.metrics.observe(OperationListSnapshots, start, err)
	return records, err
}

// DeleteSnapshots deletes snapshots with metrics.
func (sm *SnapshotMiddleware) DeleteSnapshots(ctx context.Context, streamID string, ids []string) (int64, error) {
	start := time.Now()
	n, err := sm.adapter.DeleteSnapshots(ctx, streamID, ids)
	sm.metrics.observe(OperationDeleteSnapshots, start, err)
	return n, err
}

// ListSnapshotCandidates lists candidates with metrics.
func (sm *SnapshotMiddleware) ListSnapshotCandidates(ctx context.Context, criteria adapters.SnapshotCandidateCriteria) ([]adapters.SnapshotCandidate, error) {
	start := time.Now()
	candidates, err := sm.adapter.ListSnapshotCandidates(ctx, criteria)
	sm.metrics.observe(OperationListCandidates, start, err)
	return candidates, err
}

// ListSnapshotStreams lists per-stream totals with metrics.
func (sm *SnapshotMiddleware) ListSnapshotStreams(ctx context.Context, minCount int) ([]adapters.SnapshotStreamSummary, error) {
	start := time.Now()
	summaries, err := sm.adapter.ListSnapshotStreams(ctx, minCount)
	sm.metrics.observe(OperationListSnapshots, start, err)
	return summaries, err
}
