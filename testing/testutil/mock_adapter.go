package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/emberforge/chronicle"
	"github.com/emberforge/chronicle/adapters"
)

// FaultyAdapter wraps an event store adapter and fails selected operations.
// Errors are read on every call, so tests can set or clear them mid-run.
type FaultyAdapter struct {
	adapters.EventStoreAdapter

	mu        sync.Mutex
	appendErr error
	loadErr   error
	listErr   error
	deleteErr error

	loads   atomic.Int64
	deletes atomic.Int64
}

// NewFaultyAdapter wraps inner.
func NewFaultyAdapter(inner adapters.EventStoreAdapter) *FaultyAdapter {
	return &FaultyAdapter{EventStoreAdapter: inner}
}

// FailAppend makes Append return err. Nil restores normal behavior.
func (f *FaultyAdapter) FailAppend(err error) { f.set(&f.appendErr, err) }

// FailLoad makes Load return err.
func (f *FaultyAdapter) FailLoad(err error) { f.set(&f.loadErr, err) }

// FailList makes ListStreams return err.
func (f *FaultyAdapter) FailList(err error) { f.set(&f.listErr, err) }

// FailDelete makes DeleteEventsThrough return err.
func (f *FaultyAdapter) FailDelete(err error) { f.set(&f.deleteErr, err) }

func (f *FaultyAdapter) set(target *error, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*target = err
}

func (f *FaultyAdapter) get(target *error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *target
}

// Loads returns the number of Load calls.
func (f *FaultyAdapter) Loads() int64 { return f.loads.Load() }

// Deletes returns the number of DeleteEventsThrough calls.
func (f *FaultyAdapter) Deletes() int64 { return f.deletes.Load() }

// Append implements adapters.EventStoreAdapter.
func (f *FaultyAdapter) Append(ctx context.Context, streamID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	if err := f.get(&f.appendErr); err != nil {
		return nil, err
	}
	return f.EventStoreAdapter.Append(ctx, streamID, events, expectedVersion)
}

// Load implements adapters.EventStoreAdapter.
func (f *FaultyAdapter) Load(ctx context.Context, streamID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	f.loads.Add(1)
	if err := f.get(&f.loadErr); err != nil {
		return nil, err
	}
	return f.EventStoreAdapter.Load(ctx, streamID, fromVersion)
}

// ListStreams implements adapters.EventStoreAdapter.
func (f *FaultyAdapter) ListStreams(ctx context.Context, opts adapters.ListStreamsOptions) ([]adapters.StreamSummary, error) {
	if err := f.get(&f.listErr); err != nil {
		return nil, err
	}
	return f.EventStoreAdapter.ListStreams(ctx, opts)
}

// DeleteEventsThrough implements adapters.ArchivableEventAdapter.
func (f *FaultyAdapter) DeleteEventsThrough(ctx context.Context, streamID string, throughVersion int64) (int64, error) {
	f.deletes.Add(1)
	if err := f.get(&f.deleteErr); err != nil {
		return 0, err
	}
	archivable, ok := f.EventStoreAdapter.(adapters.ArchivableEventAdapter)
	if !ok {
		return 0, chronicle.ErrArchiveUnsupported
	}
	return archivable.DeleteEventsThrough(ctx, streamID, throughVersion)
}

// RecordingNotifier keeps every notice it receives.
type RecordingNotifier struct {
	mu      sync.Mutex
	notices []chronicle.MaintenanceNotice

	// Err is returned from Notify after recording.
	Err error
}

// Notify implements chronicle.Notifier.
func (n *RecordingNotifier) Notify(ctx context.Context, notice chronicle.MaintenanceNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.Err
}

// Notices returns a copy of the recorded notices.
func (n *RecordingNotifier) Notices() []chronicle.MaintenanceNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]chronicle.MaintenanceNotice, len(n.notices))
	copy(out, n.notices)
	return out
}

// Kinds returns the kinds of the recorded notices in order.
func (n *RecordingNotifier) Kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]string, len(n.notices))
	for i, notice := range n.notices {
		kinds[i] = notice.Kind
	}
	return kinds
}
