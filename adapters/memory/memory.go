// Package memory provides an in-memory implementation of the event, snapshot
// and archive adapters. It is intended for testing and development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emberforge/chronicle/adapters"
	"github.com/google/uuid"
)

// Version constants for optimistic concurrency control.
// These are re-exported from the adapters package for convenience.
const (
	AnyVersion   = adapters.AnyVersion
	NoStream     = adapters.NoStream
	StreamExists = adapters.StreamExists
)

// Ensure MemoryAdapter implements all required interfaces.
var (
	_ adapters.EventStoreAdapter      = (*MemoryAdapter)(nil)
	_ adapters.ArchivableEventAdapter = (*MemoryAdapter)(nil)
	_ adapters.SnapshotAdapter        = (*MemoryAdapter)(nil)
	_ adapters.ArchiveAdapter         = (*MemoryAdapter)(nil)
	_ adapters.HealthChecker          = (*MemoryAdapter)(nil)
)

// MemoryAdapter is an in-memory implementation of all chronicle storage contracts.
// It is thread-safe and suitable for unit testing.
type MemoryAdapter struct {
	mu             sync.RWMutex
	streams        map[string]*streamData
	globalPosition uint64
	snapshots      map[string][]*adapters.SnapshotRecord
	archive        *archiveData
	closed         bool
	now            func() time.Time
}

type streamData struct {
	info   adapters.StreamInfo
	events []adapters.StoredEvent
}

// Option configures a MemoryAdapter.
type Option func(*MemoryAdapter)

// WithClock sets the clock used to timestamp appended events.
// Tests use it to produce histories that look old enough to archive.
func WithClock(now func() time.Time) Option {
	return func(a *MemoryAdapter) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAdapter creates a new in-memory adapter.
func NewAdapter(opts ...Option) *MemoryAdapter {
	adapter := &MemoryAdapter{
		streams:   make(map[string]*streamData),
		snapshots: make(map[string][]*adapters.SnapshotRecord),
		archive:   newArchiveData(),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter
}

// Initialize is a no-op for the memory adapter.
func (a *MemoryAdapter) Initialize(ctx context.Context) error {
	return nil
}

// Append stores events to the specified stream with optimistic concurrency control.
func (a *MemoryAdapter) Append(ctx context.Context, streamID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	if streamID == "" {
		return nil, adapters.ErrEmptyStreamID
	}

	if len(events) == 0 {
		return nil, adapters.ErrNoEvents
	}

	stream, exists := a.streams[streamID]
	currentVersion := int64(0)
	if exists {
		currentVersion = stream.info.Version
	}

	if err := adapters.CheckVersion(streamID, expectedVersion, currentVersion, exists); err != nil {
		return nil, err
	}

	now := a.now()
	if !exists {
		stream = &streamData{
			info: adapters.StreamInfo{
				StreamID:  streamID,
				Category:  adapters.ExtractCategory(streamID),
				CreatedAt: now,
				UpdatedAt: now,
			},
		}
		a.streams[streamID] = stream
	}

	storedEvents := make([]adapters.StoredEvent, len(events))
	for i, event := range events {
		a.globalPosition++
		currentVersion++

		stored := adapters.StoredEvent{
			ID:             uuid.New().String(),
			StreamID:       streamID,
			Type:           event.Type,
			Data:           append([]byte(nil), event.Data...),
			Metadata:       event.Metadata,
			Version:        currentVersion,
			GlobalPosition: a.globalPosition,
			Timestamp:      now,
		}

		stream.events = append(stream.events, stored)
		storedEvents[i] = stored
	}

	stream.info.Version = currentVersion
	stream.info.EventCount = int64(len(stream.events))
	stream.info.UpdatedAt = now

	return storedEvents, nil
}

// Load retrieves the hot events of a stream with version greater than fromVersion.
func (a *MemoryAdapter) Load(ctx context.Context, streamID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	if streamID == "" {
		return nil, adapters.ErrEmptyStreamID
	}

	stream, exists := a.streams[streamID]
	if !exists {
		return []adapters.StoredEvent{}, nil
	}

	// Events are kept ordered by version, so binary search for the start.
	start := sort.Search(len(stream.events), func(i int) bool {
		return stream.events[i].Version > fromVersion
	})

	events := make([]adapters.StoredEvent, len(stream.events)-start)
	copy(events, stream.events[start:])
	return events, nil
}

// GetStreamInfo returns metadata about a stream.
func (a *MemoryAdapter) GetStreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	stream, exists := a.streams[streamID]
	if !exists {
		return nil, adapters.NewStreamNotFoundError(streamID)
	}

	// Return a copy to prevent mutation
	info := stream.info
	return &info, nil
}

// ListStreams returns stream summaries ordered by stream ID.
func (a *MemoryAdapter) ListStreams(ctx context.Context, opts adapters.ListStreamsOptions) ([]adapters.StreamSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	ids := make([]string, 0, len(a.streams))
	for id := range a.streams {
		if opts.After != "" && id <= opts.After {
			continue
		}
		if opts.Prefix == "" || strings.HasPrefix(id, opts.Prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	summaries := make([]adapters.StreamSummary, 0, len(ids))
	for _, id := range ids {
		stream := a.streams[id]
		summary := adapters.StreamSummary{
			StreamID:    id,
			Version:     stream.info.Version,
			EventCount:  int64(len(stream.events)),
			LastUpdated: stream.info.UpdatedAt,
		}
		if len(stream.events) > 0 {
			summary.OldestEventAt = stream.events[0].Timestamp
		}

		if !opts.OlderThan.IsZero() {
			if len(stream.events) == 0 || !summary.OldestEventAt.Before(opts.OlderThan) {
				continue
			}
		}

		summaries = append(summaries, summary)
		if opts.Limit > 0 && len(summaries) >= opts.Limit {
			break
		}
	}

	return summaries, nil
}

// DeleteEventsThrough removes hot events with version <= throughVersion.
func (a *MemoryAdapter) DeleteEventsThrough(ctx context.Context, streamID string, throughVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, adapters.ErrAdapterClosed
	}

	stream, exists := a.streams[streamID]
	if !exists {
		return 0, adapters.NewStreamNotFoundError(streamID)
	}

	cut := sort.Search(len(stream.events), func(i int) bool {
		return stream.events[i].Version > throughVersion
	})
	if cut == 0 {
		return 0, nil
	}

	remaining := make([]adapters.StoredEvent, len(stream.events)-cut)
	copy(remaining, stream.events[cut:])
	stream.events = remaining
	stream.info.EventCount = int64(len(remaining))

	return int64(cut), nil
}

// Close releases any resources held by the adapter.
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	return nil
}

// Ping checks if the adapter is healthy.
func (a *MemoryAdapter) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	return nil
}

// Reset clears all data. Useful for testing.
func (a *MemoryAdapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.streams = make(map[string]*streamData)
	a.globalPosition = 0
	a.snapshots = make(map[string][]*adapters.SnapshotRecord)
	a.archive = newArchiveData()
}

// EventCount returns the number of events held in the hot store.
func (a *MemoryAdapter) EventCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	total := 0
	for _, stream := range a.streams {
		total += len(stream.events)
	}
	return total
}

// StreamCount returns the number of streams.
func (a *MemoryAdapter) StreamCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.streams)
}
