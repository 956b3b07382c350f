package memory

import (
	"context"
	"sort"

	"github.com/emberforge/chronicle/adapters"
	"github.com/google/uuid"
)

type archiveData struct {
	events   map[string][]adapters.ArchivedEvent
	eventIDs map[string]struct{}
	batches  map[string][]adapters.CompressedEventBatch
	rollups  map[string][]adapters.EventRollup
}

func newArchiveData() *archiveData {
	return &archiveData{
		events:   make(map[string][]adapters.ArchivedEvent),
		eventIDs: make(map[string]struct{}),
		batches:  make(map[string][]adapters.CompressedEventBatch),
		rollups:  make(map[string][]adapters.EventRollup),
	}
}

// ArchiveEvents stores archived events. Event IDs already archived are skipped.
func (a *MemoryAdapter) ArchiveEvents(ctx context.Context, events []adapters.ArchivedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	touched := make(map[string]struct{})
	for _, event := range events {
		if _, ok := a.archive.eventIDs[event.ID]; ok {
			continue
		}
		if event.ArchivedAt.IsZero() {
			event.ArchivedAt = a.now()
		}
		event.Data = append([]byte(nil), event.Data...)
		a.archive.eventIDs[event.ID] = struct{}{}
		a.archive.events[event.StreamID] = append(a.archive.events[event.StreamID], event)
		touched[event.StreamID] = struct{}{}
	}

	for streamID := range touched {
		list := a.archive.events[streamID]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Version < list[j].Version })
	}

	return nil
}

// LoadArchivedEvents returns the archived events of a stream ordered by version.
func (a *MemoryAdapter) LoadArchivedEvents(ctx context.Context, streamID string) ([]adapters.ArchivedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	events := make([]adapters.ArchivedEvent, len(a.archive.events[streamID]))
	copy(events, a.archive.events[streamID])
	return events, nil
}

// SaveCompressedBatches stores batches, replacing any with the same version range.
func (a *MemoryAdapter) SaveCompressedBatches(ctx context.Context, batches []adapters.CompressedEventBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	for _, batch := range batches {
		if batch.ID == "" {
			batch.ID = uuid.New().String()
		}
		if batch.CreatedAt.IsZero() {
			batch.CreatedAt = a.now()
		}
		batch.Payload = append([]byte(nil), batch.Payload...)
		batch.EventIDs = append([]string(nil), batch.EventIDs...)

		list := a.archive.batches[batch.StreamID]
		replaced := false
		for i := range list {
			if list[i].FromVersion == batch.FromVersion && list[i].ToVersion == batch.ToVersion {
				list[i] = batch
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, batch)
		}
		sort.SliceStable(list, func(i, j int) bool { return list[i].FromVersion < list[j].FromVersion })
		a.archive.batches[batch.StreamID] = list
	}

	return nil
}

// LoadCompressedBatches returns the batches of a stream ordered by FromVersion.
func (a *MemoryAdapter) LoadCompressedBatches(ctx context.Context, streamID string) ([]adapters.CompressedEventBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	batches := make([]adapters.CompressedEventBatch, len(a.archive.batches[streamID]))
	copy(batches, a.archive.batches[streamID])
	return batches, nil
}

// SaveRollups stores rollups, replacing rollups for the same bucket.
func (a *MemoryAdapter) SaveRollups(ctx context.Context, rollups []adapters.EventRollup) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	for _, rollup := range rollups {
		if rollup.ID == "" {
			rollup.ID = uuid.New().String()
		}
		if rollup.CreatedAt.IsZero() {
			rollup.CreatedAt = a.now()
		}

		list := a.archive.rollups[rollup.StreamID]
		replaced := false
		for i := range list {
			if list[i].BucketStart.Equal(rollup.BucketStart) {
				list[i] = rollup
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, rollup)
		}
		sort.SliceStable(list, func(i, j int) bool { return list[i].BucketStart.Before(list[j].BucketStart) })
		a.archive.rollups[rollup.StreamID] = list
	}

	return nil
}

// ListRollups returns the rollups of a stream ordered by bucket start.
func (a *MemoryAdapter) ListRollups(ctx context.Context, streamID string) ([]adapters.EventRollup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	rollups := make([]adapters.EventRollup, len(a.archive.rollups[streamID]))
	copy(rollups, a.archive.rollups[streamID])
	return rollups, nil
}

// ArchiveStats returns totals over archive storage.
func (a *MemoryAdapter) ArchiveStats(ctx context.Context) (*adapters.ArchiveStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	stats := &adapters.ArchiveStats{}
	for _, events := range a.archive.events {
		if len(events) > 0 {
			stats.ArchivedStreams++
			stats.ArchivedEvents += int64(len(events))
		}
	}
	for _, batches := range a.archive.batches {
		for _, b := range batches {
			stats.CompressedBatches++
			stats.CompressedEvents += int64(b.EventCount)
			stats.OriginalBytes += b.OriginalSize
			stats.CompressedBytes += b.CompressedSize
		}
	}
	for _, rollups := range a.archive.rollups {
		stats.Rollups += int64(len(rollups))
	}

	return stats, nil
}
