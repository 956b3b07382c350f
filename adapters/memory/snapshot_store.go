package memory

import (
	"context"
	"sort"

	"github.com/emberforge/chronicle/adapters"
	"github.com/google/uuid"
)

// SaveSnapshot stores the record as the latest snapshot of its stream.
// The previous latest is demoted under the same lock.
func (a *MemoryAdapter) SaveSnapshot(ctx context.Context, record *adapters.SnapshotRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if record == nil {
		return adapters.ErrNilSnapshot
	}
	if record.StreamID == "" {
		return adapters.ErrEmptyStreamID
	}
	if record.EventVersion <= 0 {
		return adapters.ErrInvalidVersion
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	stored := adapters.CopySnapshotRecord(record)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = a.now()
	}
	stored.IsLatest = true
	stored.StateSizeBytes = int64(len(stored.Data))

	for _, existing := range a.snapshots[record.StreamID] {
		existing.IsLatest = false
	}
	a.snapshots[record.StreamID] = append(a.snapshots[record.StreamID], stored)

	record.ID = stored.ID
	record.CreatedAt = stored.CreatedAt
	record.IsLatest = true
	record.StateSizeBytes = stored.StateSizeBytes

	return nil
}

// LoadLatestSnapshot retrieves the latest snapshot for the given stream.
func (a *MemoryAdapter) LoadLatestSnapshot(ctx context.Context, streamID string) (*adapters.SnapshotRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	for _, snapshot := range a.snapshots[streamID] {
		if snapshot.IsLatest {
			return adapters.CopySnapshotRecord(snapshot), nil
		}
	}

	return nil, nil
}

// ListSnapshots returns all snapshots of a stream, newest first.
func (a *MemoryAdapter) ListSnapshots(ctx context.Context, streamID string) ([]adapters.SnapshotRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	records := make([]adapters.SnapshotRecord, 0, len(a.snapshots[streamID]))
	for _, snapshot := range a.snapshots[streamID] {
		records = append(records, *adapters.CopySnapshotRecord(snapshot))
	}
	adapters.SortSnapshotsNewestFirst(records)

	return records, nil
}

// DeleteSnapshots removes the listed snapshots, never the latest one.
func (a *MemoryAdapter) DeleteSnapshots(ctx context.Context, streamID string, ids []string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if len(ids) == 0 {
		return 0, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, adapters.ErrAdapterClosed
	}

	remove := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}

	var deleted int64
	kept := a.snapshots[streamID][:0]
	for _, snapshot := range a.snapshots[streamID] {
		if _, ok := remove[snapshot.ID]; ok && !snapshot.IsLatest {
			deleted++
			continue
		}
		kept = append(kept, snapshot)
	}

	if len(kept) == 0 {
		delete(a.snapshots, streamID)
	} else {
		a.snapshots[streamID] = kept
	}

	return deleted, nil
}

// ListSnapshotCandidates returns streams matching the criteria, ordered by stream ID.
func (a *MemoryAdapter) ListSnapshotCandidates(ctx context.Context, criteria adapters.SnapshotCandidateCriteria) ([]adapters.SnapshotCandidate, error) {
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
		if criteria.After == "" || id > criteria.After {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	candidates := make([]adapters.SnapshotCandidate, 0)
	for _, id := range ids {
		candidate := adapters.SnapshotCandidate{
			StreamID: id,
			Version:  a.streams[id].info.Version,
		}
		for _, snapshot := range a.snapshots[id] {
			if snapshot.IsLatest {
				candidate.SnapshotVersion = snapshot.EventVersion
				candidate.SnapshotCreatedAt = snapshot.CreatedAt
			}
		}

		if !adapters.MatchesCandidate(candidate, criteria) {
			continue
		}

		candidates = append(candidates, candidate)
		if criteria.Limit > 0 && len(candidates) >= criteria.Limit {
			break
		}
	}

	return candidates, nil
}

// ListSnapshotStreams returns per-stream snapshot totals, ordered by stream ID.
func (a *MemoryAdapter) ListSnapshotStreams(ctx context.Context, minCount int) ([]adapters.SnapshotStreamSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	summaries := make([]adapters.SnapshotStreamSummary, 0, len(a.snapshots))
	for id, records := range a.snapshots {
		if len(records) == 0 || len(records) < minCount {
			continue
		}
		summary := adapters.SnapshotStreamSummary{StreamID: id, Count: len(records)}
		for _, r := range records {
			summary.TotalBytes += r.StateSizeBytes
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StreamID < summaries[j].StreamID
	})

	return summaries, nil
}

// SnapshotCount returns the number of stored snapshots across all streams.
func (a *MemoryAdapter) SnapshotCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	total := 0
	for _, records := range a.snapshots {
		total += len(records)
	}
	return total
}
