package sqlite

import (
	"context"
	"fmt"

	"github.com/emberforge/chronicle/adapters"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type archivedEventRow struct {
	EventID        string `db:"event_id"`
	StreamID       string `db:"stream_id"`
	Version        int64  `db:"version"`
	EventType      string `db:"event_type"`
	Data           []byte `db:"data"`
	Metadata       string `db:"metadata"`
	GlobalPosition int64  `db:"global_position"`
	TimestampMS    int64  `db:"timestamp_ms"`
	ArchivedAtMS   int64  `db:"archived_at_ms"`
}

type batchRow struct {
	ID             string `db:"id"`
	StreamID       string `db:"stream_id"`
	EventType      string `db:"event_type"`
	EventIDs       string `db:"event_ids"`
	FromVersion    int64  `db:"from_version"`
	ToVersion      int64  `db:"to_version"`
	EventCount     int    `db:"event_count"`
	EarliestMS     int64  `db:"earliest_ms"`
	LatestMS       int64  `db:"latest_ms"`
	Payload        []byte `db:"payload"`
	OriginalSize   int64  `db:"original_size"`
	CompressedSize int64  `db:"compressed_size"`
	CreatedAtMS    int64  `db:"created_at_ms"`
}

type rollupRow struct {
	ID            string `db:"id"`
	StreamID      string `db:"stream_id"`
	BucketStartMS int64  `db:"bucket_start_ms"`
	BucketEndMS   int64  `db:"bucket_end_ms"`
	EventCount    int    `db:"event_count"`
	EventTypes    string `db:"event_types"`
	Summary       string `db:"summary"`
	SpaceSaved    int64  `db:"space_saved"`
	CreatedAtMS   int64  `db:"created_at_ms"`
}

const (
	insertArchivedEvent = `
		INSERT OR IGNORE INTO archived_events
			(event_id, stream_id, version, event_type, data, metadata, global_position, timestamp_ms, archived_at_ms)
		VALUES
			(:event_id, :stream_id, :version, :event_type, :data, :metadata, :global_position, :timestamp_ms, :archived_at_ms)`

	upsertBatch = `
		INSERT OR REPLACE INTO compressed_batches
			(id, stream_id, event_type, event_ids, from_version, to_version, event_count,
			 earliest_ms, latest_ms, payload, original_size, compressed_size, created_at_ms)
		VALUES
			(:id, :stream_id, :event_type, :event_ids, :from_version, :to_version, :event_count,
			 :earliest_ms, :latest_ms, :payload, :original_size, :compressed_size, :created_at_ms)`

	upsertRollup = `
		INSERT OR REPLACE INTO event_rollups
			(id, stream_id, bucket_start_ms, bucket_end_ms, event_count, event_types, summary, space_saved, created_at_ms)
		VALUES
			(:id, :stream_id, :bucket_start_ms, :bucket_end_ms, :event_count, :event_types, :summary, :space_saved, :created_at_ms)`
)

// ArchiveEvents stores archived events. Event IDs already archived are skipped.
func (a *SQLiteAdapter) ArchiveEvents(ctx context.Context, events []adapters.ArchivedEvent) error {
	if err := a.check(ctx); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chronicle/sqlite: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, event := range events {
		metadata, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("chronicle/sqlite: failed to marshal metadata: %w", err)
		}
		archivedAt := event.ArchivedAt
		if archivedAt.IsZero() {
			archivedAt = a.now()
		}

		row := archivedEventRow{
			EventID:        event.ID,
			StreamID:       event.StreamID,
			Version:        event.Version,
			EventType:      event.Type,
			Data:           orEmpty(event.Data),
			Metadata:       string(metadata),
			GlobalPosition: int64(event.GlobalPosition),
			TimestampMS:    toMillis(event.Timestamp),
			ArchivedAtMS:   toMillis(archivedAt),
		}
		if _, err := tx.NamedExecContext(ctx, insertArchivedEvent, row); err != nil {
			return fmt.Errorf("chronicle/sqlite: failed to archive event %s: %w", event.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("chronicle/sqlite: failed to commit archived events: %w", err)
	}
	return nil
}

// LoadArchivedEvents returns the archived events of a stream ordered by version.
func (a *SQLiteAdapter) LoadArchivedEvents(ctx context.Context, streamID string) ([]adapters.ArchivedEvent, error) {
	if err := a.check(ctx); err != nil {
		return nil, err
	}

	var rows []archivedEventRow
	err := a.db.SelectContext(ctx, &rows, `
		SELECT event_id, stream_id, version, event_type, data, metadata, global_position, timestamp_ms, archived_at_ms
		FROM archived_events
		WHERE stream_id = ?
		ORDER BY version`, streamID)
	if err != nil {
		return nil, fmt.Errorf("chronicle/sqlite: failed to load archived events: %w", err)
	}

	events := make([]adapters.ArchivedEvent, 0, len(rows))
	for _, row := range rows {
		event := adapters.ArchivedEvent{
			StoredEvent: adapters.StoredEvent{
				ID:             row.EventID,
				StreamID:       row.StreamID,
				Type:           row.EventType,
				Data:           row.Data,
				Version:        row.Version,
				GlobalPosition: uint64(row.GlobalPosition),
				Timestamp:      fromMillis(row.TimestampMS),
			},
			ArchivedAt: fromMillis(row.ArchivedAtMS),
		}
		if row.Metadata != "" {
			if err := json.Unmarshal([]byte(row.Metadata), &event.Metadata); err != nil {
				return nil, fmt.Errorf("chronicle/sqlite: failed to unmarshal metadata: %w", err)
			}
		}
		events = append(events, event)
	}

	return events, nil
}

// SaveCompressedBatches stores batches, replacing any with the same version range.
func (a *SQLiteAdapter) SaveCompressedBatches(ctx context.Context, batches []adapters.CompressedEventBatch) error {
	if err := a.check(ctx); err != nil {
		return err
	}
	if len(batches) == 0 {
		return nil
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chronicle/sqlite: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, batch := range batches {
		if batch.ID == "" {
			batch.ID = uuid.New().String()
		}
		if batch.CreatedAt.IsZero() {
			batch.CreatedAt = a.now()
		}
		ids, err := json.Marshal(batch.EventIDs)
		if err != nil {
			return fmt.Errorf("chronicle/sqlite: failed to marshal event ids: %w", err)
		}

		row := batchRow{
			ID:             batch.ID,
			StreamID:       batch.StreamID,
			EventType:      batch.EventType,
			EventIDs:       string(ids),
			FromVersion:    batch.FromVersion,
			ToVersion:      batch.ToVersion,
			EventCount:     batch.EventCount,
			EarliestMS:     toMillis(batch.EarliestTimestamp),
			LatestMS:       toMillis(batch.LatestTimestamp),
			Payload:        orEmpty(batch.Payload),
			OriginalSize:   batch.OriginalSize,
			CompressedSize: batch.CompressedSize,
			CreatedAtMS:    toMillis(batch.CreatedAt),
		}
		if _, err := tx.NamedExecContext(ctx, upsertBatch, row); err != nil {
			return fmt.Errorf("chronicle/sqlite: failed to save compressed batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("chronicle/sqlite: failed to commit compressed batches: %w", err)
	}
	return nil
}

// LoadCompressedBatches returns the batches of a stream ordered by FromVersion.
func (a *SQLiteAdapter) LoadCompressedBatches(ctx context.Context, streamID string) ([]adapters.CompressedEventBatch, error) {
	if err := a.check(ctx); err != nil {
		return nil, err
	}

	var rows []batchRow
	err := a.db.SelectContext(ctx, &rows, `
		SELECT id, stream_id, event_type, event_ids, from_version, to_version, event_count,
		       earliest_ms, latest_ms, payload, original_size, compressed_size, created_at_ms
		FROM compressed_batches
		WHERE stream_id = ?
		ORDER BY from_version`, streamID)
	if err != nil {
		return nil, fmt.Errorf("chronicle/sqlite: failed to load compressed batches: %w", err)
	}

	batches := make([]adapters.CompressedEventBatch, 0, len(rows))
	for _, row := range rows {
		batch := adapters.CompressedEventBatch{
			ID:                row.ID,
			StreamID:          row.StreamID,
			EventType:         row.EventType,
			FromVersion:       row.FromVersion,
			ToVersion:         row.ToVersion,
			EventCount:        row.EventCount,
			EarliestTimestamp: fromMillis(row.EarliestMS),
			LatestTimestamp:   fromMillis(row.LatestMS),
			Payload:           row.Payload,
			OriginalSize:      row.OriginalSize,
			CompressedSize:    row.CompressedSize,
			CreatedAt:         fromMillis(row.CreatedAtMS),
		}
		if err := json.Unmarshal([]byte(row.EventIDs), &batch.EventIDs); err != nil {
			return nil, fmt.Errorf("chronicle/sqlite: failed to unmarshal event ids: %w", err)
		}
		batches = append(batches, batch)
	}

	return batches, nil
}

// SaveRollups stores rollups, replacing rollups for the same bucket.
func (a *SQLiteAdapter) SaveRollups(ctx context.Context, rollups []adapters.EventRollup) error {
	if err := a.check(ctx); err != nil {
		return err
	}
	if len(rollups) == 0 {
		return nil
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chronicle/sqlite: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rollup := range rollups {
		if rollup.ID == "" {
			rollup.ID = uuid.New().String()
		}
		if rollup.CreatedAt.IsZero() {
			rollup.CreatedAt = a.now()
		}
		types, err := json.Marshal(rollup.EventTypes)
		if err != nil {
			return fmt.Errorf("chronicle/sqlite: failed to marshal event types: %w", err)
		}

		row := rollupRow{
			ID:            rollup.ID,
			StreamID:      rollup.StreamID,
			BucketStartMS: toMillis(rollup.BucketStart),
			BucketEndMS:   toMillis(rollup.BucketEnd),
			EventCount:    rollup.EventCount,
			EventTypes:    string(types),
			Summary:       rollup.Summary,
			SpaceSaved:    rollup.SpaceSaved,
			CreatedAtMS:   toMillis(rollup.CreatedAt),
		}
		if _, err := tx.NamedExecContext(ctx, upsertRollup, row); err != nil {
			return fmt.Errorf("chronicle/sqlite: failed to save rollup: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("chronicle/sqlite: failed to commit rollups: %w", err)
	}
	return nil
}

// ListRollups returns the rollups of a stream ordered by bucket start.
func (a *SQLiteAdapter) ListRollups(ctx context.Context, streamID string) ([]adapters.EventRollup, error) {
	if err := a.check(ctx); err != nil {
		return nil, err
	}

	var rows []rollupRow
	err := a.db.SelectContext(ctx, &rows, `
		SELECT id, stream_id, bucket_start_ms, bucket_end_ms, event_count, event_types, summary, space_saved, created_at_ms
		FROM event_rollups
		WHERE stream_id = ?
		ORDER BY bucket_start_ms`, streamID)
	if err != nil {
		return nil, fmt.Errorf("chronicle/sqlite: failed to list rollups: %w", err)
	}

	rollups := make([]adapters.EventRollup, 0, len(rows))
	for _, row := range rows {
		rollup := adapters.EventRollup{
			ID:          row.ID,
			StreamID:    row.StreamID,
			BucketStart: fromMillis(row.BucketStartMS),
			BucketEnd:   fromMillis(row.BucketEndMS),
			EventCount:  row.EventCount,
			Summary:     row.Summary,
			SpaceSaved:  row.SpaceSaved,
			CreatedAt:   fromMillis(row.CreatedAtMS),
		}
		if err := json.Unmarshal([]byte(row.EventTypes), &rollup.EventTypes); err != nil {
			return nil, fmt.Errorf("chronicle/sqlite: failed to unmarshal event types: %w", err)
		}
		rollups = append(rollups, rollup)
	}

	return rollups, nil
}

// ArchiveStats returns totals over archive storage.
func (a *SQLiteAdapter) ArchiveStats(ctx context.Context) (*adapters.ArchiveStats, error) {
	if err := a.check(ctx); err != nil {
		return nil, err
	}

	var stats struct {
		ArchivedEvents    int64 `db:"archived_events"`
		ArchivedStreams   int64 `db:"archived_streams"`
		CompressedBatches int64 `db:"compressed_batches"`
		CompressedEvents  int64 `db:"compressed_events"`
		OriginalBytes     int64 `db:"original_bytes"`
		CompressedBytes   int64 `db:"compressed_bytes"`
		Rollups           int64 `db:"rollups"`
	}
	err := a.db.GetContext(ctx, &stats, `
		SELECT
			(SELECT COUNT(*) FROM archived_events)                          AS archived_events,
			(SELECT COUNT(DISTINCT stream_id) FROM archived_events)         AS archived_streams,
			(SELECT COUNT(*) FROM compressed_batches)                       AS compressed_batches,
			(SELECT COALESCE(SUM(event_count), 0) FROM compressed_batches)  AS compressed_events,
			(SELECT COALESCE(SUM(original_size), 0) FROM compressed_batches) AS original_bytes,
			(SELECT COALESCE(SUM(compressed_size), 0) FROM compressed_batches) AS compressed_bytes,
			(SELECT COUNT(*) FROM event_rollups)                            AS rollups`)
	if err != nil {
		return nil, fmt.Errorf("chronicle/sqlite: failed to read archive stats: %w", err)
	}

	return &adapters.ArchiveStats{
		ArchivedEvents:    stats.ArchivedEvents,
		ArchivedStreams:   stats.ArchivedStreams,
		CompressedBatches: stats.CompressedBatches,
		CompressedEvents:  stats.CompressedEvents,
		OriginalBytes:     stats.OriginalBytes,
		CompressedBytes:   stats.CompressedBytes,
		Rollups:           stats.Rollups,
	}, nil
}

// orEmpty maps nil to an empty slice so NOT NULL blob columns accept it.
func orEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
