package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/emberforge/chronicle/adapters"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

var snapshotColumns = []interface{}{
	"id", "stream_id", "event_version", "total_event_count", "data",
	"is_latest", "state_size_bytes", "creation_duration_ns", "created_at",
}

// SaveSnapshot inserts the record as the latest snapshot of its stream. The
// previous latest is demoted in the same transaction.
func (a *PostgresAdapter) SaveSnapshot(ctx context.Context, record *adapters.SnapshotRecord) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}
	if record == nil {
		return adapters.ErrNilSnapshot
	}
	if record.StreamID == "" {
		return ErrEmptyStreamID
	}
	if record.EventVersion <= 0 {
		return ErrInvalidVersion
	}

	id := record.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	size := int64(len(record.Data))

	demote, demoteArgs, err := buildSQL(a.dialect.
		Update(a.table("snapshots")).
		Prepared(true).
		Set(goqu.Record{"is_latest": false}).
		Where(goqu.C("stream_id").Eq(record.StreamID), goqu.C("is_latest").IsTrue()))
	if err != nil {
		return err
	}

	insert, insertArgs, err := buildSQL(a.dialect.
		Insert(a.table("snapshots")).
		Prepared(true).
		Rows(goqu.Record{
			"id":                   id,
			"stream_id":            record.StreamID,
			"event_version":        record.EventVersion,
			"total_event_count":    record.TotalEventCount,
			"data":                 record.Data,
			"is_latest":            true,
			"state_size_bytes":     size,
			"creation_duration_ns": record.CreationDuration.Nanoseconds(),
			"created_at":           createdAt,
		}))
	if err != nil {
		return err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chronicle/postgres: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, demote, demoteArgs...); err != nil {
		return fmt.Errorf("chronicle/postgres: failed to demote snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert, insertArgs...); err != nil {
		return fmt.Errorf("chronicle/postgres: failed to save snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("chronicle/postgres: failed to commit snapshot: %w", err)
	}

	record.ID = id
	record.CreatedAt = createdAt
	record.IsLatest = true
	record.StateSizeBytes = size

	return nil
}

// LoadLatestSnapshot retrieves the latest snapshot for the given stream.
func (a *PostgresAdapter) LoadLatestSnapshot(ctx context.Context, streamID string) (*adapters.SnapshotRecord, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	query, args, err := buildSQL(a.dialect.
		From(a.table("snapshots")).
		Prepared(true).
		Select(snapshotColumns...).
		Where(goqu.C("stream_id").Eq(streamID), goqu.C("is_latest").IsTrue()))
	if err != nil {
		return nil, err
	}

	record, err := scanSnapshot(a.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to load snapshot: %w", err)
	}

	return record, nil
}

// ListSnapshots returns all snapshots of a stream, newest first.
func (a *PostgresAdapter) ListSnapshots(ctx context.Context, streamID string) ([]adapters.SnapshotRecord, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	query, args, err := buildSQL(a.dialect.
		From(a.table("snapshots")).
		Prepared(true).
		Select(snapshotColumns...).
		Where(goqu.C("stream_id").Eq(streamID)).
		Order(goqu.C("created_at").Desc(), goqu.C("event_version").Desc()))
	if err != nil {
		return nil, err
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to list snapshots: %w", err)
	}
	defer rows.Close()

	records := make([]adapters.SnapshotRecord, 0)
	for rows.Next() {
		record, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("chronicle/postgres: failed to scan snapshot: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chronicle/postgres: error iterating snapshots: %w", err)
	}

	return records, nil
}

// DeleteSnapshots removes the listed snapshots, never the latest one.
func (a *PostgresAdapter) DeleteSnapshots(ctx context.Context, streamID string, ids []string) (int64, error) {
	if a.closed.Load() {
		return 0, ErrAdapterClosed
	}
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := buildSQL(a.dialect.
		Delete(a.table("snapshots")).
		Prepared(true).
		Where(
			goqu.C("stream_id").Eq(streamID),
			goqu.C("is_latest").IsFalse(),
			goqu.L("id::text = ANY(?)", pq.Array(ids)),
		))
	if err != nil {
		return 0, err
	}

	res, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("chronicle/postgres: failed to delete snapshots: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("chronicle/postgres: failed to count deleted snapshots: %w", err)
	}
	return n, nil
}

// ListSnapshotCandidates returns streams matching the criteria, ordered by stream ID.
func (a *PostgresAdapter) ListSnapshotCandidates(ctx context.Context, criteria adapters.SnapshotCandidateCriteria) ([]adapters.SnapshotCandidate, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	var conditions []goqu.Expression
	if criteria.MinEvents > 0 {
		conditions = append(conditions, goqu.And(
			goqu.I("sn.id").IsNull(),
			goqu.I("s.version").Gte(criteria.MinEvents),
		))
	}
	if criteria.EventThreshold > 0 {
		conditions = append(conditions, goqu.And(
			goqu.I("sn.id").IsNotNull(),
			goqu.L("s.version - sn.event_version").Gte(criteria.EventThreshold),
		))
	}
	if !criteria.SnapshotOlderThan.IsZero() {
		conditions = append(conditions, goqu.And(
			goqu.I("sn.id").IsNotNull(),
			goqu.I("sn.created_at").Lt(criteria.SnapshotOlderThan),
			goqu.I("s.version").Gt(goqu.I("sn.event_version")),
		))
	}
	if len(conditions) == 0 {
		return []adapters.SnapshotCandidate{}, nil
	}

	ds := a.dialect.
		From(a.table("streams").As("s")).
		Prepared(true).
		LeftJoin(a.table("snapshots").As("sn"), goqu.On(
			goqu.I("sn.stream_id").Eq(goqu.I("s.stream_id")),
			goqu.I("sn.is_latest").IsTrue(),
		)).
		Select(goqu.I("s.stream_id"), goqu.I("s.version"), goqu.I("sn.event_version"), goqu.I("sn.created_at")).
		Where(goqu.I("s.version").Gt(0), goqu.Or(conditions...)).
		Order(goqu.I("s.stream_id").Asc())
	if criteria.After != "" {
		ds = ds.Where(goqu.I("s.stream_id").Gt(criteria.After))
	}
	if criteria.Limit > 0 {
		ds = ds.Limit(uint(criteria.Limit))
	}

	query, args, err := buildSQL(ds)
	if err != nil {
		return nil, err
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to list snapshot candidates: %w", err)
	}
	defer rows.Close()

	candidates := make([]adapters.SnapshotCandidate, 0)
	for rows.Next() {
		var c adapters.SnapshotCandidate
		var snapshotVersion sql.NullInt64
		var snapshotCreatedAt sql.NullTime
		if err := rows.Scan(&c.StreamID, &c.Version, &snapshotVersion, &snapshotCreatedAt); err != nil {
			return nil, fmt.Errorf("chronicle/postgres: failed to scan candidate: %w", err)
		}
		c.SnapshotVersion = snapshotVersion.Int64
		if snapshotCreatedAt.Valid {
			c.SnapshotCreatedAt = snapshotCreatedAt.Time
		}
		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chronicle/postgres: error iterating candidates: %w", err)
	}

	return candidates, nil
}

// ListSnapshotStreams returns per-stream snapshot totals, ordered by stream ID.
func (a *PostgresAdapter) ListSnapshotStreams(ctx context.Context, minCount int) ([]adapters.SnapshotStreamSummary, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	ds := a.dialect.
		From(a.table("snapshots")).
		Prepared(true).
		Select(goqu.C("stream_id"), goqu.COUNT(goqu.Star()), goqu.SUM("state_size_bytes")).
		GroupBy(goqu.C("stream_id")).
		Order(goqu.C("stream_id").Asc())
	if minCount > 1 {
		ds = ds.Having(goqu.COUNT(goqu.Star()).Gte(minCount))
	}

	query, args, err := buildSQL(ds)
	if err != nil {
		return nil, err
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to list snapshot streams: %w", err)
	}
	defer rows.Close()

	summaries := make([]adapters.SnapshotStreamSummary, 0)
	for rows.Next() {
		var s adapters.SnapshotStreamSummary
		if err := rows.Scan(&s.StreamID, &s.Count, &s.TotalBytes); err != nil {
			return nil, fmt.Errorf("chronicle/postgres: failed to scan snapshot summary: %w", err)
		}
		summaries = append(summaries, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chronicle/postgres: error iterating snapshot summaries: %w", err)
	}

	return summaries, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (*adapters.SnapshotRecord, error) {
	var record adapters.SnapshotRecord
	var durationNS int64
	err := row.Scan(
		&record.ID,
		&record.StreamID,
		&record.EventVersion,
		&record.TotalEventCount,
		&record.Data,
		&record.IsLatest,
		&record.StateSizeBytes,
		&durationNS,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.CreationDuration = time.Duration(durationNS)
	return &record, nil
}
