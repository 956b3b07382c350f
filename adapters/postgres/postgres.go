// Package postgres provides a PostgreSQL implementation of the event store
// and snapshot adapters.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/emberforge/chronicle/adapters"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	jsoniter "github.com/json-iterator/go"
)

// Version constants for optimistic concurrency control.
const (
	AnyVersion   = adapters.AnyVersion
	NoStream     = adapters.NoStream
	StreamExists = adapters.StreamExists
)

// DefaultSchema is the schema used when WithSchema is not given.
const DefaultSchema = "chronicle"

const (
	dialectPostgres = "postgres"
	uniqueViolation = "23505"
)

// Sentinel errors for the postgres adapter.
// These are aliases to the adapters package errors for compatibility with errors.Is().
var (
	ErrAdapterClosed       = adapters.ErrAdapterClosed
	ErrEmptyStreamID       = adapters.ErrEmptyStreamID
	ErrNoEvents            = adapters.ErrNoEvents
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict
	ErrStreamNotFound      = adapters.ErrStreamNotFound
	ErrInvalidVersion      = adapters.ErrInvalidVersion
)

// Ensure PostgresAdapter implements required interfaces.
var (
	_ adapters.EventStoreAdapter      = (*PostgresAdapter)(nil)
	_ adapters.ArchivableEventAdapter = (*PostgresAdapter)(nil)
	_ adapters.SnapshotAdapter        = (*PostgresAdapter)(nil)
	_ adapters.HealthChecker          = (*PostgresAdapter)(nil)
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PostgresAdapter stores hot events and snapshots in PostgreSQL.
type PostgresAdapter struct {
	db      *sql.DB
	schema  string
	dialect goqu.DialectWrapper
	closed  atomic.Bool
}

// Option configures a PostgresAdapter.
type Option func(*PostgresAdapter)

// WithSchema sets the database schema name.
func WithSchema(schema string) Option {
	return func(a *PostgresAdapter) {
		a.schema = schema
	}
}

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(a *PostgresAdapter) {
		a.db.SetMaxOpenConns(n)
	}
}

// WithMaxIdleConnections sets the maximum number of idle connections.
func WithMaxIdleConnections(n int) Option {
	return func(a *PostgresAdapter) {
		a.db.SetMaxIdleConns(n)
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(a *PostgresAdapter) {
		a.db.SetConnMaxLifetime(d)
	}
}

// NewAdapter opens a connection pool through the pgx driver.
func NewAdapter(connStr string, opts ...Option) (*PostgresAdapter, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to open database: %w", err)
	}

	return NewAdapterWithDB(db, opts...), nil
}

// NewAdapterWithDB creates a new adapter with an existing database connection.
func NewAdapterWithDB(db *sql.DB, opts ...Option) *PostgresAdapter {
	adapter := &PostgresAdapter{
		db:      db,
		schema:  DefaultSchema,
		dialect: goqu.Dialect(dialectPostgres),
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter
}

// Initialize creates the required database schema and tables.
func (a *PostgresAdapter) Initialize(ctx context.Context) error {
	return a.Migrate(ctx)
}

// Migrate creates the schema, tables and indexes. It is idempotent.
func (a *PostgresAdapter) Migrate(ctx context.Context) error {
	statements := []struct {
		what string
		sql  string
	}{
		{"schema", fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, a.schema)},
		{"streams table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.streams (
				stream_id       VARCHAR(500) PRIMARY KEY,
				category        VARCHAR(250) NOT NULL,
				version         BIGINT NOT NULL DEFAULT 0,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, a.schema)},
		{"events table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.events (
				global_position BIGSERIAL PRIMARY KEY,
				stream_id       VARCHAR(500) NOT NULL,
				version         BIGINT NOT NULL,
				event_id        UUID NOT NULL,
				event_type      VARCHAR(500) NOT NULL,
				data            BYTEA NOT NULL,
				metadata        JSONB,
				timestamp       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE(stream_id, version)
			)`, a.schema)},
		{"snapshots table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.snapshots (
				id                   UUID PRIMARY KEY,
				stream_id            VARCHAR(500) NOT NULL,
				event_version        BIGINT NOT NULL,
				total_event_count    BIGINT NOT NULL,
				data                 BYTEA NOT NULL,
				is_latest            BOOLEAN NOT NULL DEFAULT FALSE,
				state_size_bytes     BIGINT NOT NULL,
				creation_duration_ns BIGINT NOT NULL DEFAULT 0,
				created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, a.schema)},
		{"index", fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_streams_category ON %s.streams(category)`, a.schema)},
		{"index", fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_type ON %s.events(event_type)`, a.schema)},
		{"index", fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON %s.events(timestamp)`, a.schema)},
		{"index", fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_snapshots_stream ON %s.snapshots(stream_id, created_at DESC)`, a.schema)},
		// At most one latest snapshot per stream.
		{"index", fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_latest ON %s.snapshots(stream_id) WHERE is_latest`, a.schema)},
	}

	for _, stmt := range statements {
		if _, err := a.db.ExecContext(ctx, stmt.sql); err != nil {
			return fmt.Errorf("chronicle/postgres: failed to create %s: %w", stmt.what, err)
		}
	}

	return nil
}

func (a *PostgresAdapter) table(name string) exp.IdentifierExpression {
	return goqu.S(a.schema).Table(name)
}

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

func buildSQL(b sqlBuilder) (string, []interface{}, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("chronicle/postgres: failed to build query: %w", err)
	}
	return query, args, nil
}

// Append stores events to the specified stream with optimistic concurrency control.
func (a *PostgresAdapter) Append(ctx context.Context, streamID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	if streamID == "" {
		return nil, ErrEmptyStreamID
	}

	if len(events) == 0 {
		return nil, ErrNoEvents
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Get current stream version with lock
	var currentVersion int64
	var streamExists bool

	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT version FROM %s.streams
		WHERE stream_id = $1
		FOR UPDATE`, a.schema), streamID).Scan(&currentVersion)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		streamExists = false
		currentVersion = 0
	case err != nil:
		return nil, fmt.Errorf("chronicle/postgres: failed to get stream version: %w", err)
	default:
		streamExists = true
	}

	if err := adapters.CheckVersion(streamID, expectedVersion, currentVersion, streamExists); err != nil {
		return nil, err
	}

	if !streamExists {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.streams (stream_id, category, version)
			VALUES ($1, $2, 0)`, a.schema), streamID, adapters.ExtractCategory(streamID))
		if err != nil {
			return nil, a.mapConflict(err, streamID, expectedVersion, currentVersion, "create stream")
		}
	}

	storedEvents := make([]adapters.StoredEvent, len(events))
	for i, event := range events {
		currentVersion++

		metadataJSON, err := json.Marshal(event.Metadata)
		if err != nil {
			return nil, fmt.Errorf("chronicle/postgres: failed to marshal metadata: %w", err)
		}

		eventID := uuid.New().String()
		var globalPosition uint64
		var timestamp time.Time

		err = tx.QueryRowContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.events (stream_id, version, event_id, event_type, data, metadata)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING global_position, timestamp`, a.schema),
			streamID, currentVersion, eventID, event.Type, event.Data, metadataJSON,
		).Scan(&globalPosition, &timestamp)
		if err != nil {
			return nil, a.mapConflict(err, streamID, expectedVersion, currentVersion-1, "insert event")
		}

		storedEvents[i] = adapters.StoredEvent{
			ID:             eventID,
			StreamID:       streamID,
			Type:           event.Type,
			Data:           event.Data,
			Metadata:       event.Metadata,
			Version:        currentVersion,
			GlobalPosition: globalPosition,
			Timestamp:      timestamp,
		}
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s.streams
		SET version = $1, updated_at = NOW()
		WHERE stream_id = $2`, a.schema), currentVersion, streamID)
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to update stream version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, a.mapConflict(err, streamID, expectedVersion, currentVersion, "commit transaction")
	}

	return storedEvents, nil
}

// mapConflict turns a unique violation into a ConcurrencyError. Two writers
// creating the same stream race on the streams primary key, and a version
// that is already taken trips UNIQUE(stream_id, version).
func (a *PostgresAdapter) mapConflict(err error, streamID string, expected, actual int64, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return adapters.NewConcurrencyError(streamID, expected, actual)
	}
	return fmt.Errorf("chronicle/postgres: failed to %s: %w", op, err)
}

// Load retrieves the hot events of a stream with version greater than fromVersion.
func (a *PostgresAdapter) Load(ctx context.Context, streamID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	if streamID == "" {
		return nil, ErrEmptyStreamID
	}

	query, args, err := buildSQL(a.dialect.
		From(a.table("events")).
		Prepared(true).
		Select("global_position", "event_id", "stream_id", "version", "event_type", "data", "metadata", "timestamp").
		Where(goqu.C("stream_id").Eq(streamID), goqu.C("version").Gt(fromVersion)).
		Order(goqu.C("version").Asc()))
	if err != nil {
		return nil, err
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to load events: %w", err)
	}
	defer rows.Close()

	events := make([]adapters.StoredEvent, 0)
	for rows.Next() {
		var event adapters.StoredEvent
		var metadataJSON []byte

		err := rows.Scan(
			&event.GlobalPosition,
			&event.ID,
			&event.StreamID,
			&event.Version,
			&event.Type,
			&event.Data,
			&metadataJSON,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("chronicle/postgres: failed to scan event: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("chronicle/postgres: failed to unmarshal metadata: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chronicle/postgres: error iterating events: %w", err)
	}

	return events, nil
}

// GetStreamInfo returns metadata about a stream.
func (a *PostgresAdapter) GetStreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	var info adapters.StreamInfo
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT s.stream_id, s.category, s.version, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM %[1]s.events e WHERE e.stream_id = s.stream_id)
		FROM %[1]s.streams s
		WHERE s.stream_id = $1`, a.schema), streamID).Scan(
		&info.StreamID,
		&info.Category,
		&info.Version,
		&info.CreatedAt,
		&info.UpdatedAt,
		&info.EventCount,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, adapters.NewStreamNotFoundError(streamID)
	}
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to get stream info: %w", err)
	}

	return &info, nil
}

// ListStreams returns stream summaries ordered by stream ID.
func (a *PostgresAdapter) ListStreams(ctx context.Context, opts adapters.ListStreamsOptions) ([]adapters.StreamSummary, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	ds := a.dialect.
		From(a.table("streams").As("s")).
		Prepared(true).
		LeftJoin(a.table("events").As("e"), goqu.On(goqu.I("e.stream_id").Eq(goqu.I("s.stream_id")))).
		Select(
			goqu.I("s.stream_id"),
			goqu.I("s.version"),
			goqu.COUNT(goqu.I("e.global_position")),
			goqu.MIN(goqu.I("e.timestamp")),
			goqu.I("s.updated_at"),
		).
		GroupBy(goqu.I("s.stream_id"), goqu.I("s.version"), goqu.I("s.updated_at")).
		Order(goqu.I("s.stream_id").Asc())

	if opts.Prefix != "" {
		ds = ds.Where(goqu.I("s.stream_id").Like(escapeLike(opts.Prefix) + "%"))
	}
	if opts.After != "" {
		ds = ds.Where(goqu.I("s.stream_id").Gt(opts.After))
	}
	if !opts.OlderThan.IsZero() {
		ds = ds.Having(goqu.MIN(goqu.I("e.timestamp")).Lt(opts.OlderThan))
	}
	if opts.Limit > 0 {
		ds = ds.Limit(uint(opts.Limit))
	}

	query, args, err := buildSQL(ds)
	if err != nil {
		return nil, err
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to list streams: %w", err)
	}
	defer rows.Close()

	summaries := make([]adapters.StreamSummary, 0)
	for rows.Next() {
		var s adapters.StreamSummary
		var oldest sql.NullTime
		if err := rows.Scan(&s.StreamID, &s.Version, &s.EventCount, &oldest, &s.LastUpdated); err != nil {
			return nil, fmt.Errorf("chronicle/postgres: failed to scan stream: %w", err)
		}
		if oldest.Valid {
			s.OldestEventAt = oldest.Time
		}
		summaries = append(summaries, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chronicle/postgres: error iterating streams: %w", err)
	}

	return summaries, nil
}

// DeleteEventsThrough removes hot events with version <= throughVersion.
// The stream row and its version are left untouched.
func (a *PostgresAdapter) DeleteEventsThrough(ctx context.Context, streamID string, throughVersion int64) (int64, error) {
	if a.closed.Load() {
		return 0, ErrAdapterClosed
	}

	if _, err := a.GetStreamInfo(ctx, streamID); err != nil {
		return 0, err
	}

	query, args, err := buildSQL(a.dialect.
		Delete(a.table("events")).
		Prepared(true).
		Where(goqu.C("stream_id").Eq(streamID), goqu.C("version").Lte(throughVersion)))
	if err != nil {
		return 0, err
	}

	res, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("chronicle/postgres: failed to delete events: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("chronicle/postgres: failed to count deleted events: %w", err)
	}
	return n, nil
}

// Close releases the database connection.
func (a *PostgresAdapter) Close() error {
	a.closed.Store(true)
	return a.db.Close()
}

// Ping checks database connectivity.
func (a *PostgresAdapter) Ping(ctx context.Context) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}
	return a.db.PingContext(ctx)
}

// DB returns the underlying database connection.
func (a *PostgresAdapter) DB() *sql.DB {
	return a.db
}

// Schema returns the schema name.
func (a *PostgresAdapter) Schema() string {
	return a.schema
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
