package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/emberforge/chronicle/adapters"
	"github.com/emberforge/chronicle/testing/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getTestDB returns a database connection for testing.
// Set TEST_DATABASE_URL environment variable to run integration tests.
func getTestDB(t *testing.T) *sql.DB {
	if os.Getenv("TEST_DATABASE_URL") == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	db, err := testutil.PostgresDB(context.Background(), testutil.DefaultConfig().PostgresURL)
	require.NoError(t, err)

	return db
}

// newTestAdapter creates an initialized adapter in a throwaway schema.
func newTestAdapter(t *testing.T) (*PostgresAdapter, *sql.DB) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	db := getTestDB(t)
	schema := testutil.UniqueSchema("test")
	t.Cleanup(func() {
		require.NoError(t, testutil.CleanupSchema(context.Background(), db, schema))
		_ = db.Close()
	})

	adapter := NewAdapterWithDB(db, WithSchema(schema))
	require.NoError(t, adapter.Initialize(context.Background()))
	return adapter, db
}

func appendN(t *testing.T, a *PostgresAdapter, streamID string, n int) []adapters.StoredEvent {
	records := make([]adapters.EventRecord, n)
	for i := range records {
		records[i] = adapters.EventRecord{Type: "ExperienceGained", Data: []byte(fmt.Sprintf(`{"amount":%d}`, i+1))}
	}
	stored, err := a.Append(context.Background(), streamID, records, AnyVersion)
	require.NoError(t, err)
	return stored
}

func TestPostgresAdapter_Initialize(t *testing.T) {
	adapter, db := newTestAdapter(t)

	t.Run("creates schema and tables", func(t *testing.T) {
		for _, table := range []string{"streams", "events", "snapshots"} {
			var exists bool
			err := db.QueryRow(`
				SELECT EXISTS (
					SELECT FROM information_schema.tables
					WHERE table_schema = $1 AND table_name = $2
				)`, adapter.Schema(), table).Scan(&exists)
			require.NoError(t, err)
			assert.True(t, exists, table)
		}
	})

	t.Run("idempotent initialization", func(t *testing.T) {
		require.NoError(t, adapter.Initialize(context.Background()))
		require.NoError(t, adapter.Migrate(context.Background()))
	})
}

func TestPostgresAdapter_Append(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	t.Run("append to new stream", func(t *testing.T) {
		events := []adapters.EventRecord{
			{Type: "CharacterCreated", Data: []byte(`{"name":"Aria"}`)},
		}

		stored, err := adapter.Append(ctx, "Character-1", events, NoStream)

		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, "Character-1", stored[0].StreamID)
		assert.Equal(t, "CharacterCreated", stored[0].Type)
		assert.Equal(t, int64(1), stored[0].Version)
		assert.NotZero(t, stored[0].GlobalPosition)
		assert.NotEmpty(t, stored[0].ID)
		assert.False(t, stored[0].Timestamp.IsZero())
	})

	t.Run("versions are contiguous", func(t *testing.T) {
		stored := appendN(t, adapter, "Character-2", 3)
		more := appendN(t, adapter, "Character-2", 2)

		assert.Equal(t, []int64{1, 2, 3}, []int64{stored[0].Version, stored[1].Version, stored[2].Version})
		assert.Equal(t, int64(4), more[0].Version)
		assert.Equal(t, int64(5), more[1].Version)
		assert.Greater(t, more[0].GlobalPosition, stored[2].GlobalPosition)
	})

	t.Run("stale expected version", func(t *testing.T) {
		appendN(t, adapter, "Character-3", 2)

		_, err := adapter.Append(ctx, "Character-3", []adapters.EventRecord{{Type: "TitleEarned", Data: []byte(`{}`)}}, 1)

		assert.True(t, errors.Is(err, ErrConcurrencyConflict))
		var conflict *adapters.ConcurrencyError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, int64(2), conflict.ActualVersion)
	})

	t.Run("concurrent writers on the same version", func(t *testing.T) {
		appendN(t, adapter, "Character-race", 1)

		const writers = 8
		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = adapter.Append(ctx, "Character-race",
					[]adapters.EventRecord{{Type: "GoldChanged", Data: []byte(`{}`)}}, 1)
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.True(t, errors.Is(err, ErrConcurrencyConflict), err)
		}
		assert.Equal(t, 1, wins)

		info, err := adapter.GetStreamInfo(ctx, "Character-race")
		require.NoError(t, err)
		assert.Equal(t, int64(2), info.Version)
	})

	t.Run("preserves metadata", func(t *testing.T) {
		metadata := adapters.Metadata{
			CorrelationID: "corr-123",
			CausationID:   "cause-456",
			UserID:        "user-789",
			Custom:        map[string]string{"key": "value"},
		}

		_, err := adapter.Append(ctx, "Character-meta",
			[]adapters.EventRecord{{Type: "CharacterCreated", Data: []byte(`{}`), Metadata: metadata}}, NoStream)
		require.NoError(t, err)

		loaded, err := adapter.Load(ctx, "Character-meta", 0)
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		assert.Equal(t, metadata, loaded[0].Metadata)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := adapter.Append(ctx, "", []adapters.EventRecord{{Type: "Test"}}, NoStream)
		assert.True(t, errors.Is(err, ErrEmptyStreamID))

		_, err = adapter.Append(ctx, "Character-empty", nil, NoStream)
		assert.True(t, errors.Is(err, ErrNoEvents))
	})
}

func TestPostgresAdapter_Load(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()
	appendN(t, adapter, "Character-1", 5)

	t.Run("all events", func(t *testing.T) {
		events, err := adapter.Load(ctx, "Character-1", 0)
		require.NoError(t, err)
		require.Len(t, events, 5)
		for i, e := range events {
			assert.Equal(t, int64(i+1), e.Version)
		}
		assert.JSONEq(t, `{"amount":1}`, string(events[0].Data))
	})

	t.Run("tail after version", func(t *testing.T) {
		events, err := adapter.Load(ctx, "Character-1", 3)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(4), events[0].Version)
	})

	t.Run("missing stream is empty", func(t *testing.T) {
		events, err := adapter.Load(ctx, "Character-none", 0)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestPostgresAdapter_StreamsAndDeletion(t *testing.T) {
	adapter, db := newTestAdapter(t)
	ctx := context.Background()

	appendN(t, adapter, "Character-a", 6)
	appendN(t, adapter, "Character-b", 2)
	appendN(t, adapter, "Guild-1", 1)

	_, err := db.Exec(fmt.Sprintf(`UPDATE %s.events SET timestamp = NOW() - INTERVAL '90 days' WHERE stream_id = 'Character-a'`, adapter.Schema()))
	require.NoError(t, err)

	t.Run("stream info counts hot events", func(t *testing.T) {
		info, err := adapter.GetStreamInfo(ctx, "Character-a")
		require.NoError(t, err)
		assert.Equal(t, "Character", info.Category)
		assert.Equal(t, int64(6), info.Version)
		assert.Equal(t, int64(6), info.EventCount)

		_, err = adapter.GetStreamInfo(ctx, "Character-none")
		assert.True(t, errors.Is(err, ErrStreamNotFound))
	})

	t.Run("list by prefix", func(t *testing.T) {
		streams, err := adapter.ListStreams(ctx, adapters.ListStreamsOptions{Prefix: "Character-"})
		require.NoError(t, err)
		require.Len(t, streams, 2)
		assert.Equal(t, "Character-a", streams[0].StreamID)
		assert.Equal(t, "Character-b", streams[1].StreamID)
	})

	t.Run("list after", func(t *testing.T) {
		streams, err := adapter.ListStreams(ctx, adapters.ListStreamsOptions{Prefix: "Character-", After: "Character-a"})
		require.NoError(t, err)
		require.Len(t, streams, 1)
		assert.Equal(t, "Character-b", streams[0].StreamID)
	})

	t.Run("list older than", func(t *testing.T) {
		streams, err := adapter.ListStreams(ctx, adapters.ListStreamsOptions{OlderThan: time.Now().Add(-30 * 24 * time.Hour)})
		require.NoError(t, err)
		require.Len(t, streams, 1)
		assert.Equal(t, "Character-a", streams[0].StreamID)
		assert.Equal(t, int64(6), streams[0].EventCount)
	})

	t.Run("delete through keeps the stream version", func(t *testing.T) {
		n, err := adapter.DeleteEventsThrough(ctx, "Character-a", 4)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)

		events, err := adapter.Load(ctx, "Character-a", 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(5), events[0].Version)

		info, err := adapter.GetStreamInfo(ctx, "Character-a")
		require.NoError(t, err)
		assert.Equal(t, int64(6), info.Version)
		assert.Equal(t, int64(2), info.EventCount)

		stored, err := adapter.Append(ctx, "Character-a", []adapters.EventRecord{{Type: "TitleEarned", Data: []byte(`{}`)}}, 6)
		require.NoError(t, err)
		assert.Equal(t, int64(7), stored[0].Version)
	})

	t.Run("delete on missing stream", func(t *testing.T) {
		_, err := adapter.DeleteEventsThrough(ctx, "Character-none", 1)
		assert.True(t, errors.Is(err, ErrStreamNotFound))
	})
}

func TestPostgresAdapter_Snapshots(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()
	appendN(t, adapter, "Character-1", 30)

	base := time.Now().Add(-time.Hour).UTC().Truncate(time.Millisecond)
	var ids []string
	for i, v := range []int64{10, 20, 30} {
		record := &adapters.SnapshotRecord{
			StreamID:         "Character-1",
			EventVersion:     v,
			TotalEventCount:  v,
			Data:             []byte(fmt.Sprintf("state-%d", v)),
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
			CreationDuration: 3 * time.Millisecond,
		}
		require.NoError(t, adapter.SaveSnapshot(ctx, record))
		assert.NotEmpty(t, record.ID)
		assert.True(t, record.IsLatest)
		assert.Equal(t, int64(len(record.Data)), record.StateSizeBytes)
		ids = append(ids, record.ID)
	}

	t.Run("exactly one latest", func(t *testing.T) {
		latest, err := adapter.LoadLatestSnapshot(ctx, "Character-1")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, int64(30), latest.EventVersion)
		assert.Equal(t, []byte("state-30"), latest.Data)
		assert.Equal(t, 3*time.Millisecond, latest.CreationDuration)

		all, err := adapter.ListSnapshots(ctx, "Character-1")
		require.NoError(t, err)
		require.Len(t, all, 3)
		latestCount := 0
		for _, s := range all {
			if s.IsLatest {
				latestCount++
			}
		}
		assert.Equal(t, 1, latestCount)
		assert.Equal(t, int64(30), all[0].EventVersion)
		assert.Equal(t, int64(10), all[2].EventVersion)
	})

	t.Run("no snapshot", func(t *testing.T) {
		latest, err := adapter.LoadLatestSnapshot(ctx, "Character-none")
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("streams summary", func(t *testing.T) {
		summaries, err := adapter.ListSnapshotStreams(ctx, 2)
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Equal(t, 3, summaries[0].Count)
		assert.Equal(t, int64(24), summaries[0].TotalBytes)

		summaries, err = adapter.ListSnapshotStreams(ctx, 4)
		require.NoError(t, err)
		assert.Empty(t, summaries)
	})

	t.Run("delete never removes latest", func(t *testing.T) {
		n, err := adapter.DeleteSnapshots(ctx, "Character-1", ids)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		all, err := adapter.ListSnapshots(ctx, "Character-1")
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, ids[2], all[0].ID)

		n, err = adapter.DeleteSnapshots(ctx, "Character-1", ids)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestPostgresAdapter_SnapshotCandidates(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	appendN(t, adapter, "Character-fresh", 150)
	appendN(t, adapter, "Character-small", 20)
	appendN(t, adapter, "Character-behind", 40)
	appendN(t, adapter, "Character-stale", 12)

	require.NoError(t, adapter.SaveSnapshot(ctx, &adapters.SnapshotRecord{StreamID: "Character-behind", EventVersion: 10, Data: []byte("x")}))
	require.NoError(t, adapter.SaveSnapshot(ctx, &adapters.SnapshotRecord{
		StreamID: "Character-stale", EventVersion: 11, Data: []byte("x"),
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}))

	candidates, err := adapter.ListSnapshotCandidates(ctx, adapters.SnapshotCandidateCriteria{
		MinEvents:         100,
		EventThreshold:    25,
		SnapshotOlderThan: time.Now().Add(-24 * time.Hour),
	})
	require.NoError(t, err)

	got := make([]string, len(candidates))
	for i, c := range candidates {
		got[i] = c.StreamID
	}
	assert.Equal(t, []string{"Character-behind", "Character-fresh", "Character-stale"}, got)
	assert.Equal(t, int64(10), candidates[0].SnapshotVersion)
	assert.False(t, candidates[1].HasSnapshot())

	limited, err := adapter.ListSnapshotCandidates(ctx, adapters.SnapshotCandidateCriteria{MinEvents: 1, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	resumed, err := adapter.ListSnapshotCandidates(ctx, adapters.SnapshotCandidateCriteria{MinEvents: 1, After: "Character-fresh"})
	require.NoError(t, err)
	require.Len(t, resumed, 1)
	assert.Equal(t, "Character-small", resumed[0].StreamID)
}

func TestPostgresAdapter_Close(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.Ping(ctx))
	require.NoError(t, adapter.Close())

	assert.True(t, errors.Is(adapter.Ping(ctx), ErrAdapterClosed))
	_, err := adapter.Load(ctx, "Character-1", 0)
	assert.True(t, errors.Is(err, ErrAdapterClosed))
	_, err = adapter.LoadLatestSnapshot(ctx, "Character-1")
	assert.True(t, errors.Is(err, ErrAdapterClosed))
}

func TestPostgresAdapter_Options(t *testing.T) {
	db, err := sql.Open("pgx", "postgres://localhost/unused")
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAdapterWithDB(db,
		WithSchema("custom"),
		WithMaxConnections(7),
		WithMaxIdleConnections(3),
		WithConnectionMaxLifetime(time.Minute),
	)

	assert.Equal(t, "custom", adapter.Schema())
	assert.Equal(t, 7, db.Stats().MaxOpenConnections)
	assert.Same(t, db, adapter.DB())

	assert.Equal(t, DefaultSchema, NewAdapterWithDB(db).Schema())
}
