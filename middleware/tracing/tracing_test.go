package tracing

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/emberforge/chronicle"
	"github.com/emberforge/chronicle/adapters"
	"github.com/emberforge/chronicle/adapters/memory"
	"github.com/emberforge/chronicle/character"
)

// =============================================================================
// Test Types
// =============================================================================

type mockAdapter struct {
	appendErr error
	loadErr   error
	events    []adapters.StoredEvent
}

func (m *mockAdapter) Append(ctx context.Context, streamID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	if m.appendErr != nil {
		return nil, m.appendErr
	}
	stored := make([]adapters.StoredEvent, len(events))
	for i, e := range events {
		stored[i] = adapters.StoredEvent{
			ID:             "event-" + e.Type,
			StreamID:       streamID,
			Type:           e.Type,
			Data:           e.Data,
			Metadata:       e.Metadata,
			Version:        int64(i + 1),
			GlobalPosition: uint64(i + 1),
			Timestamp:      time.Now(),
		}
	}
	return stored, nil
}

func (m *mockAdapter) Load(ctx context.Context, streamID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.events, nil
}

func (m *mockAdapter) GetStreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	return &adapters.StreamInfo{
		StreamID:   streamID,
		Version:    int64(len(m.events)),
		EventCount: int64(len(m.events)),
	}, nil
}

func (m *mockAdapter) ListStreams(ctx context.Context, opts adapters.ListStreamsOptions) ([]adapters.StreamSummary, error) {
	if len(m.events) == 0 {
		return nil, nil
	}
	return []adapters.StreamSummary{{StreamID: m.events[0].StreamID, Version: int64(len(m.events))}}, nil
}

func (m *mockAdapter) Initialize(ctx context.Context) error {
	return nil
}

func (m *mockAdapter) Close() error {
	return nil
}

type mockNotifier struct {
	err     error
	notices []chronicle.MaintenanceNotice
}

func (n *mockNotifier) Notify(ctx context.Context, notice chronicle.MaintenanceNotice) error {
	n.notices = append(n.notices, notice)
	return n.err
}

// Ensure mockAdapter implements adapters.EventStoreAdapter
var _ adapters.EventStoreAdapter = (*mockAdapter)(nil)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})

	tracer := NewTracer(WithTracerProvider(tp))
	return tracer, exporter
}

func spanNames(spans tracetest.SpanStubs) map[string]int {
	names := make(map[string]int)
	for _, s := range spans {
		names[s.Name]++
	}
	return names
}

// =============================================================================
// Tracer Tests
// =============================================================================

func TestNewTracer(t *testing.T) {
	t.Run("creates tracer with defaults", func(t *testing.T) {
		tracer := NewTracer()

		assert.NotNil(t, tracer)
		assert.Equal(t, DefaultServiceName, tracer.ServiceName())
		assert.NotNil(t, tracer.Tracer())
	})

	t.Run("with custom service name", func(t *testing.T) {
		tracer := NewTracer(WithServiceName("game-api"))

		assert.Equal(t, "game-api", tracer.ServiceName())
	})

	t.Run("with custom tracer provider", func(t *testing.T) {
		exporter := tracetest.NewInMemoryExporter()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
		defer func() { _ = tp.Shutdown(context.Background()) }()

		tracer := NewTracer(WithTracerProvider(tp))

		assert.NotNil(t, tracer.Tracer())
	})
}

func TestTracer_StartSpan(t *testing.T) {
	tracer, exporter := setupTestTracer(t)

	ctx, span := tracer.StartSpan(context.Background(), "test-span")
	span.End()

	assert.NotNil(t, ctx)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "test-span", spans[0].Name)
}

// =============================================================================
// Event Store Middleware Tests
// =============================================================================

func TestEventStoreMiddleware_Append(t *testing.T) {
	t.Run("traces successful append", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		middleware := NewEventStoreMiddleware(&mockAdapter{}, tracer)

		events := []adapters.EventRecord{
			{Type: "CharacterCreated", Data: []byte("{}")},
			{Type: "ExperienceGained", Data: []byte("{}")},
		}

		stored, err := middleware.Append(context.Background(), "Character-1", events, adapters.NoStream)

		require.NoError(t, err)
		assert.Len(t, stored, 2)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "eventstore.append", spans[0].Name)
		assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind)
		assert.Equal(t, codes.Ok, spans[0].Status.Code)

		attrs := spans[0].Attributes
		assertAttribute(t, attrs, "chronicle.stream_id", "Character-1")
		assertAttribute(t, attrs, "chronicle.service", DefaultServiceName)
	})

	t.Run("traces failed append", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		middleware := NewEventStoreMiddleware(&mockAdapter{appendErr: errors.New("append failed")}, tracer)

		_, err := middleware.Append(context.Background(), "Character-1", []adapters.EventRecord{}, adapters.NoStream)

		require.Error(t, err)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		require.Len(t, spans[0].Events, 1)
	})
}

func TestEventStoreMiddleware_Load(t *testing.T) {
	t.Run("traces successful load", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		middleware := NewEventStoreMiddleware(&mockAdapter{
			events: []adapters.StoredEvent{
				{ID: "event-1", Type: "CharacterCreated"},
				{ID: "event-2", Type: "DamageTaken"},
			},
		}, tracer)

		events, err := middleware.Load(context.Background(), "Character-1", 0)

		require.NoError(t, err)
		assert.Len(t, events, 2)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "eventstore.load", spans[0].Name)
		assert.Equal(t, codes.Ok, spans[0].Status.Code)
	})

	t.Run("traces failed load", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		middleware := NewEventStoreMiddleware(&mockAdapter{loadErr: errors.New("load failed")}, tracer)

		_, err := middleware.Load(context.Background(), "Character-1", 0)

		require.Error(t, err)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
	})
}

func TestEventStoreMiddleware_StreamQueries(t *testing.T) {
	tracer, exporter := setupTestTracer(t)
	middleware := NewEventStoreMiddleware(&mockAdapter{
		events: []adapters.StoredEvent{
			{ID: "event-1", StreamID: "Character-1", Version: 1},
			{ID: "event-2", StreamID: "Character-1", Version: 2},
		},
	}, tracer)

	info, err := middleware.GetStreamInfo(context.Background(), "Character-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Version)

	streams, err := middleware.ListStreams(context.Background(), adapters.ListStreamsOptions{Prefix: "Character-"})
	require.NoError(t, err)
	assert.Len(t, streams, 1)

	require.NoError(t, middleware.Initialize(context.Background()))
	require.NoError(t, middleware.Close())

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)
	assert.Equal(t, "eventstore.get_stream_info", spans[0].Name)
	assert.Equal(t, "eventstore.list_streams", spans[1].Name)
	assertAttribute(t, spans[1].Attributes, "chronicle.prefix", "Character-")
	assert.Equal(t, "eventstore.initialize", spans[2].Name)
}

func TestEventStoreMiddleware_DeleteEventsThrough(t *testing.T) {
	t.Run("unsupported adapter", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		middleware := NewEventStoreMiddleware(&mockAdapter{}, tracer)

		_, err := middleware.DeleteEventsThrough(context.Background(), "Character-1", 1)

		assert.ErrorIs(t, err, chronicle.ErrArchiveUnsupported)
		assert.Empty(t, exporter.GetSpans())
	})

	t.Run("traces deletion", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		middleware := NewEventStoreMiddleware(memory.NewAdapter(), tracer)
		ctx := context.Background()

		_, err := middleware.Append(ctx, "Character-1", []adapters.EventRecord{
			{Type: "CharacterCreated", Data: []byte("a")},
			{Type: "GoldChanged", Data: []byte("b")},
		}, adapters.NoStream)
		require.NoError(t, err)

		n, err := middleware.DeleteEventsThrough(ctx, "Character-1", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		spans := exporter.GetSpans()
		require.Len(t, spans, 2)
		assert.Equal(t, "eventstore.delete_events", spans[1].Name)
		assertIntAttribute(t, spans[1].Attributes, "chronicle.events.deleted", 1)
	})
}

// =============================================================================
// Snapshot Middleware Tests
// =============================================================================

func TestSnapshotMiddleware(t *testing.T) {
	t.Run("traces snapshot operations", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		middleware := NewSnapshotMiddleware(memory.NewAdapter(), tracer)
		ctx := context.Background()

		record := &adapters.SnapshotRecord{
			StreamID:        "Character-1",
			EventVersion:    10,
			TotalEventCount: 10,
			Data:            []byte("state"),
		}
		require.NoError(t, middleware.SaveSnapshot(ctx, record))

		latest, err := middleware.LoadLatestSnapshot(ctx, "Character-1")
		require.NoError(t, err)
		require.NotNil(t, latest)

		missing, err := middleware.LoadLatestSnapshot(ctx, "Character-2")
		require.NoError(t, err)
		assert.Nil(t, missing)

		_, err = middleware.ListSnapshots(ctx, "Character-1")
		require.NoError(t, err)
		_, err = middleware.DeleteSnapshots(ctx, "Character-1", []string{record.ID})
		require.NoError(t, err)
		_, err = middleware.ListSnapshotCandidates(ctx, adapters.SnapshotCandidateCriteria{MinEvents: 1})
		require.NoError(t, err)
		_, err = middleware.ListSnapshotStreams(ctx, 1)
		require.NoError(t, err)

		spans := exporter.GetSpans()
		require.Len(t, spans, 7)
		assert.Equal(t, "snapshots.save", spans[0].Name)
		assertAttribute(t, spans[0].Attributes, "chronicle.snapshot.id", record.ID)
		assertBoolAttribute(t, spans[1].Attributes, "chronicle.snapshot.found", true)
		assertBoolAttribute(t, spans[2].Attributes, "chronicle.snapshot.found", false)

		// The latest snapshot survives deletion.
		assertIntAttribute(t, spans[4].Attributes, "chronicle.snapshots.deleted", 0)
	})

	t.Run("traces failure", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		adapter := memory.NewAdapter()
		require.NoError(t, adapter.Close())
		middleware := NewSnapshotMiddleware(adapter, tracer)

		_, err := middleware.LoadLatestSnapshot(context.Background(), "Character-1")
		require.Error(t, err)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
	})
}

// =============================================================================
// Archive Middleware Tests
// =============================================================================

func TestArchiveMiddleware_ColdStorage(t *testing.T) {
	tracer, exporter := setupTestTracer(t)
	ctx := context.Background()

	appendedAt := time.Now().Add(-30 * 24 * time.Hour)
	hot := memory.NewAdapter(memory.WithClock(func() time.Time { return appendedAt }))
	cold := NewArchiveMiddleware(memory.NewAdapter(), tracer)

	store := chronicle.New(NewEventStoreMiddleware(hot, tracer), chronicle.WithArchive(cold))
	character.RegisterEvents(store)

	snapshots := chronicle.NewSnapshotService(store, NewSnapshotMiddleware(hot, tracer),
		chronicle.NewReconstructor(character.Transitions()),
		character.NewCodec(),
		chronicle.WithAutoSnapshot(false),
	)
	defer func() { _ = snapshots.Close(ctx) }()
	archive := chronicle.NewArchiveService(snapshots, cold, character.CompareCore)

	id := character.StreamID("9")
	_, err := store.Append(ctx, id, character.Simulate(rand.New(rand.NewSource(9)), 50),
		chronicle.ExpectVersion(adapters.NoStream))
	require.NoError(t, err)

	result, err := archive.ArchiveOldEvents(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(50), result.EventsArchived)

	_, err = archive.CompressEventHistory(ctx, id, 0)
	require.NoError(t, err)
	_, err = archive.CreateEventRollups(ctx, id, time.Hour)
	require.NoError(t, err)
	_, err = archive.GetStorageStatistics(ctx)
	require.NoError(t, err)

	names := spanNames(exporter.GetSpans())
	assert.Positive(t, names["eventstore.append"])
	assert.Positive(t, names["eventstore.list_streams"])
	assert.Positive(t, names["eventstore.delete_events"])
	assert.Positive(t, names["snapshots.save"])
	assert.Positive(t, names["archive.store_events"])
	assert.Positive(t, names["archive.load_events"])
	assert.Positive(t, names["archive.save_batches"])
	assert.Positive(t, names["archive.save_rollups"])
	assert.Positive(t, names["archive.stats"])
}

// =============================================================================
// Notifier Middleware Tests
// =============================================================================

func TestNotifierMiddleware(t *testing.T) {
	t.Run("traces notice", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		inner := &mockNotifier{}
		notifier := NewNotifierMiddleware(inner, tracer)

		err := notifier.Notify(context.Background(), chronicle.MaintenanceNotice{
			Kind:     chronicle.NoticeEventsArchived,
			StreamID: "Character-1",
			Count:    300,
		})
		require.NoError(t, err)
		require.Len(t, inner.notices, 1)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "notify.events.archived", spans[0].Name)
		assert.Equal(t, trace.SpanKindProducer, spans[0].SpanKind)
		assertAttribute(t, spans[0].Attributes, "chronicle.stream_id", "Character-1")
		assertIntAttribute(t, spans[0].Attributes, "chronicle.notice.count", 300)
	})

	t.Run("traces failure", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		notifier := NewNotifierMiddleware(&mockNotifier{err: errors.New("broker down")}, tracer)

		err := notifier.Notify(context.Background(), chronicle.MaintenanceNotice{Kind: chronicle.NoticeSnapshotsCreated})
		require.Error(t, err)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
	})
}

// =============================================================================
// Span Helper Tests
// =============================================================================

func TestSpanHelpers(t *testing.T) {
	tracer, exporter := setupTestTracer(t)

	ctx, span := tracer.StartSpan(context.Background(), "maintenance")
	assert.Equal(t, span, SpanFromContext(ctx))

	AddEvent(ctx, "snapshot.skipped")
	SetAttributes(ctx, attribute.String("custom.key", "custom.value"))
	SetError(ctx, errors.New("boom"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assertAttribute(t, spans[0].Attributes, "custom.key", "custom.value")
	require.Len(t, spans[0].Events, 2)
	assert.Equal(t, "snapshot.skipped", spans[0].Events[0].Name)
}

// =============================================================================
// Assertion Helpers
// =============================================================================

func findAttribute(t *testing.T, attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value, true
		}
	}
	t.Errorf("attribute %s not found", key)
	return attribute.Value{}, false
}

func assertAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue string) {
	t.Helper()
	if v, ok := findAttribute(t, attrs, key); ok {
		assert.Equal(t, expectedValue, v.AsString(), "attribute %s has wrong value", key)
	}
}

func assertIntAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue int64) {
	t.Helper()
	if v, ok := findAttribute(t, attrs, key); ok {
		assert.Equal(t, expectedValue, v.AsInt64(), "attribute %s has wrong value", key)
	}
}

func assertBoolAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue bool) {
	t.Helper()
	if v, ok := findAttribute(t, attrs, key); ok {
		assert.Equal(t, expectedValue, v.AsBool(), "attribute %s has wrong value", key)
	}
}
