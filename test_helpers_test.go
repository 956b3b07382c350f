package chronicle

// Shared test doubles and fixtures for chronicle package tests.

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/emberforge/chronicle/adapters/memory"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Shared Test Logger
// =============================================================================

type testLogger struct {
	mu        sync.Mutex
	debugLogs []string
	infoLogs  []string
	warnLogs  []string
	errorLogs []string
}

func newTestLogger() *testLogger {
	return &testLogger{}
}

func (l *testLogger) Debug(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugLogs = append(l.debugLogs, msg)
}

func (l *testLogger) Info(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLogs = append(l.infoLogs, msg)
}

func (l *testLogger) Warn(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnLogs = append(l.warnLogs, msg)
}

func (l *testLogger) Error(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLogs = append(l.errorLogs, msg)
}

func (l *testLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warnLogs...)
}

// =============================================================================
// Test Clock
// =============================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// =============================================================================
// Hero aggregate
// =============================================================================

type HeroCreated struct {
	Name  string `json:"name"`
	Class string `json:"class"`
}

type HeroLeveled struct {
	Levels int `json:"levels"`
}

type HeroDamaged struct {
	Amount int `json:"amount"`
}

type HeroHealed struct {
	Amount int `json:"amount"`
}

type HeroTitled struct {
	Title string `json:"title"`
}

type hero struct {
	Name   string   `json:"name"`
	Class  string   `json:"class"`
	Level  int      `json:"level"`
	Health int      `json:"health"`
	Titles []string `json:"titles,omitempty"`
}

func heroTransitions() Transitions[hero] {
	return Transitions[hero]{
		"HeroCreated": func(h hero, e Event) (hero, error) {
			d := e.Data.(HeroCreated)
			return hero{Name: d.Name, Class: d.Class, Level: 1, Health: 100}, nil
		},
		"HeroLeveled": func(h hero, e Event) (hero, error) {
			h.Level += e.Data.(HeroLeveled).Levels
			return h, nil
		},
		"HeroDamaged": func(h hero, e Event) (hero, error) {
			h.Health -= e.Data.(HeroDamaged).Amount
			if h.Health < 0 {
				h.Health = 0
			}
			return h, nil
		},
		"HeroHealed": func(h hero, e Event) (hero, error) {
			h.Health += e.Data.(HeroHealed).Amount
			return h, nil
		},
		"HeroTitled": func(h hero, e Event) (hero, error) {
			titles := make([]string, 0, len(h.Titles)+1)
			titles = append(titles, h.Titles...)
			h.Titles = append(titles, e.Data.(HeroTitled).Title)
			return h, nil
		},
	}
}

func heroComparator(live, archived hero) []FieldMismatch {
	var out []FieldMismatch
	if live.Name != archived.Name {
		out = append(out, FieldMismatch{Field: "name", Live: live.Name, Archived: archived.Name})
	}
	if live.Level != archived.Level {
		out = append(out, FieldMismatch{Field: "level", Live: live.Level, Archived: archived.Level})
	}
	if live.Health != archived.Health {
		out = append(out, FieldMismatch{Field: "health", Live: live.Health, Archived: archived.Health})
	}
	if live.Class != archived.Class {
		out = append(out, FieldMismatch{Field: "class", Live: live.Class, Archived: archived.Class})
	}
	return out
}

// heroEvent returns the i-th event (1-based) of a deterministic history.
func heroEvent(i int) interface{} {
	if i == 1 {
		return HeroCreated{Name: "Aria", Class: "ranger"}
	}
	switch i % 4 {
	case 0:
		return HeroLeveled{Levels: 1}
	case 1:
		return HeroDamaged{Amount: 7}
	case 2:
		return HeroHealed{Amount: 5}
	default:
		return HeroTitled{Title: fmt.Sprintf("title-%d", i)}
	}
}

// =============================================================================
// Fixture
// =============================================================================

type fixture struct {
	clock     *testClock
	adapter   *memory.MemoryAdapter
	store     *EventStore
	snapshots *SnapshotService[hero]
	logger    *testLogger
}

func newFixture(t *testing.T, opts ...SnapshotServiceOption) *fixture {
	t.Helper()

	clock := newTestClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	adapter := memory.NewAdapter(memory.WithClock(clock.Now))
	logger := newTestLogger()

	store := New(adapter, WithLogger(logger), WithArchive(adapter))
	store.RegisterEvents(HeroCreated{}, HeroLeveled{}, HeroDamaged{}, HeroHealed{}, HeroTitled{})

	base := []SnapshotServiceOption{
		WithClock(clock.Now),
		WithServiceLogger(logger),
		WithAutoSnapshot(false),
	}

	snapshots := NewSnapshotService(
		store,
		adapter,
		NewReconstructor(heroTransitions()),
		NewSnapshotCodec[hero]("hero", 1),
		append(base, opts...)...,
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = snapshots.Close(ctx)
	})

	return &fixture{
		clock:     clock,
		adapter:   adapter,
		store:     store,
		snapshots: snapshots,
		logger:    logger,
	}
}

// seed appends events from+1..to to the stream, advancing the clock by step
// before each event.
func (f *fixture) seed(t *testing.T, streamID string, from, to int, step time.Duration) {
	t.Helper()

	ctx := context.Background()
	for i := from + 1; i <= to; i++ {
		f.clock.Advance(step)
		_, err := f.store.Append(ctx, streamID, []interface{}{heroEvent(i)}, ExpectVersion(int64(i-1)))
		require.NoError(t, err)
	}
}

// replay reconstructs the stream from its complete history.
func (f *fixture) replay(t *testing.T, streamID string) (hero, int64) {
	t.Helper()

	history, err := f.store.LoadHistory(context.Background(), streamID)
	require.NoError(t, err)
	events, err := f.store.Decode(history)
	require.NoError(t, err)

	state, version, err := NewReconstructor(heroTransitions()).Reconstruct(events, nil)
	require.NoError(t, err)
	return state, version
}

// =============================================================================
// Recording collaborators
// =============================================================================

type recordingMetrics struct {
	mu              sync.Mutex
	reconstructions map[string]int
	fallbacks       []string
	created         int
	failed          int
	deleted         int
	archived        int
	integrity       []bool
	dropped         int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{reconstructions: make(map[string]int)}
}

func (m *recordingMetrics) RecordReconstruction(path string, _ time.Duration, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconstructions[path]++
}

func (m *recordingMetrics) RecordSnapshotFallback(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks = append(m.fallbacks, reason)
}

func (m *recordingMetrics) RecordSnapshotCreated(time.Duration, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
}

func (m *recordingMetrics) RecordSnapshotFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

func (m *recordingMetrics) RecordSnapshotsDeleted(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted += n
}

func (m *recordingMetrics) RecordEventsArchived(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived += n
}

func (m *recordingMetrics) RecordCompression(int64, int64) {}

func (m *recordingMetrics) RecordIntegrityCheck(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrity = append(m.integrity, ok)
}

func (m *recordingMetrics) RecordQueueDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []MaintenanceNotice
}

func (n *recordingNotifier) Notify(_ context.Context, notice MaintenanceNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]string, len(n.notices))
	for i, notice := range n.notices {
		kinds[i] = notice.Kind
	}
	return kinds
}

type recordingRecorder struct {
	mu    sync.Mutex
	reads []ReconstructionMetric
}

func (r *recordingRecorder) RecordReconstruction(streamID string, d time.Duration, eventCount int, usedSnapshot bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = append(r.reads, ReconstructionMetric{
		StreamID:     streamID,
		Duration:     d,
		EventCount:   eventCount,
		UsedSnapshot: usedSnapshot,
	})
}
