package chronicle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMaintainer struct {
	mu        sync.Mutex
	scheduled []string
	calls     []string
	queue     *WorkQueue
	pending   func(ctx context.Context) (*BatchResult, error)
}

func (f *fakeMaintainer) ScheduleSnapshotEvaluation(streamID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, streamID)
	return true
}

func (f *fakeMaintainer) ProcessPendingSnapshots(ctx context.Context) (*BatchResult, error) {
	f.record("pending")
	if f.pending != nil {
		return f.pending(ctx)
	}
	return &BatchResult{}, nil
}

func (f *fakeMaintainer) CleanupOldSnapshots(ctx context.Context) (*CleanupResult, error) {
	f.record("cleanup")
	return &CleanupResult{}, nil
}

func (f *fakeMaintainer) Queue() *WorkQueue {
	return f.queue
}

func (f *fakeMaintainer) ArchiveOldEvents(ctx context.Context, maxAge time.Duration) (*ArchiveResult, error) {
	f.record("archive")
	return &ArchiveResult{}, nil
}

func (f *fakeMaintainer) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeMaintainer) snapshot() (scheduled, calls []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scheduled...), append([]string(nil), f.calls...)
}

func startedMonitor(t *testing.T, maintainer SnapshotMaintainer, opts ...MonitorOption) *PerformanceMonitor {
	t.Helper()

	base := []MonitorOption{WithMaintenanceInterval(time.Hour)}
	m := NewPerformanceMonitor(maintainer, append(base, opts...)...)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	})
	return m
}

func TestPerformanceMonitor_StartStop(t *testing.T) {
	m := NewPerformanceMonitor(&fakeMaintainer{}, WithMaintenanceInterval(time.Hour))
	ctx := context.Background()

	assert.False(t, m.IsRunning())
	require.NoError(t, m.Start(ctx))
	assert.True(t, m.IsRunning())
	assert.ErrorIs(t, m.Start(ctx), ErrMonitorRunning)

	require.NoError(t, m.Stop(ctx))
	assert.False(t, m.IsRunning())
	assert.NoError(t, m.Stop(ctx))

	// Restart after stop.
	require.NoError(t, m.Start(ctx))
	assert.True(t, m.IsRunning())
	require.NoError(t, m.Stop(ctx))
}

func TestPerformanceMonitor_StartContextCancel(t *testing.T) {
	m := NewPerformanceMonitor(&fakeMaintainer{}, WithMaintenanceInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool { return !m.IsRunning() }, 2*time.Second, 5*time.Millisecond)
	assert.NoError(t, m.Stop(context.Background()))

	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	assert.True(t, m.IsRunning())

	m.RecordReconstruction("Hero-1", time.Millisecond, 10, true)
	require.NoError(t, m.Flush(context.Background()))

	samples, err := m.Metrics(context.Background(), "Hero-1")
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}

func TestPerformanceMonitor_StopDeadlineThenRead(t *testing.T) {
	m := NewPerformanceMonitor(&fakeMaintainer{}, WithMaintenanceInterval(time.Hour))
	require.NoError(t, m.Start(context.Background()))

	for i := 0; i < 20; i++ {
		m.RecordReconstruction("Hero-1", time.Millisecond, 10, false)
	}

	expired, cancel := context.WithCancel(context.Background())
	cancel()
	_ = m.Stop(expired)
	assert.False(t, m.IsRunning())

	// Reads wait for the owners to exit before touching shard state.
	samples, err := m.Metrics(context.Background(), "Hero-1")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(samples), 20)

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
}

func TestPerformanceMonitor_RecordReconstruction(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps a bounded window per aggregate", func(t *testing.T) {
		m := startedMonitor(t, &fakeMaintainer{}, WithMetricWindow(5))

		for i := 1; i <= 8; i++ {
			m.RecordReconstruction("Hero-1", time.Duration(i)*time.Millisecond, i, false)
		}
		m.RecordReconstruction("Hero-2", time.Millisecond, 1, true)
		require.NoError(t, m.Flush(ctx))

		window, err := m.Metrics(ctx, "Hero-1")
		require.NoError(t, err)
		require.Len(t, window, 5)
		assert.Equal(t, 4, window[0].EventCount)
		assert.Equal(t, 8, window[4].EventCount)

		other, err := m.Metrics(ctx, "Hero-2")
		require.NoError(t, err)
		require.Len(t, other, 1)
		assert.True(t, other[0].UsedSnapshot)
	})

	t.Run("scores relative to the slow threshold", func(t *testing.T) {
		m := startedMonitor(t, &fakeMaintainer{}, WithSlowThreshold(100*time.Millisecond))

		m.RecordReconstruction("Hero-1", 250*time.Millisecond, 10, true)
		require.NoError(t, m.Flush(ctx))

		window, err := m.Metrics(ctx, "Hero-1")
		require.NoError(t, err)
		require.Len(t, window, 1)
		assert.InDelta(t, 2.5, window[0].Score, 1e-9)
	})

	t.Run("drops samples while stopped", func(t *testing.T) {
		m := NewPerformanceMonitor(&fakeMaintainer{})

		m.RecordReconstruction("Hero-1", time.Millisecond, 1, false)

		window, err := m.Metrics(ctx, "Hero-1")
		require.NoError(t, err)
		assert.Empty(t, window)

		rt, err := m.GetRealtimeMetrics(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rt.DroppedSamples)
		assert.False(t, rt.Running)
	})

	t.Run("slow full replay over the threshold schedules a snapshot", func(t *testing.T) {
		fake := &fakeMaintainer{}
		logger := newTestLogger()
		m := startedMonitor(t, fake,
			WithSlowThreshold(10*time.Millisecond),
			WithRecommendationThreshold(100),
			WithMonitorLogger(logger))

		m.RecordReconstruction("Hero-slow", 50*time.Millisecond, 500, false)
		m.RecordReconstruction("Hero-snap", 50*time.Millisecond, 500, true)
		m.RecordReconstruction("Hero-short", 50*time.Millisecond, 50, false)
		m.RecordReconstruction("Hero-fast", time.Millisecond, 5000, false)

		scheduled, _ := fake.snapshot()
		assert.Equal(t, []string{"Hero-slow"}, scheduled)
		assert.Len(t, logger.warnings(), 3)
	})
}

func TestPerformanceMonitor_SlowReadTriggersSnapshot(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Hero-1", 0, 300, time.Second)

	m := startedMonitor(t, f.snapshots,
		WithSlowThreshold(time.Nanosecond),
		WithRecommendationThreshold(100))
	f.snapshots.SetRecorder(m)

	ctx := context.Background()
	result, err := f.snapshots.GetAggregate(ctx, "Hero-1")
	require.NoError(t, err)
	assert.False(t, result.UsedSnapshot)
	require.NoError(t, f.snapshots.Queue().Flush(ctx))

	latest, err := f.adapter.LoadLatestSnapshot(ctx, "Hero-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(300), latest.EventVersion)

	result, err = f.snapshots.GetAggregate(ctx, "Hero-1")
	require.NoError(t, err)
	assert.True(t, result.UsedSnapshot)
	assert.Zero(t, result.EventsApplied)
}

func TestPerformanceMonitor_GetOptimizationRecommendations(t *testing.T) {
	ctx := context.Background()
	m := startedMonitor(t, &fakeMaintainer{},
		WithSlowThreshold(100*time.Millisecond),
		WithRecommendationThreshold(500))

	// Slow full replays: high priority snapshot recommendation.
	for i := 0; i < 3; i++ {
		m.RecordReconstruction("Hero-hot", 400*time.Millisecond, 900, false)
	}
	// Fast full replays: medium priority.
	for i := 0; i < 3; i++ {
		m.RecordReconstruction("Hero-warm", 20*time.Millisecond, 800, false)
	}
	// Mostly snapshot reads: no snapshot recommendation.
	for i := 0; i < 3; i++ {
		m.RecordReconstruction("Hero-cached", 5*time.Millisecond, 900, true)
	}
	// Huge history: archive and compress recommendations.
	m.RecordReconstruction("Hero-ancient", 50*time.Millisecond, 6000, false)
	require.NoError(t, m.Flush(ctx))

	recs, err := m.GetOptimizationRecommendations(ctx)
	require.NoError(t, err)

	type key struct {
		stream, action string
		priority       Priority
	}
	got := make([]key, len(recs))
	for i, r := range recs {
		got[i] = key{r.StreamID, r.Action, r.Priority}
	}

	assert.Equal(t, []key{
		{"Hero-hot", ActionCreateSnapshot, PriorityHigh},
		{"Hero-ancient", ActionArchiveOldEvents, PriorityMedium},
		{"Hero-ancient", ActionCreateSnapshot, PriorityMedium},
		{"Hero-warm", ActionCreateSnapshot, PriorityMedium},
		{"Hero-ancient", ActionCompressEventHistory, PriorityLow},
	}, got)

	for _, r := range recs {
		assert.NotEmpty(t, r.Reason)
		assert.NotEmpty(t, r.EstimatedImprovement)
	}
	assert.Equal(t, "high", recs[0].Priority.String())
}

func TestPerformanceMonitor_GetRealtimeMetrics(t *testing.T) {
	ctx := context.Background()
	queue := NewWorkQueue(WithWorkers(2), WithQueueCapacity(8))
	t.Cleanup(func() { _ = queue.Close(context.Background()) })

	m := startedMonitor(t, &fakeMaintainer{queue: queue}, WithSlowThreshold(100*time.Millisecond))

	m.RecordReconstruction("Hero-1", 10*time.Millisecond, 5, true)
	m.RecordReconstruction("Hero-1", 10*time.Millisecond, 5, true)
	m.RecordReconstruction("Hero-2", 10*time.Millisecond, 5, true)
	m.RecordReconstruction("Hero-3", 200*time.Millisecond, 900, false)
	require.NoError(t, m.Flush(ctx))

	rt, err := m.GetRealtimeMetrics(ctx)
	require.NoError(t, err)

	assert.True(t, rt.Running)
	assert.Equal(t, 3, rt.TrackedAggregates)
	assert.Equal(t, 4, rt.Samples)
	assert.Equal(t, int64(3), rt.SnapshotReads)
	assert.Equal(t, int64(1), rt.FullReplayReads)
	assert.Equal(t, int64(1), rt.SlowReconstructions)
	assert.InDelta(t, 0.75, rt.SnapshotHitRate, 1e-9)
	assert.Equal(t, 10*time.Millisecond, rt.AverageSnapshotDuration)
	assert.Equal(t, 200*time.Millisecond, rt.AverageFullReplayDuration)
	assert.Equal(t, 2, rt.Queue.Workers)
	assert.True(t, rt.LastMaintenance.IsZero())
}

func TestPerformanceMonitor_RunMaintenance(t *testing.T) {
	ctx := context.Background()

	t.Run("runs every step and prunes old samples", func(t *testing.T) {
		clock := newTestClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		fake := &fakeMaintainer{}
		m := startedMonitor(t, fake,
			WithMonitorClock(clock.Now),
			WithMetricRetention(time.Hour),
			WithArchiver(fake, 90*24*time.Hour))

		m.RecordReconstruction("Hero-1", time.Millisecond, 1, false)
		m.RecordReconstruction("Hero-2", time.Millisecond, 1, false)
		clock.Advance(2 * time.Hour)
		m.RecordReconstruction("Hero-1", time.Millisecond, 2, false)
		require.NoError(t, m.Flush(ctx))

		report, err := m.RunMaintenance(ctx)
		require.NoError(t, err)

		_, calls := fake.snapshot()
		assert.Equal(t, []string{"pending", "cleanup", "archive"}, calls)
		assert.NotNil(t, report.Pending)
		assert.NotNil(t, report.Cleanup)
		assert.NotNil(t, report.Archive)
		assert.Equal(t, 2, report.Pruned)

		window, err := m.Metrics(ctx, "Hero-1")
		require.NoError(t, err)
		require.Len(t, window, 1)
		assert.Equal(t, 2, window[0].EventCount)

		rt, err := m.GetRealtimeMetrics(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, rt.TrackedAggregates)
		assert.True(t, clock.Now().Equal(rt.LastMaintenance))
	})

	t.Run("skips archiving without an archiver", func(t *testing.T) {
		fake := &fakeMaintainer{}
		m := NewPerformanceMonitor(fake)

		report, err := m.RunMaintenance(ctx)
		require.NoError(t, err)

		_, calls := fake.snapshot()
		assert.Equal(t, []string{"pending", "cleanup"}, calls)
		assert.Nil(t, report.Archive)
	})

	t.Run("continues after a failing step", func(t *testing.T) {
		fake := &fakeMaintainer{
			pending: func(context.Context) (*BatchResult, error) {
				return nil, errors.New("adapter unavailable")
			},
		}
		logger := newTestLogger()
		m := NewPerformanceMonitor(fake, WithMonitorLogger(logger))

		_, err := m.RunMaintenance(ctx)
		require.NoError(t, err)

		_, calls := fake.snapshot()
		assert.Equal(t, []string{"pending", "cleanup"}, calls)
		assert.Contains(t, logger.errorLogs, "Pending snapshot processing failed")
	})

	t.Run("stops between steps when cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		fake := &fakeMaintainer{
			pending: func(context.Context) (*BatchResult, error) {
				cancel()
				return &BatchResult{}, nil
			},
		}
		m := NewPerformanceMonitor(fake)

		_, err := m.RunMaintenance(cctx)
		assert.ErrorIs(t, err, context.Canceled)

		_, calls := fake.snapshot()
		assert.Equal(t, []string{"pending"}, calls)
	})
}

func TestPerformanceMonitor_MaintenanceLoop(t *testing.T) {
	fake := &fakeMaintainer{}
	m := NewPerformanceMonitor(fake, WithMaintenanceInterval(10*time.Millisecond))
	require.NoError(t, m.Start(context.Background()))

	assert.Eventually(t, func() bool {
		_, calls := fake.snapshot()
		return len(calls) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop(context.Background()))
	_, before := fake.snapshot()
	time.Sleep(50 * time.Millisecond)
	_, after := fake.snapshot()
	assert.Equal(t, len(before), len(after))
}
