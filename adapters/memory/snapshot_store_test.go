package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/emberforge/chronicle/adapters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAdapter_SaveSnapshot(t *testing.T) {
	t.Run("demotes previous latest", func(t *testing.T) {
		adapter := NewAdapter()
		ctx := context.Background()

		first := &adapters.SnapshotRecord{StreamID: "Character-1", EventVersion: 100, Data: []byte("a")}
		second := &adapters.SnapshotRecord{StreamID: "Character-1", EventVersion: 200, Data: []byte("bb")}
		require.NoError(t, adapter.SaveSnapshot(ctx, first))
		require.NoError(t, adapter.SaveSnapshot(ctx, second))

		assert.NotEmpty(t, first.ID)
		assert.Equal(t, int64(2), second.StateSizeBytes)

		latest, err := adapter.LoadLatestSnapshot(ctx, "Character-1")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, int64(200), latest.EventVersion)
		assert.True(t, latest.IsLatest)

		all, err := adapter.ListSnapshots(ctx, "Character-1")
		require.NoError(t, err)
		require.Len(t, all, 2)
		latestCount := 0
		for _, s := range all {
			if s.IsLatest {
				latestCount++
			}
		}
		assert.Equal(t, 1, latestCount)
	})

	t.Run("concurrent saves leave exactly one latest", func(t *testing.T) {
		adapter := NewAdapter()
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 1; i <= 25; i++ {
			wg.Add(1)
			go func(v int64) {
				defer wg.Done()
				_ = adapter.SaveSnapshot(ctx, &adapters.SnapshotRecord{StreamID: "Character-1", EventVersion: v})
			}(int64(i))
		}
		wg.Wait()

		all, err := adapter.ListSnapshots(ctx, "Character-1")
		require.NoError(t, err)
		assert.Len(t, all, 25)

		latestCount := 0
		for _, s := range all {
			if s.IsLatest {
				latestCount++
			}
		}
		assert.Equal(t, 1, latestCount)
	})

	t.Run("validation", func(t *testing.T) {
		adapter := NewAdapter()
		ctx := context.Background()

		assert.ErrorIs(t, adapter.SaveSnapshot(ctx, nil), adapters.ErrNilSnapshot)
		assert.ErrorIs(t, adapter.SaveSnapshot(ctx, &adapters.SnapshotRecord{EventVersion: 1}), ErrEmptyStreamID)
		assert.ErrorIs(t, adapter.SaveSnapshot(ctx, &adapters.SnapshotRecord{StreamID: "Character-1"}), ErrInvalidVersion)
	})

	t.Run("returned records are copies", func(t *testing.T) {
		adapter := NewAdapter()
		ctx := context.Background()
		require.NoError(t, adapter.SaveSnapshot(ctx, &adapters.SnapshotRecord{StreamID: "Character-1", EventVersion: 1, Data: []byte("abc")}))

		latest, err := adapter.LoadLatestSnapshot(ctx, "Character-1")
		require.NoError(t, err)
		latest.Data[0] = 'X'

		again, err := adapter.LoadLatestSnapshot(ctx, "Character-1")
		require.NoError(t, err)
		assert.Equal(t, "abc", string(again.Data))
	})

	t.Run("missing snapshot returns nil", func(t *testing.T) {
		latest, err := NewAdapter().LoadLatestSnapshot(context.Background(), "Character-1")

		require.NoError(t, err)
		assert.Nil(t, latest)
	})
}

func TestMemoryAdapter_DeleteSnapshots(t *testing.T) {
	adapter := NewAdapter()
	ctx := context.Background()

	var ids []string
	for v := int64(1); v <= 4; v++ {
		rec := &adapters.SnapshotRecord{StreamID: "Character-1", EventVersion: v * 10}
		require.NoError(t, adapter.SaveSnapshot(ctx, rec))
		ids = append(ids, rec.ID)
	}

	deleted, err := adapter.DeleteSnapshots(ctx, "Character-1", ids)

	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	latest, err := adapter.LoadLatestSnapshot(ctx, "Character-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(40), latest.EventVersion)
}

func TestMemoryAdapter_ListSnapshotCandidates(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now := base
	adapter := NewAdapter(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := adapter.Append(ctx, "Character-new", records(150, "ExperienceGained"), NoStream)
	require.NoError(t, err)
	_, err = adapter.Append(ctx, "Character-small", records(20, "ExperienceGained"), NoStream)
	require.NoError(t, err)
	_, err = adapter.Append(ctx, "Character-busy", records(1500, "ExperienceGained"), NoStream)
	require.NoError(t, err)
	require.NoError(t, adapter.SaveSnapshot(ctx, &adapters.SnapshotRecord{StreamID: "Character-busy", EventVersion: 300}))
	_, err = adapter.Append(ctx, "Character-stale", records(50, "ExperienceGained"), NoStream)
	require.NoError(t, err)
	require.NoError(t, adapter.SaveSnapshot(ctx, &adapters.SnapshotRecord{StreamID: "Character-stale", EventVersion: 40}))

	now = base.Add(48 * time.Hour)

	candidates, err := adapter.ListSnapshotCandidates(ctx, adapters.SnapshotCandidateCriteria{
		MinEvents:         100,
		EventThreshold:    1000,
		SnapshotOlderThan: now.Add(-24 * time.Hour),
	})
	require.NoError(t, err)

	var ids []string
	for _, c := range candidates {
		ids = append(ids, c.StreamID)
	}
	assert.Equal(t, []string{"Character-busy", "Character-new", "Character-stale"}, ids)
	assert.Equal(t, int64(300), candidates[0].SnapshotVersion)

	limited, err := adapter.ListSnapshotCandidates(ctx, adapters.SnapshotCandidateCriteria{MinEvents: 100, EventThreshold: 1000, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	resumed, err := adapter.ListSnapshotCandidates(ctx, adapters.SnapshotCandidateCriteria{
		MinEvents:      100,
		EventThreshold: 1000,
		After:          "Character-busy",
	})
	require.NoError(t, err)
	require.Len(t, resumed, 1)
	assert.Equal(t, "Character-new", resumed[0].StreamID)
}

func TestMemoryAdapter_ListSnapshotStreams(t *testing.T) {
	adapter := NewAdapter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		for v := 1; v <= i+1; v++ {
			require.NoError(t, adapter.SaveSnapshot(ctx, &adapters.SnapshotRecord{
				StreamID:     fmt.Sprintf("Character-%d", i),
				EventVersion: int64(v),
				Data:         []byte("1234"),
			}))
		}
	}

	summaries, err := adapter.ListSnapshotStreams(ctx, 2)

	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "Character-1", summaries[0].StreamID)
	assert.Equal(t, 2, summaries[0].Count)
	assert.Equal(t, int64(8), summaries[0].TotalBytes)
	assert.Equal(t, 3, summaries[1].Count)
}
