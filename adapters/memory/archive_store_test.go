package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/emberforge/chronicle/adapters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func archived(streamID string, version int64) adapters.ArchivedEvent {
	return adapters.ArchivedEvent{
		StoredEvent: adapters.StoredEvent{
			ID:       fmt.Sprintf("%s-%d", streamID, version),
			StreamID: streamID,
			Type:     "ExperienceGained",
			Version:  version,
		},
	}
}

func TestMemoryAdapter_ArchiveEvents(t *testing.T) {
	t.Run("orders by version and skips duplicates", func(t *testing.T) {
		adapter := NewAdapter()
		ctx := context.Background()

		require.NoError(t, adapter.ArchiveEvents(ctx, []adapters.ArchivedEvent{archived("Character-1", 2), archived("Character-1", 1)}))
		require.NoError(t, adapter.ArchiveEvents(ctx, []adapters.ArchivedEvent{archived("Character-1", 2), archived("Character-1", 3)}))

		events, err := adapter.LoadArchivedEvents(ctx, "Character-1")
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, int64(1), events[0].Version)
		assert.Equal(t, int64(3), events[2].Version)
		assert.False(t, events[0].ArchivedAt.IsZero())
	})

	t.Run("unknown stream is empty", func(t *testing.T) {
		events, err := NewAdapter().LoadArchivedEvents(context.Background(), "Character-404")

		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestMemoryAdapter_CompressedBatches(t *testing.T) {
	adapter := NewAdapter()
	ctx := context.Background()

	batches := []adapters.CompressedEventBatch{
		{StreamID: "Character-1", EventType: "DamageTaken", FromVersion: 5, ToVersion: 9, EventCount: 5, OriginalSize: 500, CompressedSize: 100, Payload: []byte{1}},
		{StreamID: "Character-1", EventType: "ExperienceGained", FromVersion: 1, ToVersion: 4, EventCount: 4, OriginalSize: 400, CompressedSize: 80, Payload: []byte{2}},
	}
	require.NoError(t, adapter.SaveCompressedBatches(ctx, batches))

	replacement := batches[0]
	replacement.CompressedSize = 90
	require.NoError(t, adapter.SaveCompressedBatches(ctx, []adapters.CompressedEventBatch{replacement}))

	loaded, err := adapter.LoadCompressedBatches(ctx, "Character-1")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, int64(1), loaded[0].FromVersion)
	assert.Equal(t, int64(90), loaded[1].CompressedSize)
	assert.NotEmpty(t, loaded[0].ID)

	stats, err := adapter.ArchiveStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.CompressedBatches)
	assert.Equal(t, int64(9), stats.CompressedEvents)
	assert.Equal(t, int64(900), stats.OriginalBytes)
	assert.Equal(t, int64(170), stats.CompressedBytes)
}

func TestMemoryAdapter_Rollups(t *testing.T) {
	adapter := NewAdapter()
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, adapter.SaveRollups(ctx, []adapters.EventRollup{
		{StreamID: "Character-1", BucketStart: day.Add(time.Hour), BucketEnd: day.Add(2 * time.Hour), EventCount: 3},
		{StreamID: "Character-1", BucketStart: day, BucketEnd: day.Add(time.Hour), EventCount: 2},
	}))
	require.NoError(t, adapter.SaveRollups(ctx, []adapters.EventRollup{
		{StreamID: "Character-1", BucketStart: day, BucketEnd: day.Add(time.Hour), EventCount: 4},
	}))

	rollups, err := adapter.ListRollups(ctx, "Character-1")
	require.NoError(t, err)
	require.Len(t, rollups, 2)
	assert.Equal(t, day, rollups[0].BucketStart)
	assert.Equal(t, 4, rollups[0].EventCount)

	stats, err := adapter.ArchiveStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Rollups)
}
