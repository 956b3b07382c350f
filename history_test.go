package chronicle

import (
	"bytes"
	"testing"
	"time"

	"github.com/emberforge/chronicle/adapters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedRange(from, to int64, tag string) []StoredEvent {
	var out []StoredEvent
	for v := from; v <= to; v++ {
		out = append(out, StoredEvent{ID: tag, Version: v, Type: "HeroLeveled"})
	}
	return out
}

func TestMergeHistory(t *testing.T) {
	archived := func(events []StoredEvent) []adapters.ArchivedEvent {
		out := make([]adapters.ArchivedEvent, len(events))
		for i, e := range events {
			out[i] = adapters.ArchivedEvent{StoredEvent: e}
		}
		return out
	}

	t.Run("no archive", func(t *testing.T) {
		hot := storedRange(1, 3, "hot")
		assert.Equal(t, hot, mergeHistory(nil, hot))
	})

	t.Run("hot wins on overlap", func(t *testing.T) {
		merged := mergeHistory(archived(storedRange(1, 5, "cold")), storedRange(4, 6, "hot"))

		require.Len(t, merged, 6)
		for i, e := range merged {
			assert.Equal(t, int64(i+1), e.Version)
		}
		assert.Equal(t, "cold", merged[2].ID)
		assert.Equal(t, "hot", merged[3].ID)
	})

	t.Run("only archived", func(t *testing.T) {
		merged := mergeHistory(archived(storedRange(1, 3, "cold")), nil)
		assert.Len(t, merged, 3)
	})
}

func TestMergeByVersion(t *testing.T) {
	merged := mergeByVersion(
		storedRange(3, 5, "first"),
		storedRange(1, 4, "second"),
		storedRange(5, 7, "third"),
	)

	require.Len(t, merged, 7)
	ids := make([]string, len(merged))
	for i, e := range merged {
		assert.Equal(t, int64(i+1), e.Version)
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"second", "second", "first", "first", "first", "third", "third"}, ids)
	assert.Empty(t, mergeByVersion())
}

func TestCompressEvents(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := make([]StoredEvent, 50)
	for i := range events {
		events[i] = StoredEvent{
			ID:        "evt",
			StreamID:  "Hero-1",
			Type:      "HeroDamaged",
			Data:      []byte(`{"amount":7}`),
			Version:   int64(i + 1),
			Timestamp: ts.Add(time.Duration(i) * time.Minute),
		}
	}

	payload, original, err := compressEvents(events)
	require.NoError(t, err)
	assert.Less(t, int64(len(payload)), original)

	decoded, err := decompressEvents(payload)
	require.NoError(t, err)
	require.Len(t, decoded, len(events))
	for i := range events {
		assert.Equal(t, events[i].Version, decoded[i].Version)
		assert.True(t, bytes.Equal(events[i].Data, decoded[i].Data))
		assert.True(t, events[i].Timestamp.Equal(decoded[i].Timestamp))
	}

	_, err = decompressEvents([]byte("not zstd"))
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestGroupRuns(t *testing.T) {
	types := []string{"A", "A", "B", "A", "C", "C", "C"}
	events := make([]StoredEvent, len(types))
	for i, typ := range types {
		events[i] = StoredEvent{Type: typ, Version: int64(i + 1)}
	}

	runs := groupRuns(events)

	lengths := make([]int, len(runs))
	for i, r := range runs {
		lengths[i] = len(r)
	}
	assert.Equal(t, []int{2, 1, 1, 3}, lengths)
	assert.Equal(t, "C", runs[3][0].Type)
	assert.Empty(t, groupRuns(nil))
}
