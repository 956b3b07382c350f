package chronicle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionConstants(t *testing.T) {
	assert.Equal(t, int64(-1), AnyVersion)
	assert.Equal(t, int64(0), NoStream)
	assert.Equal(t, int64(-2), StreamExists)
}

func TestStreamID(t *testing.T) {
	t.Run("String formats correctly", func(t *testing.T) {
		assert.Equal(t, "Character-42", NewStreamID("Character", "42").String())
	})

	t.Run("ParseStreamID handles ID with hyphens", func(t *testing.T) {
		sid, err := ParseStreamID("Character-1f0c-77ab")

		require.NoError(t, err)
		assert.Equal(t, "Character", sid.Category)
		assert.Equal(t, "1f0c-77ab", sid.ID)
	})

	t.Run("ParseStreamID returns error for invalid format", func(t *testing.T) {
		tests := []struct {
			name  string
			input string
		}{
			{"empty string", ""},
			{"no hyphen", "Character42"},
			{"empty category", "-42"},
			{"empty ID", "Character-"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := ParseStreamID(tt.input)
				assert.Error(t, err)
			})
		}
	})
}

func TestEventFromStored(t *testing.T) {
	now := time.Now()
	stored := StoredEvent{
		ID:             "evt-123",
		StreamID:       "Hero-1",
		Type:           "HeroLeveled",
		Data:           []byte(`{"levels":2}`),
		Metadata:       Metadata{UserID: "player-9"},
		Version:        4,
		GlobalPosition: 100,
		Timestamp:      now,
	}

	event := EventFromStored(stored, HeroLeveled{Levels: 2})

	assert.Equal(t, "evt-123", event.ID)
	assert.Equal(t, "Hero-1", event.StreamID)
	assert.Equal(t, "HeroLeveled", event.Type)
	assert.Equal(t, HeroLeveled{Levels: 2}, event.Data)
	assert.Equal(t, "player-9", event.Metadata.UserID)
	assert.Equal(t, int64(4), event.Version)
	assert.Equal(t, now, event.Timestamp)
}
