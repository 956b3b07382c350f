package adapters

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrConcurrencyConflict", ErrConcurrencyConflict},
		{"ErrStreamNotFound", ErrStreamNotFound},
		{"ErrEmptyStreamID", ErrEmptyStreamID},
		{"ErrNoEvents", ErrNoEvents},
		{"ErrInvalidVersion", ErrInvalidVersion},
		{"ErrAdapterClosed", ErrAdapterClosed},
		{"ErrNilSnapshot", ErrNilSnapshot},
	}

	for _, tt := range tests {
		t.Run(tt.name+" has chronicle prefix", func(t *testing.T) {
			assert.Contains(t, tt.err.Error(), "chronicle:")
		})

		t.Run(tt.name+" is distinct", func(t *testing.T) {
			for _, other := range tests {
				if tt.name != other.name {
					assert.False(t, errors.Is(tt.err, other.err),
						"%s should not match %s", tt.name, other.name)
				}
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "chronicle: version conflict", ErrConcurrencyConflict.Error())
	assert.Equal(t, "chronicle: stream not found", ErrStreamNotFound.Error())
	assert.Equal(t, "chronicle: adapter is closed", ErrAdapterClosed.Error())
}

func TestSnapshotCandidate_HasSnapshot(t *testing.T) {
	assert.False(t, SnapshotCandidate{StreamID: "Character-1", Version: 10}.HasSnapshot())
}
