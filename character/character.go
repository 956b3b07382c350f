// Package character defines the Character aggregate of the game backend: its
// state, its events and the transition table that folds one into the other.
//
// Character state is never persisted directly. Reads go through a
// chronicle.SnapshotService built with Transitions and NewCodec:
//
//	snapshots := chronicle.NewSnapshotService(store, adapter,
//	    chronicle.NewReconstructor(character.Transitions()),
//	    character.NewCodec(),
//	)
package character

import (
	"fmt"

	"github.com/emberforge/chronicle"
)

const (
	// Category is the stream category of character streams.
	Category = "Character"

	// SchemaName identifies character snapshots.
	SchemaName = "character"

	// SchemaVersion is bumped whenever Character changes shape.
	SchemaVersion = 1
)

// Status values.
const (
	StatusAlive = "alive"
	StatusDead  = "dead"
)

// Character is the state derived from a character stream.
type Character struct {
	Name       string         `json:"name" msgpack:"name"`
	Type       string         `json:"type" msgpack:"type"`
	Level      int            `json:"level" msgpack:"level"`
	Experience int64          `json:"experience" msgpack:"experience"`
	Health     int            `json:"health" msgpack:"health"`
	MaxHealth  int            `json:"maxHealth" msgpack:"maxHealth"`
	Gold       int64          `json:"gold" msgpack:"gold"`
	Status     string         `json:"status" msgpack:"status"`
	Attributes map[string]int `json:"attributes,omitempty" msgpack:"attributes,omitempty"`
	Inventory  map[string]int `json:"inventory,omitempty" msgpack:"inventory,omitempty"`
	Titles     []string       `json:"titles,omitempty" msgpack:"titles,omitempty"`
}

// StreamID returns the stream ID of the character with the given id.
func StreamID(id string) string {
	return chronicle.NewStreamID(Category, id).String()
}

// IsAlive reports whether the character is alive.
func (c Character) IsAlive() bool {
	return c.Status == StatusAlive
}

// NewCodec returns the snapshot codec for Character state.
func NewCodec(opts ...chronicle.CodecOption[Character]) *chronicle.SnapshotCodec[Character] {
	return chronicle.NewSnapshotCodec[Character](SchemaName, SchemaVersion, opts...)
}

// CompareCore compares the core observable fields used by archive validation:
// name, level, health and type.
func CompareCore(live, archived Character) []chronicle.FieldMismatch {
	var out []chronicle.FieldMismatch
	if live.Name != archived.Name {
		out = append(out, chronicle.FieldMismatch{Field: "name", Live: live.Name, Archived: archived.Name})
	}
	if live.Level != archived.Level {
		out = append(out, chronicle.FieldMismatch{Field: "level", Live: live.Level, Archived: archived.Level})
	}
	if live.Health != archived.Health {
		out = append(out, chronicle.FieldMismatch{Field: "health", Live: live.Health, Archived: archived.Health})
	}
	if live.Type != archived.Type {
		out = append(out, chronicle.FieldMismatch{Field: "type", Live: live.Type, Archived: archived.Type})
	}
	return out
}

// String returns a short description for logs and the CLI.
func (c Character) String() string {
	return fmt.Sprintf("%s (%s, level %d, %d/%d hp, %s)", c.Name, c.Type, c.Level, c.Health, c.MaxHealth, c.Status)
}
