package character

import (
	"github.com/emberforge/chronicle"
)

// CharacterCreated starts a character stream.
type CharacterCreated struct {
	Name       string         `json:"name" msgpack:"name"`
	Type       string         `json:"type" msgpack:"type"`
	MaxHealth  int            `json:"maxHealth" msgpack:"maxHealth"`
	Attributes map[string]int `json:"attributes,omitempty" msgpack:"attributes,omitempty"`
}

// CharacterRenamed changes the display name.
type CharacterRenamed struct {
	Name string `json:"name" msgpack:"name"`
}

// ExperienceGained adds experience points.
type ExperienceGained struct {
	Amount int64  `json:"amount" msgpack:"amount"`
	Source string `json:"source,omitempty" msgpack:"source,omitempty"`
}

// LeveledUp raises the level and the health ceiling.
type LeveledUp struct {
	Level     int `json:"level" msgpack:"level"`
	MaxHealth int `json:"maxHealth" msgpack:"maxHealth"`
}

// DamageTaken lowers health, never below zero.
type DamageTaken struct {
	Amount int    `json:"amount" msgpack:"amount"`
	Source string `json:"source,omitempty" msgpack:"source,omitempty"`
}

// HealthRestored raises health, never above the ceiling.
type HealthRestored struct {
	Amount int `json:"amount" msgpack:"amount"`
}

// GoldChanged adjusts the purse by Delta, which may be negative.
type GoldChanged struct {
	Delta  int64  `json:"delta" msgpack:"delta"`
	Reason string `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

// ItemAcquired adds items to the inventory.
type ItemAcquired struct {
	ItemID   string `json:"itemId" msgpack:"itemId"`
	Quantity int    `json:"quantity" msgpack:"quantity"`
}

// ItemRemoved takes items out of the inventory.
type ItemRemoved struct {
	ItemID   string `json:"itemId" msgpack:"itemId"`
	Quantity int    `json:"quantity" msgpack:"quantity"`
}

// AttributeChanged sets one attribute score.
type AttributeChanged struct {
	Attribute string `json:"attribute" msgpack:"attribute"`
	Value     int    `json:"value" msgpack:"value"`
}

// TitleEarned appends an honorific.
type TitleEarned struct {
	Title string `json:"title" msgpack:"title"`
}

// CharacterDied marks the character dead.
type CharacterDied struct {
	Cause string `json:"cause,omitempty" msgpack:"cause,omitempty"`
}

// CharacterRevived brings a dead character back with the given health.
type CharacterRevived struct {
	Health int `json:"health" msgpack:"health"`
}

// Events returns an example value of every character event.
func Events() []interface{} {
	return []interface{}{
		CharacterCreated{},
		CharacterRenamed{},
		ExperienceGained{},
		LeveledUp{},
		DamageTaken{},
		HealthRestored{},
		GoldChanged{},
		ItemAcquired{},
		ItemRemoved{},
		AttributeChanged{},
		TitleEarned{},
		CharacterDied{},
		CharacterRevived{},
	}
}

// EventTypes returns the type names of all character events.
func EventTypes() []string {
	events := Events()
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = chronicle.GetEventType(e)
	}
	return types
}

// RegisterEvents registers the character events with the store's serializer.
func RegisterEvents(store *chronicle.EventStore) {
	store.RegisterEvents(Events()...)
}
