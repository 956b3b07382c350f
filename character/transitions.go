package character

import (
	"errors"
	"fmt"

	"github.com/emberforge/chronicle"
)

// ErrInvalidPayload indicates an event whose data is not the expected Go type,
// usually because the event type was not registered with the serializer.
var ErrInvalidPayload = errors.New("character: invalid event payload")

// ErrNotCreated indicates an event applied before CharacterCreated.
var ErrNotCreated = errors.New("character: event before CharacterCreated")

func payload[T any](e chronicle.Event) (T, error) {
	switch d := e.Data.(type) {
	case T:
		return d, nil
	case *T:
		if d != nil {
			return *d, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%w: %s at version %d is %T", ErrInvalidPayload, e.Type, e.Version, e.Data)
}

// on adapts a typed handler into a transition. Every handler other than the
// creation handler requires an existing character.
func on[T any](created bool, apply func(Character, T) Character) chronicle.Transition[Character] {
	return func(c Character, e chronicle.Event) (Character, error) {
		if !created && c.Status == "" {
			return c, fmt.Errorf("%w: %s at version %d", ErrNotCreated, e.Type, e.Version)
		}
		d, err := payload[T](e)
		if err != nil {
			return c, err
		}
		return apply(c, d), nil
	}
}

// Transitions returns the dispatch table for Character. Handlers copy maps and
// slices before changing them, so states held by callers or snapshots are
// never modified.
func Transitions() chronicle.Transitions[Character] {
	return chronicle.Transitions[Character]{
		"CharacterCreated": on(true, func(_ Character, d CharacterCreated) Character {
			return Character{
				Name:       d.Name,
				Type:       d.Type,
				Level:      1,
				Health:     d.MaxHealth,
				MaxHealth:  d.MaxHealth,
				Status:     StatusAlive,
				Attributes: copyCounts(d.Attributes),
			}
		}),
		"CharacterRenamed": on(false, func(c Character, d CharacterRenamed) Character {
			c.Name = d.Name
			return c
		}),
		"ExperienceGained": on(false, func(c Character, d ExperienceGained) Character {
			c.Experience += d.Amount
			return c
		}),
		"LeveledUp": on(false, func(c Character, d LeveledUp) Character {
			c.Level = d.Level
			if d.MaxHealth > 0 {
				c.MaxHealth = d.MaxHealth
			}
			if c.Health > c.MaxHealth {
				c.Health = c.MaxHealth
			}
			return c
		}),
		"DamageTaken": on(false, func(c Character, d DamageTaken) Character {
			c.Health = clamp(c.Health-d.Amount, 0, c.MaxHealth)
			return c
		}),
		"HealthRestored": on(false, func(c Character, d HealthRestored) Character {
			if c.Status == StatusDead {
				return c
			}
			c.Health = clamp(c.Health+d.Amount, 0, c.MaxHealth)
			return c
		}),
		"GoldChanged": on(false, func(c Character, d GoldChanged) Character {
			c.Gold += d.Delta
			if c.Gold < 0 {
				c.Gold = 0
			}
			return c
		}),
		"ItemAcquired": on(false, func(c Character, d ItemAcquired) Character {
			inv := copyCounts(c.Inventory)
			if inv == nil {
				inv = make(map[string]int)
			}
			inv[d.ItemID] += d.Quantity
			c.Inventory = inv
			return c
		}),
		"ItemRemoved": on(false, func(c Character, d ItemRemoved) Character {
			inv := copyCounts(c.Inventory)
			if inv[d.ItemID] <= d.Quantity {
				delete(inv, d.ItemID)
			} else {
				inv[d.ItemID] -= d.Quantity
			}
			if len(inv) == 0 {
				inv = nil
			}
			c.Inventory = inv
			return c
		}),
		"AttributeChanged": on(false, func(c Character, d AttributeChanged) Character {
			attrs := copyCounts(c.Attributes)
			if attrs == nil {
				attrs = make(map[string]int)
			}
			attrs[d.Attribute] = d.Value
			c.Attributes = attrs
			return c
		}),
		"TitleEarned": on(false, func(c Character, d TitleEarned) Character {
			titles := make([]string, 0, len(c.Titles)+1)
			titles = append(titles, c.Titles...)
			c.Titles = append(titles, d.Title)
			return c
		}),
		"CharacterDied": on(false, func(c Character, _ CharacterDied) Character {
			c.Health = 0
			c.Status = StatusDead
			return c
		}),
		"CharacterRevived": on(false, func(c Character, d CharacterRevived) Character {
			c.Status = StatusAlive
			c.Health = clamp(d.Health, 1, c.MaxHealth)
			return c
		}),
	}
}

func copyCounts(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	cp := make(map[string]int, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if hi >= lo && v > hi {
		return hi
	}
	return v
}
