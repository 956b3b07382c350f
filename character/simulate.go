package character

import (
	"fmt"
	"math/rand"
	"sort"
)

var (
	types   = []string{"warrior", "ranger", "mage", "cleric", "rogue"}
	names   = []string{"Aria", "Bran", "Cael", "Dessa", "Eron", "Fenna", "Galt", "Hesper"}
	items   = []string{"potion", "arrow", "ration", "torch", "rope", "gem"}
	sources = []string{"wolf", "bandit", "trap", "dragon", "fall"}
	attrs   = []string{"strength", "dexterity", "intellect", "wisdom"}
)

// Simulate returns n plausible character events, starting with
// CharacterCreated. The same rng seed always yields the same history.
// It drives the CLI seed command and test fixtures.
func Simulate(rng *rand.Rand, n int) []interface{} {
	if n <= 0 {
		return nil
	}

	maxHealth := 80 + rng.Intn(40)
	events := make([]interface{}, 0, n)
	events = append(events, CharacterCreated{
		Name:      names[rng.Intn(len(names))],
		Type:      types[rng.Intn(len(types))],
		MaxHealth: maxHealth,
		Attributes: map[string]int{
			"strength":  8 + rng.Intn(8),
			"dexterity": 8 + rng.Intn(8),
		},
	})

	level := 1
	health := maxHealth
	dead := false
	inventory := make(map[string]int)

	for len(events) < n {
		if dead {
			health = maxHealth / 2
			dead = false
			events = append(events, CharacterRevived{Health: health})
			continue
		}

		switch roll := rng.Intn(100); {
		case roll < 30:
			events = append(events, ExperienceGained{Amount: int64(10 + rng.Intn(90)), Source: sources[rng.Intn(len(sources))]})
		case roll < 50:
			amount := 1 + rng.Intn(20)
			health -= amount
			if health < 0 {
				health = 0
			}
			events = append(events, DamageTaken{Amount: amount, Source: sources[rng.Intn(len(sources))]})
			if health == 0 && len(events) < n {
				dead = true
				events = append(events, CharacterDied{Cause: "wounds"})
			}
		case roll < 62:
			amount := 5 + rng.Intn(15)
			health += amount
			if health > maxHealth {
				health = maxHealth
			}
			events = append(events, HealthRestored{Amount: amount})
		case roll < 74:
			events = append(events, GoldChanged{Delta: int64(rng.Intn(60) - 20), Reason: "loot"})
		case roll < 84:
			item := items[rng.Intn(len(items))]
			qty := 1 + rng.Intn(3)
			inventory[item] += qty
			events = append(events, ItemAcquired{ItemID: item, Quantity: qty})
		case roll < 90 && len(inventory) > 0:
			held := make([]string, 0, len(inventory))
			for item := range inventory {
				held = append(held, item)
			}
			sort.Strings(held)
			item := held[rng.Intn(len(held))]
			qty := 1 + rng.Intn(inventory[item])
			inventory[item] -= qty
			if inventory[item] <= 0 {
				delete(inventory, item)
			}
			events = append(events, ItemRemoved{ItemID: item, Quantity: qty})
		case roll < 95:
			level++
			maxHealth += 10
			events = append(events, LeveledUp{Level: level, MaxHealth: maxHealth})
		case roll < 98:
			events = append(events, AttributeChanged{Attribute: attrs[rng.Intn(len(attrs))], Value: 8 + rng.Intn(12)})
		default:
			events = append(events, TitleEarned{Title: fmt.Sprintf("Slayer of %s", sources[rng.Intn(len(sources))])})
		}
	}

	return events[:n]
}
