// Package testutil provides test utilities and fixtures for chronicle.
package testutil

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/emberforge/chronicle"
	"github.com/emberforge/chronicle/adapters"
	"github.com/emberforge/chronicle/adapters/memory"
	"github.com/emberforge/chronicle/character"
)

// =============================================================================
// Clock
// =============================================================================

// Clock is a manually advanced clock safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current clock time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// =============================================================================
// Character histories
// =============================================================================

// CharacterHistory returns n simulated character events for seed.
func CharacterHistory(seed int64, n int) []interface{} {
	return character.Simulate(rand.New(rand.NewSource(seed)), n)
}

// SeedChunk bounds the events written by one append in Seed.
const SeedChunk = 250

// Seed appends events to a new stream in chunks and returns the final version.
func Seed(ctx context.Context, store *chronicle.EventStore, streamID string, events []interface{}) (int64, error) {
	if len(events) == 0 {
		return 0, errors.New("testutil: no events to seed")
	}

	version := int64(adapters.NoStream)
	for len(events) > 0 {
		n := SeedChunk
		if n > len(events) {
			n = len(events)
		}
		stored, err := store.Append(ctx, streamID, events[:n], chronicle.ExpectVersion(version))
		if err != nil {
			return 0, err
		}
		version = stored[len(stored)-1].Version
		events = events[n:]
	}
	return version, nil
}

// =============================================================================
// Harness
// =============================================================================

// Harness is an in-memory snapshot and archive stack for character streams.
// Every component reads the same manual clock.
type Harness struct {
	Clock     *Clock
	Hot       *memory.MemoryAdapter
	Cold      *memory.MemoryAdapter
	Store     *chronicle.EventStore
	Snapshots *chronicle.SnapshotService[character.Character]
	Archiver  *chronicle.ArchiveService[character.Character]
	Notices   *RecordingNotifier
}

type harnessConfig struct {
	start        time.Time
	snapshotOpts []chronicle.SnapshotServiceOption
	archiveOpts  []chronicle.ArchiveOption
	wrapHot      func(adapters.EventStoreAdapter) adapters.EventStoreAdapter
}

// HarnessOption configures a Harness.
type HarnessOption func(*harnessConfig)

// WithStart sets the initial clock time.
func WithStart(t time.Time) HarnessOption {
	return func(c *harnessConfig) {
		c.start = t
	}
}

// WithSnapshotOptions adds snapshot service options.
func WithSnapshotOptions(opts ...chronicle.SnapshotServiceOption) HarnessOption {
	return func(c *harnessConfig) {
		c.snapshotOpts = append(c.snapshotOpts, opts...)
	}
}

// WithArchiveOptions adds archive service options.
func WithArchiveOptions(opts ...chronicle.ArchiveOption) HarnessOption {
	return func(c *harnessConfig) {
		c.archiveOpts = append(c.archiveOpts, opts...)
	}
}

// WithHotWrapper wraps the hot adapter the event store writes through.
func WithHotWrapper(wrap func(adapters.EventStoreAdapter) adapters.EventStoreAdapter) HarnessOption {
	return func(c *harnessConfig) {
		c.wrapHot = wrap
	}
}

// NewHarness builds the stack. The clock starts at WithStart or at a fixed
// date in 2024.
func NewHarness(opts ...HarnessOption) *Harness {
	cfg := harnessConfig{
		start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	clock := NewClock(cfg.start)
	h := &Harness{
		Clock:   clock,
		Hot:     memory.NewAdapter(memory.WithClock(clock.Now)),
		Cold:    memory.NewAdapter(memory.WithClock(clock.Now)),
		Notices: &RecordingNotifier{},
	}

	var hot adapters.EventStoreAdapter = h.Hot
	if cfg.wrapHot != nil {
		hot = cfg.wrapHot(hot)
	}
	h.Store = chronicle.New(hot, chronicle.WithArchive(h.Cold))
	character.RegisterEvents(h.Store)

	snapshotOpts := append([]chronicle.SnapshotServiceOption{
		chronicle.WithClock(clock.Now),
		chronicle.WithNotifier(h.Notices),
		chronicle.WithStrategy(chronicle.NewDefaultStrategy(chronicle.WithStrategyClock(clock.Now))),
	}, cfg.snapshotOpts...)
	h.Snapshots = chronicle.NewSnapshotService(h.Store, h.Hot,
		chronicle.NewReconstructor(character.Transitions()),
		character.NewCodec(),
		snapshotOpts...,
	)

	archiveOpts := append([]chronicle.ArchiveOption{
		chronicle.WithArchiveClock(clock.Now),
		chronicle.WithArchiveNotifier(h.Notices),
	}, cfg.archiveOpts...)
	h.Archiver = chronicle.NewArchiveService(h.Snapshots, h.Cold, character.CompareCore, archiveOpts...)

	return h
}

// SeedCharacter writes n simulated events to the character with id.
func (h *Harness) SeedCharacter(ctx context.Context, id string, n int, seed int64) (int64, error) {
	return Seed(ctx, h.Store, character.StreamID(id), CharacterHistory(seed, n))
}

// Close shuts down the snapshot service's work queue.
func (h *Harness) Close(ctx context.Context) error {
	return h.Snapshots.Close(ctx)
}
