package chronicle

import (
	"time"

	"github.com/emberforge/chronicle/adapters"
)

// Default snapshot policy thresholds.
const (
	DefaultMinEvents      int64 = 100
	DefaultEventThreshold int64 = 1000
	DefaultMaxAge               = 24 * time.Hour
)

// SnapshotInfo is the part of the latest snapshot a strategy looks at.
type SnapshotInfo struct {
	EventVersion int64
	CreatedAt    time.Time
}

// StrategyThresholds are the policy values batch jobs use to find due
// aggregates without reconstructing them.
type StrategyThresholds struct {
	// MinEvents is the event count at which an aggregate without snapshots gets one.
	MinEvents int64

	// EventThreshold is the number of events since the latest snapshot that triggers a new one.
	EventThreshold int64

	// MaxAge is the snapshot age after which a new one is taken if events arrived.
	MaxAge time.Duration
}

// SnapshotStrategy decides whether an aggregate needs a new snapshot.
type SnapshotStrategy interface {
	// ShouldSnapshot reports whether a stream with currentEventCount events and
	// the given latest snapshot (nil if none) needs a new snapshot.
	ShouldSnapshot(currentEventCount int64, latest *SnapshotInfo) bool

	// Thresholds returns the policy values.
	Thresholds() StrategyThresholds
}

// DefaultStrategy applies, in order: a minimum event count for aggregates
// without snapshots, an event threshold since the latest snapshot and a
// maximum snapshot age.
type DefaultStrategy struct {
	thresholds StrategyThresholds
	now        func() time.Time
}

// StrategyOption configures a DefaultStrategy.
type StrategyOption func(*DefaultStrategy)

// WithMinEvents sets the first-snapshot event count.
func WithMinEvents(n int64) StrategyOption {
	return func(s *DefaultStrategy) {
		s.thresholds.MinEvents = n
	}
}

// WithEventThreshold sets the events-since-snapshot threshold.
func WithEventThreshold(n int64) StrategyOption {
	return func(s *DefaultStrategy) {
		s.thresholds.EventThreshold = n
	}
}

// WithMaxSnapshotAge sets the snapshot age limit.
func WithMaxSnapshotAge(d time.Duration) StrategyOption {
	return func(s *DefaultStrategy) {
		s.thresholds.MaxAge = d
	}
}

// WithStrategyClock sets the clock used for age checks.
func WithStrategyClock(now func() time.Time) StrategyOption {
	return func(s *DefaultStrategy) {
		s.now = now
	}
}

// NewDefaultStrategy creates a DefaultStrategy with defaults of 100 events,
// 1000 events since snapshot and 24 hours.
func NewDefaultStrategy(opts ...StrategyOption) *DefaultStrategy {
	s := &DefaultStrategy{
		thresholds: StrategyThresholds{
			MinEvents:      DefaultMinEvents,
			EventThreshold: DefaultEventThreshold,
			MaxAge:         DefaultMaxAge,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Thresholds implements SnapshotStrategy.
func (s *DefaultStrategy) Thresholds() StrategyThresholds {
	return s.thresholds
}

// ShouldSnapshot implements SnapshotStrategy.
func (s *DefaultStrategy) ShouldSnapshot(currentEventCount int64, latest *SnapshotInfo) bool {
	if currentEventCount <= 0 {
		return false
	}

	if latest == nil {
		return currentEventCount >= s.thresholds.MinEvents
	}

	since := currentEventCount - latest.EventVersion
	if since <= 0 {
		return false
	}

	if s.thresholds.EventThreshold > 0 && since >= s.thresholds.EventThreshold {
		return true
	}

	return s.thresholds.MaxAge > 0 && s.now().Sub(latest.CreatedAt) > s.thresholds.MaxAge
}

// candidateCriteria converts thresholds into an adapter scan.
func (t StrategyThresholds) candidateCriteria(now time.Time, limit int) adapters.SnapshotCandidateCriteria {
	c := adapters.SnapshotCandidateCriteria{
		MinEvents:      t.MinEvents,
		EventThreshold: t.EventThreshold,
		Limit:          limit,
	}
	if t.MaxAge > 0 {
		c.SnapshotOlderThan = now.Add(-t.MaxAge)
	}
	return c
}
