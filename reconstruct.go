package chronicle

import (
	"errors"
	"fmt"
	"sort"
)

// Transition applies one event to an aggregate state and returns the new state.
// Transitions must be pure: the same state and event always give the same
// result, and the input state is never mutated in place.
type Transition[S any] func(state S, event Event) (S, error)

// Transitions maps event types to their transition functions.
type Transitions[S any] map[string]Transition[S]

// Validate reports every event type in eventTypes that has no transition.
// Call it at startup with the full event catalogue.
func (t Transitions[S]) Validate(eventTypes ...string) error {
	var missing []string
	for _, et := range eventTypes {
		if _, ok := t[et]; !ok {
			missing = append(missing, et)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	sort.Strings(missing)
	errs := make([]error, len(missing))
	for i, et := range missing {
		errs[i] = NewUnknownEventTypeError(et, 0)
	}
	return errors.Join(errs...)
}

// Types returns the registered event types in sorted order.
func (t Transitions[S]) Types() []string {
	types := make([]string, 0, len(t))
	for et := range t {
		types = append(types, et)
	}
	sort.Strings(types)
	return types
}

// Seed is a known state at a given version, typically decoded from a snapshot.
type Seed[S any] struct {
	State   S
	Version int64
}

// Reconstructor folds events into aggregate state.
type Reconstructor[S any] struct {
	transitions Transitions[S]
	initial     func() S
}

// ReconstructorOption configures a Reconstructor.
type ReconstructorOption[S any] func(*Reconstructor[S])

// WithInitialState sets the state a replay without a seed starts from.
// The default is the zero value of S.
func WithInitialState[S any](initial func() S) ReconstructorOption[S] {
	return func(r *Reconstructor[S]) {
		r.initial = initial
	}
}

// NewReconstructor creates a Reconstructor over the given transition table.
func NewReconstructor[S any](transitions Transitions[S], opts ...ReconstructorOption[S]) *Reconstructor[S] {
	r := &Reconstructor[S]{
		transitions: transitions,
		initial: func() S {
			var zero S
			return zero
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Transitions returns the transition table.
func (r *Reconstructor[S]) Transitions() Transitions[S] {
	return r.transitions
}

// Reconstruct folds events into a state and returns it with the version of
// the last applied event.
//
// With a seed, events must continue at seed.Version+1. Without one, replay
// starts at version 1 from the initial state. Any gap or reordering yields a
// *VersionGapError, and an event without a transition yields an
// *UnknownEventTypeError.
func (r *Reconstructor[S]) Reconstruct(events []Event, seed *Seed[S]) (S, int64, error) {
	state := r.initial()
	version := int64(0)
	if seed != nil {
		state = seed.State
		version = seed.Version
	}

	for _, e := range events {
		if e.Version != version+1 {
			var zero S
			return zero, 0, NewVersionGapError(e.StreamID, version+1, e.Version)
		}

		apply, ok := r.transitions[e.Type]
		if !ok {
			var zero S
			return zero, 0, NewUnknownEventTypeError(e.Type, e.Version)
		}

		next, err := apply(state, e)
		if err != nil {
			var zero S
			return zero, 0, fmt.Errorf("chronicle: failed to apply %s at version %d: %w", e.Type, e.Version, err)
		}

		state = next
		version = e.Version
	}

	return state, version, nil
}
