// Package chronicle provides the snapshot and archival layer of an
// event-sourced game backend.
//
// Aggregate state is never stored directly. It is derived by folding an
// append-only log of events through a table of pure transition functions.
// Chronicle keeps those folds cheap as histories grow: it takes snapshots,
// reconstructs from the latest snapshot plus its tail, archives events that a
// durable snapshot has made redundant and measures reconstruction cost to
// decide when to do which.
//
// # Quick Start
//
// Wire the services over the in-memory adapter for development:
//
//	import (
//	    "github.com/emberforge/chronicle"
//	    "github.com/emberforge/chronicle/adapters/memory"
//	    "github.com/emberforge/chronicle/character"
//	)
//
//	adapter := memory.NewAdapter()
//	store := chronicle.New(adapter)
//	character.RegisterEvents(store)
//
//	snapshots := chronicle.NewSnapshotService(store, adapter,
//	    chronicle.NewReconstructor(character.Transitions()),
//	    chronicle.NewSnapshotCodec[character.Character](character.SchemaName, character.SchemaVersion),
//	)
//	defer snapshots.Close(ctx)
//
//	result, err := snapshots.GetAggregate(ctx, "Character-42")
//
// For production, use the PostgreSQL adapter for hot events and snapshots and
// the SQLite adapter for cold archive storage:
//
//	hot, err := postgres.NewAdapter(connStr)
//	cold, err := sqlite.NewAdapter(ctx, "archive.db")
//
// # Reconstruction
//
// Transitions map an event type to a pure function:
//
//	chronicle.Transitions[Character]{
//	    "ExperienceGained": func(c Character, e chronicle.Event) (Character, error) {
//	        c.Experience += e.Data.(ExperienceGained).Amount
//	        return c, nil
//	    },
//	}
//
// Replaying events v+1..n on a snapshot taken at v yields the same state as
// replaying 1..n. Unknown event types and version gaps are errors.
//
// # Maintenance
//
// ArchiveService moves events behind a durable snapshot into archive storage
// and produces compressed batches and rollups for audit and reporting.
// PerformanceMonitor records reconstruction cost and runs the periodic
// maintenance tick.
package chronicle

// Version is the current version of chronicle.
const Version = "0.4.0"
