package chronicle

import (
	"context"
	"time"
)

// Reconstruction paths reported to metrics.
const (
	PathSnapshot   = "snapshot"
	PathFullReplay = "full_replay"
)

// MetricsSink receives operational measurements from the services.
// middleware/metrics provides a Prometheus implementation.
type MetricsSink interface {
	RecordReconstruction(path string, duration time.Duration, eventCount int)
	RecordSnapshotFallback(reason string)
	RecordSnapshotCreated(duration time.Duration, sizeBytes int64)
	RecordSnapshotFailed()
	RecordSnapshotsDeleted(n int)
	RecordEventsArchived(n int)
	RecordCompression(originalBytes, compressedBytes int64)
	RecordIntegrityCheck(ok bool)
	RecordQueueDropped()
}

type noopMetrics struct{}

func (noopMetrics) RecordReconstruction(string, time.Duration, int)   {}
func (noopMetrics) RecordSnapshotFallback(string)                     {}
func (noopMetrics) RecordSnapshotCreated(time.Duration, int64)        {}
func (noopMetrics) RecordSnapshotFailed()                             {}
func (noopMetrics) RecordSnapshotsDeleted(int)                        {}
func (noopMetrics) RecordEventsArchived(int)                          {}
func (noopMetrics) RecordCompression(int64, int64)                    {}
func (noopMetrics) RecordIntegrityCheck(bool)                         {}
func (noopMetrics) RecordQueueDropped()                               {}

// ReconstructionRecorder receives the cost of every successful read.
// PerformanceMonitor implements it.
type ReconstructionRecorder interface {
	RecordReconstruction(streamID string, duration time.Duration, eventCount int, usedSnapshot bool)
}

// Maintenance event kinds published to a Notifier.
const (
	NoticeSnapshotsCreated  = "snapshots.created"
	NoticeSnapshotsCleaned  = "snapshots.cleaned"
	NoticeEventsArchived    = "events.archived"
	NoticeIntegrityMismatch = "integrity.mismatch"
)

// MaintenanceNotice describes the outcome of a maintenance run.
type MaintenanceNotice struct {
	Kind       string            `json:"kind"`
	StreamID   string            `json:"streamId,omitempty"`
	Count      int               `json:"count"`
	Failures   int               `json:"failures"`
	Detail     map[string]string `json:"detail,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// Notifier publishes maintenance notices to external systems.
// Implementations live under notify/.
type Notifier interface {
	Notify(ctx context.Context, notice MaintenanceNotice) error
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, MaintenanceNotice) error { return nil }
