package chronicle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emberforge/chronicle/adapters"
)

// Snapshot service defaults.
const (
	DefaultSnapshotRetention = 5
	DefaultSnapshotBatchSize = 50
)

// Reconstruction is the result of reading an aggregate.
type Reconstruction[S any] struct {
	StreamID string
	State    S

	// Version is the version of the last event folded into State.
	Version int64

	// EventsApplied is the number of events replayed for this read.
	EventsApplied int

	// UsedSnapshot reports whether the read started from a snapshot.
	UsedSnapshot    bool
	SnapshotVersion int64

	Duration time.Duration
}

// SnapshotStatistics summarizes the snapshots of one aggregate.
type SnapshotStatistics struct {
	StreamID              string
	CurrentVersion        int64
	SnapshotCount         int
	LatestSnapshotVersion int64
	EventsSinceSnapshot   int64
	TotalSizeBytes        int64
	AverageSizeBytes      int64
	AverageCreationTime   time.Duration
	OldestSnapshotAt      time.Time
	NewestSnapshotAt      time.Time
	SnapshotRecommended   bool
}

// CleanupResult reports a snapshot retention run.
type CleanupResult struct {
	StreamsScanned   int
	SnapshotsDeleted int64
	Failures         []*AggregateError
}

// BatchResult reports a pending-snapshot run.
type BatchResult struct {
	Scanned  int
	Created  int
	Skipped  int
	Failures []*AggregateError
}

// Err joins the per-aggregate failures, or returns nil.
func (r *BatchResult) Err() error {
	return joinAggregateErrors(r.Failures)
}

type snapshotServiceConfig struct {
	strategy     SnapshotStrategy
	queue        *WorkQueue
	recorder     ReconstructionRecorder
	metrics      MetricsSink
	notifier     Notifier
	logger       Logger
	now          func() time.Time
	retention    int
	batchSize    int
	autoSnapshot bool
}

// SnapshotServiceOption configures a SnapshotService.
type SnapshotServiceOption func(*snapshotServiceConfig)

// WithStrategy sets the snapshot strategy.
func WithStrategy(s SnapshotStrategy) SnapshotServiceOption {
	return func(c *snapshotServiceConfig) {
		c.strategy = s
	}
}

// WithWorkQueue shares a work queue for background snapshot evaluation.
// The caller owns the queue and must close it.
func WithWorkQueue(q *WorkQueue) SnapshotServiceOption {
	return func(c *snapshotServiceConfig) {
		c.queue = q
	}
}

// WithRecorder sets the collaborator that receives reconstruction costs.
func WithRecorder(r ReconstructionRecorder) SnapshotServiceOption {
	return func(c *snapshotServiceConfig) {
		c.recorder = r
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m MetricsSink) SnapshotServiceOption {
	return func(c *snapshotServiceConfig) {
		c.metrics = m
	}
}

// WithNotifier sets the maintenance notifier.
func WithNotifier(n Notifier) SnapshotServiceOption {
	return func(c *snapshotServiceConfig) {
		c.notifier = n
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l Logger) SnapshotServiceOption {
	return func(c *snapshotServiceConfig) {
		c.logger = l
	}
}

// WithClock sets the clock used for snapshot timestamps.
func WithClock(now func() time.Time) SnapshotServiceOption {
	return func(c *snapshotServiceConfig) {
		c.now = now
	}
}

// WithSnapshotRetention sets how many snapshots per aggregate cleanup keeps.
func WithSnapshotRetention(n int) SnapshotServiceOption {
	return func(c *snapshotServiceConfig) {
		if n > 0 {
			c.retention = n
		}
	}
}

// WithSnapshotBatchSize caps the snapshots created per pending run.
func WithSnapshotBatchSize(n int) SnapshotServiceOption {
	return func(c *snapshotServiceConfig) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithAutoSnapshot enables or disables snapshot evaluation after reads.
func WithAutoSnapshot(enabled bool) SnapshotServiceOption {
	return func(c *snapshotServiceConfig) {
		c.autoSnapshot = enabled
	}
}

// SnapshotService reads aggregates through snapshots and manages the
// snapshot lifecycle.
type SnapshotService[S any] struct {
	store         *EventStore
	snapshots     adapters.SnapshotAdapter
	reconstructor *Reconstructor[S]
	codec         *SnapshotCodec[S]
	locks         *keyedMutex
	ownsQueue     bool
	pending       batchCursor

	snapshotServiceConfig

	recorderMu sync.RWMutex
}

// NewSnapshotService creates a SnapshotService.
// Without WithWorkQueue it starts a private queue that Close shuts down.
func NewSnapshotService[S any](
	store *EventStore,
	snapshots adapters.SnapshotAdapter,
	reconstructor *Reconstructor[S],
	codec *SnapshotCodec[S],
	opts ...SnapshotServiceOption,
) *SnapshotService[S] {
	cfg := snapshotServiceConfig{
		metrics:      noopMetrics{},
		notifier:     noopNotifier{},
		logger:       &noopLogger{},
		now:          time.Now,
		retention:    DefaultSnapshotRetention,
		batchSize:    DefaultSnapshotBatchSize,
		autoSnapshot: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &SnapshotService[S]{
		store:                 store,
		snapshots:             snapshots,
		reconstructor:         reconstructor,
		codec:                 codec,
		locks:                 newKeyedMutex(),
		snapshotServiceConfig: cfg,
	}

	if s.strategy == nil {
		s.strategy = NewDefaultStrategy(WithStrategyClock(s.now))
	}
	if s.queue == nil {
		s.queue = NewWorkQueue(WithQueueLogger(s.logger))
		s.ownsQueue = true
	}

	return s
}

// SetRecorder replaces the reconstruction recorder. It lets a monitor that
// depends on this service register itself after construction.
func (s *SnapshotService[S]) SetRecorder(r ReconstructionRecorder) {
	s.recorderMu.Lock()
	defer s.recorderMu.Unlock()
	s.recorder = r
}

// Strategy returns the snapshot strategy.
func (s *SnapshotService[S]) Strategy() SnapshotStrategy {
	return s.strategy
}

// Queue returns the work queue used for background evaluation.
func (s *SnapshotService[S]) Queue() *WorkQueue {
	return s.queue
}

// Store returns the event store.
func (s *SnapshotService[S]) Store() *EventStore {
	return s.store
}

// GetAggregate reconstructs the current state of an aggregate.
//
// The latest snapshot plus its tail is tried first. Any failure on that path
// falls back to replaying the full history, so callers never see a snapshot
// problem. After a successful read the cost is recorded and a snapshot
// evaluation is queued without waiting for it.
func (s *SnapshotService[S]) GetAggregate(ctx context.Context, streamID string) (*Reconstruction[S], error) {
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}

	start := time.Now()

	result, err := s.fromSnapshot(ctx, streamID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Warn("Snapshot read failed, replaying full history", "streamId", streamID, "error", err)
		s.metrics.RecordSnapshotFallback(fallbackReason(err))
		result = nil
	}

	if result == nil {
		s.logger.Info("No usable snapshot, replaying full history", "streamId", streamID)
		result, err = s.fromHistory(ctx, streamID)
		if err != nil {
			return nil, err
		}
	}

	result.Duration = time.Since(start)

	path := PathFullReplay
	if result.UsedSnapshot {
		path = PathSnapshot
	}
	s.metrics.RecordReconstruction(path, result.Duration, result.EventsApplied)

	s.recorderMu.RLock()
	recorder := s.recorder
	s.recorderMu.RUnlock()
	if recorder != nil {
		recorder.RecordReconstruction(streamID, result.Duration, result.EventsApplied, result.UsedSnapshot)
	}

	if s.autoSnapshot {
		s.ScheduleSnapshotEvaluation(streamID)
	}

	return result, nil
}

// fromSnapshot returns nil, nil when the aggregate has no snapshot.
func (s *SnapshotService[S]) fromSnapshot(ctx context.Context, streamID string) (*Reconstruction[S], error) {
	snapshot, err := s.snapshots.LoadLatestSnapshot(ctx, streamID)
	if err != nil {
		return nil, fmt.Errorf("chronicle: failed to load snapshot: %w", err)
	}
	if snapshot == nil {
		return nil, nil
	}

	seed, err := s.codec.Decode(snapshot.Data)
	if err != nil {
		return nil, err
	}

	tail, err := s.store.LoadFrom(ctx, streamID, snapshot.EventVersion)
	if err != nil {
		return nil, err
	}

	state, version, err := s.reconstructor.Reconstruct(tail, &Seed[S]{State: seed, Version: snapshot.EventVersion})
	if err != nil {
		return nil, err
	}

	return &Reconstruction[S]{
		StreamID:        streamID,
		State:           state,
		Version:         version,
		EventsApplied:   len(tail),
		UsedSnapshot:    true,
		SnapshotVersion: snapshot.EventVersion,
	}, nil
}

func (s *SnapshotService[S]) fromHistory(ctx context.Context, streamID string) (*Reconstruction[S], error) {
	history, err := s.store.LoadHistory(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, NewStreamNotFoundError(streamID)
	}

	events, err := s.store.Decode(history)
	if err != nil {
		return nil, err
	}

	state, version, err := s.reconstructor.Reconstruct(events, nil)
	if err != nil {
		return nil, err
	}

	return &Reconstruction[S]{
		StreamID:      streamID,
		State:         state,
		Version:       version,
		EventsApplied: len(events),
	}, nil
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, ErrSerializationFailed):
		return "serialization"
	case errors.Is(err, ErrVersionGap):
		return "version_gap"
	case errors.Is(err, ErrUnknownEventType):
		return "unknown_event"
	default:
		return "error"
	}
}

// ScheduleSnapshotEvaluation queues CreateSnapshotIfNeeded for the aggregate.
// It never blocks. When the queue is full the evaluation is dropped and
// counted. Returns true when a task was queued.
func (s *SnapshotService[S]) ScheduleSnapshotEvaluation(streamID string) bool {
	queued, err := s.queue.SubmitKeyed("snapshot:"+streamID, "snapshot-evaluation", func(ctx context.Context) error {
		_, err := s.CreateSnapshotIfNeeded(ctx, streamID)
		return err
	})
	if err != nil {
		s.metrics.RecordQueueDropped()
		s.logger.Debug("Snapshot evaluation dropped", "streamId", streamID, "error", err)
		return false
	}
	return queued
}

// CreateSnapshotIfNeeded asks the strategy whether the aggregate is due and
// creates a snapshot when it is.
func (s *SnapshotService[S]) CreateSnapshotIfNeeded(ctx context.Context, streamID string) (bool, error) {
	unlock, err := s.locks.Lock(ctx, streamID)
	if err != nil {
		return false, err
	}
	defer unlock()

	due, err := s.isDue(ctx, streamID)
	if err != nil || !due {
		return false, err
	}

	if _, err := s.createSnapshotLocked(ctx, streamID, true); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SnapshotService[S]) isDue(ctx context.Context, streamID string) (bool, error) {
	info, err := s.store.GetStreamInfo(ctx, streamID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	latest, err := s.snapshots.LoadLatestSnapshot(ctx, streamID)
	if err != nil {
		return false, fmt.Errorf("chronicle: failed to load snapshot: %w", err)
	}

	return s.strategy.ShouldSnapshot(info.Version, snapshotInfo(latest)), nil
}

func snapshotInfo(r *adapters.SnapshotRecord) *SnapshotInfo {
	if r == nil {
		return nil
	}
	return &SnapshotInfo{EventVersion: r.EventVersion, CreatedAt: r.CreatedAt}
}

// CreateSnapshot snapshots the aggregate regardless of the strategy.
// Returns ErrNoEventsFound when the aggregate has no history.
func (s *SnapshotService[S]) CreateSnapshot(ctx context.Context, streamID string) (*adapters.SnapshotRecord, error) {
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}

	unlock, err := s.locks.Lock(ctx, streamID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.createSnapshotLocked(ctx, streamID, false)
}

// createSnapshotLocked requires the caller to hold the stream's keyed lock.
// With incremental set, state is rebuilt from the latest snapshot when it
// is readable.
func (s *SnapshotService[S]) createSnapshotLocked(ctx context.Context, streamID string, incremental bool) (*adapters.SnapshotRecord, error) {
	start := time.Now()

	record, err := s.buildSnapshot(ctx, streamID, start, incremental)
	if err != nil {
		if !errors.Is(err, ErrNoEventsFound) {
			s.metrics.RecordSnapshotFailed()
		}
		return nil, err
	}

	if err := s.snapshots.SaveSnapshot(ctx, record); err != nil {
		s.metrics.RecordSnapshotFailed()
		return nil, fmt.Errorf("chronicle: failed to save snapshot for %s: %w", streamID, err)
	}

	s.metrics.RecordSnapshotCreated(record.CreationDuration, record.StateSizeBytes)
	s.logger.Info("Snapshot created",
		"streamId", streamID,
		"eventVersion", record.EventVersion,
		"sizeBytes", record.StateSizeBytes,
		"duration", record.CreationDuration)

	return record, nil
}

func (s *SnapshotService[S]) buildSnapshot(ctx context.Context, streamID string, start time.Time, incremental bool) (*adapters.SnapshotRecord, error) {
	var rebuilt *Reconstruction[S]
	if incremental {
		r, err := s.fromSnapshot(ctx, streamID)
		if err != nil {
			s.logger.Debug("Incremental rebuild failed, using full history", "streamId", streamID, "error", err)
		}
		rebuilt = r
	}

	if rebuilt == nil {
		r, err := s.fromHistory(ctx, streamID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNoEventsFound, streamID)
			}
			return nil, err
		}
		rebuilt = r
	}

	state, version := rebuilt.State, rebuilt.Version

	data, err := s.codec.Encode(state)
	if err != nil {
		return nil, err
	}

	return &adapters.SnapshotRecord{
		StreamID:         streamID,
		EventVersion:     version,
		TotalEventCount:  version,
		CreatedAt:        s.now(),
		Data:             data,
		StateSizeBytes:   int64(len(data)),
		CreationDuration: time.Since(start),
	}, nil
}

// ensureSnapshotLocked returns the latest snapshot if it was created at or
// after notBefore, and creates a new one otherwise. The caller holds the
// stream's keyed lock, so the returned snapshot is durable before archiving
// relies on it.
func (s *SnapshotService[S]) ensureSnapshotLocked(ctx context.Context, streamID string, notBefore time.Time) (*adapters.SnapshotRecord, bool, error) {
	latest, err := s.snapshots.LoadLatestSnapshot(ctx, streamID)
	if err != nil {
		return nil, false, fmt.Errorf("chronicle: failed to load snapshot: %w", err)
	}
	if latest != nil && !latest.CreatedAt.Before(notBefore) {
		return latest, false, nil
	}

	created, err := s.createSnapshotLocked(ctx, streamID, false)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// CleanupOldSnapshots keeps the newest snapshots of every aggregate up to the
// retention count and deletes the rest. The latest snapshot is always kept.
func (s *SnapshotService[S]) CleanupOldSnapshots(ctx context.Context) (*CleanupResult, error) {
	streams, err := s.snapshots.ListSnapshotStreams(ctx, s.retention+1)
	if err != nil {
		return nil, fmt.Errorf("chronicle: failed to list snapshot streams: %w", err)
	}

	result := &CleanupResult{}
	for _, stream := range streams {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.StreamsScanned++

		deleted, err := s.cleanupStream(ctx, stream.StreamID)
		if err != nil {
			result.Failures = append(result.Failures, NewAggregateError(stream.StreamID, err))
			s.logger.Error("Snapshot cleanup failed", "streamId", stream.StreamID, "error", err)
			continue
		}
		result.SnapshotsDeleted += deleted
	}

	if result.SnapshotsDeleted > 0 {
		s.metrics.RecordSnapshotsDeleted(int(result.SnapshotsDeleted))
		s.notify(ctx, MaintenanceNotice{
			Kind:     NoticeSnapshotsCleaned,
			Count:    int(result.SnapshotsDeleted),
			Failures: len(result.Failures),
		})
	}

	return result, nil
}

func (s *SnapshotService[S]) cleanupStream(ctx context.Context, streamID string) (int64, error) {
	records, err := s.snapshots.ListSnapshots(ctx, streamID)
	if err != nil {
		return 0, err
	}
	if len(records) <= s.retention {
		return 0, nil
	}

	var ids []string
	for _, r := range records[s.retention:] {
		if !r.IsLatest {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	return s.snapshots.DeleteSnapshots(ctx, streamID, ids)
}

// ProcessPendingSnapshots snapshots aggregates that crossed the strategy
// thresholds, up to the batch size per run. Each run resumes after the last
// aggregate the previous run visited. Cancellation is checked between
// aggregates; a failure on one aggregate does not stop the others.
func (s *SnapshotService[S]) ProcessPendingSnapshots(ctx context.Context) (*BatchResult, error) {
	criteria := s.strategy.Thresholds().candidateCriteria(s.now(), s.batchSize)

	candidates, err := pageAfter(&s.pending, criteria.Limit,
		func(c adapters.SnapshotCandidate) string { return c.StreamID },
		func(after string, limit int) ([]adapters.SnapshotCandidate, error) {
			page := criteria
			page.After, page.Limit = after, limit
			return s.snapshots.ListSnapshotCandidates(ctx, page)
		})
	if err != nil {
		return nil, fmt.Errorf("chronicle: failed to list snapshot candidates: %w", err)
	}

	result := &BatchResult{}
	var lastVisited string
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			s.pending.interrupted(lastVisited)
			return result, err
		}
		result.Scanned++
		lastVisited = c.StreamID

		created, err := s.CreateSnapshotIfNeeded(ctx, c.StreamID)
		switch {
		case err != nil:
			result.Failures = append(result.Failures, NewAggregateError(c.StreamID, err))
			s.logger.Error("Pending snapshot failed", "streamId", c.StreamID, "error", err)
		case created:
			result.Created++
		default:
			result.Skipped++
		}
	}

	if result.Created > 0 || len(result.Failures) > 0 {
		s.notify(ctx, MaintenanceNotice{
			Kind:     NoticeSnapshotsCreated,
			Count:    result.Created,
			Failures: len(result.Failures),
		})
	}

	return result, nil
}

// GetSnapshotStatistics summarizes the snapshots of one aggregate.
func (s *SnapshotService[S]) GetSnapshotStatistics(ctx context.Context, streamID string) (*SnapshotStatistics, error) {
	info, err := s.store.GetStreamInfo(ctx, streamID)
	if err != nil {
		return nil, err
	}

	records, err := s.snapshots.ListSnapshots(ctx, streamID)
	if err != nil {
		return nil, fmt.Errorf("chronicle: failed to list snapshots: %w", err)
	}

	stats := &SnapshotStatistics{
		StreamID:       streamID,
		CurrentVersion: info.Version,
		SnapshotCount:  len(records),
	}

	var latest *adapters.SnapshotRecord
	var totalDuration time.Duration
	for i := range records {
		r := &records[i]
		stats.TotalSizeBytes += r.StateSizeBytes
		totalDuration += r.CreationDuration
		if r.IsLatest {
			latest = r
		}
		if stats.OldestSnapshotAt.IsZero() || r.CreatedAt.Before(stats.OldestSnapshotAt) {
			stats.OldestSnapshotAt = r.CreatedAt
		}
		if r.CreatedAt.After(stats.NewestSnapshotAt) {
			stats.NewestSnapshotAt = r.CreatedAt
		}
	}

	if len(records) > 0 {
		stats.AverageSizeBytes = stats.TotalSizeBytes / int64(len(records))
		stats.AverageCreationTime = totalDuration / time.Duration(len(records))
	}

	stats.EventsSinceSnapshot = info.Version
	if latest != nil {
		stats.LatestSnapshotVersion = latest.EventVersion
		stats.EventsSinceSnapshot = info.Version - latest.EventVersion
	}
	stats.SnapshotRecommended = s.strategy.ShouldSnapshot(info.Version, snapshotInfo(latest))

	return stats, nil
}

func (s *SnapshotService[S]) notify(ctx context.Context, notice MaintenanceNotice) {
	notice.OccurredAt = s.now()
	if err := s.notifier.Notify(ctx, notice); err != nil {
		s.logger.Warn("Maintenance notification failed", "kind", notice.Kind, "error", err)
	}
}

// Close shuts down the private work queue, waiting for queued evaluations.
func (s *SnapshotService[S]) Close(ctx context.Context) error {
	if !s.ownsQueue {
		return nil
	}
	return s.queue.Close(ctx)
}
