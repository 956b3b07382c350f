package chronicle

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/emberforge/chronicle/adapters"
	"github.com/google/uuid"
)

// Archive service defaults.
const (
	DefaultSafetyMargin     = 24 * time.Hour
	DefaultArchiveBatchSize = 100
	DefaultKeepRecent       = 1000
)

// Comparator returns the observable fields that differ between the state
// rebuilt by the live read path and the state rebuilt from archive storage.
type Comparator[S any] func(live, archived S) []FieldMismatch

// DeepEqualComparator compares whole states with reflect.DeepEqual.
func DeepEqualComparator[S any](live, archived S) []FieldMismatch {
	if reflect.DeepEqual(live, archived) {
		return nil
	}
	return []FieldMismatch{{Field: "state", Live: live, Archived: archived}}
}

// ArchiveResult reports an archival run.
type ArchiveResult struct {
	Cutoff             time.Time
	AggregatesScanned  int
	AggregatesArchived int
	EventsArchived     int64
	SnapshotsCreated   int
	Failures           []*AggregateError
}

// Err joins the per-aggregate failures, or returns nil.
func (r *ArchiveResult) Err() error {
	return joinAggregateErrors(r.Failures)
}

// CompressionResult reports a CompressEventHistory call.
type CompressionResult struct {
	StreamID         string
	TotalEvents      int
	EventsCompressed int
	BatchesCreated   int
	OriginalBytes    int64
	CompressedBytes  int64
	BytesSaved       int64
	Ratio            float64
	Message          string
}

// RollupResult reports a CreateEventRollups call.
type RollupResult struct {
	StreamID       string
	Interval       time.Duration
	EventsScanned  int
	RollupsCreated int
	SpaceSaved     int64
}

// ValidationResult reports a ValidateArchivedData call.
type ValidationResult struct {
	StreamID         string
	Valid            bool
	LiveVersion      int64
	ArchivedVersion  int64
	ArchivedEvents   int
	CompressedEvents int
	HotEvents        int
	Mismatches       []FieldMismatch
}

// StorageStatistics summarizes hot, archive and snapshot storage.
type StorageStatistics struct {
	Streams           int
	HotEvents         int64
	ArchivedEvents    int64
	ArchivedStreams   int64
	CompressedBatches int64
	CompressedEvents  int64
	OriginalBytes     int64
	CompressedBytes   int64
	CompressionRatio  float64
	Rollups           int64
	Snapshots         int64
	SnapshotBytes     int64
}

// ArchiveOption configures an ArchiveService.
type ArchiveOption func(*archiveConfig)

type archiveConfig struct {
	safetyMargin time.Duration
	batchSize    int
	metrics      MetricsSink
	notifier     Notifier
	logger       Logger
	now          func() time.Time
}

// WithSafetyMargin sets how far before the snapshot's creation an event must
// be to qualify for archiving.
func WithSafetyMargin(d time.Duration) ArchiveOption {
	return func(c *archiveConfig) {
		if d >= 0 {
			c.safetyMargin = d
		}
	}
}

// WithArchiveBatchSize caps the aggregates visited per ArchiveOldEvents run.
func WithArchiveBatchSize(n int) ArchiveOption {
	return func(c *archiveConfig) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithArchiveMetrics sets the metrics sink.
func WithArchiveMetrics(m MetricsSink) ArchiveOption {
	return func(c *archiveConfig) {
		c.metrics = m
	}
}

// WithArchiveNotifier sets the maintenance notifier.
func WithArchiveNotifier(n Notifier) ArchiveOption {
	return func(c *archiveConfig) {
		c.notifier = n
	}
}

// WithArchiveLogger sets the logger.
func WithArchiveLogger(l Logger) ArchiveOption {
	return func(c *archiveConfig) {
		c.logger = l
	}
}

// WithArchiveClock sets the clock used for cutoffs.
func WithArchiveClock(now func() time.Time) ArchiveOption {
	return func(c *archiveConfig) {
		c.now = now
	}
}

// ArchiveService moves old events out of the hot store and maintains
// compressed batches and rollups for audit.
type ArchiveService[S any] struct {
	snapshots  *SnapshotService[S]
	store      *EventStore
	archive    adapters.ArchiveAdapter
	comparator Comparator[S]
	cursor     batchCursor

	archiveConfig
}

// NewArchiveService creates an ArchiveService. A nil comparator compares
// whole states.
func NewArchiveService[S any](
	snapshots *SnapshotService[S],
	archive adapters.ArchiveAdapter,
	comparator Comparator[S],
	opts ...ArchiveOption,
) *ArchiveService[S] {
	cfg := archiveConfig{
		safetyMargin: DefaultSafetyMargin,
		batchSize:    DefaultArchiveBatchSize,
		metrics:      noopMetrics{},
		notifier:     noopNotifier{},
		logger:       &noopLogger{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if comparator == nil {
		comparator = DeepEqualComparator[S]
	}

	return &ArchiveService[S]{
		snapshots:     snapshots,
		store:         snapshots.Store(),
		archive:       archive,
		comparator:    comparator,
		archiveConfig: cfg,
	}
}

// ArchiveOldEvents archives events older than maxAge for up to the batch size
// of aggregates. Consecutive runs continue where the previous one stopped.
//
// For each aggregate a snapshot created within maxAge is ensured first. Only
// the leading run of events that the snapshot covers, that are older than the
// cutoff and older than the snapshot by the safety margin is moved. The move
// copies events to the archive before deleting them from the hot store, so a
// crash in between leaves duplicates, never a loss.
func (s *ArchiveService[S]) ArchiveOldEvents(ctx context.Context, maxAge time.Duration) (*ArchiveResult, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("chronicle: archive max age must be positive, got %s", maxAge)
	}

	hot, ok := s.store.Adapter().(adapters.ArchivableEventAdapter)
	if !ok {
		return nil, ErrArchiveUnsupported
	}

	cutoff := s.now().Add(-maxAge)
	streams, err := pageAfter(&s.cursor, s.batchSize,
		func(st adapters.StreamSummary) string { return st.StreamID },
		func(after string, limit int) ([]adapters.StreamSummary, error) {
			return s.store.ListStreams(ctx, adapters.ListStreamsOptions{
				OlderThan: cutoff,
				After:     after,
				Limit:     limit,
			})
		})
	if err != nil {
		return nil, fmt.Errorf("chronicle: failed to list streams: %w", err)
	}

	result := &ArchiveResult{Cutoff: cutoff}
	var lastVisited string
	for _, stream := range streams {
		if err := ctx.Err(); err != nil {
			s.cursor.interrupted(lastVisited)
			return result, err
		}
		result.AggregatesScanned++
		lastVisited = stream.StreamID

		moved, created, err := s.archiveStream(ctx, hot, stream.StreamID, cutoff)
		if created {
			result.SnapshotsCreated++
		}
		if err != nil {
			result.Failures = append(result.Failures, NewAggregateError(stream.StreamID, err))
			s.logger.Error("Archiving failed", "streamId", stream.StreamID, "error", err)
			continue
		}
		if moved > 0 {
			result.AggregatesArchived++
			result.EventsArchived += moved
		}
	}

	if result.EventsArchived > 0 {
		s.metrics.RecordEventsArchived(int(result.EventsArchived))
	}
	if result.EventsArchived > 0 || len(result.Failures) > 0 {
		s.notify(ctx, MaintenanceNotice{
			Kind:     NoticeEventsArchived,
			Count:    int(result.EventsArchived),
			Failures: len(result.Failures),
			Detail:   map[string]string{"cutoff": cutoff.UTC().Format(time.RFC3339)},
		})
	}

	s.logger.Info("Archive run finished",
		"cutoff", cutoff,
		"aggregates", result.AggregatesArchived,
		"events", result.EventsArchived,
		"failures", len(result.Failures))

	return result, nil
}

func (s *ArchiveService[S]) archiveStream(ctx context.Context, hot adapters.ArchivableEventAdapter, streamID string, cutoff time.Time) (int64, bool, error) {
	unlock, err := s.snapshots.locks.Lock(ctx, streamID)
	if err != nil {
		return 0, false, err
	}
	defer unlock()

	snapshot, created, err := s.snapshots.ensureSnapshotLocked(ctx, streamID, cutoff)
	if err != nil {
		return 0, created, fmt.Errorf("chronicle: no durable snapshot: %w", err)
	}

	events, err := s.store.LoadRaw(ctx, streamID, 0)
	if err != nil {
		return 0, created, err
	}

	eligible := eligiblePrefix(events, snapshot, cutoff, s.safetyMargin)
	if len(eligible) == 0 {
		return 0, created, nil
	}

	archivedAt := s.now()
	archived := make([]adapters.ArchivedEvent, len(eligible))
	for i, e := range eligible {
		archived[i] = adapters.ArchivedEvent{StoredEvent: e, ArchivedAt: archivedAt}
	}

	if err := s.archive.ArchiveEvents(ctx, archived); err != nil {
		return 0, created, fmt.Errorf("chronicle: failed to write archive: %w", err)
	}

	through := eligible[len(eligible)-1].Version
	deleted, err := hot.DeleteEventsThrough(ctx, streamID, through)
	if err != nil {
		return 0, created, fmt.Errorf("chronicle: failed to delete archived events: %w", err)
	}

	s.logger.Debug("Events archived",
		"streamId", streamID,
		"throughVersion", through,
		"snapshotVersion", snapshot.EventVersion)

	return deleted, created, nil
}

// eligiblePrefix returns the longest leading run of events that may be archived.
func eligiblePrefix(events []StoredEvent, snapshot *adapters.SnapshotRecord, cutoff time.Time, margin time.Duration) []StoredEvent {
	limit := snapshot.CreatedAt.Add(-margin)
	n := 0
	for _, e := range events {
		if e.Version > snapshot.EventVersion || !e.Timestamp.Before(cutoff) || !e.Timestamp.Before(limit) {
			break
		}
		n++
	}
	return events[:n]
}

// CompressEventHistory compresses all but the keepRecent newest events of an
// aggregate into batches of consecutive same-type events. Hot events are not
// removed and batches are never read to rebuild state.
func (s *ArchiveService[S]) CompressEventHistory(ctx context.Context, streamID string, keepRecent int) (*CompressionResult, error) {
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}
	if keepRecent < 0 {
		keepRecent = 0
	}

	history, err := s.store.LoadHistory(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, NewStreamNotFoundError(streamID)
	}

	result := &CompressionResult{StreamID: streamID, TotalEvents: len(history)}
	if len(history) <= keepRecent {
		result.Message = NoCompressionNeeded
		return result, nil
	}

	head := history[:len(history)-keepRecent]
	createdAt := s.now()

	var batches []adapters.CompressedEventBatch
	for _, run := range groupRuns(head) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		payload, original, err := compressEvents(run)
		if err != nil {
			return nil, err
		}

		ids := make([]string, len(run))
		earliest, latest := run[0].Timestamp, run[0].Timestamp
		for i, e := range run {
			ids[i] = e.ID
			if e.Timestamp.Before(earliest) {
				earliest = e.Timestamp
			}
			if e.Timestamp.After(latest) {
				latest = e.Timestamp
			}
		}

		batches = append(batches, adapters.CompressedEventBatch{
			ID:                uuid.New().String(),
			StreamID:          streamID,
			EventType:         run[0].Type,
			EventIDs:          ids,
			FromVersion:       run[0].Version,
			ToVersion:         run[len(run)-1].Version,
			EventCount:        len(run),
			EarliestTimestamp: earliest,
			LatestTimestamp:   latest,
			Payload:           payload,
			OriginalSize:      original,
			CompressedSize:    int64(len(payload)),
			CreatedAt:         createdAt,
		})

		result.OriginalBytes += original
		result.CompressedBytes += int64(len(payload))
	}

	if err := s.archive.SaveCompressedBatches(ctx, batches); err != nil {
		return nil, fmt.Errorf("chronicle: failed to save compressed batches: %w", err)
	}

	result.EventsCompressed = len(head)
	result.BatchesCreated = len(batches)
	result.BytesSaved = result.OriginalBytes - result.CompressedBytes
	if result.OriginalBytes > 0 {
		result.Ratio = float64(result.CompressedBytes) / float64(result.OriginalBytes)
	}
	result.Message = fmt.Sprintf("compressed %d events into %d batches", result.EventsCompressed, result.BatchesCreated)

	s.metrics.RecordCompression(result.OriginalBytes, result.CompressedBytes)
	s.logger.Info("Event history compressed",
		"streamId", streamID,
		"events", result.EventsCompressed,
		"batches", result.BatchesCreated,
		"ratio", result.Ratio)

	return result, nil
}

// CreateEventRollups summarizes the history of an aggregate into fixed time
// buckets aligned to interval, one rollup per non-empty bucket.
func (s *ArchiveService[S]) CreateEventRollups(ctx context.Context, streamID string, interval time.Duration) (*RollupResult, error) {
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}
	if interval <= 0 {
		return nil, fmt.Errorf("chronicle: rollup interval must be positive, got %s", interval)
	}

	history, err := s.store.LoadHistory(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, NewStreamNotFoundError(streamID)
	}

	type bucket struct {
		start  time.Time
		counts map[string]int
		total  int
		bytes  int64
	}

	buckets := make(map[int64]*bucket)
	for _, e := range history {
		start := e.Timestamp.UTC().Truncate(interval)
		b, ok := buckets[start.UnixNano()]
		if !ok {
			b = &bucket{start: start, counts: make(map[string]int)}
			buckets[start.UnixNano()] = b
		}
		b.counts[e.Type]++
		b.total++
		b.bytes += int64(len(e.Data))
	}

	createdAt := s.now()
	rollups := make([]adapters.EventRollup, 0, len(buckets))
	for _, b := range buckets {
		types := make([]string, 0, len(b.counts))
		for t := range b.counts {
			types = append(types, t)
		}
		sort.Strings(types)

		parts := make([]string, len(types))
		for i, t := range types {
			parts[i] = fmt.Sprintf("%s=%d", t, b.counts[t])
		}
		summary := strings.Join(parts, ",")

		saved := b.bytes - int64(len(summary))
		if saved < 0 {
			saved = 0
		}

		rollups = append(rollups, adapters.EventRollup{
			ID:          uuid.New().String(),
			StreamID:    streamID,
			BucketStart: b.start,
			BucketEnd:   b.start.Add(interval),
			EventCount:  b.total,
			EventTypes:  types,
			Summary:     summary,
			SpaceSaved:  saved,
			CreatedAt:   createdAt,
		})
	}
	sort.Slice(rollups, func(i, j int) bool { return rollups[i].BucketStart.Before(rollups[j].BucketStart) })

	if err := s.archive.SaveRollups(ctx, rollups); err != nil {
		return nil, fmt.Errorf("chronicle: failed to save rollups: %w", err)
	}

	result := &RollupResult{
		StreamID:       streamID,
		Interval:       interval,
		EventsScanned:  len(history),
		RollupsCreated: len(rollups),
	}
	for _, r := range rollups {
		result.SpaceSaved += r.SpaceSaved
	}

	return result, nil
}

// ValidateArchivedData rebuilds the aggregate from archive storage and
// compares it with the live read path.
//
// The archive path merges archived events, decompressed batches and the hot
// remainder by version and replays them without snapshots. A difference is
// reported as *IntegrityMismatchError and left for an operator.
func (s *ArchiveService[S]) ValidateArchivedData(ctx context.Context, streamID string) (*ValidationResult, error) {
	live, err := s.snapshots.GetAggregate(ctx, streamID)
	if err != nil {
		return nil, err
	}

	archived, err := s.archive.LoadArchivedEvents(ctx, streamID)
	if err != nil {
		return nil, fmt.Errorf("chronicle: failed to load archived events: %w", err)
	}
	archivedEvents := make([]StoredEvent, len(archived))
	for i, a := range archived {
		archivedEvents[i] = a.StoredEvent
	}

	batches, err := s.archive.LoadCompressedBatches(ctx, streamID)
	if err != nil {
		return nil, fmt.Errorf("chronicle: failed to load compressed batches: %w", err)
	}
	var compressed []StoredEvent
	for _, b := range batches {
		events, err := decompressEvents(b.Payload)
		if err != nil {
			return nil, err
		}
		compressed = append(compressed, events...)
	}

	hot, err := s.store.LoadRaw(ctx, streamID, 0)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{
		StreamID:         streamID,
		LiveVersion:      live.Version,
		ArchivedEvents:   len(archivedEvents),
		CompressedEvents: len(compressed),
		HotEvents:        len(hot),
	}

	merged := mergeByVersion(archivedEvents, compressed, hot)
	decoded, err := s.store.Decode(merged)
	if err != nil {
		return nil, err
	}

	state, version, err := s.snapshots.reconstructor.Reconstruct(decoded, nil)
	if err != nil {
		s.metrics.RecordIntegrityCheck(false)
		return result, fmt.Errorf("chronicle: archive path cannot be replayed: %w", err)
	}
	result.ArchivedVersion = version

	mismatches := s.comparator(live.State, state)
	if version != live.Version {
		mismatches = append([]FieldMismatch{{Field: "version", Live: live.Version, Archived: version}}, mismatches...)
	}

	result.Mismatches = mismatches
	result.Valid = len(mismatches) == 0
	s.metrics.RecordIntegrityCheck(result.Valid)

	if !result.Valid {
		s.logger.Error("Archived data does not match live state", "streamId", streamID, "mismatches", len(mismatches))
		s.notify(ctx, MaintenanceNotice{
			Kind:     NoticeIntegrityMismatch,
			StreamID: streamID,
			Count:    len(mismatches),
		})
		return result, NewIntegrityMismatchError(streamID, mismatches)
	}

	return result, nil
}

// GetStorageStatistics summarizes hot, archive and snapshot storage.
func (s *ArchiveService[S]) GetStorageStatistics(ctx context.Context) (*StorageStatistics, error) {
	streams, err := s.store.ListStreams(ctx, adapters.ListStreamsOptions{})
	if err != nil {
		return nil, fmt.Errorf("chronicle: failed to list streams: %w", err)
	}

	archive, err := s.archive.ArchiveStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("chronicle: failed to read archive stats: %w", err)
	}

	snapshots, err := s.snapshots.snapshots.ListSnapshotStreams(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("chronicle: failed to list snapshot streams: %w", err)
	}

	stats := &StorageStatistics{
		Streams:           len(streams),
		ArchivedEvents:    archive.ArchivedEvents,
		ArchivedStreams:   archive.ArchivedStreams,
		CompressedBatches: archive.CompressedBatches,
		CompressedEvents:  archive.CompressedEvents,
		OriginalBytes:     archive.OriginalBytes,
		CompressedBytes:   archive.CompressedBytes,
		Rollups:           archive.Rollups,
	}
	for _, st := range streams {
		stats.HotEvents += st.EventCount
	}
	for _, sn := range snapshots {
		stats.Snapshots += int64(sn.Count)
		stats.SnapshotBytes += sn.TotalBytes
	}
	if stats.OriginalBytes > 0 {
		stats.CompressionRatio = float64(stats.CompressedBytes) / float64(stats.OriginalBytes)
	}

	return stats, nil
}

func (s *ArchiveService[S]) notify(ctx context.Context, notice MaintenanceNotice) {
	notice.OccurredAt = s.now()
	if err := s.notifier.Notify(ctx, notice); err != nil {
		s.logger.Warn("Maintenance notification failed", "kind", notice.Kind, "error", err)
	}
}
