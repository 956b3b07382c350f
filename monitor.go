package chronicle

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Performance monitor defaults.
const (
	DefaultMetricWindow            = 100
	DefaultSlowThreshold           = 500 * time.Millisecond
	DefaultRecommendationThreshold = 500
	DefaultMaintenanceInterval     = 5 * time.Minute
	DefaultMetricRetention         = 24 * time.Hour
	DefaultMonitorShards           = 8
	DefaultShardBuffer             = 1024
)

// SnapshotMaintainer is the part of SnapshotService the monitor drives.
type SnapshotMaintainer interface {
	ScheduleSnapshotEvaluation(streamID string) bool
	ProcessPendingSnapshots(ctx context.Context) (*BatchResult, error)
	CleanupOldSnapshots(ctx context.Context) (*CleanupResult, error)
	Queue() *WorkQueue
}

// ArchiveMaintainer is the part of ArchiveService the monitor drives.
type ArchiveMaintainer interface {
	ArchiveOldEvents(ctx context.Context, maxAge time.Duration) (*ArchiveResult, error)
}

// ReconstructionMetric is one recorded read.
type ReconstructionMetric struct {
	StreamID     string
	Timestamp    time.Time
	Duration     time.Duration
	EventCount   int
	UsedSnapshot bool

	// Score is the duration relative to the slow threshold; above 1 is slow.
	Score float64
}

// Recommended optimization actions.
const (
	ActionCreateSnapshot       = "CreateSnapshot"
	ActionArchiveOldEvents     = "ArchiveOldEvents"
	ActionCompressEventHistory = "CompressEventHistory"
)

// Priority ranks recommendations.
type Priority int

// Recommendation priorities.
const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Recommendation proposes an optimization for one aggregate.
type Recommendation struct {
	StreamID             string
	Action               string
	Priority             Priority
	Reason               string
	EstimatedImprovement string
	AverageDuration      time.Duration
	AverageEventCount    int
}

// RealtimeMetrics is the dashboard view of the monitor.
type RealtimeMetrics struct {
	Running                   bool
	TrackedAggregates         int
	Samples                   int
	SnapshotReads             int64
	FullReplayReads           int64
	SlowReconstructions       int64
	SnapshotHitRate           float64
	AverageSnapshotDuration   time.Duration
	AverageFullReplayDuration time.Duration
	DroppedSamples            int64
	LastMaintenance           time.Time
	Queue                     QueueStats
}

// MaintenanceReport is the outcome of one maintenance tick.
type MaintenanceReport struct {
	Pending *BatchResult
	Cleanup *CleanupResult
	Archive *ArchiveResult
	Pruned  int
}

// MonitorOption configures a PerformanceMonitor.
type MonitorOption func(*PerformanceMonitor)

// WithMetricWindow sets how many recent reads are kept per aggregate.
func WithMetricWindow(n int) MonitorOption {
	return func(m *PerformanceMonitor) {
		if n > 0 {
			m.window = n
		}
	}
}

// WithSlowThreshold sets the duration above which a read is slow.
func WithSlowThreshold(d time.Duration) MonitorOption {
	return func(m *PerformanceMonitor) {
		if d > 0 {
			m.slowThreshold = d
		}
	}
}

// WithRecommendationThreshold sets the replayed event count above which a
// slow full replay triggers snapshot evaluation.
func WithRecommendationThreshold(n int) MonitorOption {
	return func(m *PerformanceMonitor) {
		if n > 0 {
			m.recommendationThreshold = n
		}
	}
}

// WithMaintenanceInterval sets the maintenance tick.
func WithMaintenanceInterval(d time.Duration) MonitorOption {
	return func(m *PerformanceMonitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMetricRetention sets how long recorded reads are kept.
func WithMetricRetention(d time.Duration) MonitorOption {
	return func(m *PerformanceMonitor) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithArchiver enables age-based archival on every maintenance tick.
func WithArchiver(a ArchiveMaintainer, maxAge time.Duration) MonitorOption {
	return func(m *PerformanceMonitor) {
		m.archiver = a
		m.archiveMaxAge = maxAge
	}
}

// WithShards sets the number of collector shards.
func WithShards(n int) MonitorOption {
	return func(m *PerformanceMonitor) {
		if n > 0 {
			m.shardCount = n
		}
	}
}

// WithShardBuffer sets the per-shard sample buffer.
func WithShardBuffer(n int) MonitorOption {
	return func(m *PerformanceMonitor) {
		if n > 0 {
			m.shardBuffer = n
		}
	}
}

// WithMonitorLogger sets the logger.
func WithMonitorLogger(l Logger) MonitorOption {
	return func(m *PerformanceMonitor) {
		m.logger = l
	}
}

// WithMonitorClock sets the clock used for timestamps and pruning.
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *PerformanceMonitor) {
		m.now = now
	}
}

// PerformanceMonitor records reconstruction costs, triggers snapshots for
// slow aggregates and runs periodic maintenance.
//
// Samples are owned by a fixed set of shards, each drained by one goroutine
// and chosen by a hash of the stream ID. RecordReconstruction never blocks;
// samples that do not fit a shard's buffer, or arrive while the monitor is
// stopped, are counted as dropped.
//
// Register the monitor with the snapshot service to receive reads:
//
//	monitor := chronicle.NewPerformanceMonitor(snapshots)
//	snapshots.SetRecorder(monitor)
//	monitor.Start(ctx)
type PerformanceMonitor struct {
	snapshots     SnapshotMaintainer
	archiver      ArchiveMaintainer
	archiveMaxAge time.Duration
	logger        Logger
	now           func() time.Time

	window                  int
	slowThreshold           time.Duration
	recommendationThreshold int
	interval                time.Duration
	retention               time.Duration
	shardCount              int
	shardBuffer             int

	shards []*monitorShard

	mu              sync.Mutex
	running         atomic.Bool
	stopCh          chan struct{}
	exited          chan struct{}
	dropped         atomic.Int64
	lastMaintenance atomic.Int64
}

type monitorShard struct {
	ops chan func(*monitorShard)

	windows       map[string][]ReconstructionMetric
	snapshotAvg   movingAverage
	replayAvg     movingAverage
	snapshotReads int64
	replayReads   int64
	slow          int64
}

// movingAverage is an exponentially weighted mean in nanoseconds.
type movingAverage struct {
	value float64
	n     int64
}

const movingAverageAlpha = 0.1

func (a *movingAverage) add(x float64) {
	if a.n == 0 {
		a.value = x
	} else {
		a.value += movingAverageAlpha * (x - a.value)
	}
	a.n++
}

// NewPerformanceMonitor creates a PerformanceMonitor.
func NewPerformanceMonitor(snapshots SnapshotMaintainer, opts ...MonitorOption) *PerformanceMonitor {
	m := &PerformanceMonitor{
		snapshots:               snapshots,
		logger:                  &noopLogger{},
		now:                     time.Now,
		window:                  DefaultMetricWindow,
		slowThreshold:           DefaultSlowThreshold,
		recommendationThreshold: DefaultRecommendationThreshold,
		interval:                DefaultMaintenanceInterval,
		retention:               DefaultMetricRetention,
		shardCount:              DefaultMonitorShards,
		shardBuffer:             DefaultShardBuffer,
		stopCh:                  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.shards = make([]*monitorShard, m.shardCount)
	for i := range m.shards {
		m.shards[i] = &monitorShard{
			ops:     make(chan func(*monitorShard), m.shardBuffer),
			windows: make(map[string][]ReconstructionMetric),
		}
	}

	return m
}

// Start launches the shard owners and the maintenance loop. Cancelling ctx
// stops the monitor the same way Stop does. If a previous run is still
// shutting down, Start waits for it to exit.
func (m *PerformanceMonitor) Start(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.running.Load() {
			m.mu.Unlock()
			return ErrMonitorRunning
		}
		prev := m.exited
		if prev == nil || isClosed(prev) {
			break
		}
		m.mu.Unlock()

		select {
		case <-prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer m.mu.Unlock()

	stop := make(chan struct{})
	exited := make(chan struct{})
	m.stopCh, m.exited = stop, exited

	var wg sync.WaitGroup
	wg.Add(len(m.shards) + 1)
	for _, sh := range m.shards {
		go m.own(&wg, sh, stop)
	}
	go m.maintenanceLoop(ctx, &wg, stop)
	go func() {
		wg.Wait()
		close(exited)
	}()

	m.running.Store(true)
	m.logger.Info("Performance monitor started", "shards", m.shardCount, "interval", m.interval)
	return nil
}

// Stop halts the maintenance loop and the shard owners. A maintenance tick in
// progress finishes its current step first.
func (m *PerformanceMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running.Load() {
		m.mu.Unlock()
		return nil
	}
	m.running.Store(false)
	close(m.stopCh)
	exited := m.exited
	m.mu.Unlock()

	select {
	case <-exited:
		m.logger.Info("Performance monitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// halt stops the run identified by stop if it is still the current one.
func (m *PerformanceMonitor) halt(stop chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopCh != stop || !m.running.Load() {
		return
	}
	m.running.Store(false)
	close(stop)
	m.logger.Info("Performance monitor stopped", "reason", "context done")
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// IsRunning returns true if the monitor is running.
func (m *PerformanceMonitor) IsRunning() bool {
	return m.running.Load()
}

func (m *PerformanceMonitor) own(wg *sync.WaitGroup, sh *monitorShard, stop <-chan struct{}) {
	defer wg.Done()

	for {
		select {
		case op := <-sh.ops:
			op(sh)
		case <-stop:
			return
		}
	}
}

func (m *PerformanceMonitor) shardFor(streamID string) *monitorShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(streamID))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}

// RecordReconstruction implements ReconstructionRecorder.
func (m *PerformanceMonitor) RecordReconstruction(streamID string, duration time.Duration, eventCount int, usedSnapshot bool) {
	sample := ReconstructionMetric{
		StreamID:     streamID,
		Timestamp:    m.now(),
		Duration:     duration,
		EventCount:   eventCount,
		UsedSnapshot: usedSnapshot,
		Score:        float64(duration) / float64(m.slowThreshold),
	}

	slow := duration > m.slowThreshold
	if slow {
		m.logger.Warn("Slow reconstruction",
			"streamId", streamID,
			"duration", duration,
			"events", eventCount,
			"usedSnapshot", usedSnapshot)

		if !usedSnapshot && eventCount > m.recommendationThreshold {
			m.snapshots.ScheduleSnapshotEvaluation(streamID)
		}
	}

	if !m.running.Load() {
		m.dropped.Add(1)
		return
	}

	window := m.window
	select {
	case m.shardFor(streamID).ops <- func(sh *monitorShard) { sh.record(sample, slow, window) }:
	default:
		m.dropped.Add(1)
	}
}

func (sh *monitorShard) record(sample ReconstructionMetric, slow bool, window int) {
	w := append(sh.windows[sample.StreamID], sample)
	if len(w) > window {
		w = append(w[:0:0], w[len(w)-window:]...)
	}
	sh.windows[sample.StreamID] = w

	if sample.UsedSnapshot {
		sh.snapshotReads++
		sh.snapshotAvg.add(float64(sample.Duration))
	} else {
		sh.replayReads++
		sh.replayAvg.add(float64(sample.Duration))
	}
	if slow {
		sh.slow++
	}
}

func (sh *monitorShard) prune(cutoff time.Time) int {
	removed := 0
	for id, w := range sh.windows {
		keep := 0
		for keep < len(w) && w[keep].Timestamp.Before(cutoff) {
			keep++
		}
		removed += keep
		if keep == len(w) {
			delete(sh.windows, id)
			continue
		}
		if keep > 0 {
			sh.windows[id] = append(w[:0:0], w[keep:]...)
		}
	}
	return removed
}

// visit runs fn on every shard's owner and waits for all of them. When the
// monitor is stopped fn runs on the calling goroutine, once the owners of the
// previous run have exited.
func (m *PerformanceMonitor) visit(ctx context.Context, fn func(*monitorShard)) error {
	for {
		m.mu.Lock()
		if m.running.Load() {
			err := m.dispatch(ctx, m.stopCh, fn)
			m.mu.Unlock()
			return err
		}

		exited := m.exited
		if exited == nil || isClosed(exited) {
			for _, sh := range m.shards {
				fn(sh)
			}
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()

		select {
		case <-exited:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dispatch sends fn to every shard owner and waits until each has run it.
func (m *PerformanceMonitor) dispatch(ctx context.Context, stop <-chan struct{}, fn func(*monitorShard)) error {
	var wg sync.WaitGroup
	wg.Add(len(m.shards))

	for _, sh := range m.shards {
		op := func(s *monitorShard) {
			defer wg.Done()
			fn(s)
		}
		select {
		case sh.ops <- op:
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return ErrMonitorStopped
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return ErrMonitorStopped
	}
}

// Flush waits until every sample recorded before the call is applied.
func (m *PerformanceMonitor) Flush(ctx context.Context) error {
	return m.visit(ctx, func(*monitorShard) {})
}

// Metrics returns the recorded window of one aggregate, oldest first.
func (m *PerformanceMonitor) Metrics(ctx context.Context, streamID string) ([]ReconstructionMetric, error) {
	var out []ReconstructionMetric
	target := m.shardFor(streamID)
	err := m.visit(ctx, func(sh *monitorShard) {
		if sh == target {
			out = append(out, sh.windows[streamID]...)
		}
	})
	return out, err
}

func (m *PerformanceMonitor) maintenanceLoop(ctx context.Context, wg *sync.WaitGroup, stop chan struct{}) {
	defer wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			m.halt(stop)
			return
		case <-ticker.C:
			if _, err := m.runMaintenance(ctx, stop); err != nil {
				m.logger.Warn("Maintenance tick ended early", "error", err)
			}
		}
	}
}

// RunMaintenance runs one maintenance tick on the calling goroutine.
func (m *PerformanceMonitor) RunMaintenance(ctx context.Context) (*MaintenanceReport, error) {
	m.mu.Lock()
	stop := m.stopCh
	running := m.running.Load()
	m.mu.Unlock()

	if !running {
		stop = make(chan struct{})
	}
	return m.runMaintenanceSteps(ctx, stop, running)
}

func (m *PerformanceMonitor) runMaintenance(ctx context.Context, stop <-chan struct{}) (*MaintenanceReport, error) {
	return m.runMaintenanceSteps(ctx, stop, true)
}

// runMaintenanceSteps checks for cancellation between steps, never inside one.
func (m *PerformanceMonitor) runMaintenanceSteps(ctx context.Context, stop <-chan struct{}, viaShards bool) (*MaintenanceReport, error) {
	report := &MaintenanceReport{}
	defer func() { m.lastMaintenance.Store(m.now().UnixNano()) }()

	halted := func() error {
		select {
		case <-stop:
			return ErrMonitorStopped
		default:
			return ctx.Err()
		}
	}

	pending, err := m.snapshots.ProcessPendingSnapshots(ctx)
	if err != nil {
		m.logger.Error("Pending snapshot processing failed", "error", err)
	}
	report.Pending = pending
	if err := halted(); err != nil {
		return report, err
	}

	cleanup, err := m.snapshots.CleanupOldSnapshots(ctx)
	if err != nil {
		m.logger.Error("Snapshot cleanup failed", "error", err)
	}
	report.Cleanup = cleanup
	if err := halted(); err != nil {
		return report, err
	}

	if m.archiver != nil && m.archiveMaxAge > 0 {
		archived, err := m.archiver.ArchiveOldEvents(ctx, m.archiveMaxAge)
		if err != nil {
			m.logger.Error("Archiving failed", "error", err)
		}
		report.Archive = archived
		if err := halted(); err != nil {
			return report, err
		}
	}

	cutoff := m.now().Add(-m.retention)
	var pruned atomic.Int64
	prune := func(sh *monitorShard) { pruned.Add(int64(sh.prune(cutoff))) }

	if viaShards {
		err = m.dispatch(ctx, stop, prune)
	} else {
		err = m.visit(ctx, prune)
	}
	report.Pruned = int(pruned.Load())
	if err != nil {
		return report, err
	}

	m.logger.Debug("Maintenance tick finished", "pruned", report.Pruned)
	return report, nil
}

type aggregateSummary struct {
	streamID       string
	samples        int
	avgDuration    time.Duration
	avgEvents      int
	maxEvents      int
	snapshotShare  float64
	slowShare      float64
	replayedEvents int
}

func (m *PerformanceMonitor) summaries(ctx context.Context) ([]aggregateSummary, error) {
	var mu sync.Mutex
	var out []aggregateSummary
	slow := m.slowThreshold

	err := m.visit(ctx, func(sh *monitorShard) {
		local := make([]aggregateSummary, 0, len(sh.windows))
		for id, w := range sh.windows {
			if len(w) == 0 {
				continue
			}
			var total time.Duration
			var events, snapshots, slowCount, maxEvents, replayed int
			for _, s := range w {
				total += s.Duration
				events += s.EventCount
				if s.EventCount > maxEvents {
					maxEvents = s.EventCount
				}
				if s.UsedSnapshot {
					snapshots++
				} else {
					replayed = s.EventCount
				}
				if s.Duration > slow {
					slowCount++
				}
			}
			local = append(local, aggregateSummary{
				streamID:       id,
				samples:        len(w),
				avgDuration:    total / time.Duration(len(w)),
				avgEvents:      events / len(w),
				maxEvents:      maxEvents,
				snapshotShare:  float64(snapshots) / float64(len(w)),
				slowShare:      float64(slowCount) / float64(len(w)),
				replayedEvents: replayed,
			})
		}
		mu.Lock()
		out = append(out, local...)
		mu.Unlock()
	})
	return out, err
}

// GetOptimizationRecommendations inspects the recorded windows and proposes
// actions, highest priority first.
func (m *PerformanceMonitor) GetOptimizationRecommendations(ctx context.Context) ([]Recommendation, error) {
	summaries, err := m.summaries(ctx)
	if err != nil {
		return nil, err
	}

	var recs []Recommendation
	for _, s := range summaries {
		if s.snapshotShare < 0.5 && s.avgEvents > m.recommendationThreshold {
			priority := PriorityMedium
			if s.slowShare > 0 || s.avgDuration > m.slowThreshold {
				priority = PriorityHigh
			}
			recs = append(recs, Recommendation{
				StreamID:             s.streamID,
				Action:               ActionCreateSnapshot,
				Priority:             priority,
				Reason:               fmt.Sprintf("%.0f%% of reads replay the full history", (1-s.snapshotShare)*100),
				EstimatedImprovement: fmt.Sprintf("reads replay ~%d events; a snapshot limits this to events since it was taken", s.avgEvents),
				AverageDuration:      s.avgDuration,
				AverageEventCount:    s.avgEvents,
			})
		}

		if s.replayedEvents > 10*m.recommendationThreshold {
			recs = append(recs, Recommendation{
				StreamID:             s.streamID,
				Action:               ActionArchiveOldEvents,
				Priority:             PriorityMedium,
				Reason:               fmt.Sprintf("full history holds %d events", s.replayedEvents),
				EstimatedImprovement: fmt.Sprintf("moves events covered by a snapshot out of the hot store, shrinking full replays of %d events", s.replayedEvents),
				AverageDuration:      s.avgDuration,
				AverageEventCount:    s.avgEvents,
			})
		}

		if s.maxEvents > 2*DefaultKeepRecent {
			recs = append(recs, Recommendation{
				StreamID:             s.streamID,
				Action:               ActionCompressEventHistory,
				Priority:             PriorityLow,
				Reason:               fmt.Sprintf("history of %d events exceeds twice the %d kept uncompressed", s.maxEvents, DefaultKeepRecent),
				EstimatedImprovement: fmt.Sprintf("compresses %d older events for audit storage", s.maxEvents-DefaultKeepRecent),
				AverageDuration:      s.avgDuration,
				AverageEventCount:    s.avgEvents,
			})
		}
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority > recs[j].Priority
		}
		if recs[i].AverageDuration != recs[j].AverageDuration {
			return recs[i].AverageDuration > recs[j].AverageDuration
		}
		if recs[i].StreamID != recs[j].StreamID {
			return recs[i].StreamID < recs[j].StreamID
		}
		return recs[i].Action < recs[j].Action
	})

	return recs, nil
}

// GetRealtimeMetrics returns the dashboard view.
func (m *PerformanceMonitor) GetRealtimeMetrics(ctx context.Context) (*RealtimeMetrics, error) {
	var mu sync.Mutex
	rt := &RealtimeMetrics{}
	var snapWeighted, replayWeighted float64
	var snapN, replayN int64

	err := m.visit(ctx, func(sh *monitorShard) {
		samples := 0
		for _, w := range sh.windows {
			samples += len(w)
		}

		mu.Lock()
		defer mu.Unlock()
		rt.TrackedAggregates += len(sh.windows)
		rt.Samples += samples
		rt.SnapshotReads += sh.snapshotReads
		rt.FullReplayReads += sh.replayReads
		rt.SlowReconstructions += sh.slow
		snapWeighted += sh.snapshotAvg.value * float64(sh.snapshotAvg.n)
		snapN += sh.snapshotAvg.n
		replayWeighted += sh.replayAvg.value * float64(sh.replayAvg.n)
		replayN += sh.replayAvg.n
	})
	if err != nil {
		return nil, err
	}

	if snapN > 0 {
		rt.AverageSnapshotDuration = time.Duration(snapWeighted / float64(snapN))
	}
	if replayN > 0 {
		rt.AverageFullReplayDuration = time.Duration(replayWeighted / float64(replayN))
	}
	if reads := rt.SnapshotReads + rt.FullReplayReads; reads > 0 {
		rt.SnapshotHitRate = float64(rt.SnapshotReads) / float64(reads)
	}

	rt.Running = m.running.Load()
	rt.DroppedSamples = m.dropped.Load()
	if ts := m.lastMaintenance.Load(); ts > 0 {
		rt.LastMaintenance = time.Unix(0, ts)
	}
	if q := m.snapshots.Queue(); q != nil {
		rt.Queue = q.Stats()
	}

	return rt, nil
}
