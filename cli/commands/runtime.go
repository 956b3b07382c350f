package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/emberforge/chronicle"
	"github.com/emberforge/chronicle/adapters"
	"github.com/emberforge/chronicle/adapters/memory"
	"github.com/emberforge/chronicle/adapters/postgres"
	"github.com/emberforge/chronicle/adapters/sqlite"
	"github.com/emberforge/chronicle/character"
	"github.com/emberforge/chronicle/cli/config"
	"github.com/emberforge/chronicle/middleware/metrics"
	"github.com/emberforge/chronicle/middleware/tracing"
	"github.com/emberforge/chronicle/notify"
	"github.com/emberforge/chronicle/notify/kafka"
	"github.com/emberforge/chronicle/notify/sns"
	"github.com/emberforge/chronicle/notify/webhook"
	"github.com/emberforge/chronicle/serializer/msgpack"
)

// Runtime holds the wired services a command operates on.
type Runtime struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     *chronicle.EventStore
	Snapshots *chronicle.SnapshotService[character.Character]
	Archiver  *chronicle.ArchiveService[character.Character]
	Monitor   *chronicle.PerformanceMonitor
	Metrics   *metrics.Metrics
	Registry  *prometheus.Registry

	backends *Backends
	queue    *chronicle.WorkQueue
	closers  []func(context.Context) error
}

// Backends are the raw storage adapters a Runtime is assembled from.
type Backends struct {
	Hot       adapters.EventStoreAdapter
	Snapshots adapters.SnapshotAdapter
	Archive   adapters.ArchiveAdapter

	// Close releases the backends. Nil for shared backends.
	Close func() error
}

// openRuntime builds the runtime for a command. Tests replace it to share
// in-memory backends across invocations.
var openRuntime = func(ctx context.Context, cfg *config.Config, logOut io.Writer) (*Runtime, error) {
	backends, err := openBackends(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt, err := NewRuntime(ctx, cfg, backends, logOut)
	if err != nil {
		if backends.Close != nil {
			_ = backends.Close()
		}
		return nil, err
	}
	return rt, nil
}

func openBackends(ctx context.Context, cfg *config.Config) (*Backends, error) {
	archive, err := sqlite.NewAdapter(ctx, cfg.Archive.Path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	switch cfg.Database.Driver {
	case config.DriverMemory:
		hot := memory.NewAdapter()
		return &Backends{
			Hot:       hot,
			Snapshots: hot,
			Archive:   archive,
			Close: func() error {
				return errors.Join(hot.Close(), archive.Close())
			},
		}, nil

	case config.DriverPostgres:
		if cfg.Database.URL == "" {
			_ = archive.Close()
			return nil, fmt.Errorf("database URL is required for the postgres driver")
		}
		hot, err := postgres.NewAdapter(cfg.Database.URL,
			postgres.WithSchema(cfg.Database.Schema),
			postgres.WithMaxConnections(cfg.Database.MaxConnections),
		)
		if err != nil {
			_ = archive.Close()
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := hot.Initialize(ctx); err != nil {
			_ = hot.Close()
			_ = archive.Close()
			return nil, fmt.Errorf("initialize database: %w", err)
		}
		return &Backends{
			Hot:       hot,
			Snapshots: hot,
			Archive:   archive,
			Close: func() error {
				return errors.Join(hot.Close(), archive.Close())
			},
		}, nil

	default:
		_ = archive.Close()
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Database.Driver)
	}
}

// NewRuntime wires metrics, tracing, notification targets and the
// maintenance services over the given backends.
func NewRuntime(ctx context.Context, cfg *config.Config, b *Backends, logOut io.Writer) (*Runtime, error) {
	logger := newLogger(cfg.Telemetry.LogLevel, logOut)

	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		backends: b,
		Metrics:  metrics.New(metrics.WithMetricsServiceName(cfg.Telemetry.ServiceName)),
		Registry: prometheus.NewRegistry(),
	}
	if err := rt.Metrics.Register(rt.Registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	var (
		hot       adapters.EventStoreAdapter = rt.Metrics.WrapEventStore(b.Hot)
		snapshots adapters.SnapshotAdapter   = rt.Metrics.WrapSnapshots(b.Snapshots)
		archive                              = b.Archive
	)

	notifier, err := rt.notifier(ctx, cfg.Notify)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}

	if cfg.Telemetry.Trace {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(logOut))
		if err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		rt.closers = append(rt.closers, tp.Shutdown)

		tracer := tracing.NewTracer(
			tracing.WithTracerProvider(tp),
			tracing.WithServiceName(cfg.Telemetry.ServiceName),
		)
		hot = tracing.NewEventStoreMiddleware(hot, tracer)
		snapshots = tracing.NewSnapshotMiddleware(snapshots, tracer)
		archive = tracing.NewArchiveMiddleware(archive, tracer)
		notifier = tracing.NewNotifierMiddleware(notifier, tracer)
	}

	rt.Store = chronicle.New(hot,
		chronicle.WithArchive(archive),
		chronicle.WithLogger(logger),
	)
	character.RegisterEvents(rt.Store)
	if b.Close != nil {
		rt.closers = append(rt.closers, func(context.Context) error { return b.Close() })
	}

	rt.queue = chronicle.NewWorkQueue(
		chronicle.WithWorkers(cfg.Snapshots.Workers),
		chronicle.WithQueueLogger(logger),
	)

	strategy := chronicle.NewDefaultStrategy(
		chronicle.WithMinEvents(cfg.Snapshots.MinEvents),
		chronicle.WithEventThreshold(cfg.Snapshots.EventThreshold),
		chronicle.WithMaxSnapshotAge(cfg.Snapshots.MaxAge),
	)

	rt.Snapshots = chronicle.NewSnapshotService(rt.Store, snapshots,
		chronicle.NewReconstructor(character.Transitions()),
		snapshotCodec(cfg.Snapshots.Encoding),
		chronicle.WithStrategy(strategy),
		chronicle.WithWorkQueue(rt.queue),
		chronicle.WithMetrics(rt.Metrics),
		chronicle.WithNotifier(notifier),
		chronicle.WithServiceLogger(logger),
		chronicle.WithSnapshotRetention(cfg.Snapshots.Retention),
		chronicle.WithSnapshotBatchSize(cfg.Snapshots.BatchSize),
	)

	rt.Archiver = chronicle.NewArchiveService(rt.Snapshots, archive, character.CompareCore,
		chronicle.WithSafetyMargin(cfg.Archive.SafetyMargin),
		chronicle.WithArchiveBatchSize(cfg.Archive.BatchSize),
		chronicle.WithArchiveMetrics(rt.Metrics),
		chronicle.WithArchiveNotifier(notifier),
		chronicle.WithArchiveLogger(logger),
	)

	monitorOpts := []chronicle.MonitorOption{
		chronicle.WithMaintenanceInterval(cfg.Monitor.Interval),
		chronicle.WithSlowThreshold(cfg.Monitor.SlowThreshold),
		chronicle.WithMetricWindow(cfg.Monitor.Window),
		chronicle.WithMonitorLogger(logger),
	}
	if cfg.Monitor.ArchiveEnabled {
		monitorOpts = append(monitorOpts, chronicle.WithArchiver(rt.Archiver, cfg.Archive.MaxAge))
	}
	rt.Monitor = chronicle.NewPerformanceMonitor(rt.Snapshots, monitorOpts...)
	rt.Snapshots.SetRecorder(rt.Monitor)

	return rt, nil
}

// snapshotCodec builds the character codec for the configured payload
// encoding. JSON snapshots stay readable after switching to msgpack.
func snapshotCodec(encoding string) *chronicle.SnapshotCodec[character.Character] {
	if encoding == config.EncodingMsgpack {
		return character.NewCodec(chronicle.WithStateEncoding[character.Character](msgpack.NewSerializer()))
	}
	return character.NewCodec()
}

// Ping checks every backend that supports health checks.
func (rt *Runtime) Ping(ctx context.Context) map[string]error {
	results := make(map[string]error)
	for name, backend := range map[string]interface{}{
		"hot":     rt.backends.Hot,
		"archive": rt.backends.Archive,
	} {
		if hc, ok := backend.(adapters.HealthChecker); ok {
			results[name] = hc.Ping(ctx)
		}
	}
	return results
}

// notifier builds the configured notification targets.
func (rt *Runtime) notifier(ctx context.Context, cfg config.NotifyConfig) (chronicle.Notifier, error) {
	var targets []chronicle.Notifier

	if len(cfg.KafkaBrokers) > 0 {
		opts := []kafka.Option{kafka.WithBrokers(cfg.KafkaBrokers...)}
		if cfg.KafkaTopic != "" {
			opts = append(opts, kafka.WithTopic(cfg.KafkaTopic))
		}
		publisher := kafka.New(opts...)
		rt.closers = append(rt.closers, func(context.Context) error { return publisher.Close() })
		targets = append(targets, publisher)
	}

	if cfg.SNSTopicARN != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		targets = append(targets, sns.New(cfg.SNSTopicARN,
			sns.WithSNSClient(awssns.NewFromConfig(awsCfg)),
		))
	}

	if cfg.WebhookURL != "" {
		targets = append(targets, webhook.New(cfg.WebhookURL))
	}

	return notify.Multi(targets...), nil
}

// Close stops background work and releases every backend. The monitor is
// stopped first so no maintenance tick races the shutdown.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Monitor != nil {
		errs = append(errs, rt.Monitor.Stop(ctx))
	}
	if rt.Snapshots != nil {
		errs = append(errs, rt.Snapshots.Close(ctx))
	}
	if rt.queue != nil {
		errs = append(errs, rt.queue.Close(ctx))
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i](ctx))
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
