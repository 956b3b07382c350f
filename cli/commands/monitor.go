package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/emberforge/chronicle"
	"github.com/emberforge/chronicle/adapters"
	"github.com/emberforge/chronicle/character"
	"github.com/emberforge/chronicle/cli/styles"
	"github.com/emberforge/chronicle/cli/ui"
)

// NewMonitorCommand creates the monitor command
func NewMonitorCommand(opts *globalOptions) *cobra.Command {
	var (
		once   bool
		listen string
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run scheduled maintenance and serve metrics",
		Long: `Run the performance monitor until interrupted.

Every interval the monitor snapshots due characters, prunes snapshots beyond
retention and, with monitor.archive_enabled, archives old events. Prometheus
metrics are served on /metrics at monitor.listen_addr.

With --once a single maintenance pass runs and its report is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime, out io.Writer) error {
				if once {
					report, err := rt.Monitor.RunMaintenance(ctx)
					if report != nil {
						printMaintenanceReport(out, report)
					}
					return err
				}

				addr := listen
				if addr == "" {
					addr = rt.Config.Monitor.ListenAddr
				}
				return serveMonitor(ctx, rt, addr, out)
			})
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run one maintenance pass and exit")
	cmd.Flags().StringVar(&listen, "listen", "", "Metrics listen address (default: monitor.listen_addr)")

	return cmd
}

// serveMonitor runs the monitor and the metrics endpoint until ctx ends or a
// termination signal arrives.
func serveMonitor(ctx context.Context, rt *Runtime, addr string, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.Registry.Register(collectors.NewGoCollector()); err != nil {
		return fmt.Errorf("register go collector: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	if err := rt.Monitor.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, styles.FormatInfo(fmt.Sprintf("Monitor running, metrics on %s/metrics", addr)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(server.Shutdown(shutdownCtx), rt.Monitor.Stop(shutdownCtx))
	})

	err := g.Wait()
	fmt.Fprintln(out, styles.FormatInfo("Monitor stopped"))
	return err
}

func printMaintenanceReport(out io.Writer, report *chronicle.MaintenanceReport) {
	fmt.Fprintln(out, styles.Title.Render(styles.IconChart+" Maintenance"))
	if report.Pending != nil {
		fmt.Fprintln(out, styles.FormatKeyValue("Snapshots created", strconv.Itoa(report.Pending.Created)))
		printFailures(out, report.Pending.Failures)
	}
	if report.Cleanup != nil {
		fmt.Fprintln(out, styles.FormatKeyValue("Snapshots deleted", strconv.FormatInt(report.Cleanup.SnapshotsDeleted, 10)))
		printFailures(out, report.Cleanup.Failures)
	}
	if report.Archive != nil {
		fmt.Fprintln(out, styles.FormatKeyValue("Events archived", strconv.FormatInt(report.Archive.EventsArchived, 10)))
		printFailures(out, report.Archive.Failures)
	}
	fmt.Fprintln(out, styles.FormatKeyValue("Samples pruned", strconv.Itoa(report.Pruned)))
}

// NewRecommendationsCommand creates the recommendations command
func NewRecommendationsCommand(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "recommendations",
		Short:   "Probe character reads and suggest optimizations",
		Aliases: []string{"recs"},
		Long: `Read up to --limit characters through the snapshot read path, record
what each read cost and list the optimizations the monitor recommends.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime, out io.Writer) error {
				if err := rt.Monitor.Start(ctx); err != nil {
					return err
				}

				streams, err := rt.Store.ListStreams(ctx, adapters.ListStreamsOptions{
					Prefix: character.Category + "-",
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				for _, s := range streams {
					if _, err := rt.Snapshots.GetAggregate(ctx, s.StreamID); err != nil {
						rt.Logger.Warn("Probe read failed", "stream", s.StreamID, "error", err)
					}
				}
				if err := rt.Monitor.Flush(ctx); err != nil {
					return err
				}

				recs, err := rt.Monitor.GetOptimizationRecommendations(ctx)
				if err != nil {
					return err
				}
				metrics, err := rt.Monitor.GetRealtimeMetrics(ctx)
				if err != nil {
					return err
				}

				fmt.Fprintln(out, styles.FormatKeyValue("Characters probed", strconv.Itoa(len(streams))))
				fmt.Fprintln(out, styles.FormatKeyValue("Snapshot hit rate", ui.Bar(metrics.SnapshotHitRate, 20)+" "+ui.FormatPercent(metrics.SnapshotHitRate)))
				fmt.Fprintln(out, styles.FormatKeyValue("Avg snapshot read", ui.FormatDuration(metrics.AverageSnapshotDuration)))
				fmt.Fprintln(out, styles.FormatKeyValue("Avg full replay", ui.FormatDuration(metrics.AverageFullReplayDuration)))
				fmt.Fprintln(out)

				if len(recs) == 0 {
					fmt.Fprintln(out, styles.FormatSuccess("No optimizations recommended"))
					return nil
				}

				table := ui.NewTable("Priority", "Stream", "Action", "Reason")
				for _, r := range recs {
					table.AddRow(ui.PriorityBadge(r.Priority.String()), r.StreamID, r.Action, r.Reason)
				}
				fmt.Fprintln(out, table.Render())
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 100, "Maximum characters to probe")

	return cmd
}
