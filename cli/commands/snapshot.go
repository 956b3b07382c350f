package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/emberforge/chronicle"
	"github.com/emberforge/chronicle/cli/styles"
	"github.com/emberforge/chronicle/cli/ui"
)

// NewSnapshotCommand creates the snapshot command group
func NewSnapshotCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshot",
		Short:   "Create, inspect and prune character snapshots",
		Aliases: []string{"snap"},
	}

	cmd.AddCommand(newSnapshotCreateCommand(opts))
	cmd.AddCommand(newSnapshotPendingCommand(opts))
	cmd.AddCommand(newSnapshotCleanupCommand(opts))
	cmd.AddCommand(newSnapshotStatsCommand(opts))

	return cmd
}

func newSnapshotCreateCommand(opts *globalOptions) *cobra.Command {
	var ifNeeded bool

	cmd := &cobra.Command{
		Use:   "create <character>...",
		Short: "Snapshot one or more characters",
		Long: `Snapshot one or more characters from their full history.

With --if-needed the snapshot strategy decides per character and characters
that are not due are skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime, out io.Writer) error {
				table := ui.NewTable("Stream", "Status", "Version", "Size", "Took")
				var failed int
				for _, arg := range args {
					streamID := streamArg(arg)

					if ifNeeded {
						created, err := rt.Snapshots.CreateSnapshotIfNeeded(ctx, streamID)
						switch {
						case err != nil:
							failed++
							table.AddRow(streamID, ui.StatusBadge("failed"), err.Error(), "", "")
						case !created:
							table.AddRow(streamID, ui.StatusBadge("skipped"), "", "", "")
						default:
							table.AddRow(streamID, ui.StatusBadge("created"), "", "", "")
						}
						continue
					}

					record, err := rt.Snapshots.CreateSnapshot(ctx, streamID)
					if err != nil {
						failed++
						table.AddRow(streamID, ui.StatusBadge("failed"), err.Error(), "", "")
						continue
					}
					table.AddRow(streamID, ui.StatusBadge("created"),
						strconv.FormatInt(record.EventVersion, 10),
						ui.FormatBytes(record.StateSizeBytes),
						ui.FormatDuration(record.CreationDuration))
				}

				fmt.Fprintln(out, table.Render())
				if failed > 0 {
					return fmt.Errorf("%d of %d snapshots failed", failed, len(args))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&ifNeeded, "if-needed", false, "Only snapshot characters the strategy marks as due")

	return cmd
}

func newSnapshotPendingCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Snapshot every character that is due",
		Long: `Find characters whose history has outgrown their latest snapshot, or that
have never been snapshotted, and snapshot up to one batch of them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime, out io.Writer) error {
				result, err := rt.Snapshots.ProcessPendingSnapshots(ctx)
				if err != nil {
					return err
				}

				fmt.Fprintln(out, styles.FormatKeyValue("Scanned", strconv.Itoa(result.Scanned)))
				fmt.Fprintln(out, styles.FormatKeyValue("Created", strconv.Itoa(result.Created)))
				fmt.Fprintln(out, styles.FormatKeyValue("Skipped", strconv.Itoa(result.Skipped)))
				printFailures(out, result.Failures)
				return result.Err()
			})
		},
	}
}

func newSnapshotCleanupCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete snapshots beyond the retention count",
		Long: `Delete the oldest snapshots of every character with more snapshots than
the configured retention. The latest snapshot of a character is never deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime, out io.Writer) error {
				result, err := rt.Snapshots.CleanupOldSnapshots(ctx)
				if err != nil {
					return err
				}

				fmt.Fprintln(out, styles.FormatKeyValue("Streams scanned", strconv.Itoa(result.StreamsScanned)))
				fmt.Fprintln(out, styles.FormatKeyValue("Snapshots deleted", strconv.FormatInt(result.SnapshotsDeleted, 10)))
				printFailures(out, result.Failures)
				if len(result.Failures) > 0 {
					return fmt.Errorf("%d streams failed", len(result.Failures))
				}
				return nil
			})
		},
	}
}

func newSnapshotStatsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <character>",
		Short: "Show snapshot statistics for a character",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime, out io.Writer) error {
				stats, err := rt.Snapshots.GetSnapshotStatistics(ctx, streamArg(args[0]))
				if err != nil {
					return err
				}

				fmt.Fprintln(out, styles.Title.Render(styles.IconSnapshot+" "+stats.StreamID))
				table := ui.NewTable("Metric", "Value")
				table.AddRow("Current version", strconv.FormatInt(stats.CurrentVersion, 10))
				table.AddRow("Snapshots", strconv.Itoa(stats.SnapshotCount))
				table.AddRow("Latest snapshot version", strconv.FormatInt(stats.LatestSnapshotVersion, 10))
				table.AddRow("Events since snapshot", strconv.FormatInt(stats.EventsSinceSnapshot, 10))
				table.AddRow("Total size", ui.FormatBytes(stats.TotalSizeBytes))
				table.AddRow("Average size", ui.FormatBytes(stats.AverageSizeBytes))
				table.AddRow("Average creation time", ui.FormatDuration(stats.AverageCreationTime))
				table.AddRow("Oldest", ui.FormatTime(stats.OldestSnapshotAt))
				table.AddRow("Newest", ui.FormatTime(stats.NewestSnapshotAt))
				fmt.Fprintln(out, table.Render())

				if stats.SnapshotRecommended {
					fmt.Fprintln(out, styles.FormatWarning("A new snapshot is recommended"))
				}
				return nil
			})
		},
	}
}

// printFailures lists per-aggregate failures of a batch run.
func printFailures(out io.Writer, failures []*chronicle.AggregateError) {
	if len(failures) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, styles.FormatError(fmt.Sprintf("%d aggregates failed:", len(failures))))
	for _, f := range failures {
		fmt.Fprintf(out, "  %s %s: %v\n", styles.IconArrow, f.StreamID, f.Cause)
	}
}
