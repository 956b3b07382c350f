package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberforge/chronicle/cli/styles"
	"github.com/emberforge/chronicle/cli/ui"
)

// NewArchiveCommand creates the archive command group
func NewArchiveCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Move, compress and verify cold event history",
	}

	cmd.AddCommand(newArchiveRunCommand(opts))
	cmd.AddCommand(newArchiveCompressCommand(opts))
	cmd.AddCommand(newArchiveRollupCommand(opts))
	cmd.AddCommand(newArchiveValidateCommand(opts))
	cmd.AddCommand(newArchiveStatsCommand(opts))

	return cmd
}

func newArchiveRunCommand(opts *globalOptions) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Archive events older than the maximum age",
		Long: `Move events older than the maximum age from the hot store to the archive.

A snapshot covering the moved events is ensured first, and events younger
than the snapshot by less than the safety margin stay hot.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime, out io.Writer) error {
				age := maxAge
				if age == 0 {
					age = rt.Config.Archive.MaxAge
				}

				tracker := ui.StartTracker(out, "Archiving events older than "+age.String())
				result, err := rt.Archiver.ArchiveOldEvents(ctx, age)
				tracker.Finish("Archive run", err)
				if err != nil {
					return err
				}

				fmt.Fprintln(out, styles.Title.Render(styles.IconArchive+" Archive run"))
				fmt.Fprintln(out, styles.FormatKeyValue("Cutoff", ui.FormatTime(result.Cutoff)))
				fmt.Fprintln(out, styles.FormatKeyValue("Aggregates scanned", strconv.Itoa(result.AggregatesScanned)))
				fmt.Fprintln(out, styles.FormatKeyValue("Aggregates archived", strconv.Itoa(result.AggregatesArchived)))
				fmt.Fprintln(out, styles.FormatKeyValue("Events archived", strconv.FormatInt(result.EventsArchived, 10)))
				fmt.Fprintln(out, styles.FormatKeyValue("Snapshots created", strconv.Itoa(result.SnapshotsCreated)))
				printFailures(out, result.Failures)
				return result.Err()
			})
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Archive events older than this (default: archive.max_age)")

	return cmd
}

func newArchiveCompressCommand(opts *globalOptions) *cobra.Command {
	var keepRecent int

	cmd := &cobra.Command{
		Use:   "compress <character>",
		Short: "Compress the older history of a character",
		Long: `Compress all but the newest events of a character into batches of
consecutive same-type events. Hot events are left in place.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime, out io.Writer) error {
				keep := keepRecent
				if keep < 0 {
					keep = rt.Config.Archive.KeepRecent
				}

				result, err := rt.Archiver.CompressEventHistory(ctx, streamArg(args[0]), keep)
				if err != nil {
					return err
				}

				fmt.Fprintln(out, styles.Title.Render(styles.IconArchive+" "+result.StreamID))
				if result.Message != "" {
					fmt.Fprintln(out, styles.FormatInfo(result.Message))
				}
				fmt.Fprintln(out, styles.FormatKeyValue("Events", strconv.Itoa(result.TotalEvents)))
				fmt.Fprintln(out, styles.FormatKeyValue("Compressed", strconv.Itoa(result.EventsCompressed)))
				fmt.Fprintln(out, styles.FormatKeyValue("Batches", strconv.Itoa(result.BatchesCreated)))
				fmt.Fprintln(out, styles.FormatKeyValue("Original", ui.FormatBytes(result.OriginalBytes)))
				fmt.Fprintln(out, styles.FormatKeyValue("Compressed size", ui.FormatBytes(result.CompressedBytes)))
				fmt.Fprintln(out, styles.FormatKeyValue("Saved", ui.FormatBytes(result.BytesSaved)))
				fmt.Fprintln(out, styles.FormatKeyValue("Ratio", ui.Bar(result.Ratio, 20)+" "+ui.FormatPercent(result.Ratio)))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&keepRecent, "keep-recent", "k", -1, "Newest events to leave uncompressed (default: archive.keep_recent)")

	return cmd
}

func newArchiveRollupCommand(opts *globalOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "rollup <character>",
		Short: "Summarize a character's history per time bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime, out io.Writer) error {
				bucket := interval
				if bucket == 0 {
					bucket = rt.Config.Archive.RollupInterval
				}

				result, err := rt.Archiver.CreateEventRollups(ctx, streamArg(args[0]), bucket)
				if err != nil {
					return err
				}

				fmt.Fprintln(out, styles.Title.Render(styles.IconChart+" "+result.StreamID))
				fmt.Fprintln(out, styles.FormatKeyValue("Interval", result.Interval.String()))
				fmt.Fprintln(out, styles.FormatKeyValue("Events scanned", strconv.Itoa(result.EventsScanned)))
				fmt.Fprintln(out, styles.FormatKeyValue("Rollups", strconv.Itoa(result.RollupsCreated)))
				fmt.Fprintln(out, styles.FormatKeyValue("Space saved", ui.FormatBytes(result.SpaceSaved)))
				return nil
			})
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "Bucket width (default: archive.rollup_interval)")

	return cmd
}

func newArchiveValidateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <character>...",
		Short: "Check archived history rebuilds the live state",
		Long: `Rebuild each character from archived plus hot events and compare the core
fields (name, level, health, type) with the live read path.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime, out io.Writer) error {
				table := ui.NewTable("Stream", "Status", "Live", "Archived", "Cold events", "Hot events")
				var mismatched []string
				for _, arg := range args {
					result, err := rt.Archiver.ValidateArchivedData(ctx, streamArg(arg))
					if err != nil {
						return err
					}

					status := "valid"
					if !result.Valid {
						status = "mismatch"
						for _, m := range result.Mismatches {
							mismatched = append(mismatched, fmt.Sprintf("%s: %s", result.StreamID, m))
						}
					}
					table.AddRow(result.StreamID, ui.StatusBadge(status),
						strconv.FormatInt(result.LiveVersion, 10),
						strconv.FormatInt(result.ArchivedVersion, 10),
						strconv.Itoa(result.ArchivedEvents),
						strconv.Itoa(result.HotEvents))
				}

				fmt.Fprintln(out, table.Render())
				if len(mismatched) > 0 {
					fmt.Fprintln(out, mismatchReport(mismatched))
					return fmt.Errorf("archived data does not match live state")
				}
				return nil
			})
		},
	}
}

func newArchiveStatsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show hot, archive and snapshot storage totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime, out io.Writer) error {
				stats, err := rt.Archiver.GetStorageStatistics(ctx)
				if err != nil {
					return err
				}

				table := ui.NewTable("Tier", "Metric", "Value")
				table.AddRow(styles.Tier("hot"), "Streams", strconv.Itoa(stats.Streams))
				table.AddRow(styles.Tier("hot"), "Events", strconv.FormatInt(stats.HotEvents, 10))
				table.AddRow(styles.Tier("cold"), "Archived events", strconv.FormatInt(stats.ArchivedEvents, 10))
				table.AddRow(styles.Tier("cold"), "Archived streams", strconv.FormatInt(stats.ArchivedStreams, 10))
				table.AddRow(styles.Tier("cold"), "Compressed batches", strconv.FormatInt(stats.CompressedBatches, 10))
				table.AddRow(styles.Tier("cold"), "Compressed events", strconv.FormatInt(stats.CompressedEvents, 10))
				table.AddRow(styles.Tier("cold"), "Compression", ui.FormatBytes(stats.OriginalBytes)+" "+styles.IconArrow+" "+ui.FormatBytes(stats.CompressedBytes))
				table.AddRow(styles.Tier("cold"), "Rollups", strconv.FormatInt(stats.Rollups, 10))
				table.AddRow(styles.Tier("snapshots"), "Count", strconv.FormatInt(stats.Snapshots, 10))
				table.AddRow(styles.Tier("snapshots"), "Size", ui.FormatBytes(stats.SnapshotBytes))
				fmt.Fprintln(out, table.Render())
				return nil
			})
		},
	}
}

// mismatchReport frames the fields that differ between archived and live
// state.
func mismatchReport(mismatched []string) string {
	return styles.AlertPanel.Render(
		styles.ErrorBold.Render(styles.IconError+" Integrity mismatches") + "\n" +
			strings.TrimRight(ui.ListItems(mismatched), "\n"))
}
