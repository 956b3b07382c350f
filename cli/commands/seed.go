package commands

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberforge/chronicle"
	"github.com/emberforge/chronicle/adapters"
	"github.com/emberforge/chronicle/character"
	"github.com/emberforge/chronicle/cli/styles"
	"github.com/emberforge/chronicle/cli/ui"
)

// seedChunk bounds the events written by one append.
const seedChunk = 500

// NewSeedCommand creates the seed command
func NewSeedCommand(opts *globalOptions) *cobra.Command {
	var (
		characters int
		events     int
		seed       int64
		first      int
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write simulated character histories",
		Long: `Write simulated character histories to the hot store.

Each character receives a creation event followed by a random mix of
experience, combat, loot and progression events. The same --seed always
produces the same histories.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if characters <= 0 || events <= 0 {
				return fmt.Errorf("--characters and --events must be positive")
			}
			return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime, out io.Writer) error {
				rng := rand.New(rand.NewSource(seed))
				start := time.Now()

				tracker := ui.StartTracker(out, "Seeding characters")
				table := ui.NewTable("Stream", "Version")
				for i := 0; i < characters; i++ {
					streamID := character.StreamID(strconv.Itoa(first + i))
					version, err := seedStream(ctx, rt.Store, streamID, character.Simulate(rng, events))
					if err != nil {
						tracker.Finish("Seeding "+streamID, err)
						return fmt.Errorf("seed %s: %w", streamID, err)
					}
					table.AddRow(streamID, strconv.FormatInt(version, 10))
					tracker.Step(i+1, characters, streamID)
				}
				tracker.Finish(fmt.Sprintf("Seeded %d characters", characters), nil)

				fmt.Fprintln(out, table.Render())
				fmt.Fprintln(out, styles.FormatSuccess(fmt.Sprintf(
					"Seeded %d characters with %d events each in %s",
					characters, events, ui.FormatDuration(time.Since(start)))))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&characters, "characters", "n", 10, "Number of characters")
	cmd.Flags().IntVarP(&events, "events", "e", 200, "Events per character")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Random seed")
	cmd.Flags().IntVar(&first, "first-id", 1, "ID of the first character")

	return cmd
}

// seedStream appends events to a new stream in chunks and returns the final
// version.
func seedStream(ctx context.Context, store *chronicle.EventStore, streamID string, events []interface{}) (int64, error) {
	version := int64(adapters.NoStream)
	for len(events) > 0 {
		n := seedChunk
		if n > len(events) {
			n = len(events)
		}
		stored, err := store.Append(ctx, streamID, events[:n], chronicle.ExpectVersion(version))
		if err != nil {
			return 0, err
		}
		version = stored[len(stored)-1].Version
		events = events[n:]
	}
	return version, nil
}

// NewInspectCommand creates the inspect command
func NewInspectCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <character>",
		Short: "Rebuild and show a character",
		Long: `Rebuild a character through the snapshot read path and show its state
together with how the read was served.

The argument is a character ID or a full stream ID (Character-7).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime, out io.Writer) error {
				r, err := rt.Snapshots.GetAggregate(ctx, streamArg(args[0]))
				if err != nil {
					return err
				}
				c := r.State

				fmt.Fprintln(out, styles.Title.Render(styles.IconStream+" "+r.StreamID))
				table := ui.NewTable("Field", "Value")
				table.AddRow("Name", c.Name)
				table.AddRow("Type", c.Type)
				table.AddRow("Status", ui.StatusBadge(c.Status))
				table.AddRow("Level", strconv.Itoa(c.Level))
				table.AddRow("Experience", strconv.FormatInt(c.Experience, 10))
				table.AddRow("Health", fmt.Sprintf("%d/%d", c.Health, c.MaxHealth))
				table.AddRow("Gold", strconv.FormatInt(c.Gold, 10))
				table.AddRow("Items", strconv.Itoa(len(c.Inventory)))
				table.AddRow("Titles", strconv.Itoa(len(c.Titles)))
				fmt.Fprintln(out, table.Render())

				source := "full replay"
				if r.UsedSnapshot {
					source = fmt.Sprintf("snapshot at v%d", r.SnapshotVersion)
				}
				fmt.Fprintln(out, styles.FormatKeyValue("Version", strconv.FormatInt(r.Version, 10)))
				fmt.Fprintln(out, styles.FormatKeyValue("Source", source))
				fmt.Fprintln(out, styles.FormatKeyValue("Events applied", strconv.Itoa(r.EventsApplied)))
				fmt.Fprintln(out, styles.FormatKeyValue("Duration", ui.FormatDuration(r.Duration)))
				return nil
			})
		},
	}
}
