// Package commands provides the CLI command implementations for chronicle.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emberforge/chronicle/character"
	"github.com/emberforge/chronicle/cli/config"
	"github.com/emberforge/chronicle/cli/styles"
	"github.com/emberforge/chronicle/cli/ui"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	noColor    bool
	verbose    bool
}

// NewRootCommand creates the root command for the chronicle CLI
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "chronicle",
		Short: "Snapshot and archive maintenance for character event streams",
		Long: ui.SimpleBanner() + `

Chronicle keeps character reads fast and hot storage small. It snapshots
long streams, moves old events to cold storage and watches read costs.

` + styles.Title.Render("Quick Start:") + `

  ` + styles.Code.Render("chronicle init") + `              Write a chronicle.yaml
  ` + styles.Code.Render("chronicle snapshot pending") + `  Snapshot characters that are due
  ` + styles.Code.Render("chronicle archive run") + `       Move old events to cold storage
  ` + styles.Code.Render("chronicle monitor") + `           Run scheduled maintenance`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				styles.DisableColors()
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to chronicle.yaml (default: search upward from the working directory)")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log at debug level")

	// Add subcommands
	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewSeedCommand(opts))
	rootCmd.AddCommand(NewInspectCommand(opts))
	rootCmd.AddCommand(NewSnapshotCommand(opts))
	rootCmd.AddCommand(NewArchiveCommand(opts))
	rootCmd.AddCommand(NewMonitorCommand(opts))
	rootCmd.AddCommand(NewRecommendationsCommand(opts))
	rootCmd.AddCommand(NewDiagnoseCommand(opts))
	rootCmd.AddCommand(NewVersionCommand(Version, Commit, BuildDate))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.FormatError(err.Error()))
		return err
	}

	return nil
}

// loadConfig resolves and validates the configuration.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, _, err := config.Resolve(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.verbose {
		cfg.Telemetry.LogLevel = "debug"
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// withRuntime opens a runtime for the duration of fn.
func (o *globalOptions) withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *Runtime, out io.Writer) error) (err error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := openRuntime(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(context.Background()); cerr != nil && err == nil {
			err = fmt.Errorf("close: %w", cerr)
		}
	}()

	return fn(ctx, rt, cmd.OutOrStdout())
}

// streamArg turns a command argument into a stream ID. Bare IDs name
// characters.
func streamArg(arg string) string {
	if strings.HasPrefix(arg, character.Category+"-") {
		return arg
	}
	return character.StreamID(arg)
}
