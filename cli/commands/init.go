package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/emberforge/chronicle/cli/config"
	"github.com/emberforge/chronicle/cli/styles"
	"github.com/emberforge/chronicle/cli/ui"
)

// initAnswers holds the wizard fields in their editable form.
type initAnswers struct {
	Driver      string
	Schema      string
	ArchivePath string
	MaxAge      string
	Encoding    string
}

func newInitAnswers(cfg *config.Config) *initAnswers {
	return &initAnswers{
		Driver:      cfg.Database.Driver,
		Schema:      cfg.Database.Schema,
		ArchivePath: cfg.Archive.Path,
		MaxAge:      cfg.Archive.MaxAge.String(),
		Encoding:    cfg.Snapshots.Encoding,
	}
}

// apply copies the answers into cfg.
func (a *initAnswers) apply(cfg *config.Config) error {
	maxAge, err := time.ParseDuration(a.MaxAge)
	if err != nil {
		return fmt.Errorf("archive max age: %w", err)
	}
	cfg.Database.Driver = a.Driver
	cfg.Database.Schema = a.Schema
	cfg.Archive.Path = a.ArchivePath
	cfg.Archive.MaxAge = maxAge
	cfg.Snapshots.Encoding = a.Encoding
	return nil
}

func validDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func newInitForm(a *initAnswers) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Hot Store").
				Description("Where live character events are kept").
				Options(
					huh.NewOption("PostgreSQL (production)", config.DriverPostgres),
					huh.NewOption("In-Memory (local experiments)", config.DriverMemory),
				).
				Value(&a.Driver),

			huh.NewInput().
				Title("Schema").
				Description("PostgreSQL schema for events and snapshots").
				Value(&a.Schema),
		).Title("Event Store"),

		huh.NewGroup(
			huh.NewInput().
				Title("Archive Path").
				Description("SQLite file that receives archived events").
				Value(&a.ArchivePath),

			huh.NewInput().
				Title("Archive After").
				Description("Events older than this move to the archive (e.g. 720h)").
				Validate(validDuration).
				Value(&a.MaxAge),
		).Title("Archive"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Snapshot Encoding").
				Options(
					huh.NewOption("JSON", config.EncodingJSON),
					huh.NewOption("MessagePack", config.EncodingMsgpack),
				).
				Value(&a.Encoding),
		).Title("Snapshots"),
	).WithTheme(huh.ThemeDracula())
}

var (
	// promptInit runs the init wizard.
	promptInit = func(a *initAnswers) error {
		return newInitForm(a).Run()
	}

	stdinIsTerminal = func() bool {
		fd := os.Stdin.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
)

// NewInitCommand creates the init command
func NewInitCommand() *cobra.Command {
	var (
		driver         string
		archivePath    string
		force          bool
		nonInteractive bool
	)

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a chronicle.yaml configuration file",
		Long: `Write a chronicle.yaml with the default maintenance policy.

On a terminal a short wizard asks for the hot store, archive and snapshot
settings, starting from the flag values. --non-interactive writes the flag
values directly.

The database URL is written as ${DATABASE_URL} and expanded when the file is
loaded. Every setting can be overridden by a CHRONICLE_* environment variable.

Examples:
  chronicle init                    # Initialize in current directory
  chronicle init ops/chronicle      # Initialize in another directory
  chronicle init --driver=memory --non-interactive`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			absDir, err := filepath.Abs(dir)
			if err != nil {
				return err
			}

			if config.Exists(absDir) && !force {
				fmt.Fprintln(out, styles.FormatWarning(config.ConfigFileName+" already exists in this directory (use --force to overwrite)"))
				return nil
			}

			cfg := config.DefaultConfig()
			cfg.Database.Driver = driver
			if archivePath != "" {
				cfg.Archive.Path = archivePath
			}

			if !nonInteractive && stdinIsTerminal() {
				fmt.Fprintln(out, ui.Banner())
				answers := newInitAnswers(cfg)
				if err := promptInit(answers); err != nil {
					return err
				}
				if err := answers.apply(cfg); err != nil {
					return err
				}
			}

			if cfg.Database.Driver != config.DriverPostgres && cfg.Database.Driver != config.DriverMemory {
				return fmt.Errorf("unsupported driver: %s", cfg.Database.Driver)
			}

			if err := os.MkdirAll(absDir, 0755); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}
			path := filepath.Join(absDir, config.ConfigFileName)
			if err := os.WriteFile(path, []byte(config.GenerateYAML(cfg)), 0644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}

			fmt.Fprintln(out, ui.SimpleBanner())
			fmt.Fprintln(out)
			fmt.Fprintln(out, styles.FormatSuccess("Created "+path))
			fmt.Fprintln(out)

			steps := []string{"chronicle diagnose", "chronicle snapshot pending", "chronicle archive run"}
			if cfg.Database.Driver == config.DriverPostgres {
				steps = append([]string{"export DATABASE_URL=postgres://..."}, steps...)
			}
			fmt.Fprintln(out, styles.Panel.Render(
				styles.Subtitle.Render("Next steps")+"\n"+strings.TrimRight(ui.NumberedList(steps), "\n")))
			return nil
		},
	}

	cmd.Flags().StringVarP(&driver, "driver", "d", config.DriverPostgres, "Hot store driver (postgres, memory)")
	cmd.Flags().StringVar(&archivePath, "archive", "", "Path of the SQLite archive database")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing configuration")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Skip the setup wizard")

	return cmd
}
