package commands

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberforge/chronicle/cli/config"
	"github.com/emberforge/chronicle/cli/styles"
	"github.com/emberforge/chronicle/cli/ui"
)

// NewDiagnoseCommand creates the diagnose command
func NewDiagnoseCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Run diagnostic checks",
		Long: `Run diagnostic checks on your chronicle setup.

This command verifies:
  • Configuration file validity
  • Hot store and archive connectivity
  • Snapshot coverage
  • Notification targets`,
		Aliases: []string{"diag", "doctor"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ui.Banner())

			cfg, err := opts.loadConfig()
			if err != nil {
				printChecks(out, []CheckResult{
					newCheckResult("Configuration", StatusError, err.Error()).
						withRecommendation("Run 'chronicle init' or fix " + config.ConfigFileName),
				})
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			results := []CheckResult{
				newCheckResult("Configuration", StatusOK, fmt.Sprintf("Driver: %s, archive: %s", cfg.Database.Driver, cfg.Archive.Path)),
			}

			rt, err := openRuntime(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				results = append(results, newCheckResult("Storage", StatusError, err.Error()).
					withRecommendation("Check the database URL and archive path"))
				printChecks(out, results)
				return nil
			}
			defer func() { _ = rt.Close(context.Background()) }()

			results = append(results, checkBackends(ctx, rt)...)
			results = append(results, checkSnapshotCoverage(ctx, rt), checkNotify(cfg.Notify))
			printChecks(out, results)
			return nil
		},
	}
}

// CheckStatus represents the status of a diagnostic check
type CheckStatus int

const (
	StatusOK CheckStatus = iota
	StatusWarning
	StatusError
)

// CheckResult represents the result of a diagnostic check
type CheckResult struct {
	Name           string
	Status         CheckStatus
	Message        string
	Recommendation string
}

// newCheckResult creates a CheckResult with the given name.
func newCheckResult(name string, status CheckStatus, message string) CheckResult {
	return CheckResult{Name: name, Status: status, Message: message}
}

// withRecommendation adds a recommendation to a CheckResult.
func (r CheckResult) withRecommendation(rec string) CheckResult {
	r.Recommendation = rec
	return r
}

func checkBackends(ctx context.Context, rt *Runtime) []CheckResult {
	pings := rt.Ping(ctx)
	names := make([]string, 0, len(pings))
	for name := range pings {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]CheckResult, 0, len(names))
	for _, name := range names {
		label := "Storage (" + name + ")"
		if err := pings[name]; err != nil {
			results = append(results, newCheckResult(label, StatusError, err.Error()).
				withRecommendation("Verify the "+name+" store is reachable"))
			continue
		}
		results = append(results, newCheckResult(label, StatusOK, "reachable"))
	}
	return results
}

func checkSnapshotCoverage(ctx context.Context, rt *Runtime) CheckResult {
	const name = "Snapshot coverage"
	stats, err := rt.Archiver.GetStorageStatistics(ctx)
	if err != nil {
		return newCheckResult(name, StatusError, err.Error())
	}
	msg := fmt.Sprintf("%d streams, %d hot events, %d snapshots, %d archived events",
		stats.Streams, stats.HotEvents, stats.Snapshots, stats.ArchivedEvents)
	if stats.Streams > 0 && stats.Snapshots == 0 {
		return newCheckResult(name, StatusWarning, msg).
			withRecommendation("Run 'chronicle snapshot pending' to snapshot long histories")
	}
	return newCheckResult(name, StatusOK, msg)
}

func checkNotify(cfg config.NotifyConfig) CheckResult {
	const name = "Notifications"
	var targets []string
	if len(cfg.KafkaBrokers) > 0 {
		targets = append(targets, "kafka")
	}
	if cfg.SNSTopicARN != "" {
		targets = append(targets, "sns")
	}
	if cfg.WebhookURL != "" {
		targets = append(targets, "webhook")
	}
	if len(targets) == 0 {
		return newCheckResult(name, StatusWarning, "No notification targets").
			withRecommendation("Set notify.kafka_brokers, notify.sns_topic_arn or notify.webhook_url to hear about integrity mismatches")
	}
	return newCheckResult(name, StatusOK, strconv.Itoa(len(targets))+" targets: "+strings.Join(targets, ", "))
}

func printChecks(out io.Writer, results []CheckResult) {
	fmt.Fprintln(out, styles.Title.Render(styles.IconInfo+" Diagnostics"))
	fmt.Fprintln(out)

	allPassed := true
	for _, r := range results {
		fmt.Fprintf(out, "  %s %s... ", styles.IconPending, r.Name)
		switch r.Status {
		case StatusOK:
			fmt.Fprintln(out, styles.SuccessStyle.Render("OK"))
		case StatusWarning:
			fmt.Fprintln(out, styles.WarningStyle.Render("WARNING"))
			allPassed = false
		default:
			fmt.Fprintln(out, styles.ErrorStyle.Render("FAILED"))
			allPassed = false
		}
		if r.Message != "" {
			fmt.Fprintf(out, "    %s\n", styles.Muted.Render(r.Message))
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, ui.Divider(50))
	fmt.Fprintln(out)

	if allPassed {
		fmt.Fprintln(out, styles.FormatSuccess("All checks passed! Your chronicle setup is healthy."))
		return
	}

	fmt.Fprintln(out, styles.FormatWarning("Some checks failed or have warnings."))
	fmt.Fprintln(out)
	fmt.Fprintln(out, styles.Subtitle.Render("Recommendations:"))
	for _, r := range results {
		if r.Recommendation != "" {
			fmt.Fprintf(out, "  %s %s\n", styles.IconArrow, r.Recommendation)
		}
	}
}

// NewVersionCommand creates the version command
func NewVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ui.SimpleBanner())
			fmt.Fprintln(out)

			table := ui.NewTable("", "")
			table.AddRow("Version", version)
			table.AddRow("Commit", commit)
			table.AddRow("Built", date)
			table.AddRow("Go", runtime.Version())
			table.AddRow("OS/Arch", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH))

			fmt.Fprintln(out, table.Render())
			return nil
		},
	}
}
