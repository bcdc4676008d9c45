package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/zbulk/am"
	"github.com/teranos/zbulk/errors"
	"github.com/teranos/zbulk/pulse/bulk"
)

// RunsCmd shows run history
var RunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show run history",
	Long: `List recorded runs, newest first. Every run started from the CLI or
the server is recorded with its per-item outcomes.

Examples:
  zbulk runs                             # Last 20 runs
  zbulk runs --profile acme --status ended
  zbulk runs show 5b0c...                # One run with its outcomes`,
	Args: cobra.NoArgs,
	RunE: runRunsLs,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its item outcomes",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var (
	runsProfile string
	runsJobType string
	runsStatus  string
	runsLimit   int
	runsFailed  bool
	runsDBPath  string
)

func init() {
	RunsCmd.Flags().StringVarP(&runsProfile, "profile", "p", "", "Filter by profile")
	RunsCmd.Flags().StringVarP(&runsJobType, "job-type", "j", "", "Filter by job type")
	RunsCmd.Flags().StringVar(&runsStatus, "status", "", "Filter by status (running, complete, ended, error)")
	RunsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to display")
	RunsCmd.PersistentFlags().StringVar(&runsDBPath, "db-path", "", "Custom database path (overrides config)")

	runsShowCmd.Flags().BoolVar(&runsFailed, "failed", false, "Show failed outcomes only")

	RunsCmd.AddCommand(runsShowCmd)
}

func openRunStore() (*bulk.Store, func() error, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	database, err := openDatabase(resolveDBPath(cfg, runsDBPath))
	if err != nil {
		return nil, nil, err
	}
	return bulk.NewStore(database), database.Close, nil
}

func runRunsLs(cmd *cobra.Command, args []string) error {
	switch bulk.RunStatus(runsStatus) {
	case "", bulk.RunStatusRunning, bulk.RunStatusComplete, bulk.RunStatusEnded, bulk.RunStatusError:
	default:
		return errors.Newf("unknown status %q (running, complete, ended, error)", runsStatus)
	}

	store, closeDB, err := openRunStore()
	if err != nil {
		return err
	}
	defer closeDB()

	runs, err := store.ListRuns(context.Background(), bulk.RunFilter{
		ProfileName: runsProfile,
		JobType:     runsJobType,
		Status:      bulk.RunStatus(runsStatus),
		Limit:       runsLimit,
	})
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("%-10s %-10s %-14s %-32s %-18s %s\n", "RUN", "STATUS", "PROFILE", "JOB TYPE", "OK/FAIL/SKIP", "STARTED")
	fmt.Printf("%-10s %-10s %-14s %-32s %-18s %s\n", "---", "------", "-------", "--------", "------------", "-------")
	for _, run := range runs {
		counts := fmt.Sprintf("%d/%d/%d of %d",
			run.Summary.Succeeded, run.Summary.Failed, run.Summary.Skipped, run.Summary.Total)
		fmt.Printf("%-10s %-10s %-14s %-32s %-18s %s\n",
			truncate(run.ID, 10),
			run.Status,
			truncate(run.Key.ProfileName, 14),
			truncate(run.Key.JobType, 32),
			counts,
			run.StartedAt.Local().Format("2006-01-02 15:04"))
	}

	fmt.Printf("\nTotal: %d run(s)\n", len(runs))
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openRunStore()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx := context.Background()
	run, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	outcomes, err := store.ListOutcomes(ctx, run.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Run:       %s\n", run.ID)
	fmt.Printf("  Status:  %s\n", run.Status)
	fmt.Printf("  Job:     %s for %s (connection %s)\n", run.Key.JobType, run.Key.ProfileName, run.Key.ConnectionID)
	fmt.Printf("  Options: concurrency %d, delay %dms, stop after %d\n", run.Concurrency, run.DelayMS, run.StopAfterFailures)
	fmt.Printf("  Summary: %s\n", describeSummary(&run.Summary))
	fmt.Printf("  Started: %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if run.FinishedAt != nil {
		fmt.Printf("  Took:    %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.Error != "" {
		fmt.Printf("  Error:   %s\n", pterm.Red(run.Error))
	}

	fmt.Println()
	shown := 0
	for _, o := range outcomes {
		if runsFailed && o.Success {
			continue
		}
		shown++
		status := pterm.Green("ok")
		if !o.Success {
			status = pterm.Red("fail")
		}
		line := fmt.Sprintf("%5d  %-4s  %s", o.Row, status, o.Identifier)
		if o.FailureReason != "" {
			line += " (" + string(o.FailureReason) + ")"
		}
		if o.Details != "" {
			line += ": " + o.Details
		}
		fmt.Println(line)
	}
	if shown == 0 {
		fmt.Println("No outcomes recorded")
	}
	return nil
}

// truncate cuts s to n characters, marking the cut with an ellipsis
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
