package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/zbulk/errors"
	"github.com/teranos/zbulk/pulse/bulk"
)

// cliConnectionID owns every job started from the command line
const cliConnectionID = "cli"

// RunCmd runs one bulk job in the foreground
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one bulk job in the foreground",
	Long: `Run a bulk job from an item file and print each result as it arrives.

Items are read from a CSV (header row), JSON or YAML file. JSON and YAML
files hold a list of objects, or an object with that list under "items".

While the job runs, type pause, resume or end (then Enter) to control it.
Ctrl+C ends the job; items already in flight finish and are recorded.

Examples:
  zbulk run -p acme -j inventory.contacts.create --items contacts.csv
  zbulk run -p acme -j books.invoices.create --items invoices.json \
      --concurrency 5 --delay 10s --stop-after 3
  zbulk run -p acme -j fsm.records.create --items work.yaml \
      --param module=Work_Orders --resume
  zbulk run -p acme -j catalyst.datastore.insert --items rows.csv \
      --param project_id=4000000012 --param table=Orders --resume-run <run-id>`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runProfile     string
	runJobType     string
	runItemsFile   string
	runIdentifier  string
	runConcurrency int
	runDelay       time.Duration
	runStopAfter   int
	runCountdown   bool
	runResume      bool
	runResumeRun   string
	runSkip        []string
	runParams      map[string]string
	runQuiet       bool
	runDBPath      string
)

func init() {
	RunCmd.Flags().StringVarP(&runProfile, "profile", "p", "", "Connection profile name")
	RunCmd.Flags().StringVarP(&runJobType, "job-type", "j", "", "Job type (see 'zbulk handlers')")
	RunCmd.Flags().StringVarP(&runItemsFile, "items", "i", "", "Item file (.csv, .json, .yaml)")
	RunCmd.Flags().StringVar(&runIdentifier, "identifier", "", "Field that identifies each item (default: the job type's)")
	RunCmd.Flags().IntVarP(&runConcurrency, "concurrency", "c", 0, "Items in flight at once (default from config)")
	RunCmd.Flags().DurationVar(&runDelay, "delay", 0, "Wait between batches, e.g. 2s (default from config)")
	RunCmd.Flags().IntVar(&runStopAfter, "stop-after", 0, "Pause after this many consecutive failures, 0 = never")
	RunCmd.Flags().BoolVar(&runCountdown, "countdown", true, "Print a countdown during delays")
	RunCmd.Flags().BoolVar(&runResume, "resume", false, "Skip items that already succeeded for this profile and job type")
	RunCmd.Flags().StringVar(&runResumeRun, "resume-run", "", "Skip items that succeeded in this run (see 'zbulk runs')")
	RunCmd.Flags().StringSliceVar(&runSkip, "skip", nil, "Identifiers to skip (comma separated)")
	RunCmd.Flags().StringToStringVar(&runParams, "param", nil, "Job parameter key=value (repeatable)")
	RunCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Print failures and job events only")
	RunCmd.Flags().StringVar(&runDBPath, "db-path", "", "Custom database path (overrides config)")

	_ = RunCmd.MarkFlagRequired("profile")
	_ = RunCmd.MarkFlagRequired("job-type")
	_ = RunCmd.MarkFlagRequired("items")
}

func runRun(cmd *cobra.Command, args []string) error {
	items, err := loadItemRows(runItemsFile)
	if err != nil {
		return err
	}

	s, err := openStack(cmd, runDBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	req := buildRunRequest(cmd, items)

	pterm.Info.Printf("Running %s for %s: %d items from %s\n",
		req.Key.JobType, req.Key.ProfileName, len(items.rows), runItemsFile)

	collector := bulk.NewCollector()
	sink := bulk.MultiSink{newConsoleSink(len(items.rows), runQuiet), collector}

	go readControlCommands(os.Stdin, s.engine, req.Key)

	// First Ctrl+C ends the job, a second one exits immediately
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
		case <-collector.Terminal():
			return
		}
		pterm.Info.Println("Ending job, waiting for items in flight (press Ctrl+C again to force)...")
		s.engine.EndJob(req.Key)

		select {
		case <-sigChan:
			pterm.Warning.Println("Force exit - in-flight results are not recorded")
			os.Exit(1)
		case <-collector.Terminal():
		}
	}()

	summary, err := s.engine.Run(context.Background(), req, sink)
	if err != nil {
		// Already printed as the job's bulk_error event
		return errors.Wrapf(err, "%s did not start", req.Key.JobType)
	}

	return reportRun(collector, summary)
}

// buildRunRequest maps flags onto a start request. Options the user did not
// set are left for the engine defaults.
func buildRunRequest(cmd *cobra.Command, items itemRows) bulk.StartRequest {
	req := bulk.StartRequest{
		Key: bulk.JobKey{
			ConnectionID: cliConnectionID,
			ProfileName:  runProfile,
			JobType:      runJobType,
		},
		Rows:              items.rows,
		RowNumbers:        items.numbers,
		IdentifierField:   runIdentifier,
		Concurrency:       runConcurrency,
		ResumeIdentifiers: runSkip,
		ResumeRunID:       runResumeRun,
		ResumeFromHistory: runResume,
	}

	if len(runParams) > 0 {
		req.Params = make(map[string]any, len(runParams))
		for k, v := range runParams {
			req.Params[k] = v
		}
	}

	flags := cmd.Flags()
	if flags.Changed("delay") {
		req.Delay = &runDelay
	}
	if flags.Changed("stop-after") {
		req.StopAfterFailures = &runStopAfter
	}
	if flags.Changed("countdown") {
		req.Countdown = &runCountdown
	}
	return req
}

// reportRun prints the final summary. A job that ended in bulk_error is a
// command failure; failed items are not.
func reportRun(collector *bulk.Collector, summary bulk.Summary) error {
	var runID string
	var terminal bulk.Event
	for _, e := range collector.Events() {
		if e.RunID != "" {
			runID = e.RunID
		}
		if e.Type.IsTerminal() {
			terminal = e
		}
	}

	fmt.Println()
	fmt.Printf("%-10s %s\n", "Run:", runID)
	fmt.Printf("%-10s %d\n", "Total:", summary.Total)
	fmt.Printf("%-10s %d\n", "Skipped:", summary.Skipped)
	fmt.Printf("%-10s %d\n", "Processed:", summary.Processed)
	fmt.Printf("%-10s %s\n", "Succeeded:", pterm.Green(summary.Succeeded))
	fmt.Printf("%-10s %s\n", "Failed:", failedColor(summary.Failed))

	if terminal.Type == bulk.EventError {
		return errors.Newf("job failed: %s", terminal.Message)
	}
	if terminal.Type == bulk.EventEnded && summary.Processed+summary.Skipped < summary.Total {
		pterm.Info.Printfln("Run again with --resume-run %s to pick up the remaining items", runID)
	}
	return nil
}

func failedColor(n int) string {
	if n == 0 {
		return pterm.Gray(n)
	}
	return pterm.Red(n)
}
