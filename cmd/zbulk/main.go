package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/zbulk/cmd/zbulk/commands"
	"github.com/teranos/zbulk/logger"
)

var rootCmd = &cobra.Command{
	Use:   "zbulk",
	Short: "zbulk - bulk record jobs against Zoho products",
	Long: `zbulk - bulk record jobs against Zoho products.

zbulk runs lists of records through Zoho APIs with controlled concurrency,
pacing, pause/resume and automatic pausing after repeated failures. Jobs run
headless from the command line or are driven over a websocket by a browser.

Available commands:
  am       - Show and validate configuration ("I am")
  handlers - List registered job types
  profiles - List connection profiles
  run      - Run one bulk job in the foreground
  runs     - Show run history
  server   - Start the websocket job server
  version  - Show version information

Examples:
  zbulk handlers                                     # What can run
  zbulk run -p acme -j inventory.contacts.create \
      --items contacts.csv --concurrency 3 --delay 2 # Headless run
  zbulk runs --profile acme                          # What already ran
  zbulk server                                       # Serve /ws on the configured port`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip for commands whose stdout must stay machine-readable
		if cmd.Name() == "show" {
			return nil
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.InitializeWithLevel(false, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.HandlersCmd)
	rootCmd.AddCommand(commands.ProfilesCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.RunsCmd)
	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
