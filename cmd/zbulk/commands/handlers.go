package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/zbulk/am"
	"github.com/teranos/zbulk/profile"
)

// HandlersCmd lists the registered job types
var HandlersCmd = &cobra.Command{
	Use:     "handlers",
	Aliases: []string{"jobs"},
	Short:   "List registered job types",
	Long: `List every job type zbulk can run, the item field it uses as the
identifier, and the Zoho endpoint it calls.`,
	Args: cobra.NoArgs,
	RunE: runHandlers,
}

var handlersJSON bool

func init() {
	HandlersCmd.Flags().BoolVarP(&handlersJSON, "json", "j", false, "Output as JSON")
}

func runHandlers(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Describing handlers never resolves a profile
	handlers, err := newHandlerRegistry(cfg, profile.NewMemoryStore(), false)
	if err != nil {
		return err
	}
	infos := handlers.Describe()

	if handlersJSON {
		data, err := json.MarshalIndent(infos, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal handlers: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("%-34s %-16s %s\n", "JOB TYPE", "IDENTIFIER", "DESCRIPTION")
	fmt.Printf("%-34s %-16s %s\n", "--------", "----------", "-----------")
	for _, info := range infos {
		identifier := info.IdentifierField
		if identifier == "" {
			identifier = "(row)"
		}
		fmt.Printf("%-34s %-16s %s\n", info.Name, identifier, info.Description)
	}
	fmt.Printf("\nTotal: %d job type(s)\n", len(infos))
	return nil
}
