package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/zbulk/am"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Show and validate zbulk configuration",
	Long: `am: show and validate zbulk configuration ("I am")

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (ZBULK_* prefix, e.g. ZBULK_BULK_MAX_CONCURRENCY)
3. Project config (./zbulk.toml, searched up from the working directory)
4. User config (~/.zbulk/config.toml)
5. System config (/etc/zbulk/config.toml)
6. Default values

Examples:
  zbulk am show                    # Show current configuration
  zbulk am show --format json      # Show configuration in JSON format
  zbulk am validate                # Validate current configuration
  zbulk am where                   # Show which config files are used`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective zbulk configuration from all sources",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runAmWhere,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out, err := formatConfig(cfg, configFormat)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// formatConfig renders cfg as toml, json or yaml
func formatConfig(cfg *am.Config, format string) (string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		return string(data) + "\n", nil

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		return "# zbulk configuration\n" + string(data), nil

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		return "# zbulk configuration\n" + string(data), nil

	default:
		return "", fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	// Load validates too; report its error the same way
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	fmt.Println("✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  1. [DEFAULT]  Built-in defaults")
	fmt.Println("  2. [SYSTEM]   /etc/zbulk/config.toml")
	fmt.Println("  3. [USER]     ~/.zbulk/config.toml")
	fmt.Println("  4. [PROJECT]  ./zbulk.toml (searches up directories)")
	fmt.Println("  5. [ENV]      ZBULK_* environment variables")
	fmt.Println()

	paths := am.ConfigPaths()
	if len(paths) == 0 {
		fmt.Println("No config files found, using defaults and environment")
	} else {
		fmt.Println("Active config files:")
		for _, p := range paths {
			if abs, err := filepath.Abs(p); err == nil {
				p = abs
			}
			fmt.Printf("  ✓ %s\n", p)
		}
	}

	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Println()
	profilesState := "missing"
	if _, err := os.Stat(cfg.Profiles.Path); err == nil {
		profilesState = "found"
	}
	fmt.Printf("Profiles file: %s (%s)\n", cfg.Profiles.Path, profilesState)
	fmt.Printf("Database:      %s\n", cfg.GetDatabasePath())
	return nil
}
