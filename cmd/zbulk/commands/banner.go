package commands

import (
	"fmt"

	"github.com/teranos/zbulk/logger"
	"github.com/teranos/zbulk/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(verbosity, port int, s *stack) {
	cyan := "\033[36m"
	green := "\033[32m"
	yellow := "\033[33m"
	blue := "\033[34m"
	bold := "\033[1m"
	reset := "\033[0m"

	versionInfo := version.Get()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔═══════════════════════════════════════╗\n")
	fmt.Printf("   ║                                       ║\n")
	fmt.Printf("   ║   zbulk  ·  bulk jobs for Zoho        ║\n")
	fmt.Printf("   ║                                       ║\n")
	fmt.Printf("   ╚═══════════════════════════════════════╝%s\n\n", reset)

	fmt.Printf("%s%s┌─ zbulk Info ─────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:   %s (commit %s)\n", green, reset, versionInfo.Version, versionInfo.Short())
	fmt.Printf("%s│%s Built:     %s\n", green, reset, versionInfo.BuildTime)
	fmt.Printf("%s│%s Verbosity: %s\n", green, reset, logger.LevelName(verbosity))
	fmt.Printf("%s│%s Database:  %s\n", green, reset, s.dbPath)
	fmt.Printf("%s│%s Profiles:  %s (%d)\n", green, reset, s.profiles.Path(), len(s.profiles.List()))
	fmt.Printf("%s│%s Job types: %d\n", green, reset, len(s.engine.Handlers().Names()))
	fmt.Printf("%s│%s WebSocket: ws://localhost:%d/ws\n", green, reset, port)
	fmt.Printf("%s└──────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s%s✨ Connect a client to /ws and send start_job%s\n", yellow, bold, reset)
	fmt.Printf("%s💡 Press Ctrl+C to stop%s\n\n", blue, reset)
}
