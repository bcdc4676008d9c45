package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/zbulk/am"
	"github.com/teranos/zbulk/errors"
	"github.com/teranos/zbulk/logger"
	"github.com/teranos/zbulk/pulse/bulk"
	"github.com/teranos/zbulk/server"
)

// ServerCmd starts the websocket job server
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Start the websocket job server",
	Long: `Serve bulk jobs over a WebSocket at /ws, plus a read-only HTTP API:
/health, /api/jobs, /api/handlers and /api/runs.

Each connection owns the jobs it starts; closing the connection ends them.
Config and profile file changes are picked up without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

var (
	serverPort   int
	serverDBPath string
)

func init() {
	ServerCmd.Flags().IntVar(&serverPort, "port", 0, "Port to listen on (overrides config)")
	ServerCmd.Flags().StringVar(&serverDBPath, "db-path", "", "Custom database path (overrides config)")
}

func runServer(cmd *cobra.Command, args []string) error {
	// Default to Info for the server
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = logger.VerbosityInfo
	}
	if err := logger.InitializeWithLevel(false, logger.VerbosityToLevel(verbosity)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	s, err := openStack(cmd, serverDBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	port := serverPort
	if port == 0 {
		port = s.cfg.GetServerPort()
	}

	srv, err := server.New(server.Config{
		Engine:         s.engine,
		AllowedOrigins: s.cfg.GetServerAllowedOrigins(),
		Logger:         logger.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	watcher := startConfigWatcher(s, srv)
	if watcher != nil {
		defer watcher.Stop()
	}

	printStartupBanner(verbosity, port, s)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(fmt.Sprintf(":%d", port))
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server failed to start")
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully, ending running jobs (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
			defer cancel()
			shutdownDone <- srv.Stop(ctx)
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil // unreachable
		}
	}
}

// startConfigWatcher reloads job defaults, allowed origins and profiles when
// a config file or the profiles file changes. Returns nil when there is
// nothing on disk to watch.
func startConfigWatcher(s *stack, srv *server.BulkServer) *am.ConfigWatcher {
	paths := am.ConfigPaths()
	if _, err := os.Stat(s.profiles.Path()); err == nil {
		paths = append(paths, s.profiles.Path())
	}
	if len(paths) == 0 {
		return nil
	}

	log := logger.ComponentLogger("config")
	watcher, err := am.NewConfigWatcher(paths, am.WithWatcherLogger(log))
	if err != nil {
		log.Warnw("Config hot reload disabled", "error", err)
		return nil
	}

	watcher.OnReload(func(cfg *am.Config) error {
		s.engine.UpdateDefaults(bulk.DefaultsFromConfig(cfg.Bulk))
		srv.SetAllowedOrigins(cfg.GetServerAllowedOrigins())
		return nil
	})
	watcher.OnReload(func(cfg *am.Config) error {
		if cfg.Profiles.Path != s.profiles.Path() {
			log.Warnw("profiles.path changed, restart to switch files",
				"current", s.profiles.Path(), "configured", cfg.Profiles.Path)
		}
		return s.profiles.Reload()
	})

	watcher.Start()
	return watcher
}
