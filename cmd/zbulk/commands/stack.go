package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/teranos/zbulk/am"
	"github.com/teranos/zbulk/errors"
	"github.com/teranos/zbulk/logger"
	"github.com/teranos/zbulk/profile"
	"github.com/teranos/zbulk/pulse/bulk"
	"github.com/teranos/zbulk/zoho"
)

// stack is everything a command needs to run jobs: config, progress store,
// profiles and an engine with the Zoho handlers registered
type stack struct {
	cfg      *am.Config
	dbPath   string
	database *sql.DB
	store    *bulk.Store
	profiles *profile.FileStore
	engine   *bulk.Engine
}

// openStack loads config and wires the engine. dbPath overrides the
// configured database when set.
func openStack(cmd *cobra.Command, dbPath string) (*stack, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}

	profiles, err := profile.NewFileStore(cfg.Profiles.Path, cfg.Zoho.DataCenter)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load profiles from %s", cfg.Profiles.Path)
	}

	s := &stack{cfg: cfg, dbPath: resolveDBPath(cfg, dbPath), profiles: profiles}
	s.database, err = openDatabase(s.dbPath)
	if err != nil {
		return nil, err
	}
	s.store = bulk.NewStore(s.database)

	verbosity, _ := cmd.Flags().GetCount("verbose")
	handlers, err := newHandlerRegistry(cfg, profiles, logger.ShouldLogTrace(verbosity))
	if err != nil {
		s.database.Close()
		return nil, err
	}

	s.engine = bulk.NewEngine(bulk.EngineConfig{
		Handlers: handlers,
		Store:    s.store,
		Defaults: bulk.DefaultsFromConfig(cfg.Bulk),
		Logger:   logger.Logger,
	})
	return s, nil
}

// newHandlerRegistry registers every Zoho job type against profiles. trace
// logs response bodies.
func newHandlerRegistry(cfg *am.Config, profiles profile.Store, trace bool) (*bulk.HandlerRegistry, error) {
	clientCfg := zoho.ConfigFromAm(cfg.Zoho)
	clientCfg.Logger = logger.Logger
	clientCfg.TraceBodies = trace

	handlers := bulk.NewHandlerRegistry()
	if err := zoho.Register(handlers, zoho.NewClient(clientCfg), profiles); err != nil {
		return nil, err
	}
	return handlers, nil
}

// Close releases the database
func (s *stack) Close() error {
	return s.database.Close()
}
