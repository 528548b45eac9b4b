package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wadoon/key-smtmgr/internal/config"
	"github.com/wadoon/key-smtmgr/internal/download"
	"github.com/wadoon/key-smtmgr/internal/manager"
	"github.com/wadoon/key-smtmgr/internal/repository"
	"github.com/wadoon/key-smtmgr/internal/settings"
	"github.com/wadoon/key-smtmgr/internal/store"
)

// env is everything a command needs, built from the loaded configuration.
type env struct {
	cfg      *config.Context
	client   *download.Client
	repo     *repository.Store
	settings *settings.File
	journal  *store.Store // nil if the journal could not be opened
	mgr      *manager.Manager
}

func userAgent() string {
	return config.Name + "/" + Version
}

// openEnv loads the configuration and wires the stores and the manager.
// A journal that cannot be opened is logged and skipped; it never blocks
// solver management.
func openEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := slog.Default()

	client := download.New(userAgent())
	client.Logger = logger

	repo := repository.NewStore(cfg.Config.RepoURL(), cfg.Paths.CacheFile, cfg.Paths.RecordFile, client)
	repo.Warnings = cmd.ErrOrStderr()
	repo.Logger = logger

	e := &env{
		cfg:      cfg,
		client:   client,
		repo:     repo,
		settings: settings.Open(cfg.Paths.SettingsFile),
	}

	opts := manager.Options{
		Repository:  repo,
		InstallBase: cfg.Paths.InstallBase,
		Downloader:  client,
		Settings:    e.settings,
		Logger:      logger,
	}
	if st, err := store.Open(cfg.Paths.JournalFile); err != nil {
		logger.Warn("activity journal unavailable", "path", cfg.Paths.JournalFile, "error", err)
	} else {
		e.journal = st
		opts.Journal = st
	}
	e.mgr = manager.New(opts)
	return e, nil
}

// Close releases the journal database.
func (e *env) Close() {
	if e.journal != nil {
		e.journal.Close()
	}
}
