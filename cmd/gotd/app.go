package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotd/internal/config"
	"github.com/odvcencio/gotd/pkg/catalog"
	"github.com/odvcencio/gotd/pkg/ops"
	"github.com/odvcencio/gotd/pkg/registry"
)

// globalOptions holds the root persistent flags.
type globalOptions struct {
	configPath string
	dataDir    string
	logLevel   string
}

func (o *globalOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.dataDir != "" {
		cfg.Storage.DataDir = o.dataDir
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// app is the wired service: configuration, catalog and registry.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	catalog *catalog.Catalog
	reg     *registry.Registry
}

func openApp(cmd *cobra.Command, opts *globalOptions) (*app, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := cfg.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	var cat *catalog.Catalog
	if cfg.Storage.DataDir != "" {
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		cat, err = catalog.Open(cfg.CatalogPath(), catalog.Options{Logger: logger})
		if err != nil {
			return nil, err
		}
	}

	reg := registry.New(registry.Options{
		DataDir:   cfg.Storage.DataDir,
		Compress:  cfg.Storage.Compress,
		Catalog:   cat,
		Logger:    logger,
		LineMerge: cfg.Merge.LineMerge,
		Diff:      cfg.DiffOptions(),
	})
	if err := reg.Load(); err != nil {
		reg.Close()
		if cat != nil {
			cat.Close()
		}
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, catalog: cat, reg: reg}, nil
}

func (a *app) dispatcher() *ops.Dispatcher {
	return ops.New(a.reg, ops.Options{
		Logger:        a.logger,
		DefaultAuthor: ops.Author{Name: a.cfg.Author.Name, Email: a.cfg.Author.Email},
	})
}

func (a *app) Close() error {
	errs := []error{a.reg.Close()}
	if a.catalog != nil {
		errs = append(errs, a.catalog.Close())
	}
	return errors.Join(errs...)
}
