// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/warden/lib/config"
	"github.com/bureau-foundation/warden/lib/lifecycle"
	"github.com/bureau-foundation/warden/lib/pagestore"
)

// environment carries the output streams every command writes to.
type environment struct {
	stdout io.Writer
	stderr io.Writer
}

// storeFlags are shared by every subcommand that opens the configured
// store.
type storeFlags struct {
	configPath string
}

func (f *storeFlags) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", "", "path to warden.yaml (default: $"+config.EnvVar+")")
}

// session is an open configured store.
type session struct {
	config *config.Config
	logger *slog.Logger
	store  pagestore.Store
}

func (s *session) Close() error {
	return s.store.Close()
}

// loadConfig reads the config named by --config, falling back to
// WARDEN_CONFIG.
func (f *storeFlags) loadConfig() (*config.Config, error) {
	if f.configPath != "" {
		return config.LoadFile(f.configPath)
	}
	return config.Load()
}

// open loads the config, builds the logger and opens the store. With
// create set, the store's directories are created first.
func (e *environment) open(flags *storeFlags, create bool) (*session, error) {
	cfg, err := flags.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Store.Backend == config.BackendMemory {
		return nil, fmt.Errorf("store backend %q does not persist; configure file, sqlite or pebble", cfg.Store.Backend)
	}
	logger, err := e.logger(cfg.Log)
	if err != nil {
		return nil, err
	}
	if create {
		if err := cfg.EnsurePaths(); err != nil {
			return nil, err
		}
	}

	store, err := pagestore.Open(pagestore.Options{
		Backend:  cfg.Store.Backend,
		Path:     cfg.Store.Path,
		PoolSize: cfg.Store.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s store at %s: %w", cfg.Store.Backend, cfg.Store.Path, err)
	}
	logger.Debug("store opened", "backend", cfg.Store.Backend, "path", cfg.Store.Path, "pages", store.Pages())
	return &session{config: cfg, logger: logger, store: store}, nil
}

func (e *environment) logger(logConfig config.LogConfig) (*slog.Logger, error) {
	level, err := logConfig.SlogLevel()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}
	if logConfig.Format == "json" {
		return slog.New(slog.NewJSONHandler(e.stderr, options)), nil
	}
	return slog.New(slog.NewTextHandler(e.stderr, options)), nil
}

// lifecycleConfig maps the lifecycle section onto a manager config.
func (s *session) lifecycleConfig() (lifecycle.Config, error) {
	compression, err := pagestore.ParseCompressionTag(s.config.Lifecycle.CheckpointCompression)
	if err != nil {
		return lifecycle.Config{}, err
	}
	return lifecycle.Config{
		LayoutVersion:         s.config.Lifecycle.LayoutVersion,
		CheckpointDir:         s.config.Lifecycle.CheckpointDir,
		CheckpointCompression: compression,
		Logger:                s.logger,
	}, nil
}
