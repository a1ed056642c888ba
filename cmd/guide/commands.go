// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianGuide/cmd/guide/config"
	"github.com/AleutianAI/AleutianGuide/pkg/logging"
	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
	"github.com/AleutianAI/AleutianGuide/services/orchestrator"
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliOptions holds persistent flag values.
type cliOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:   "guide",
		Short: "Generate step-by-step guides and track progress through them",
		Long: `guide turns a natural-language instruction into a structured guide
of sections and steps, and tracks a user's progress through it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"Log level override: debug, info, warn, error")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newGenerateCmd(opts))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// =============================================================================
// serve
// =============================================================================

func newServeCmd(opts *cliOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the guide HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			defer logger.Close()

			if port != 0 {
				cfg.Server.Port = port
			}

			svc, err := orchestrator.New(cfg.Orchestrator(logger.Slog()), nil)
			if err != nil {
				return fmt.Errorf("failed to create guide server: %w", err)
			}

			if opts.configPath != "" {
				watcher, err := opts.watch(cmd.Context(), logger, svc)
				if err != nil {
					_ = svc.Close(context.Background())
					return err
				}
				defer watcher.Stop()
			}
			return svc.Run()
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (overrides config and GUIDE_PORT)")
	return cmd
}

// =============================================================================
// generate
// =============================================================================

func newGenerateCmd(opts *cliOptions) *cobra.Command {
	var (
		difficulty string
		format     string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "generate [instruction]",
		Short: "Generate a guide and print the first step as JSON",
		Long: `Generate creates a guide for the instruction, starts a session on it
and prints the result. With storage.data_dir set the session can be
continued later through the HTTP API.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			defer logger.Close()

			oc := cfg.Orchestrator(logger.Slog())
			// The one-shot command never serves, so skip idle expiry.
			oc.IdleSessionTTL = 0
			svc, err := orchestrator.New(oc, nil)
			if err != nil {
				return fmt.Errorf("failed to create guide engine: %w", err)
			}
			defer svc.Close(context.Background())

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			result, err := svc.Guide().Generate(ctx, datatypes.GenerationRequest{
				Instruction:      strings.Join(args, " "),
				Difficulty:       datatypes.Difficulty(difficulty),
				FormatPreference: datatypes.FormatPreference(format),
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVarP(&difficulty, "difficulty", "d", string(datatypes.DifficultyBeginner),
		"beginner, intermediate or advanced")
	cmd.Flags().StringVarP(&format, "format", "f", "",
		"detailed or concise (default detailed)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute,
		"Upper bound on generation across all providers")
	return cmd
}

// =============================================================================
// version
// =============================================================================

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "guide %s\n", version)
		},
	}
}

// =============================================================================
// Helpers
// =============================================================================

// rateLimited is the part of the server that follows config reloads.
type rateLimited interface {
	SetRateLimit(rps float64, burst int)
}

// watch reloads the config file on change and applies the settings that
// can change at runtime: log level and rate limits. Everything else needs
// a restart.
func (o *cliOptions) watch(ctx context.Context, logger *logging.Logger, target rateLimited) (*config.Watcher, error) {
	watcher, err := config.NewWatcher(o.configPath, func(next config.Config) {
		o.applyReload(logger, target, next)
	}, &config.WatcherOptions{Logger: logger.Slog()})
	if err != nil {
		return nil, err
	}
	if err := watcher.Start(ctx); err != nil {
		_ = watcher.Stop()
		return nil, err
	}
	return watcher, nil
}

func (o *cliOptions) applyReload(logger *logging.Logger, target rateLimited, next config.Config) {
	if o.logLevel == "" {
		level, err := logging.ParseLevel(next.Logging.Level)
		if err != nil {
			logger.Slog().Warn("Ignoring reloaded log level", "error", err)
		} else {
			logger.SetLevel(level)
		}
	}
	target.SetRateLimit(next.Server.RateLimitRPS, next.Server.RateLimitBurst)
}

// load reads configuration and builds the logger. Logs go to the
// command's stderr so JSON on stdout stays clean.
func (o *cliOptions) load(cmd *cobra.Command) (config.Config, *logging.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	logCfg, err := cfg.LoggingOptions()
	if err != nil {
		return config.Config{}, nil, err
	}
	logCfg.Output = cmd.ErrOrStderr()
	logger, err := logging.New(logCfg)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, logger, nil
}
