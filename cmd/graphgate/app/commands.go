// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the graphgate command-line application.
package app

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/graphgate/graphgate/pkg/auth"
	"github.com/graphgate/graphgate/pkg/cache"
	"github.com/graphgate/graphgate/pkg/config"
	"github.com/graphgate/graphgate/pkg/graph"
	"github.com/graphgate/graphgate/pkg/idempotency"
	"github.com/graphgate/graphgate/pkg/idp"
	"github.com/graphgate/graphgate/pkg/logger"
	"github.com/graphgate/graphgate/pkg/server"
	"github.com/graphgate/graphgate/pkg/session"
	"github.com/graphgate/graphgate/pkg/tools"
	"github.com/graphgate/graphgate/pkg/versions"
)

var rootCmd = &cobra.Command{
	Use:               "graphgate",
	DisableAutoGenTag: true,
	Short:             "graphgate is an authenticating MCP gateway for Microsoft Graph",
	Long: `graphgate exposes Microsoft Graph mail, calendar, and drive operations as MCP
tools. It brokers the PKCE authorization flow against the Microsoft identity
platform, keeps tokens in an encrypted cache, and validates callers with OIDC
bearer tokens so agents never see Graph credentials.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the graphgate CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long: `Start the gateway and listen for MCP client connections.

Configuration is read from environment variables; see the README for the
full list. The server shuts down gracefully on SIGINT and SIGTERM.`,
		RunE: runServe,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			info := versions.GetVersionInfo()
			logger.Infow("graphgate",
				"version", info.Version,
				"commit", info.Commit,
				"build_date", info.BuildDate,
				"go_version", info.GoVersion,
				"platform", info.Platform)
		},
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	store, err := cache.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cache initialization failed: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warnw("cache close failed", "error", err)
		}
	}()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout()}
	provider := idp.NewProvider(cfg, httpClient)
	graphClient := graph.NewClient(cfg)

	var validator session.BearerValidator
	if cfg.DisableOIDCValidation {
		logger.Warn("OIDC caller validation is disabled; do not run this mode in production")
	} else {
		v, err := auth.NewValidator(ctx, auth.ValidatorConfig{
			Issuer:     cfg.OIDCIssuer,
			Audience:   cfg.OIDCAudience,
			JWKSURL:    cfg.OIDCJWKSURL,
			HTTPClient: httpClient,
		})
		if err != nil {
			return fmt.Errorf("OIDC validator initialization failed: %w", err)
		}
		validator = v
	}

	deps := &tools.Deps{
		Auth:        session.NewAuthService(store, provider, graphClient, cfg),
		Tokens:      session.NewTokenService(store, provider),
		Resolver:    session.NewResolver(store, validator, cfg.DisableOIDCValidation),
		Idempotency: idempotency.NewCoordinator(store),
		Graph:       graphClient,
		Validator:   validator,
		Config:      cfg,
	}

	return server.New(cfg, store, deps).Run(ctx)
}
