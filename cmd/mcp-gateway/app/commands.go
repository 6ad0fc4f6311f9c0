// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the command-line surface of the MCP gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/stacklok/mcp-gateway/pkg/authserver"
	"github.com/stacklok/mcp-gateway/pkg/config"
	"github.com/stacklok/mcp-gateway/pkg/eventjournal"
	"github.com/stacklok/mcp-gateway/pkg/httpserver"
	"github.com/stacklok/mcp-gateway/pkg/kv"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/mcpserver"
	"github.com/stacklok/mcp-gateway/pkg/transport"
	"github.com/stacklok/mcp-gateway/pkg/versions"
)

var rootCmd = &cobra.Command{
	Use:               "mcp-gateway",
	DisableAutoGenTag: true,
	Short:             "Stateful HTTP gateway for MCP with OAuth delegation",
	Long: `mcp-gateway serves the Model Context Protocol over streamable HTTP with
resumable SSE streams, cross-instance session replay through a shared
key-value store, and an embedded OAuth 2.1 authorization server that
delegates end-user authentication to an upstream OIDC provider.

All configuration is read from MCP_CONFIG_* environment variables; the
process runs until SIGINT or SIGTERM.`,
	RunE: runServe,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize(false)
	},
}

// NewRootCmd creates the root command for the mcp-gateway binary.
func NewRootCmd() *cobra.Command {
	rootCmd.SilenceUsage = true
	return rootCmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Server.Version == "dev" {
		cfg.Server.Version = versions.GetVersionInfo().Version
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	journal := eventjournal.New(store, 0)
	core := mcpserver.New("mcp-gateway", cfg.Server.Version,
		mcpserver.WithTools(builtinTools()),
		mcpserver.WithPrompts(builtinPrompts()),
		mcpserver.WithResources(builtinResources(cfg)),
	)
	registry := transport.NewRegistry(store, journal, core, 0)

	auth, err := newAuthHandler(cfg, store)
	if err != nil {
		return fmt.Errorf("failed to initialize auth server: %w", err)
	}

	httpCfg := cfg.HTTPServerConfig()
	if err := httpCfg.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}
	srv := httpserver.New(httpCfg, registry, auth)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Infow("shutdown signal received")
		if err := srv.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}
}

// newStore selects the KV backend from configuration.
func newStore(ctx context.Context, cfg *config.Config) (kv.Store, error) {
	switch cfg.Storage.Type {
	case config.StorageValkey:
		logger.Infow("using valkey storage", "url", cfg.Storage.Valkey.URL)
		return kv.NewRedisStore(ctx, cfg.Storage.Valkey.URL)
	default:
		logger.Infow("using in-memory storage")
		return kv.NewMemoryStore(), nil
	}
}

func newAuthHandler(cfg *config.Config, store kv.Store) (*authserver.Handler, error) {
	authCfg := cfg.AuthServerConfig()
	if err := authCfg.Validate(); err != nil {
		return nil, err
	}
	return authserver.NewHandler(
		authCfg,
		authserver.NewStorage(store, authCfg.SessionTTL),
		authserver.NewSigner(authCfg.JWTSecret, authCfg.Issuer, authCfg.AccessTokenTTL, authCfg.RefreshTokenTTL),
		authserver.NewOIDCProvider(
			authCfg.Upstream.Domain,
			authCfg.Upstream.ClientID,
			authCfg.Upstream.ClientSecret,
			authCfg.Upstream.Audience,
			authCfg.CallbackURL(),
		),
	), nil
}
