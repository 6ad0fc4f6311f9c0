// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package httpserver assembles the gateway's HTTP surface: the hardened
// middleware pipeline, the MCP endpoints, the OAuth proxy routes and the
// operational endpoints.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/mcp-gateway/pkg/authserver"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/transport"
)

// Connection timeouts.
const (
	keepAliveTimeout  = 60 * time.Second
	headerReadTimeout = 65 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Config configures the HTTP server.
type Config struct {
	Host           string
	Port           int
	Environment    string
	Version        string
	AllowedOrigins []string
}

// Validate applies defaults.
func (c *Config) Validate() error {
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	return nil
}

// Server is the gateway HTTP server.
type Server struct {
	config     *Config
	registry   *transport.Registry
	httpServer *http.Server
}

// New assembles the router and server. The middleware order is part of the
// contract: hardening and rate limiting run before any per-request state is
// allocated, correlation ids before logging, and the MCP-specific checks
// only on /mcp routes.
func New(config *Config, registry *transport.Registry, auth *authserver.Handler) *Server {
	handler := NewHandler(registry, config.Version, config.Environment)
	rateLimiter := NewRateLimiter()

	r := chi.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(Recoverer)
	r.Use(rateLimiter.Middleware)
	r.Use(RequestContext)
	r.Use(RequestLogging)
	r.Use(BodyLimit)

	r.Get("/", handler.Root)
	r.Get("/ping", handler.Ping)
	r.Get("/health", handler.Health)

	auth.OAuthRoutes(r)
	auth.WellKnownRoutes(r)

	r.Route("/mcp", func(r chi.Router) {
		r.Use(ProtocolVersion)
		r.Use(CORS(config.AllowedOrigins))
		r.Use(auth.RequireAuth)
		r.Post("/", handler.MCPPost)
		r.Get("/", handler.MCPGet)
		r.Delete("/", handler.MCPDelete)
		r.Options("/", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	return &Server{
		config:   config,
		registry: registry,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
			Handler:           r,
			IdleTimeout:       keepAliveTimeout,
			ReadHeaderTimeout: headerReadTimeout,
		},
	}
}

// Handler exposes the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens and serves until Shutdown. It returns http.ErrServerClosed
// on clean shutdown.
func (s *Server) Start() error {
	logger.Infow("http server listening", "addr", s.httpServer.Addr, "environment", s.config.Environment)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains connections and terminates local transports. Session
// records stay in the store so clients survive a rolling restart.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.registry.CloseAll(ctx)
	return s.httpServer.Shutdown(ctx)
}
