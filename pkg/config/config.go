// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config contains the definition of the gateway config tree and the
// logic required to load it from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/stacklok/mcp-gateway/pkg/authserver"
	"github.com/stacklok/mcp-gateway/pkg/httpserver"
)

// Storage backend types.
const (
	StorageMemory = "memory"
	StorageValkey = "valkey"
)

// Config is the full gateway configuration tree. Every leaf can be
// overridden through an MCP_CONFIG_* environment variable derived from its
// dotted path.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
}

// ServerConfig groups the HTTP and auth settings.
type ServerConfig struct {
	Host           string
	Port           int
	Environment    string
	Version        string
	AllowedOrigins []string
	Auth           AuthConfig
}

// AuthConfig configures the embedded OAuth authorization server. TTLs are
// expressed in seconds.
type AuthConfig struct {
	Enabled             bool
	Issuer              string
	BaseURL             string
	JWTSecret           string
	SessionTTL          int
	AccessTokenTTL      int
	RefreshTokenTTL     int
	RotateRefreshTokens bool
	Upstream            UpstreamConfig
}

// UpstreamConfig identifies the delegating OIDC provider.
type UpstreamConfig struct {
	Domain       string
	ClientID     string
	ClientSecret string
	Audience     string
}

// StorageConfig selects the KV backend.
type StorageConfig struct {
	Type   string
	Valkey ValkeyConfig
}

// ValkeyConfig configures the Valkey/Redis backend.
type ValkeyConfig struct {
	URL string
}

// leaves enumerates every configurable path with its default. The list is
// the single source of truth for both defaults and env var derivation.
var leaves = []struct {
	path string
	def  any
}{
	{"server.host", ""},
	{"server.http.port", 8080},
	{"server.environment", "development"},
	{"server.version", "dev"},
	{"server.allowedOrigins", []any{"*"}},
	{"server.auth.enabled", false},
	{"server.auth.issuer", "http://localhost:8080"},
	{"server.auth.baseUrl", ""},
	{"server.auth.jwtSecret", ""},
	{"server.auth.sessionTTL", 600},
	{"server.auth.accessTokenTTL", 3600},
	{"server.auth.refreshTokenTTL", 2592000},
	{"server.auth.rotateRefreshTokens", false},
	{"server.auth.upstream.domain", ""},
	{"server.auth.upstream.clientId", ""},
	{"server.auth.upstream.clientSecret", ""},
	{"server.auth.upstream.audience", ""},
	{"storage.type", StorageMemory},
	{"storage.valkey.url", "redis://localhost:6379"},
}

// Load builds the config from defaults and environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	for _, leaf := range leaves {
		v.SetDefault(leaf.path, leaf.def)
	}
	applyEnvOverrides(v)

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.http.port"),
			Environment:    v.GetString("server.environment"),
			Version:        v.GetString("server.version"),
			AllowedOrigins: v.GetStringSlice("server.allowedOrigins"),
			Auth: AuthConfig{
				Enabled:             v.GetBool("server.auth.enabled"),
				Issuer:              v.GetString("server.auth.issuer"),
				BaseURL:             v.GetString("server.auth.baseUrl"),
				JWTSecret:           v.GetString("server.auth.jwtSecret"),
				SessionTTL:          v.GetInt("server.auth.sessionTTL"),
				AccessTokenTTL:      v.GetInt("server.auth.accessTokenTTL"),
				RefreshTokenTTL:     v.GetInt("server.auth.refreshTokenTTL"),
				RotateRefreshTokens: v.GetBool("server.auth.rotateRefreshTokens"),
				Upstream: UpstreamConfig{
					Domain:       v.GetString("server.auth.upstream.domain"),
					ClientID:     v.GetString("server.auth.upstream.clientId"),
					ClientSecret: v.GetString("server.auth.upstream.clientSecret"),
					Audience:     v.GetString("server.auth.upstream.audience"),
				},
			},
		},
		Storage: StorageConfig{
			Type:   v.GetString("storage.type"),
			Valkey: ValkeyConfig{URL: v.GetString("storage.valkey.url")},
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Type {
	case StorageMemory, StorageValkey:
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	return nil
}

// HTTPServerConfig maps the tree into the HTTP server's config.
func (c *Config) HTTPServerConfig() *httpserver.Config {
	return &httpserver.Config{
		Host:           c.Server.Host,
		Port:           c.Server.Port,
		Environment:    c.Server.Environment,
		Version:        c.Server.Version,
		AllowedOrigins: c.Server.AllowedOrigins,
	}
}

// AuthServerConfig maps the tree into the authorization server's config.
func (c *Config) AuthServerConfig() *authserver.Config {
	baseURL := c.Server.Auth.BaseURL
	if baseURL == "" {
		baseURL = c.Server.Auth.Issuer
	}
	return &authserver.Config{
		Enabled:             c.Server.Auth.Enabled,
		Issuer:              c.Server.Auth.Issuer,
		BaseURL:             baseURL,
		JWTSecret:           c.Server.Auth.JWTSecret,
		SessionTTL:          time.Duration(c.Server.Auth.SessionTTL) * time.Second,
		AccessTokenTTL:      time.Duration(c.Server.Auth.AccessTokenTTL) * time.Second,
		RefreshTokenTTL:     time.Duration(c.Server.Auth.RefreshTokenTTL) * time.Second,
		RotateRefreshTokens: c.Server.Auth.RotateRefreshTokens,
		Upstream: authserver.UpstreamSettings{
			Domain:       c.Server.Auth.Upstream.Domain,
			ClientID:     c.Server.Auth.Upstream.ClientID,
			ClientSecret: c.Server.Auth.Upstream.ClientSecret,
			Audience:     c.Server.Auth.Upstream.Audience,
		},
	}
}
