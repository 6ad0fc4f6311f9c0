// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvVarName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"server.http.port", "MCP_CONFIG_SERVER_HTTP_PORT"},
		{"server.auth.enabled", "MCP_CONFIG_SERVER_AUTH_ENABLED"},
		{"server.auth.sessionTTL", "MCP_CONFIG_SERVER_AUTH_SESSION_TTL"},
		{"server.auth.baseUrl", "MCP_CONFIG_SERVER_AUTH_BASE_URL"},
		{"server.allowedOrigins", "MCP_CONFIG_SERVER_ALLOWED_ORIGINS"},
		{"storage.type", "MCP_CONFIG_STORAGE_TYPE"},
		{"storage.valkey.url", "MCP_CONFIG_STORAGE_VALKEY_URL"},
		{"server.auth.upstream.clientId", "MCP_CONFIG_SERVER_AUTH_UPSTREAM_CLIENT_ID"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EnvVarName(tt.path), tt.path)
	}
}

func TestParseValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, false, parseValue("false"))
	assert.Equal(t, 8443, parseValue("8443"))
	assert.Equal(t, []any{"https://a.example.com", "https://b.example.com"},
		parseValue(`["https://a.example.com","https://b.example.com"]`))
	assert.Equal(t, map[string]any{"k": "v"}, parseValue(`{"k":"v"}`))
	assert.Equal(t, "redis://valkey:6379", parseValue("redis://valkey:6379"))
	// Malformed JSON degrades to a plain string.
	assert.Equal(t, "[not json", parseValue("[not json"))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Environment)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.Server.Auth.Enabled)
	assert.Equal(t, 600, cfg.Server.Auth.SessionTTL)
	assert.Equal(t, StorageMemory, cfg.Storage.Type)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MCP_CONFIG_SERVER_HTTP_PORT", "9090")
	t.Setenv("MCP_CONFIG_SERVER_AUTH_ENABLED", "true")
	t.Setenv("MCP_CONFIG_SERVER_AUTH_SESSION_TTL", "120")
	t.Setenv("MCP_CONFIG_SERVER_ALLOWED_ORIGINS", `["https://app.example.com"]`)
	t.Setenv("MCP_CONFIG_STORAGE_TYPE", "valkey")
	t.Setenv("MCP_CONFIG_STORAGE_VALKEY_URL", "redis://valkey.internal:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Server.Auth.Enabled)
	assert.Equal(t, 120, cfg.Server.Auth.SessionTTL)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, StorageValkey, cfg.Storage.Type)
	assert.Equal(t, "redis://valkey.internal:6379", cfg.Storage.Valkey.URL)
}

func TestLoadRejectsUnknownStorageType(t *testing.T) {
	t.Setenv("MCP_CONFIG_STORAGE_TYPE", "etcd")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "etcd")
}

func TestAuthServerConfigMapping(t *testing.T) {
	t.Setenv("MCP_CONFIG_SERVER_AUTH_ENABLED", "true")
	t.Setenv("MCP_CONFIG_SERVER_AUTH_ISSUER", "https://gateway.example.com")
	t.Setenv("MCP_CONFIG_SERVER_AUTH_JWT_SECRET", "test-secret")
	t.Setenv("MCP_CONFIG_SERVER_AUTH_UPSTREAM_DOMAIN", "https://idp.example.com")
	t.Setenv("MCP_CONFIG_SERVER_AUTH_UPSTREAM_CLIENT_ID", "up-client")
	t.Setenv("MCP_CONFIG_SERVER_AUTH_UPSTREAM_CLIENT_SECRET", "up-secret")

	cfg, err := Load()
	require.NoError(t, err)

	authCfg := cfg.AuthServerConfig()
	require.NoError(t, authCfg.Validate())
	assert.Equal(t, "https://gateway.example.com", authCfg.Issuer)
	// BaseURL falls back to the issuer.
	assert.Equal(t, "https://gateway.example.com", authCfg.BaseURL)
	assert.Equal(t, 10*time.Minute, authCfg.SessionTTL)
	assert.Equal(t, time.Hour, authCfg.AccessTokenTTL)
	assert.Equal(t, "up-client", authCfg.Upstream.ClientID)
}
