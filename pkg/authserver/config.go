// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"fmt"
	"strings"
	"time"
)

// Default token and session lifetimes.
const (
	DefaultSessionTTL      = 10 * time.Minute
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// UpstreamSettings configure the delegated OIDC provider.
type UpstreamSettings struct {
	// Domain is the provider's base URL including scheme.
	Domain string

	// ClientID and ClientSecret identify the proxy at the provider.
	ClientID     string
	ClientSecret string

	// Audience is the audience requested from the provider and the default
	// audience of minted tokens when a request carries no resource
	// indicator.
	Audience string
}

// Config configures the OAuth proxy.
type Config struct {
	// Enabled gates bearer authentication on /mcp. The OAuth endpoints are
	// served either way.
	Enabled bool

	// Issuer is the value of the iss claim and the default expected
	// audience.
	Issuer string

	// BaseURL is the public base URL of this gateway, used to derive the
	// endpoint URLs in discovery documents and the upstream callback.
	BaseURL string

	// JWTSecret signs and verifies the proxy's HS256 tokens.
	JWTSecret string

	SessionTTL      time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// RotateRefreshTokens is reserved; refresh tokens are currently reused
	// across refreshes.
	RotateRefreshTokens bool

	Upstream UpstreamSettings
}

// Validate checks the config and applies defaults.
func (c *Config) Validate() error {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	c.Upstream.Domain = strings.TrimSuffix(c.Upstream.Domain, "/")

	if !c.Enabled {
		return nil
	}
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Upstream.Domain == "" {
		return fmt.Errorf("upstream domain is required")
	}
	if c.Upstream.ClientID == "" || c.Upstream.ClientSecret == "" {
		return fmt.Errorf("upstream client credentials are required")
	}
	return nil
}

// CallbackURL is the proxy's own upstream callback endpoint.
func (c *Config) CallbackURL() string {
	return c.BaseURL + "/oauth/auth0-callback"
}

// ExpectedAudience is the audience access tokens must carry: the configured
// upstream audience, falling back to the issuer.
func (c *Config) ExpectedAudience() string {
	if c.Upstream.Audience != "" {
		return c.Upstream.Audience
	}
	return c.Issuer
}
