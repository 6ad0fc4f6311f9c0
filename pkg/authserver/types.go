// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authserver implements the OAuth 2.1 authorization proxy: dynamic
// client registration (RFC 7591), authorization code with PKCE, refresh
// tokens, revocation (RFC 7009) and the discovery documents (RFC 8414 /
// RFC 9728). User authentication is delegated to an upstream OIDC provider;
// the proxy mints its own HS256 JWTs against the upstream identity.
package authserver

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"
)

// KV key namespaces owned by this package.
const (
	clientKeyPrefix          = "client:"
	authSessionKeyPrefix     = "auth-session:"
	upstreamSessionKeyPrefix = "auth0-session:"
	tokenKeyPrefix           = "token:"
)

// Client is a registered OAuth client (RFC 7591 metadata subset).
type Client struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"`
}

// AuthorizationSession captures one in-flight /authorize request, keyed on
// its state value.
type AuthorizationSession struct {
	SessionID           string    `json:"session_id"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope,omitempty"`
	State               string    `json:"state"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	ResponseType        string    `json:"response_type"`
	CreatedAt           time.Time `json:"created_at"`
}

// UpstreamSession carries the PKCE verifier for the proxy's own exchange with
// the upstream provider, keyed on the session id.
type UpstreamSession struct {
	SessionID    string               `json:"session_id"`
	State        string               `json:"state"`
	CodeVerifier string               `json:"code_verifier"`
	Session      AuthorizationSession `json:"session"`
	CreatedAt    time.Time            `json:"created_at"`
}

// TokenRecord is the persisted form of an issued token pair. During the
// authorization-code window the record sits under token:{code} with empty
// AccessToken/RefreshToken; /token swaps it for the real pair, stored under
// both token keys.
type TokenRecord struct {
	AccessToken          string    `json:"access_token,omitempty"`
	RefreshToken         string    `json:"refresh_token,omitempty"`
	TokenType            string    `json:"token_type,omitempty"`
	ExpiresAt            time.Time `json:"expires_at,omitempty"`
	Scope                string    `json:"scope,omitempty"`
	ClientID             string    `json:"client_id"`
	UserID               string    `json:"user_id"`
	Audience             string    `json:"audience,omitempty"`
	UpstreamAccessToken  string    `json:"upstream_access_token,omitempty"`
	UpstreamRefreshToken string    `json:"upstream_refresh_token,omitempty"`
	UpstreamIDToken      string    `json:"upstream_id_token,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// randomHex returns n random bytes hex-encoded.
func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// newClientID generates a DCR client id: "mcp_" plus 16 random bytes hex.
func newClientID() string {
	return "mcp_" + randomHex(16)
}

// newClientSecret generates a DCR client secret: 32 random bytes hex.
func newClientSecret() string {
	return randomHex(32)
}

// pkceChallenge derives the S256 code challenge for a verifier per RFC 7636:
// BASE64URL(SHA-256(verifier)), unpadded.
func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
