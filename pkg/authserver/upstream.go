// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/stacklok/mcp-gateway/pkg/errors"
)

// upstreamTimeout bounds every HTTP call to the upstream provider.
const upstreamTimeout = 10 * time.Second

// UpstreamTokens is the token set returned by the upstream provider.
type UpstreamTokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
}

// UpstreamProvider is the upstream OIDC provider the proxy delegates user
// authentication to.
type UpstreamProvider interface {
	// AuthorizeURL builds the upstream authorization URL for a 302.
	AuthorizeURL(state, scope, codeChallenge string) string

	// Exchange swaps an upstream authorization code for tokens, presenting
	// the PKCE verifier.
	Exchange(ctx context.Context, code, codeVerifier string) (*UpstreamTokens, error)

	// UserInfo resolves the authenticated subject from an upstream access
	// token.
	UserInfo(ctx context.Context, accessToken string) (string, error)
}

// Compile-time interface compliance check.
var _ UpstreamProvider = (*OIDCProvider)(nil)

// OIDCProvider talks to an Auth0-style provider: /authorize, /oauth/token
// and /userinfo under one domain.
type OIDCProvider struct {
	domain       string
	clientID     string
	clientSecret string
	audience     string
	callbackURL  string
	httpClient   *http.Client
}

// NewOIDCProvider creates a provider rooted at domain (scheme included, no
// trailing slash). callbackURL is the proxy's own callback endpoint.
func NewOIDCProvider(domain, clientID, clientSecret, audience, callbackURL string) *OIDCProvider {
	return &OIDCProvider{
		domain:       domain,
		clientID:     clientID,
		clientSecret: clientSecret,
		audience:     audience,
		callbackURL:  callbackURL,
		httpClient:   &http.Client{Timeout: upstreamTimeout},
	}
}

func (p *OIDCProvider) oauthConfig(scope string) *oauth2.Config {
	cfg := &oauth2.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		RedirectURL:  p.callbackURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.domain + "/authorize",
			TokenURL: p.domain + "/oauth/token",
		},
	}
	if scope != "" {
		cfg.Scopes = []string{scope}
	}
	return cfg
}

// AuthorizeURL builds the upstream authorization URL carrying our state, the
// requested scope, the S256 PKCE challenge and the configured audience.
func (p *OIDCProvider) AuthorizeURL(state, scope, codeChallenge string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	if p.audience != "" {
		opts = append(opts, oauth2.SetAuthURLParam("audience", p.audience))
	}
	return p.oauthConfig(scope).AuthCodeURL(state, opts...)
}

// Exchange swaps the upstream code for tokens.
func (p *OIDCProvider) Exchange(ctx context.Context, code, codeVerifier string) (*UpstreamTokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.oauthConfig("").Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	if err != nil {
		return nil, errors.NewUpstreamFailureError("code exchange failed", err)
	}

	tokens := &UpstreamTokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if id, ok := token.Extra("id_token").(string); ok {
		tokens.IDToken = id
	}
	return tokens, nil
}

// UserInfo fetches /userinfo and returns the sub claim.
func (p *OIDCProvider) UserInfo(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.domain+"/userinfo", nil)
	if err != nil {
		return "", errors.NewInternalError("failed to build userinfo request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", errors.NewUpstreamFailureError("userinfo request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.NewUpstreamFailureError(fmt.Sprintf("userinfo returned status %d", resp.StatusCode), nil)
	}

	var info struct {
		Sub string `json:"sub"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", errors.NewUpstreamFailureError("failed to decode userinfo response", err)
	}
	if info.Sub == "" {
		return "", errors.NewUpstreamFailureError("userinfo response missing sub", nil)
	}
	return info.Sub, nil
}
