// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcp-gateway/pkg/kv"
)

type fakeUpstream struct {
	authorizeCalls []string
	exchangeCode   string
	exchangeErr    error
	sub            string
}

func (f *fakeUpstream) AuthorizeURL(state, scope, codeChallenge string) string {
	u := "https://idp.example.com/authorize?state=" + url.QueryEscape(state) +
		"&code_challenge=" + url.QueryEscape(codeChallenge)
	if scope != "" {
		u += "&scope=" + url.QueryEscape(scope)
	}
	f.authorizeCalls = append(f.authorizeCalls, u)
	return u
}

func (f *fakeUpstream) Exchange(_ context.Context, code, codeVerifier string) (*UpstreamTokens, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	f.exchangeCode = code
	if codeVerifier == "" {
		return nil, assert.AnError
	}
	return &UpstreamTokens{
		AccessToken:  "upstream-access",
		RefreshToken: "upstream-refresh",
		IDToken:      "upstream-id",
	}, nil
}

func (f *fakeUpstream) UserInfo(context.Context, string) (string, error) {
	if f.sub == "" {
		return "auth0|user-1", nil
	}
	return f.sub, nil
}

func newTestHandler(t *testing.T) (*Handler, *fakeUpstream, http.Handler) {
	t.Helper()

	cfg := &Config{
		Enabled:   true,
		Issuer:    "https://gateway.example.com",
		BaseURL:   "https://gateway.example.com",
		JWTSecret: "test-secret",
		Upstream: UpstreamSettings{
			Domain:       "https://idp.example.com",
			ClientID:     "upstream-client",
			ClientSecret: "upstream-secret",
		},
	}
	require.NoError(t, cfg.Validate())

	store := kv.NewMemoryStore()
	storage := NewStorage(store, cfg.SessionTTL)
	signer := NewSigner(cfg.JWTSecret, cfg.Issuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	up := &fakeUpstream{}
	h := NewHandler(cfg, storage, signer, up)

	r := chi.NewRouter()
	h.OAuthRoutes(r)
	h.WellKnownRoutes(r)
	return h, up, r
}

func doJSON(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doForm(t *testing.T, router http.Handler, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func registerClient(t *testing.T, router http.Handler) *Client {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/oauth/register", `{"redirect_uris":["https://app/cb"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var c Client
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	return &c
}

// runCodeFlow drives register -> authorize -> callback and returns the client
// plus the authorization code from the final redirect.
func runCodeFlow(t *testing.T, router http.Handler) (*Client, string) {
	t.Helper()

	client := registerClient(t, router)

	rec := doJSON(t, router, http.MethodGet,
		"/oauth/authorize?client_id="+client.ClientID+
			"&redirect_uri=https%3A%2F%2Fapp%2Fcb&response_type=code&state=client-state"+
			"&code_challenge=challenge-y&code_challenge_method=S256&scope=openid", "")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	rec = doJSON(t, router, http.MethodGet, "/oauth/auth0-callback?code=upstream-code&state="+state, "")
	require.Equal(t, http.StatusFound, rec.Code)

	cb, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app", cb.Host)
	assert.Equal(t, state, cb.Query().Get("state"))

	code := cb.Query().Get("code")
	require.NotEmpty(t, code)
	return client, code
}

func exchangeCode(t *testing.T, router http.Handler, client *Client, code string) map[string]any {
	t.Helper()

	rec := doForm(t, router, "/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {client.ClientID},
		"client_secret": {client.ClientSecret},
		"code":          {code},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestDynamicClientRegistration(t *testing.T) {
	t.Parallel()

	_, _, router := newTestHandler(t)
	rec := doJSON(t, router, http.MethodPost, "/oauth/register", `{"redirect_uris":["https://app/cb"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var c Client
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Regexp(t, regexp.MustCompile(`^mcp_[0-9a-f]{32}$`), c.ClientID)
	assert.Len(t, c.ClientSecret, 64)
	assert.Zero(t, c.ClientSecretExpiresAt)
	assert.Equal(t, []string{"https://app/cb"}, c.RedirectURIs)
}

func TestRegistrationRequiresRedirectURIs(t *testing.T) {
	t.Parallel()

	_, _, router := newTestHandler(t)
	rec := doJSON(t, router, http.MethodPost, "/oauth/register", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthorizeAutoRegistersUnknownClient(t *testing.T) {
	t.Parallel()

	h, _, router := newTestHandler(t)

	rec := doJSON(t, router, http.MethodGet,
		"/oauth/authorize?client_id=unknown-x&redirect_uri=https%3A%2F%2Fapp%2Fcb"+
			"&response_type=code&code_challenge=challenge-y&code_challenge_method=S256", "")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", loc.Host)

	client, found, err := h.storage.GetClient(context.Background(), "unknown-x")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"https://app/cb"}, client.RedirectURIs)
}

func TestAuthorizeSendsDerivedUpstreamChallenge(t *testing.T) {
	t.Parallel()

	h, _, router := newTestHandler(t)
	client := registerClient(t, router)

	rec := doJSON(t, router, http.MethodGet,
		"/oauth/authorize?client_id="+client.ClientID+
			"&redirect_uri=https%3A%2F%2Fapp%2Fcb&response_type=code&state=client-state"+
			"&code_challenge=client-challenge&code_challenge_method=S256", "")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	sent := loc.Query().Get("code_challenge")

	ctx := context.Background()
	authSession, found, err := h.storage.GetAuthSession(ctx, loc.Query().Get("state"))
	require.NoError(t, err)
	require.True(t, found)
	up, found, err := h.storage.GetUpstreamSession(ctx, authSession.SessionID)
	require.NoError(t, err)
	require.True(t, found)

	// The upstream sees the S256 derivation of our stored verifier, never the
	// client's own challenge; that one stays in the authorization session for
	// the client-facing leg.
	sum := sha256.Sum256([]byte(up.CodeVerifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), sent)
	assert.NotEqual(t, "client-challenge", sent)
	assert.Equal(t, "client-challenge", authSession.CodeChallenge)
}

func TestAuthorizeRejectsUnregisteredRedirect(t *testing.T) {
	t.Parallel()

	_, _, router := newTestHandler(t)
	client := registerClient(t, router)

	rec := doJSON(t, router, http.MethodGet,
		"/oauth/authorize?client_id="+client.ClientID+
			"&redirect_uri=https%3A%2F%2Fevil%2Fcb&response_type=code"+
			"&code_challenge=c&code_challenge_method=S256", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthorizationCodeFlow(t *testing.T) {
	t.Parallel()

	h, _, router := newTestHandler(t)
	client, code := runCodeFlow(t, router)
	resp := exchangeCode(t, router, client, code)

	access := resp["access_token"].(string)
	refresh := resp["refresh_token"].(string)
	assert.Equal(t, "Bearer", resp["token_type"])

	// Both token keys address the same record; the code key is gone.
	ctx := context.Background()
	recA, found, err := h.storage.GetTokenRecord(ctx, access)
	require.NoError(t, err)
	require.True(t, found)
	recR, found, err := h.storage.GetTokenRecord(ctx, refresh)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, recA.UserID, recR.UserID)
	assert.Equal(t, "auth0|user-1", recA.UserID)
	assert.Equal(t, "upstream-access", recA.UpstreamAccessToken)

	_, found, err = h.storage.GetTokenRecord(ctx, code)
	require.NoError(t, err)
	assert.False(t, found)

	// Sessions are gone too.
	n, err := h.storage.CountByPrefix(ctx, authSessionKeyPrefix)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = h.storage.CountByPrefix(ctx, upstreamSessionKeyPrefix)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAuthorizationCodeSingleUse(t *testing.T) {
	t.Parallel()

	_, _, router := newTestHandler(t)
	client, code := runCodeFlow(t, router)
	exchangeCode(t, router, client, code)

	rec := doForm(t, router, "/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {client.ClientID},
		"client_secret": {client.ClientSecret},
		"code":          {code},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_grant")
}

func TestTokenRequiresSecretOrVerifier(t *testing.T) {
	t.Parallel()

	_, _, router := newTestHandler(t)
	client, code := runCodeFlow(t, router)

	rec := doForm(t, router, "/oauth/token", url.Values{
		"grant_type": {"authorization_code"},
		"client_id":  {client.ClientID},
		"code":       {code},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_client")

	// A PKCE verifier substitutes for the secret.
	rec = doForm(t, router, "/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {client.ClientID},
		"code":          {code},
		"code_verifier": {"verifier-value"},
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRefreshGrantKeepsRefreshToken(t *testing.T) {
	t.Parallel()

	h, _, router := newTestHandler(t)
	client, code := runCodeFlow(t, router)
	resp := exchangeCode(t, router, client, code)
	oldAccess := resp["access_token"].(string)
	refresh := resp["refresh_token"].(string)

	rec := doForm(t, router, "/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {client.ClientID},
		"client_secret": {client.ClientSecret},
		"refresh_token": {refresh},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var refreshed map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshed))
	newAccess := refreshed["access_token"].(string)
	assert.Equal(t, refresh, refreshed["refresh_token"])
	assert.NotEqual(t, oldAccess, newAccess)

	// Old access key is dropped, the new one resolves.
	ctx := context.Background()
	_, found, err := h.storage.GetTokenRecord(ctx, oldAccess)
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = h.storage.GetTokenRecord(ctx, newAccess)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestResourceIndicatorBecomesAudience(t *testing.T) {
	t.Parallel()

	h, _, router := newTestHandler(t)
	client, code := runCodeFlow(t, router)

	rec := doForm(t, router, "/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {client.ClientID},
		"client_secret": {client.ClientSecret},
		"code":          {code},
		"resource":      {"https://api.example.com/"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	claims, err := h.signer.VerifyAccess(resp["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://api.example.com"}, []string(claims.Audience))
}

func TestRevokeRemovesBothKeys(t *testing.T) {
	t.Parallel()

	h, _, router := newTestHandler(t)
	client, code := runCodeFlow(t, router)
	resp := exchangeCode(t, router, client, code)
	access := resp["access_token"].(string)
	refresh := resp["refresh_token"].(string)

	rec := doForm(t, router, "/oauth/revoke", url.Values{"token": {access}})
	require.Equal(t, http.StatusOK, rec.Code)

	ctx := context.Background()
	_, found, err := h.storage.GetTokenRecord(ctx, access)
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = h.storage.GetTokenRecord(ctx, refresh)
	require.NoError(t, err)
	assert.False(t, found)

	// Revoking an unknown token still yields 200.
	rec = doForm(t, router, "/oauth/revoke", url.Values{"token": {"junk"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuth(t *testing.T) {
	t.Parallel()

	h, _, router := newTestHandler(t)
	client, code := runCodeFlow(t, router)
	resp := exchangeCode(t, router, client, code)
	access := resp["access_token"].(string)

	protected := h.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(authz string) int {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, serve("Bearer "+access))
	assert.Equal(t, http.StatusUnauthorized, serve(""))
	assert.Equal(t, http.StatusUnauthorized, serve("Bearer garbage"))

	// Refresh tokens never pass as access tokens.
	assert.Equal(t, http.StatusUnauthorized, serve("Bearer "+resp["refresh_token"].(string)))

	// Revocation is effective immediately.
	doForm(t, router, "/oauth/revoke", url.Values{"token": {access}})
	assert.Equal(t, http.StatusUnauthorized, serve("Bearer "+access))
}

func TestRequireAuthDisabled(t *testing.T) {
	t.Parallel()

	h, _, router := newTestHandler(t)
	_ = router
	h.config.Enabled = false

	protected := h.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyAccessClaims(t *testing.T) {
	t.Parallel()

	signer := NewSigner("secret", "https://gw", time.Hour, 24*time.Hour)

	access, err := signer.MintAccess("user", "client-1", "openid", "https://gw")
	require.NoError(t, err)
	claims, err := signer.VerifyAccess(access)
	require.NoError(t, err)
	assert.Equal(t, "client-1", claims.ClientID)

	refresh, err := signer.MintRefresh("user", "client-1", "openid", "https://gw")
	require.NoError(t, err)
	_, err = signer.VerifyAccess(refresh)
	assert.Error(t, err)
	_, err = signer.VerifyRefresh(refresh)
	assert.NoError(t, err)
	_, err = signer.VerifyRefresh(access)
	assert.Error(t, err)

	// Missing client_id is rejected even with a valid signature.
	anonymous, err := signer.MintAccess("user", "", "", "https://gw")
	require.NoError(t, err)
	_, err = signer.VerifyAccess(anonymous)
	assert.Error(t, err)
}

func TestAudienceNormalization(t *testing.T) {
	t.Parallel()

	assert.Equal(t, normalizeAudience("https://a.example/"), normalizeAudience("https://a.example"))
	assert.True(t, audienceContains([]string{"https://a.example/"}, "https://a.example"))
	assert.False(t, audienceContains([]string{"https://b.example"}, "https://a.example"))
}

func TestRedirectURIMatchPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		registered string
		requested  string
		want       bool
	}{
		{name: "exact match", registered: "https://a.example/cb", requested: "https://a.example/cb", want: true},
		{name: "loopback ignores port", registered: "http://127.0.0.1:1/cb", requested: "http://127.0.0.1:12345/cb", want: true},
		{name: "localhost ignores port", registered: "http://localhost:8000/cb", requested: "http://localhost:9000/cb", want: true},
		{name: "ipv6 loopback ignores port", registered: "http://[::1]:1/cb", requested: "http://[::1]:2/cb", want: true},
		{name: "loopback path must match", registered: "http://127.0.0.1:1/cb", requested: "http://127.0.0.1:1/other", want: false},
		{name: "non-loopback trailing slash differs", registered: "https://a.example/cb", requested: "https://a.example/cb/", want: false},
		{name: "non-loopback port differs", registered: "https://a.example:1/cb", requested: "https://a.example:2/cb", want: false},
		{name: "identical invalid uris match nothing", registered: "://bad", requested: "://bad", want: false},
		{name: "invalid registered uri matches nothing", registered: "://bad", requested: "https://a.example/cb", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, redirectURIMatches(tt.registered, tt.requested))
		})
	}
}

func TestCallbackSurfacesUpstreamError(t *testing.T) {
	t.Parallel()

	_, _, router := newTestHandler(t)
	rec := doJSON(t, router, http.MethodGet,
		"/oauth/auth0-callback?error=access_denied&error_description=user+said+no", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_denied")
	assert.Contains(t, rec.Body.String(), "user said no")
}

func TestDiscoveryDocuments(t *testing.T) {
	t.Parallel()

	_, _, router := newTestHandler(t)

	rec := doJSON(t, router, http.MethodGet, "/.well-known/oauth-authorization-server", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, "https://gateway.example.com", meta["issuer"])
	assert.Equal(t, "https://gateway.example.com/oauth/token", meta["token_endpoint"])
	assert.Equal(t, []any{"S256"}, meta["code_challenge_methods_supported"])

	rec = doJSON(t, router, http.MethodGet, "/.well-known/oauth-protected-resource", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, "https://gateway.example.com", meta["resource"])
	assert.Equal(t, []any{"https://gateway.example.com"}, meta["authorization_servers"])
}

func TestStats(t *testing.T) {
	t.Parallel()

	_, _, router := newTestHandler(t)
	registerClient(t, router)
	registerClient(t, router)

	rec := doJSON(t, router, http.MethodGet, "/oauth/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats["clients"])
	assert.Zero(t, stats["tokens"])
}
