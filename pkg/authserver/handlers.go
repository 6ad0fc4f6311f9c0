// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stacklok/mcp-gateway/pkg/logger"
)

// maxRegistrationBodySize caps DCR request bodies (64KB).
const maxRegistrationBodySize = 64 * 1024

// Handler provides the HTTP handlers for the OAuth proxy endpoints.
type Handler struct {
	config   *Config
	storage  *Storage
	signer   *Signer
	upstream UpstreamProvider
}

// NewHandler creates a Handler with the given dependencies.
func NewHandler(config *Config, storage *Storage, signer *Signer, upstream UpstreamProvider) *Handler {
	return &Handler{
		config:   config,
		storage:  storage,
		signer:   signer,
		upstream: upstream,
	}
}

// OAuthRoutes registers the OAuth endpoints on the provided router.
func (h *Handler) OAuthRoutes(r chi.Router) {
	r.Post("/oauth/register", h.RegisterHandler)
	r.Get("/oauth/authorize", h.AuthorizeHandler)
	r.Get("/oauth/auth0-callback", h.CallbackHandler)
	r.Post("/oauth/token", h.TokenHandler)
	r.Post("/oauth/revoke", h.RevokeHandler)
	r.Get("/oauth/stats", h.StatsHandler)
}

// WellKnownRoutes registers the discovery documents on the provided router.
func (h *Handler) WellKnownRoutes(r chi.Router) {
	r.Get("/.well-known/oauth-authorization-server", h.AuthorizationServerMetadataHandler)
	r.Get("/.well-known/oauth-protected-resource", h.ProtectedResourceMetadataHandler)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// registrationRequest is the accepted RFC 7591 metadata subset.
type registrationRequest struct {
	ClientID                string   `json:"client_id,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
}

// RegisterHandler handles POST /oauth/register (RFC 7591 dynamic client
// registration).
func (h *Handler) RegisterHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	req.Body = http.MaxBytesReader(w, req.Body, maxRegistrationBodySize)

	var regReq registrationRequest
	if err := json.NewDecoder(req.Body).Decode(&regReq); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata", "invalid JSON request body")
		return
	}
	if len(regReq.RedirectURIs) == 0 {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata", "redirect_uris is required")
		return
	}

	client := newClient(&regReq)
	if err := h.storage.SaveClient(ctx, client); err != nil {
		logger.FromContext(ctx).Error("failed to register client", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to register client")
		return
	}

	logger.FromContext(ctx).Info("registered client", "client_id", client.ClientID)
	writeJSON(w, http.StatusCreated, client)
}

func newClient(req *registrationRequest) *Client {
	clientID := req.ClientID
	if clientID == "" {
		clientID = newClientID()
	}
	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code", "refresh_token"}
	}
	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}
	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "client_secret_post"
	}
	return &Client{
		ClientID:                clientID,
		ClientSecret:            newClientSecret(),
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		Scope:                   req.Scope,
		TokenEndpointAuthMethod: authMethod,
		ClientName:              req.ClientName,
		ClientIDIssuedAt:        time.Now().Unix(),
		ClientSecretExpiresAt:   0,
	}
}

// AuthorizeHandler handles GET /oauth/authorize: it validates the request,
// persists the paired sessions and bounces the user agent to the upstream
// provider.
func (h *Handler) AuthorizeHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	q := req.URL.Query()

	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	responseType := q.Get("response_type")
	scope := q.Get("scope")
	codeChallenge := q.Get("code_challenge")
	challengeMethod := q.Get("code_challenge_method")

	switch {
	case clientID == "" || redirectURI == "":
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "client_id and redirect_uri are required")
		return
	case responseType != "code":
		writeOAuthError(w, http.StatusBadRequest, "unsupported_response_type", "only response_type=code is supported")
		return
	case codeChallenge == "":
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "code_challenge is required")
		return
	case challengeMethod != "S256":
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "only code_challenge_method=S256 is supported")
		return
	}

	client, found, err := h.storage.GetClient(ctx, clientID)
	if err != nil {
		logger.FromContext(ctx).Error("client lookup failed", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "client lookup failed")
		return
	}
	if !found {
		// Unknown clients are auto-registered, pinned to this redirect URI.
		client = newClient(&registrationRequest{
			ClientID:     clientID,
			RedirectURIs: []string{redirectURI},
		})
		if err := h.storage.SaveClient(ctx, client); err != nil {
			logger.FromContext(ctx).Error("client auto-registration failed", "error", err)
			writeOAuthError(w, http.StatusInternalServerError, "server_error", "client registration failed")
			return
		}
		logger.FromContext(ctx).Info("auto-registered client", "client_id", clientID)
	} else if !clientAllowsRedirect(client, redirectURI) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "redirect_uri does not match a registered URI")
		return
	}

	state := q.Get("state")
	if state == "" {
		state = randomHex(16)
	}
	sessionID := uuid.NewString()
	now := time.Now().UTC()

	authSession := &AuthorizationSession{
		SessionID:           sessionID,
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               scope,
		State:               state,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: challengeMethod,
		ResponseType:        responseType,
		CreatedAt:           now,
	}
	if err := h.storage.SaveAuthSession(ctx, authSession); err != nil {
		logger.FromContext(ctx).Error("failed to save auth session", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to save session")
		return
	}
	// The proxy runs its own PKCE conversation with the upstream: a fresh
	// verifier here, its S256 challenge on the redirect, the verifier again
	// at the callback exchange. The client's challenge stays in the
	// authorization session and never reaches the upstream.
	codeVerifier := randomHex(32)
	if err := h.storage.SaveUpstreamSession(ctx, &UpstreamSession{
		SessionID:    sessionID,
		State:        state,
		CodeVerifier: codeVerifier,
		Session:      *authSession,
		CreatedAt:    now,
	}); err != nil {
		logger.FromContext(ctx).Error("failed to save upstream session", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to save session")
		return
	}

	http.Redirect(w, req, h.upstream.AuthorizeURL(state, scope, pkceChallenge(codeVerifier)), http.StatusFound)
}

// CallbackHandler handles GET /oauth/auth0-callback: it finishes the
// upstream exchange, mints an authorization code for the client and bounces
// back to the client's redirect URI.
func (h *Handler) CallbackHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	q := req.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		writeOAuthError(w, http.StatusBadRequest, errCode, q.Get("error_description"))
		return
	}
	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "code and state are required")
		return
	}

	authSession, found, err := h.storage.GetAuthSession(ctx, state)
	if err != nil || !found {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "unknown or expired state")
		return
	}
	upstreamSession, found, err := h.storage.GetUpstreamSession(ctx, authSession.SessionID)
	if err != nil || !found {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "unknown or expired session")
		return
	}

	tokens, err := h.upstream.Exchange(ctx, code, upstreamSession.CodeVerifier)
	if err != nil {
		logger.FromContext(ctx).Error("upstream code exchange failed", "error", err)
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "upstream code exchange failed")
		return
	}
	userID, err := h.upstream.UserInfo(ctx, tokens.AccessToken)
	if err != nil {
		logger.FromContext(ctx).Error("upstream userinfo failed", "error", err)
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "failed to resolve upstream user")
		return
	}

	// Pending record under the authorization code; /token swaps it for the
	// real pair.
	authCode := randomHex(32)
	pending := &TokenRecord{
		ClientID:             authSession.ClientID,
		UserID:               userID,
		Scope:                authSession.Scope,
		UpstreamAccessToken:  tokens.AccessToken,
		UpstreamRefreshToken: tokens.RefreshToken,
		UpstreamIDToken:      tokens.IDToken,
		CreatedAt:            time.Now().UTC(),
	}
	if err := h.storage.SaveTokenRecord(ctx, authCode, pending, h.config.SessionTTL); err != nil {
		logger.FromContext(ctx).Error("failed to persist pending token record", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to persist authorization")
		return
	}

	if err := h.storage.DeleteAuthSession(ctx, state); err != nil {
		logger.FromContext(ctx).Warn("failed to delete auth session", "error", err)
	}
	if err := h.storage.DeleteUpstreamSession(ctx, authSession.SessionID); err != nil {
		logger.FromContext(ctx).Warn("failed to delete upstream session", "error", err)
	}

	redirect, err := url.Parse(authSession.RedirectURI)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "stored redirect URI is invalid")
		return
	}
	values := redirect.Query()
	values.Set("code", authCode)
	values.Set("state", state)
	redirect.RawQuery = values.Encode()

	http.Redirect(w, req, redirect.String(), http.StatusFound)
}

// TokenHandler handles POST /oauth/token for the authorization_code and
// refresh_token grants.
func (h *Handler) TokenHandler(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	switch req.PostForm.Get("grant_type") {
	case "authorization_code":
		h.handleAuthorizationCodeGrant(w, req)
	case "refresh_token":
		h.handleRefreshTokenGrant(w, req)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be authorization_code or refresh_token")
	}
}

// mintedAudience resolves the audience of a freshly minted access token: the
// request's RFC 8707 resource indicator when present, otherwise the
// configured default.
func (h *Handler) mintedAudience(resource string) string {
	if resource != "" {
		return normalizeAudience(resource)
	}
	return normalizeAudience(h.config.ExpectedAudience())
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	form := req.PostForm

	clientID := form.Get("client_id")
	client, found, err := h.storage.GetClient(ctx, clientID)
	if err != nil || !found {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}
	// A confidential secret or a PKCE verifier must be presented.
	if client.ClientSecret != form.Get("client_secret") && form.Get("code_verifier") == "" {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	code := form.Get("code")
	pending, found, err := h.storage.GetTokenRecord(ctx, code)
	if err != nil || !found {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unknown or expired authorization code")
		return
	}
	if pending.ClientID != clientID {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "authorization code was issued to another client")
		return
	}

	audience := h.mintedAudience(form.Get("resource"))
	accessToken, err := h.signer.MintAccess(pending.UserID, clientID, pending.Scope, audience)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to issue tokens")
		return
	}
	refreshToken, err := h.signer.MintRefresh(pending.UserID, clientID, pending.Scope, audience)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to issue tokens")
		return
	}

	now := time.Now().UTC()
	record := &TokenRecord{
		AccessToken:          accessToken,
		RefreshToken:         refreshToken,
		TokenType:            "Bearer",
		ExpiresAt:            now.Add(h.signer.AccessTTL()),
		Scope:                pending.Scope,
		ClientID:             clientID,
		UserID:               pending.UserID,
		Audience:             audience,
		UpstreamAccessToken:  pending.UpstreamAccessToken,
		UpstreamRefreshToken: pending.UpstreamRefreshToken,
		UpstreamIDToken:      pending.UpstreamIDToken,
		CreatedAt:            now,
	}
	if err := h.persistTokenPair(ctx, record); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to persist tokens")
		return
	}
	if _, err := h.storage.DeleteTokenRecord(ctx, code); err != nil {
		logger.FromContext(ctx).Warn("failed to delete authorization code record", "error", err)
	}

	h.writeTokenResponse(w, record)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	form := req.PostForm

	clientID := form.Get("client_id")
	client, found, err := h.storage.GetClient(ctx, clientID)
	if err != nil || !found {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}
	if client.ClientSecret != form.Get("client_secret") {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	refreshToken := form.Get("refresh_token")
	record, found, err := h.storage.GetTokenRecord(ctx, refreshToken)
	if err != nil || !found {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unknown or expired refresh token")
		return
	}
	if record.ClientID != clientID {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "refresh token was issued to another client")
		return
	}

	audience := record.Audience
	if resource := form.Get("resource"); resource != "" {
		audience = normalizeAudience(resource)
	}
	accessToken, err := h.signer.MintAccess(record.UserID, clientID, record.Scope, audience)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to issue tokens")
		return
	}

	// The refresh token is not rotated; the old access key is dropped and
	// the record moves under the new access token.
	oldAccess := record.AccessToken
	record.AccessToken = accessToken
	record.Audience = audience
	record.ExpiresAt = time.Now().UTC().Add(h.signer.AccessTTL())
	if err := h.persistTokenPair(ctx, record); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to persist tokens")
		return
	}
	if oldAccess != "" && oldAccess != accessToken {
		if _, err := h.storage.DeleteTokenRecord(ctx, oldAccess); err != nil {
			logger.FromContext(ctx).Warn("failed to delete superseded access token", "error", err)
		}
	}

	h.writeTokenResponse(w, record)
}

// persistTokenPair stores the record under both the access and refresh token
// keys. The two writes are independent; a crash between them is recovered by
// re-running the grant.
func (h *Handler) persistTokenPair(ctx context.Context, record *TokenRecord) error {
	if err := h.storage.SaveTokenRecord(ctx, record.AccessToken, record, h.signer.RefreshTTL()); err != nil {
		return err
	}
	return h.storage.SaveTokenRecord(ctx, record.RefreshToken, record, h.signer.RefreshTTL())
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, record *TokenRecord) {
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  record.AccessToken,
		"refresh_token": record.RefreshToken,
		"token_type":    "Bearer",
		"expires_in":    int(h.signer.AccessTTL().Seconds()),
		"scope":         record.Scope,
	})
}

// RevokeHandler handles POST /oauth/revoke (RFC 7009). Revoking either token
// of a pair removes both keys; unknown tokens still get a 200.
func (h *Handler) RevokeHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	if err := req.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	token := req.PostForm.Get("token")
	if token == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	record, found, err := h.storage.GetTokenRecord(ctx, token)
	if err == nil && found {
		if record.AccessToken != "" {
			if _, err := h.storage.DeleteTokenRecord(ctx, record.AccessToken); err != nil {
				logger.FromContext(ctx).Warn("failed to delete access token", "error", err)
			}
		}
		if record.RefreshToken != "" {
			if _, err := h.storage.DeleteTokenRecord(ctx, record.RefreshToken); err != nil {
				logger.FromContext(ctx).Warn("failed to delete refresh token", "error", err)
			}
		}
		logger.FromContext(ctx).Info("revoked token pair", "client_id", record.ClientID)
	}
	w.WriteHeader(http.StatusOK)
}

// StatsHandler handles GET /oauth/stats with live entity counts.
func (h *Handler) StatsHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	stats := make(map[string]int, 4)
	for name, prefix := range map[string]string{
		"clients":           clientKeyPrefix,
		"auth_sessions":     authSessionKeyPrefix,
		"upstream_sessions": upstreamSessionKeyPrefix,
		"tokens":            tokenKeyPrefix,
	} {
		n, err := h.storage.CountByPrefix(ctx, prefix)
		if err != nil {
			logger.FromContext(ctx).Error("failed to count keys", "prefix", prefix, "error", err)
			writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to compute stats")
			return
		}
		stats[name] = n
	}
	writeJSON(w, http.StatusOK, stats)
}

// AuthorizationServerMetadataHandler serves RFC 8414 metadata.
func (h *Handler) AuthorizationServerMetadataHandler(w http.ResponseWriter, _ *http.Request) {
	base := h.config.BaseURL
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                h.config.Issuer,
		"authorization_endpoint":                base + "/oauth/authorize",
		"token_endpoint":                        base + "/oauth/token",
		"registration_endpoint":                 base + "/oauth/register",
		"revocation_endpoint":                   base + "/oauth/revoke",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post"},
		"code_challenge_methods_supported":      []string{"S256"},
		"scopes_supported":                      []string{"openid", "profile", "email"},
	})
}

// ProtectedResourceMetadataHandler serves RFC 9728 metadata.
func (h *Handler) ProtectedResourceMetadataHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"resource":                 h.config.Issuer,
		"authorization_servers":    []string{h.config.Issuer},
		"bearer_methods_supported": []string{"header", "query", "body"},
		"scopes_supported":         []string{"openid", "profile", "email"},
	})
}
