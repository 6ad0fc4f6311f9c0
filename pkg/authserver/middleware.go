// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/stacklok/mcp-gateway/pkg/logger"
)

type identityCtxKey struct{}

// IdentityFromContext returns the verified token claims for the request, if
// bearer auth ran.
func IdentityFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(identityCtxKey{}).(*Claims)
	return claims, ok
}

// RequireAuth enforces bearer authentication. With auth disabled in config
// every request passes through untouched. Any verification failure yields a
// generic 401; the specific reason is only logged.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !h.config.Enabled {
			next.ServeHTTP(w, req)
			return
		}
		ctx := req.Context()

		token, ok := bearerToken(req)
		if !ok {
			unauthorized(w)
			return
		}

		claims, err := h.signer.VerifyAccess(token)
		if err != nil {
			logger.FromContext(ctx).Debug("bearer token rejected", "error", err)
			unauthorized(w)
			return
		}
		if !audienceContains(claims.Audience, h.config.ExpectedAudience()) {
			logger.FromContext(ctx).Debug("bearer token audience mismatch", "audience", claims.Audience)
			unauthorized(w)
			return
		}

		// Revocation check: the token must still exist in the store and its
		// client must still resolve.
		if _, found, err := h.storage.GetTokenRecord(ctx, token); err != nil || !found {
			logger.FromContext(ctx).Debug("bearer token not found in store", "error", err)
			unauthorized(w)
			return
		}
		if _, found, err := h.storage.GetClient(ctx, claims.ClientID); err != nil || !found {
			logger.FromContext(ctx).Debug("bearer token client no longer registered", "client_id", claims.ClientID)
			unauthorized(w)
			return
		}

		next.ServeHTTP(w, req.WithContext(context.WithValue(ctx, identityCtxKey{}, claims)))
	})
}

func bearerToken(req *http.Request) (string, bool) {
	header := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="mcp-gateway"`)
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}
