// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/mcp-gateway/pkg/errors"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/transport"
)

// Handler serves the gateway's plain HTTP endpoints and orchestrates /mcp
// requests against the transport registry.
type Handler struct {
	registry    *transport.Registry
	version     string
	environment string
	startTime   time.Time
}

// NewHandler creates a Handler.
func NewHandler(registry *transport.Registry, version, environment string) *Handler {
	return &Handler{
		registry:    registry,
		version:     version,
		environment: environment,
		startTime:   time.Now(),
	}
}

// Root serves GET / with basic service identification.
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":      "mcp-gateway",
		"mcp_endpoint": "/mcp",
	})
}

// Ping serves GET /ping.
func (*Handler) Ping(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("pong"))
}

// Health serves GET /health. Version and environment are redacted in
// production.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	version, environment := h.version, h.environment
	if h.environment == "production" {
		version, environment = "redacted", "redacted"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
		"version":        version,
		"environment":    environment,
	})
}

// MCPPost serves POST /mcp: it resolves (or replays) the session transport,
// or establishes a new session for an initialize request, then delegates
// dispatch to the transport.
func (h *Handler) MCPPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "failed to read request body"})
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	sessionID := r.Header.Get(transport.SessionIDHeader)
	if sessionID != "" {
		tr, ok, err := h.resolveTransport(w, r, sessionID)
		if err != nil || !ok {
			return
		}
		if err := h.registry.TouchSession(ctx, sessionID); err != nil {
			logger.FromContext(ctx).Warn("failed to refresh session", "session_id", sessionID, "error", err)
		}
		tr.HandleRequest(w, r)
		return
	}

	if transport.IsInitializeRequest(body) {
		sessionID = uuid.NewString()
		if err := h.registry.SaveSession(ctx, sessionID, body); err != nil {
			logger.FromContext(ctx).Error("failed to persist new session", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to create session"})
			return
		}
		h.registry.CreateTransport(sessionID).HandleRequest(w, r)
		return
	}

	writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request"})
}

// MCPGet serves GET /mcp, the standalone SSE stream. The session resolution
// mirrors POST so a reconnect can land on any replica.
func (h *Handler) MCPGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(transport.SessionIDHeader)
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request"})
		return
	}
	tr, ok, err := h.resolveTransport(w, r, sessionID)
	if err != nil || !ok {
		return
	}
	tr.HandleRequest(w, r)
}

// MCPDelete serves DELETE /mcp. Unknown sessions answer 200 so termination
// is idempotent.
func (h *Handler) MCPDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.Header.Get(transport.SessionIDHeader)

	if sessionID == "" || !h.registry.HasTransport(sessionID) {
		writeJSON(w, http.StatusOK, map[string]any{"error": "Session not found"})
		return
	}
	if err := h.registry.DeleteTransport(ctx, sessionID); err != nil {
		logger.FromContext(ctx).Error("failed to terminate session", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to terminate session"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "terminated"})
}

// resolveTransport returns the local transport for the session, replaying
// the persisted handshake when this replica has none. ok=false means a
// response was already written.
func (h *Handler) resolveTransport(w http.ResponseWriter, r *http.Request, sessionID string) (*transport.Transport, bool, error) {
	ctx := r.Context()

	exists, err := h.registry.HasSession(ctx, sessionID)
	if err != nil {
		logger.FromContext(ctx).Error("session lookup failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "session lookup failed"})
		return nil, false, err
	}
	if !exists {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request"})
		return nil, false, nil
	}

	if tr, ok := h.registry.GetTransport(sessionID); ok {
		return tr, true, nil
	}

	tr, err := h.registry.ReplayInitialRequest(ctx, sessionID)
	if err != nil {
		if errors.IsSessionNotFound(err) || errors.IsCorrupt(err) {
			// Session unusable; the client must re-initialize.
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request"})
			return nil, false, nil
		}
		logger.FromContext(ctx).Error("session replay failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "session replay failed"})
		return nil, false, err
	}
	return tr, true, nil
}
