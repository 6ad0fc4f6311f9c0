// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/exp/jsonrpc2"

	"github.com/stacklok/mcp-gateway/pkg/errors"
	"github.com/stacklok/mcp-gateway/pkg/eventjournal"
	"github.com/stacklok/mcp-gateway/pkg/kv"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/mcpserver"
)

// sessionKeyPrefix namespaces persisted MCP sessions in the KV store.
const sessionKeyPrefix = "mcp-session:"

// DefaultSessionTTL bounds how long an idle session survives. Every use
// refreshes it.
const DefaultSessionTTL = 30 * time.Minute

// sessionRecord is the shared-state form of a session: just enough to rebuild
// a transport on a replica that never saw the original handshake.
type sessionRecord struct {
	InitialRequest json.RawMessage `json:"initial_request"`
}

// Registry owns this replica's transports and the cluster-wide session index.
// Transports are purely local; the KV record is what lets any replica serve a
// session by replaying its persisted initialize request.
type Registry struct {
	store   kv.Store
	journal *eventjournal.Journal
	server  *mcpserver.Server
	ttl     time.Duration

	mu         sync.Mutex
	transports map[string]*Transport
}

// NewRegistry creates a Registry. A zero ttl selects DefaultSessionTTL.
func NewRegistry(store kv.Store, journal *eventjournal.Journal, server *mcpserver.Server, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Registry{
		store:      store,
		journal:    journal,
		server:     server,
		ttl:        ttl,
		transports: make(map[string]*Transport),
	}
}

// HasSession reports whether a session record exists in the shared store.
func (r *Registry) HasSession(ctx context.Context, sessionID string) (bool, error) {
	_, ok, err := r.store.Get(ctx, sessionKeyPrefix+sessionID)
	if err != nil {
		return false, errors.NewStorageFailureError("failed to look up session", err)
	}
	return ok, nil
}

// SaveSession persists the session's initialize payload with the session TTL.
func (r *Registry) SaveSession(ctx context.Context, sessionID string, initialRequest json.RawMessage) error {
	data, err := json.Marshal(sessionRecord{InitialRequest: initialRequest})
	if err != nil {
		return errors.NewInternalError("failed to marshal session record", err)
	}
	if err := r.store.Set(ctx, sessionKeyPrefix+sessionID, data, r.ttl); err != nil {
		return errors.NewStorageFailureError("failed to save session", err)
	}
	return nil
}

// TouchSession refreshes the session TTL. Missing sessions are left alone.
func (r *Registry) TouchSession(ctx context.Context, sessionID string) error {
	data, ok, err := r.store.Get(ctx, sessionKeyPrefix+sessionID)
	if err != nil {
		return errors.NewStorageFailureError("failed to load session", err)
	}
	if !ok {
		return nil
	}
	if err := r.store.Set(ctx, sessionKeyPrefix+sessionID, data, r.ttl); err != nil {
		return errors.NewStorageFailureError("failed to refresh session", err)
	}
	return nil
}

// HasTransport reports whether this replica holds a live transport for the
// session.
func (r *Registry) HasTransport(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.transports[sessionID]
	return ok
}

// GetTransport returns the local transport for the session, if any.
func (r *Registry) GetTransport(sessionID string) (*Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transports[sessionID]
	return t, ok
}

// CreateTransport builds a transport bound to sessionID and registers it
// locally. Closing the transport removes it from the local map only; the
// shared session record stays so another replica can replay later.
func (r *Registry) CreateTransport(sessionID string) *Transport {
	t := newTransport(sessionID, r.server, r.journal, func() {
		r.mu.Lock()
		delete(r.transports, sessionID)
		r.mu.Unlock()
	})

	r.mu.Lock()
	r.transports[sessionID] = t
	r.mu.Unlock()
	return t
}

// DeleteTransport terminates the session everywhere: the local transport, if
// present, and the shared session record.
func (r *Registry) DeleteTransport(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	t, ok := r.transports[sessionID]
	delete(r.transports, sessionID)
	r.mu.Unlock()

	if ok {
		if err := t.Terminate(ctx); err != nil {
			return err
		}
	}
	if _, err := r.store.Delete(ctx, sessionKeyPrefix+sessionID); err != nil {
		return errors.NewStorageFailureError("failed to delete session", err)
	}
	return nil
}

// ReplayInitialRequest rebuilds a transport for a session whose handshake
// happened on another replica (or before a restart). The persisted initialize
// payload is re-executed against a fresh transport with a discarding response
// writer, leaving the transport in the same state a local initialize would
// have produced.
func (r *Registry) ReplayInitialRequest(ctx context.Context, sessionID string) (*Transport, error) {
	data, ok, err := r.store.Get(ctx, sessionKeyPrefix+sessionID)
	if err != nil {
		return nil, errors.NewStorageFailureError("failed to load session", err)
	}
	if !ok {
		return nil, errors.NewSessionNotFoundError(fmt.Sprintf("no session %s", sessionID), nil)
	}

	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil || len(rec.InitialRequest) == 0 {
		logger.FromContext(ctx).Warn("discarding corrupt session record", "session_id", sessionID, "error", err)
		return nil, errors.NewCorruptError(fmt.Sprintf("corrupt session record %s", sessionID), err)
	}

	t := r.CreateTransport(sessionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/mcp", bytes.NewReader(rec.InitialRequest))
	if err != nil {
		return nil, errors.NewInternalError("failed to fabricate replay request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set(SessionIDHeader, sessionID)

	t.HandleRequest(newSinkResponseWriter(), req)
	logger.FromContext(ctx).Info("replayed session on this replica", "session_id", sessionID)
	return t, nil
}

// CloseAll terminates every local transport; used during shutdown. Session
// records are left in place so clients survive a rolling restart.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		if err := t.Terminate(ctx); err != nil {
			logger.FromContext(ctx).Warn("failed to terminate transport", "session_id", t.SessionID(), "error", err)
		}
	}
}

// IsInitializeRequest reports whether body is an MCP initialize call.
func IsInitializeRequest(body []byte) bool {
	msg, err := jsonrpc2.DecodeMessage(body)
	if err != nil {
		return false
	}
	req, ok := msg.(*jsonrpc2.Request)
	return ok && req.ID.IsValid() && req.Method == "initialize"
}

// sinkResponseWriter discards everything written to it. Replay needs a
// response writer but nobody is on the other end.
type sinkResponseWriter struct {
	header http.Header
}

func newSinkResponseWriter() *sinkResponseWriter {
	return &sinkResponseWriter{header: make(http.Header)}
}

func (s *sinkResponseWriter) Header() http.Header { return s.header }

func (*sinkResponseWriter) Write(p []byte) (int, error) { return len(p), nil }

func (*sinkResponseWriter) WriteHeader(int) {}
