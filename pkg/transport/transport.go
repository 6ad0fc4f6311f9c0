// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package transport implements the Streamable HTTP transport for MCP
// sessions: POST dispatch with JSON or SSE responses, the standalone GET
// event stream with Last-Event-ID resumption, and the per-replica transport
// registry with cross-instance session replay.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/exp/jsonrpc2"

	"github.com/stacklok/mcp-gateway/pkg/eventjournal"
	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/mcpserver"
)

// SessionIDHeader carries the MCP session id on requests and responses.
const SessionIDHeader = "Mcp-Session-Id"

// Methods whose handlers may emit progress notifications. Their responses go
// over SSE when the client accepts it, so progress can precede the result on
// the same stream.
var streamingMethods = map[string]bool{
	"tools/call":  true,
	"prompts/get": true,
}

// Transport serves the Streamable HTTP protocol for exactly one session. It
// owns the session's event streams: every outbound message is journaled
// before it is written, so a reconnecting client can resume from the id of
// the last event it saw.
type Transport struct {
	sessionID string
	server    *mcpserver.Server
	journal   *eventjournal.Journal

	mu                 sync.Mutex
	standalone         *sseWriter
	standaloneStreamID string
	streamIDs          []string
	closed             bool

	done    chan struct{}
	onClose func()
}

func newTransport(sessionID string, server *mcpserver.Server, journal *eventjournal.Journal, onClose func()) *Transport {
	return &Transport{
		sessionID: sessionID,
		server:    server,
		journal:   journal,
		done:      make(chan struct{}),
		onClose:   onClose,
	}
}

// SessionID returns the session this transport is bound to.
func (t *Transport) SessionID() string {
	return t.sessionID
}

// HandleRequest serves one POST or GET /mcp request for this session.
func (t *Transport) HandleRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(SessionIDHeader, t.sessionID)

	switch r.Method {
	case http.MethodPost:
		t.handlePost(w, r)
	case http.MethodGet:
		t.handleGet(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (t *Transport) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	msg, err := jsonrpc2.DecodeMessage(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON-RPC message")
		return
	}

	switch m := msg.(type) {
	case *jsonrpc2.Response:
		// No server-initiated calls are outstanding; acknowledge and drop.
		w.WriteHeader(http.StatusAccepted)
	case *jsonrpc2.Request:
		if !m.ID.IsValid() {
			if _, err := t.server.HandleRequest(r.Context(), m, t.notifyStandalone); err != nil {
				logger.FromContext(r.Context()).Error("failed to handle notification", "method", m.Method, "error", err)
			}
			w.WriteHeader(http.StatusAccepted)
			return
		}
		if streamingMethods[m.Method] && acceptsSSE(r) {
			t.respondSSE(w, r, m)
			return
		}
		t.respondJSON(w, r, m)
	default:
		writeError(w, http.StatusBadRequest, "unsupported JSON-RPC message")
	}
}

// respondJSON answers a call with a single application/json body. Progress
// emitted during the call is routed to the standalone stream since the POST
// response cannot interleave it.
func (t *Transport) respondJSON(w http.ResponseWriter, r *http.Request, req *jsonrpc2.Request) {
	resp, err := t.server.HandleRequest(r.Context(), req, t.notifyStandalone)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	data, err := jsonrpc2.EncodeMessage(resp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// respondSSE answers a call on a dedicated event stream: progress
// notifications first, the response as the final event, then EOF.
func (t *Transport) respondSSE(w http.ResponseWriter, r *http.Request, req *jsonrpc2.Request) {
	sw, err := newSSEWriter(w)
	if err != nil {
		t.respondJSON(w, r, req)
		return
	}

	streamID := uuid.NewString()
	t.trackStream(streamID)
	w.WriteHeader(http.StatusOK)

	notify := func(ctx context.Context, msg jsonrpc2.Message) error {
		return t.emit(ctx, sw, streamID, msg)
	}

	resp, err := t.server.HandleRequest(r.Context(), req, notify)
	if err != nil {
		resp, err = jsonrpc2.NewResponse(req.ID, nil, jsonrpc2.NewError(-32603, "internal error"))
		if err != nil {
			logger.FromContext(r.Context()).Error("failed to build error response", "error", err)
			return
		}
	}
	if err := t.emit(r.Context(), sw, streamID, resp); err != nil {
		logger.FromContext(r.Context()).Error("failed to write response event", "error", err)
	}
}

// handleGet serves the standalone SSE stream. With a Last-Event-ID header the
// missed suffix of that event's stream is replayed first, then the connection
// stays attached for live notifications.
func (t *Transport) handleGet(w http.ResponseWriter, r *http.Request) {
	if !acceptsSSE(r) {
		writeError(w, http.StatusBadRequest, "Accept must include text/event-stream")
		return
	}
	ctx := r.Context()

	lastEventID := r.Header.Get("Last-Event-ID")
	var streamID string
	if lastEventID != "" {
		sid, err := t.journal.StreamOf(ctx, lastEventID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if sid == "" {
			writeError(w, http.StatusBadRequest, "unknown event id")
			return
		}
		streamID = sid
	}

	sw, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.WriteHeader(http.StatusOK)
	sw.f.Flush()

	if lastEventID != "" {
		if _, err := t.journal.ReplayAfter(ctx, lastEventID, func(eventID string, msg json.RawMessage) error {
			return sw.writeEvent(eventID, msg)
		}); err != nil {
			logger.FromContext(ctx).Error("event replay failed", "last_event_id", lastEventID, "error", err)
			return
		}
	} else {
		streamID = uuid.NewString()
		t.trackStream(streamID)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.standalone = sw
	t.standaloneStreamID = streamID
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		if t.standalone == sw {
			t.standalone = nil
		}
		t.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
	case <-t.done:
	}
}

// SendNotification delivers a server-initiated notification over the
// standalone stream. Without a stream the notification is dropped; there is
// nowhere a future reconnect could resume it from.
func (t *Transport) SendNotification(ctx context.Context, msg jsonrpc2.Message) error {
	return t.notifyStandalone(ctx, msg)
}

func (t *Transport) notifyStandalone(ctx context.Context, msg jsonrpc2.Message) error {
	t.mu.Lock()
	sw := t.standalone
	streamID := t.standaloneStreamID
	t.mu.Unlock()

	if streamID == "" {
		logger.FromContext(ctx).Debug("dropping notification without standalone stream", "session_id", t.sessionID)
		return nil
	}
	if sw == nil {
		// Journal only; the client will replay on reconnect.
		data, err := jsonrpc2.EncodeMessage(msg)
		if err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
		if _, err := t.journal.StoreEvent(ctx, streamID, data); err != nil {
			return err
		}
		return nil
	}
	return t.emit(ctx, sw, streamID, msg)
}

// emit journals msg on streamID then writes it live. A journal failure does
// not block delivery; the event is sent with a throwaway id and is simply
// not resumable.
func (t *Transport) emit(ctx context.Context, sw *sseWriter, streamID string, msg jsonrpc2.Message) error {
	data, err := jsonrpc2.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	eventID, err := t.journal.StoreEvent(ctx, streamID, data)
	if err != nil {
		logger.FromContext(ctx).Error("failed to journal event", "stream_id", streamID, "error", err)
		eventID = uuid.NewString()
	}
	return sw.writeEvent(eventID, data)
}

// Terminate closes the transport: wakes the standalone stream, purges the
// session's journaled streams and runs the on-close hook. Idempotent.
func (t *Transport) Terminate(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	streams := make([]string, len(t.streamIDs))
	copy(streams, t.streamIDs)
	t.mu.Unlock()

	for _, sid := range streams {
		if err := t.journal.CleanupStream(ctx, sid); err != nil {
			logger.FromContext(ctx).Warn("failed to clean up stream", "stream_id", sid, "error", err)
		}
	}
	if t.onClose != nil {
		t.onClose()
	}
	return nil
}

func (t *Transport) trackStream(streamID string) {
	t.mu.Lock()
	t.streamIDs = append(t.streamIDs, streamID)
	t.mu.Unlock()
}

func acceptsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
