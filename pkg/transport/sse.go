// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"net/http"
	"sync"
)

// sseWriter serializes SSE frames onto one http.ResponseWriter. Writes from
// concurrent senders (live notifications vs replay) are mutex-ordered.
type sseWriter struct {
	mu sync.Mutex
	w  http.ResponseWriter
	f  http.Flusher
}

// newSSEWriter prepares w for an event stream. Fails when the connection
// cannot stream.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	return &sseWriter{w: w, f: f}, nil
}

// writeEvent emits one event frame with the given id and JSON payload and
// flushes it to the socket.
func (s *sseWriter) writeEvent(id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.w, "id: %s\ndata: %s\n\n", id, data); err != nil {
		return fmt.Errorf("failed to write sse event: %w", err)
	}
	s.f.Flush()
	return nil
}
