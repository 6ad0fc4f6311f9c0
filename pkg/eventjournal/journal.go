// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package eventjournal persists per-stream SSE event sequences so that a
// reconnecting client can replay only the events it missed via the standard
// Last-Event-ID header. Event ids are v4 UUIDs and therefore globally unique
// across every stream of a session, which lets StreamOf resolve the stream
// from the id alone.
package eventjournal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/mcp-gateway/pkg/kv"
	"github.com/stacklok/mcp-gateway/pkg/logger"
)

// Key namespaces in the shared KV store.
const (
	eventKeyPrefix  = "mcp-event:"
	streamKeyPrefix = "mcp-stream-events:"
)

// DefaultEventTTL bounds how long replay history is retained.
const DefaultEventTTL = 5 * time.Minute

// fetchParallelism caps concurrent event fetches during replay.
const fetchParallelism = 8

// ErrEventNotFound is returned by ReplayAfter when the last event id does not
// resolve to any stream.
var ErrEventNotFound = fmt.Errorf("event not found")

// StoredEvent is the persisted form of a single stream event.
type StoredEvent struct {
	StreamID  string          `json:"stream_id"`
	Message   json.RawMessage `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
}

// SendFunc delivers one replayed event to the client. Sends happen strictly
// in stream order.
type SendFunc func(eventID string, message json.RawMessage) error

// Journal stores and replays per-stream event sequences on top of a kv.Store.
type Journal struct {
	store kv.Store
	ttl   time.Duration
}

// New creates a Journal with the given event TTL. A zero ttl selects
// DefaultEventTTL.
func New(store kv.Store, ttl time.Duration) *Journal {
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	return &Journal{store: store, ttl: ttl}
}

// StoreEvent persists message under a fresh event id and appends the id to
// the stream index. The atomic list append both orders concurrent writers and
// refreshes the stream TTL.
func (j *Journal) StoreEvent(ctx context.Context, streamID string, message json.RawMessage) (string, error) {
	eventID := uuid.NewString()

	data, err := json.Marshal(StoredEvent{
		StreamID:  streamID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := j.store.Set(ctx, eventKeyPrefix+eventID, data, j.ttl); err != nil {
		return "", fmt.Errorf("failed to store event %s: %w", eventID, err)
	}
	if _, err := j.store.AppendToList(ctx, streamKeyPrefix+streamID, []byte(eventID), j.ttl); err != nil {
		return "", fmt.Errorf("failed to index event %s: %w", eventID, err)
	}
	return eventID, nil
}

// StreamOf resolves the stream that produced eventID, or "" when the event is
// unknown or already expired.
func (j *Journal) StreamOf(ctx context.Context, eventID string) (string, error) {
	ev, ok, err := j.getEvent(ctx, eventID)
	if err != nil || !ok {
		return "", err
	}
	return ev.StreamID, nil
}

// ReplayAfter sends every event of the stream that follows lastEventID, in
// index order, and returns the stream id so the caller can attach the live
// stream afterwards.
//
// A lastEventID that resolves to no stream fails with ErrEventNotFound. An id
// whose stream index no longer contains it (a pruned prefix) is tolerated:
// the stream id is returned without sending anything.
func (j *Journal) ReplayAfter(ctx context.Context, lastEventID string, send SendFunc) (string, error) {
	streamID, err := j.StreamOf(ctx, lastEventID)
	if err != nil {
		return "", err
	}
	if streamID == "" {
		return "", fmt.Errorf("%w: %s", ErrEventNotFound, lastEventID)
	}

	ids, err := j.streamIndex(ctx, streamID)
	if err != nil {
		return "", err
	}

	start := -1
	for i, id := range ids {
		if id == lastEventID {
			start = i
			break
		}
	}
	if start == -1 || start+1 >= len(ids) {
		return streamID, nil
	}
	pending := ids[start+1:]

	// Fetch in parallel, send strictly sequentially: SSE ordering is part of
	// the contract, fetch latency is not.
	events := make([]*StoredEvent, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchParallelism)
	for i, id := range pending {
		g.Go(func() error {
			ev, ok, err := j.getEvent(gctx, id)
			if err != nil {
				return err
			}
			if ok {
				events[i] = ev
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	for i, ev := range events {
		if ev == nil {
			// Expired between index read and fetch; skip.
			continue
		}
		if err := send(pending[i], ev.Message); err != nil {
			return "", fmt.Errorf("failed to send replayed event %s: %w", pending[i], err)
		}
	}
	return streamID, nil
}

// CleanupStream deletes every event blob referenced by the stream index, then
// the index itself.
func (j *Journal) CleanupStream(ctx context.Context, streamID string) error {
	ids, err := j.streamIndex(ctx, streamID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := j.store.Delete(ctx, eventKeyPrefix+id); err != nil {
			return fmt.Errorf("failed to delete event %s: %w", id, err)
		}
	}
	if _, err := j.store.Delete(ctx, streamKeyPrefix+streamID); err != nil {
		return fmt.Errorf("failed to delete stream index %s: %w", streamID, err)
	}
	return nil
}

func (j *Journal) getEvent(ctx context.Context, eventID string) (*StoredEvent, bool, error) {
	data, ok, err := j.store.Get(ctx, eventKeyPrefix+eventID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get event %s: %w", eventID, err)
	}
	if !ok {
		return nil, false, nil
	}
	var ev StoredEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		// Corrupt blobs degrade to not-found; no auto-repair.
		logger.Warnw("discarding corrupt stored event", "event_id", eventID, "error", err)
		return nil, false, nil
	}
	return &ev, true, nil
}

func (j *Journal) streamIndex(ctx context.Context, streamID string) ([]string, error) {
	vals, err := j.store.GetList(ctx, streamKeyPrefix+streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stream index %s: %w", streamID, err)
	}
	ids := make([]string, len(vals))
	for i, v := range vals {
		ids[i] = string(v)
	}
	return ids, nil
}
