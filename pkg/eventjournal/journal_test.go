// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package eventjournal

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcp-gateway/pkg/kv"
)

type sentEvent struct {
	id      string
	message string
}

func collect(events *[]sentEvent) SendFunc {
	return func(eventID string, message json.RawMessage) error {
		*events = append(*events, sentEvent{id: eventID, message: string(message)})
		return nil
	}
}

func storeEvents(t *testing.T, j *Journal, streamID string, payloads ...string) []string {
	t.Helper()
	ids := make([]string, 0, len(payloads))
	for _, p := range payloads {
		id, err := j.StoreEvent(context.Background(), streamID, json.RawMessage(p))
		require.NoError(t, err)
		require.NotEmpty(t, id)
		ids = append(ids, id)
	}
	return ids
}

func TestReplayAfterSendsOnlyMissedEvents(t *testing.T) {
	t.Parallel()

	j := New(kv.NewMemoryStore(), 0)
	ids := storeEvents(t, j, "stream-1", `{"n":1}`, `{"n":2}`, `{"n":3}`)

	var got []sentEvent
	streamID, err := j.ReplayAfter(context.Background(), ids[0], collect(&got))
	require.NoError(t, err)
	assert.Equal(t, "stream-1", streamID)
	require.Len(t, got, 2)
	assert.Equal(t, ids[1], got[0].id)
	assert.JSONEq(t, `{"n":2}`, got[0].message)
	assert.Equal(t, ids[2], got[1].id)
	assert.JSONEq(t, `{"n":3}`, got[1].message)
}

func TestReplayAfterLastEventSendsNothing(t *testing.T) {
	t.Parallel()

	j := New(kv.NewMemoryStore(), 0)
	ids := storeEvents(t, j, "stream-1", `{"n":1}`, `{"n":2}`)

	var got []sentEvent
	streamID, err := j.ReplayAfter(context.Background(), ids[1], collect(&got))
	require.NoError(t, err)
	assert.Equal(t, "stream-1", streamID)
	assert.Empty(t, got)
}

func TestReplayAfterUnknownEvent(t *testing.T) {
	t.Parallel()

	j := New(kv.NewMemoryStore(), 0)

	_, err := j.ReplayAfter(context.Background(), "nonexistent", collect(&[]sentEvent{}))
	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestStreamOf(t *testing.T) {
	t.Parallel()

	j := New(kv.NewMemoryStore(), 0)
	ids := storeEvents(t, j, "stream-7", `{}`)

	streamID, err := j.StreamOf(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, "stream-7", streamID)

	streamID, err = j.StreamOf(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, streamID)
}

func TestEventIDsAreGloballyUnique(t *testing.T) {
	t.Parallel()

	j := New(kv.NewMemoryStore(), 0)
	a := storeEvents(t, j, "stream-a", `{}`, `{}`)
	b := storeEvents(t, j, "stream-b", `{}`)

	seen := map[string]bool{}
	for _, id := range append(a, b...) {
		assert.False(t, seen[id])
		seen[id] = true
	}

	// An id from one stream never resolves to another.
	streamID, err := j.StreamOf(context.Background(), b[0])
	require.NoError(t, err)
	assert.Equal(t, "stream-b", streamID)
}

func TestExpiredEventSkippedDuringReplay(t *testing.T) {
	t.Parallel()

	store := kv.NewMemoryStore()
	j := New(store, 0)
	ids := storeEvents(t, j, "stream-1", `{"n":1}`, `{"n":2}`, `{"n":3}`)

	// Simulate TTL expiry of a middle event; the index still references it.
	_, err := store.Delete(context.Background(), eventKeyPrefix+ids[1])
	require.NoError(t, err)

	var got []sentEvent
	_, err = j.ReplayAfter(context.Background(), ids[0], collect(&got))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ids[2], got[0].id)
}

func TestCleanupStream(t *testing.T) {
	t.Parallel()

	store := kv.NewMemoryStore()
	j := New(store, 0)
	ids := storeEvents(t, j, "stream-1", `{"n":1}`, `{"n":2}`)

	require.NoError(t, j.CleanupStream(context.Background(), "stream-1"))

	for _, id := range ids {
		_, ok, err := store.Get(context.Background(), eventKeyPrefix+id)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	vals, err := store.GetList(context.Background(), streamKeyPrefix+"stream-1")
	require.NoError(t, err)
	assert.Empty(t, vals)
}
