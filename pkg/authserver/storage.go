// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stacklok/mcp-gateway/pkg/errors"
	"github.com/stacklok/mcp-gateway/pkg/kv"
	"github.com/stacklok/mcp-gateway/pkg/logger"
)

// Storage persists OAuth state in the shared KV store. Records that fail to
// deserialize are treated as absent with a logged warning; nothing attempts
// repair.
type Storage struct {
	store      kv.Store
	sessionTTL time.Duration
}

// NewStorage creates a Storage. sessionTTL bounds authorization and upstream
// sessions; clients and token records manage their own lifetimes.
func NewStorage(store kv.Store, sessionTTL time.Duration) *Storage {
	return &Storage{store: store, sessionTTL: sessionTTL}
}

func (s *Storage) save(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.NewInternalError("failed to marshal record", err)
	}
	if err := s.store.Set(ctx, key, data, ttl); err != nil {
		return errors.NewStorageFailureError("failed to persist record", err)
	}
	return nil
}

func (s *Storage) load(ctx context.Context, key string, v any) (bool, error) {
	data, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return false, errors.NewStorageFailureError("failed to load record", err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		logger.FromContext(ctx).Warn("discarding corrupt record", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

// SaveClient persists a registered client. Clients do not expire.
func (s *Storage) SaveClient(ctx context.Context, c *Client) error {
	return s.save(ctx, clientKeyPrefix+c.ClientID, c, 0)
}

// GetClient loads a client by id.
func (s *Storage) GetClient(ctx context.Context, clientID string) (*Client, bool, error) {
	var c Client
	ok, err := s.load(ctx, clientKeyPrefix+clientID, &c)
	if !ok || err != nil {
		return nil, false, err
	}
	return &c, true, nil
}

// SaveAuthSession persists an authorization session keyed on its state.
func (s *Storage) SaveAuthSession(ctx context.Context, sess *AuthorizationSession) error {
	return s.save(ctx, authSessionKeyPrefix+sess.State, sess, s.sessionTTL)
}

// GetAuthSession loads an authorization session by state.
func (s *Storage) GetAuthSession(ctx context.Context, state string) (*AuthorizationSession, bool, error) {
	var sess AuthorizationSession
	ok, err := s.load(ctx, authSessionKeyPrefix+state, &sess)
	if !ok || err != nil {
		return nil, false, err
	}
	return &sess, true, nil
}

// DeleteAuthSession removes an authorization session.
func (s *Storage) DeleteAuthSession(ctx context.Context, state string) error {
	if _, err := s.store.Delete(ctx, authSessionKeyPrefix+state); err != nil {
		return errors.NewStorageFailureError("failed to delete auth session", err)
	}
	return nil
}

// SaveUpstreamSession persists an upstream session keyed on its session id.
func (s *Storage) SaveUpstreamSession(ctx context.Context, sess *UpstreamSession) error {
	return s.save(ctx, upstreamSessionKeyPrefix+sess.SessionID, sess, s.sessionTTL)
}

// GetUpstreamSession loads an upstream session by session id.
func (s *Storage) GetUpstreamSession(ctx context.Context, sessionID string) (*UpstreamSession, bool, error) {
	var sess UpstreamSession
	ok, err := s.load(ctx, upstreamSessionKeyPrefix+sessionID, &sess)
	if !ok || err != nil {
		return nil, false, err
	}
	return &sess, true, nil
}

// DeleteUpstreamSession removes an upstream session.
func (s *Storage) DeleteUpstreamSession(ctx context.Context, sessionID string) error {
	if _, err := s.store.Delete(ctx, upstreamSessionKeyPrefix+sessionID); err != nil {
		return errors.NewStorageFailureError("failed to delete upstream session", err)
	}
	return nil
}

// SaveTokenRecord persists a token record under key (an authorization code,
// access token or refresh token) with the given ttl.
func (s *Storage) SaveTokenRecord(ctx context.Context, key string, rec *TokenRecord, ttl time.Duration) error {
	return s.save(ctx, tokenKeyPrefix+key, rec, ttl)
}

// GetTokenRecord loads a token record by key.
func (s *Storage) GetTokenRecord(ctx context.Context, key string) (*TokenRecord, bool, error) {
	var rec TokenRecord
	ok, err := s.load(ctx, tokenKeyPrefix+key, &rec)
	if !ok || err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

// DeleteTokenRecord removes the record stored under key and reports whether
// it existed.
func (s *Storage) DeleteTokenRecord(ctx context.Context, key string) (bool, error) {
	existed, err := s.store.Delete(ctx, tokenKeyPrefix+key)
	if err != nil {
		return false, errors.NewStorageFailureError("failed to delete token record", err)
	}
	return existed, nil
}

// CountByPrefix returns the number of live keys under prefix; used by the
// stats endpoint.
func (s *Storage) CountByPrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := s.store.Keys(ctx, prefix)
	if err != nil {
		return 0, errors.NewStorageFailureError("failed to count keys", err)
	}
	return len(keys), nil
}
