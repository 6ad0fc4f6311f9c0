// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package kv provides the pluggable key-value store backing all shared
// gateway state. Two backends exist: an in-process map with TTL expiry and a
// Redis-compatible client (works against Redis and Valkey).
//
// Scalar and list keys share one namespace; Delete removes either kind.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrTransient indicates a network or IO failure talking to the backend.
// Callers may retry; the stored state is unchanged or unknown.
var ErrTransient = errors.New("kv: transient storage failure")

// Store is the pluggable key-value backend.
//
// All operations are safe for concurrent use. AppendToList is atomic with
// respect to concurrent appends on the same key: list creation and TTL are
// applied together, and no caller ever observes a partially appended list.
type Store interface {
	// Get returns the value for key, or ok=false when the key does not
	// exist or has expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key (scalar or list) and reports whether it existed.
	Delete(ctx context.Context, key string) (existed bool, err error)

	// Keys returns all live keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Len returns the number of live keys in the store.
	Len(ctx context.Context) (int64, error)

	// AppendToList atomically appends value to the list at key, refreshing
	// the list TTL, and returns the new list length.
	AppendToList(ctx context.Context, key string, value []byte, ttl time.Duration) (int64, error)

	// GetList returns the list values in insertion order. A missing or
	// expired key yields an empty slice.
	GetList(ctx context.Context, key string) ([][]byte, error)

	// Close releases backend resources.
	Close() error
}
