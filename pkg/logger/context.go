// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"context"
	"log/slog"
)

// ctxKey is the context key for the request-scoped logger.
type ctxKey struct{}

// WithContext returns a context carrying a request-scoped logger derived from
// the current logger in ctx (or the singleton) with the given key-value pairs
// attached. The derived logger is immutable; adding more fields creates a new
// one, so concurrent readers never observe partial updates.
func WithContext(ctx context.Context, keysAndValues ...any) context.Context {
	l := FromContext(ctx).With(keysAndValues...)
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the request-scoped logger stored in ctx, or the
// singleton logger when none is present. The zero-value fallback means call
// sites never need a nil check.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
			return l
		}
	}
	return get()
}
