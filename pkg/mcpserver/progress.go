// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// ProgressFunc reports handler progress. Implementations forward the report
// to the client as a progress notification; failures are logged, never
// surfaced to the handler.
type ProgressFunc func(progress, total float64, message string)

type progressCtxKey struct{}

// WithProgressReporter returns a context carrying fn for handlers invoked
// below it.
func WithProgressReporter(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressCtxKey{}, fn)
}

// ProgressReporter returns the reporter installed on ctx. The returned
// function is never nil; without a reporter it is a no-op, so handlers can
// report unconditionally.
func ProgressReporter(ctx context.Context) ProgressFunc {
	if fn, ok := ctx.Value(progressCtxKey{}).(ProgressFunc); ok && fn != nil {
		return fn
	}
	return func(float64, float64, string) {}
}

// newProgressToken generates a short random token for requests whose metadata
// did not carry one.
func newProgressToken() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
