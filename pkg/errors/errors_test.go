// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	err := NewSessionNotFoundError("no session abc", nil)
	assert.Equal(t, "session_not_found: no session abc", err.Error())

	wrapped := NewStorageFailureError("redis unavailable", errors.New("dial tcp: refused"))
	assert.Equal(t, "storage_failure: redis unavailable: dial tcp: refused", wrapped.Error())
}

func TestUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("root cause")
	err := NewInternalError("something broke", cause)
	require.ErrorIs(t, err, cause)
}

func TestPredicatesMatchThroughWrapping(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("handling request: %w", NewCorruptError("bad session blob", nil))
	assert.True(t, IsCorrupt(err))
	assert.False(t, IsSessionNotFound(err))
	assert.False(t, IsCorrupt(errors.New("plain")))
	assert.False(t, IsCorrupt(nil))
}

func TestPredicateTypeTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		is   func(error) bool
		isNo func(error) bool
	}{
		{NewInvalidRequestError("m", nil), IsInvalidRequest, IsInvalidClient},
		{NewInvalidClientError("m", nil), IsInvalidClient, IsInvalidGrant},
		{NewInvalidGrantError("m", nil), IsInvalidGrant, IsInvalidToken},
		{NewInvalidTokenError("m", nil), IsInvalidToken, IsInvalidRequest},
		{NewSessionNotFoundError("m", nil), IsSessionNotFound, IsTransportNotFound},
		{NewTransportNotFoundError("m", nil), IsTransportNotFound, IsSessionNotFound},
		{NewUpstreamFailureError("m", nil), IsUpstreamFailure, IsStorageFailure},
		{NewStorageFailureError("m", nil), IsStorageFailure, IsUpstreamFailure},
		{NewForbiddenError("m", nil), IsForbidden, IsRateLimited},
		{NewRateLimitedError("m", nil), IsRateLimited, IsForbidden},
		{NewInternalError("m", nil), IsInternal, IsCorrupt},
	}
	for _, tt := range tests {
		assert.True(t, tt.is(tt.err), tt.err.Error())
		assert.False(t, tt.isNo(tt.err), tt.err.Error())
	}
}
