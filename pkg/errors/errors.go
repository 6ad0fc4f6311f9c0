// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the typed application errors used across the gateway.
package errors

import (
	"errors"
	"fmt"
)

// Error types
const (
	// ErrInvalidRequest is returned when request input fails validation
	ErrInvalidRequest = "invalid_request"

	// ErrInvalidClient is returned when client authentication fails
	ErrInvalidClient = "invalid_client"

	// ErrInvalidGrant is returned when an authorization code or refresh token is unusable
	ErrInvalidGrant = "invalid_grant"

	// ErrInvalidToken is returned when a bearer token fails verification
	ErrInvalidToken = "invalid_token"

	// ErrSessionNotFound is returned when no persisted MCP session exists for an id
	ErrSessionNotFound = "session_not_found"

	// ErrTransportNotFound is returned when no local transport exists for a session
	ErrTransportNotFound = "transport_not_found"

	// ErrUpstreamFailure is returned when the upstream identity provider misbehaves
	ErrUpstreamFailure = "upstream_failure"

	// ErrStorageFailure is returned on transient KV store failures
	ErrStorageFailure = "storage_failure"

	// ErrCorrupt is returned when a stored value cannot be deserialized
	ErrCorrupt = "corrupt"

	// ErrForbidden is returned when an origin or permission check fails
	ErrForbidden = "forbidden"

	// ErrRateLimited is returned when a client exceeds the request budget
	ErrRateLimited = "rate_limited"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidRequestError creates a new invalid request error
func NewInvalidRequestError(message string, cause error) *Error {
	return NewError(ErrInvalidRequest, message, cause)
}

// NewInvalidClientError creates a new invalid client error
func NewInvalidClientError(message string, cause error) *Error {
	return NewError(ErrInvalidClient, message, cause)
}

// NewInvalidGrantError creates a new invalid grant error
func NewInvalidGrantError(message string, cause error) *Error {
	return NewError(ErrInvalidGrant, message, cause)
}

// NewInvalidTokenError creates a new invalid token error
func NewInvalidTokenError(message string, cause error) *Error {
	return NewError(ErrInvalidToken, message, cause)
}

// NewSessionNotFoundError creates a new session not found error
func NewSessionNotFoundError(message string, cause error) *Error {
	return NewError(ErrSessionNotFound, message, cause)
}

// NewTransportNotFoundError creates a new transport not found error
func NewTransportNotFoundError(message string, cause error) *Error {
	return NewError(ErrTransportNotFound, message, cause)
}

// NewUpstreamFailureError creates a new upstream failure error
func NewUpstreamFailureError(message string, cause error) *Error {
	return NewError(ErrUpstreamFailure, message, cause)
}

// NewStorageFailureError creates a new storage failure error
func NewStorageFailureError(message string, cause error) *Error {
	return NewError(ErrStorageFailure, message, cause)
}

// NewCorruptError creates a new corrupt value error
func NewCorruptError(message string, cause error) *Error {
	return NewError(ErrCorrupt, message, cause)
}

// NewForbiddenError creates a new forbidden error
func NewForbiddenError(message string, cause error) *Error {
	return NewError(ErrForbidden, message, cause)
}

// NewRateLimitedError creates a new rate limited error
func NewRateLimitedError(message string, cause error) *Error {
	return NewError(ErrRateLimited, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// isType checks if the error (or any error it wraps) has the given type.
func isType(err error, errorType string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// IsInvalidRequest checks if the error is an invalid request error
func IsInvalidRequest(err error) bool {
	return isType(err, ErrInvalidRequest)
}

// IsInvalidClient checks if the error is an invalid client error
func IsInvalidClient(err error) bool {
	return isType(err, ErrInvalidClient)
}

// IsInvalidGrant checks if the error is an invalid grant error
func IsInvalidGrant(err error) bool {
	return isType(err, ErrInvalidGrant)
}

// IsInvalidToken checks if the error is an invalid token error
func IsInvalidToken(err error) bool {
	return isType(err, ErrInvalidToken)
}

// IsSessionNotFound checks if the error is a session not found error
func IsSessionNotFound(err error) bool {
	return isType(err, ErrSessionNotFound)
}

// IsTransportNotFound checks if the error is a transport not found error
func IsTransportNotFound(err error) bool {
	return isType(err, ErrTransportNotFound)
}

// IsUpstreamFailure checks if the error is an upstream failure error
func IsUpstreamFailure(err error) bool {
	return isType(err, ErrUpstreamFailure)
}

// IsStorageFailure checks if the error is a storage failure error
func IsStorageFailure(err error) bool {
	return isType(err, ErrStorageFailure)
}

// IsCorrupt checks if the error is a corrupt value error
func IsCorrupt(err error) bool {
	return isType(err, ErrCorrupt)
}

// IsForbidden checks if the error is a forbidden error
func IsForbidden(err error) bool {
	return isType(err, ErrForbidden)
}

// IsRateLimited checks if the error is a rate limited error
func IsRateLimited(err error) bool {
	return isType(err, ErrRateLimited)
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	return isType(err, ErrInternal)
}
