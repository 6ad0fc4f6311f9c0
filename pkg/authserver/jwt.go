// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stacklok/mcp-gateway/pkg/errors"
)

// tokenTypeRefresh marks refresh tokens via the "type" claim. Access tokens
// carry no type claim at all.
const tokenTypeRefresh = "refresh"

// Claims are the JWT claims minted by the proxy. Audience is a ClaimStrings
// so both the string and string-array encodings of "aud" (RFC 7519 §4.1.3)
// parse.
type Claims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Type     string `json:"type,omitempty"`
}

// Signer mints and verifies the proxy's HS256 tokens.
type Signer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewSigner creates a Signer for the given shared secret and issuer.
func NewSigner(secret, issuer string, accessTTL, refreshTTL time.Duration) *Signer {
	return &Signer{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// AccessTTL returns the configured access token lifetime.
func (s *Signer) AccessTTL() time.Duration {
	return s.accessTTL
}

// RefreshTTL returns the configured refresh token lifetime.
func (s *Signer) RefreshTTL() time.Duration {
	return s.refreshTTL
}

func (s *Signer) mint(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", errors.NewInternalError("failed to sign token", err)
	}
	return signed, nil
}

// MintAccess issues an access token for the given subject.
func (s *Signer) MintAccess(subject, clientID, scope, audience string) (string, error) {
	now := time.Now()
	return s.mint(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{normalizeAudience(audience)},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		ClientID: clientID,
		Scope:    scope,
	})
}

// MintRefresh issues a refresh token for the given subject.
func (s *Signer) MintRefresh(subject, clientID, scope, audience string) (string, error) {
	now := time.Now()
	return s.mint(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{normalizeAudience(audience)},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		ClientID: clientID,
		Scope:    scope,
		Type:     tokenTypeRefresh,
	})
}

// parse verifies the signature and standard time claims, HS256 only.
func (s *Signer) parse(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, errors.NewInvalidTokenError("token verification failed", err)
	}
	return &claims, nil
}

// VerifyAccess verifies an access token. Tokens missing a client_id claim or
// typed as refresh are rejected.
func (s *Signer) VerifyAccess(token string) (*Claims, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	if claims.ClientID == "" {
		return nil, errors.NewInvalidTokenError("token missing client_id claim", nil)
	}
	if claims.Type == tokenTypeRefresh {
		return nil, errors.NewInvalidTokenError("refresh token used as access token", nil)
	}
	return claims, nil
}

// VerifyRefresh verifies a refresh token; only tokens typed as refresh with a
// client_id claim pass.
func (s *Signer) VerifyRefresh(token string) (*Claims, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	if claims.ClientID == "" {
		return nil, errors.NewInvalidTokenError("token missing client_id claim", nil)
	}
	if claims.Type != tokenTypeRefresh {
		return nil, errors.NewInvalidTokenError(fmt.Sprintf("expected refresh token, got type %q", claims.Type), nil)
	}
	return claims, nil
}
