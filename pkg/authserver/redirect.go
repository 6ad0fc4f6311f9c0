// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"net/url"
	"strings"
)

// isLoopbackHost reports whether host is a loopback interface name per
// RFC 8252 §7.3.
func isLoopbackHost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// redirectURIMatches compares a requested redirect URI against a registered
// one. Loopback URIs match on scheme, host and path with the port ignored,
// because native apps bind an ephemeral port per RFC 8252. Everything else
// requires exact string equality. URIs that fail to parse match nothing.
func redirectURIMatches(registered, requested string) bool {
	regURL, err := url.Parse(registered)
	if err != nil {
		return false
	}
	reqURL, err := url.Parse(requested)
	if err != nil {
		return false
	}

	if registered == requested {
		return true
	}
	if !isLoopbackHost(regURL.Hostname()) || !isLoopbackHost(reqURL.Hostname()) {
		return false
	}
	return regURL.Scheme == reqURL.Scheme &&
		regURL.Hostname() == reqURL.Hostname() &&
		regURL.Path == reqURL.Path
}

// clientAllowsRedirect reports whether any of the client's registered
// redirect URIs matches the requested one.
func clientAllowsRedirect(c *Client, requested string) bool {
	for _, registered := range c.RedirectURIs {
		if redirectURIMatches(registered, requested) {
			return true
		}
	}
	return false
}

// normalizeAudience strips the trailing slash so audiences that differ only
// in it compare equal.
func normalizeAudience(aud string) string {
	return strings.TrimSuffix(aud, "/")
}

// audienceContains reports whether expected appears in the token's audience
// list after normalization.
func audienceContains(audiences []string, expected string) bool {
	want := normalizeAudience(expected)
	for _, a := range audiences {
		if normalizeAudience(a) == want {
			return true
		}
	}
	return false
}
