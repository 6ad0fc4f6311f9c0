// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"net"
	"net/http"
	"strings"
)

// ipHeaders are walked in priority order when extracting the client IP.
var ipHeaders = []string{
	"cf-connecting-ip",
	"x-real-ip",
	"x-forwarded-for",
	"x-client-ip",
	"x-forwarded",
	"forwarded-for",
	"forwarded",
	"x-cluster-client-ip",
	"x-original-forwarded-for",
	"true-client-ip",
}

// clientIP extracts the originating client IP from proxy headers, falling
// back to the socket peer. Comma-separated header values are split and the
// first syntactically valid IP wins. "unknown" is returned when nothing
// parses.
func clientIP(r *http.Request) string {
	for _, header := range ipHeaders {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		for _, candidate := range strings.Split(value, ",") {
			candidate = strings.TrimSpace(candidate)
			if ip := net.ParseIP(candidate); ip != nil {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(r.RemoteAddr); ip != nil {
		return ip.String()
	}
	return "unknown"
}
