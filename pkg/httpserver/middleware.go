// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/mcpserver"
)

// maxBodySize caps request bodies at 1 MB.
const maxBodySize = 1 << 20

// RequestIDHeader carries the correlation id.
const RequestIDHeader = "X-Request-Id"

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// SecurityHeaders applies standard hardening headers to every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

// Recoverer turns panics into 500s and keeps the process up.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.FromContext(r.Context()).Error("panic while serving request", "panic", rec, "path", r.URL.Path)
				writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RequestContext initializes the correlation id and the per-request logging
// scope. Every log line below this middleware carries the same tuple of
// correlation fields.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := logger.WithContext(r.Context(),
			"request_id", requestID,
			"ip", clientIP(r),
			"mcp_session_id", r.Header.Get("Mcp-Session-Id"),
			"mcp_protocol_version", r.Header.Get("Mcp-Protocol-Version"),
			"user_agent", r.UserAgent(),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogging emits one structured line per completed request.
func RequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.FromContext(r.Context()).Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// statusWriter records the response status while passing Flush through so
// SSE streams keep working below it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusWriter) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// BodyLimit caps request bodies.
func BodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// Per-IP request budget.
const (
	rateLimitPerMinute  = 100
	rateLimitWindow     = time.Minute
	limiterIdleEviction = 10 * time.Minute
)

// RateLimiter enforces a sliding-window per-client-IP request budget: at most
// rateLimitPerMinute requests in any trailing rateLimitWindow. Health probes
// identified by a kube-probe User-Agent bypass the limit.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	checks  uint64
	now     func() time.Time
}

// NewRateLimiter creates a RateLimiter with the default budget.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: make(map[string][]time.Time), now: time.Now}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rateLimitWindow)

	// Drop timestamps that slid out of the window.
	window := rl.windows[ip]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	allowed := len(kept) < rateLimitPerMinute
	if allowed {
		kept = append(kept, now)
	}
	rl.windows[ip] = kept

	rl.checks++
	if rl.checks%1000 == 0 {
		idleCutoff := now.Add(-limiterIdleEviction)
		for k, w := range rl.windows {
			if len(w) == 0 || w[len(w)-1].Before(idleCutoff) {
				delete(rl.windows, k)
			}
		}
	}
	return allowed
}

// Middleware applies the rate limit.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.UserAgent(), "kube-probe") {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		if !rl.allow(ip) {
			logger.FromContext(r.Context()).Warn("rate limit exceeded", "ip", ip)
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ProtocolVersion enforces the MCP protocol version header on /mcp routes. A
// missing header is stamped with the default negotiated version; an
// unsupported one is rejected.
func ProtocolVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version := r.Header.Get("Mcp-Protocol-Version")
		if version == "" {
			r.Header.Set("Mcp-Protocol-Version", mcpserver.DefaultProtocolVersion)
			next.ServeHTTP(w, r)
			return
		}
		if !mcpserver.IsSupportedProtocolVersion(version) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":              "unsupported MCP protocol version",
				"supported_versions": mcpserver.SupportedProtocolVersions,
				"requested_version":  version,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsAllowedMethods and corsAllowedHeaders are published on allowed
// preflights.
const (
	corsAllowedMethods = "GET, POST, DELETE, OPTIONS"
	corsAllowedHeaders = "Content-Type, Mcp-Session-Id, Mcp-Protocol-Version, Last-Event-ID, Authorization"
)

// CORS pins the Origin header to the configured allowlist on /mcp routes as
// a DNS-rebinding defense. Requests without an Origin pass through.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if !allowAll && !allowed[origin] {
					logger.FromContext(r.Context()).Warn("origin rejected", "origin", origin)
					writeJSON(w, http.StatusForbidden, map[string]any{"error": "origin not allowed"})
					return
				}
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
