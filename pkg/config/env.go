// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/spf13/viper"
)

// envPrefix is prepended to every derived variable name.
const envPrefix = "MCP_CONFIG_"

// EnvVarName derives the environment variable for a dotted config path.
// Each path segment is split at camelCase boundaries, segments are joined
// with underscores and upper-cased: "server.auth.sessionTTL" becomes
// "MCP_CONFIG_SERVER_AUTH_SESSION_TTL".
func EnvVarName(path string) string {
	var words []string
	for _, segment := range strings.Split(path, ".") {
		words = append(words, splitCamelCase(segment)...)
	}
	return envPrefix + strings.ToUpper(strings.Join(words, "_"))
}

// splitCamelCase breaks a segment before each uppercase letter that follows
// a lowercase letter or digit, keeping acronym runs together.
func splitCamelCase(s string) []string {
	var words []string
	start := 0
	runes := []rune(s)
	for i := 1; i < len(runes); i++ {
		if unicode.IsUpper(runes[i]) && !unicode.IsUpper(runes[i-1]) {
			words = append(words, string(runes[start:i]))
			start = i
		}
	}
	words = append(words, string(runes[start:]))
	return words
}

// applyEnvOverrides walks the known leaves and applies any set environment
// variable, coercing the raw string into the richest type it parses as.
func applyEnvOverrides(v *viper.Viper) {
	for _, leaf := range leaves {
		raw, ok := os.LookupEnv(EnvVarName(leaf.path))
		if !ok {
			continue
		}
		v.Set(leaf.path, parseValue(raw))
	}
}

// parseValue interprets an env var value as a bool, integer, JSON document
// or plain string, in that order.
func parseValue(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			return parsed
		}
	}
	return raw
}
