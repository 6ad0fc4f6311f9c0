// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"encoding/base64"
	"strconv"
)

// pageSize is the fixed page size for every list operation.
const pageSize = 50

// decodeCursor turns an opaque cursor back into a list offset. Cursors are
// Base64-encoded decimal offsets. Anything that does not decode to a
// non-negative integer falls back to offset 0 rather than erroring, so stale
// or hand-mangled cursors restart the listing instead of breaking clients.
func decodeCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// encodeCursor produces the opaque cursor for the given offset.
func encodeCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

// paginate slices items at the offset encoded in cursor and returns the page
// plus the next cursor. The next cursor is empty exactly when no items remain
// past this page.
func paginate[T any](items []T, cursor string) ([]T, string) {
	offset := decodeCursor(cursor)
	if offset >= len(items) {
		return []T{}, ""
	}
	end := offset + pageSize
	if end >= len(items) {
		return items[offset:], ""
	}
	return items[offset:end], encodeCursor(end)
}
