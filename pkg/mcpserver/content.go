// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// buildCallToolResult shapes a ToolResult into wire content. A text item
// always comes first: the stringified structured content when present,
// otherwise the whole result rendered as JSON. Media items follow in a fixed
// order so repeated calls produce identical payloads.
func buildCallToolResult(res *ToolResult) *mcp.CallToolResult {
	content := []mcp.Content{mcp.NewTextContent(resultText(res))}
	for _, img := range res.Images {
		content = append(content, img)
	}
	for _, aud := range res.Audio {
		content = append(content, aud)
	}
	for _, link := range res.ResourceLinks {
		content = append(content, link)
	}
	for _, er := range res.EmbeddedResources {
		content = append(content, er)
	}
	return &mcp.CallToolResult{
		Content: content,
		IsError: !res.Success,
	}
}

func resultText(res *ToolResult) string {
	if res.StructuredContent != nil {
		if s, ok := res.StructuredContent.(string); ok {
			return s
		}
		data, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return fmt.Sprintf("%v", res.StructuredContent)
		}
		return string(data)
	}
	data, err := json.Marshal(res)
	if err != nil {
		return res.Message
	}
	return string(data)
}
