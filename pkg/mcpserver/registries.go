// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolResult is what a tool handler returns. The server shapes it into MCP
// content: a text item is always produced (the structured content when set,
// otherwise the full result), optional media items are appended, and
// IsError on the wire is true exactly when Success is false.
type ToolResult struct {
	// Success determines the isError flag of the wire result.
	Success bool `json:"success"`

	// StructuredContent, when non-nil, is stringified into the text item.
	StructuredContent any `json:"structuredContent,omitempty"`

	// Message is a human-readable result used when no structured content
	// is present.
	Message string `json:"message,omitempty"`

	// Optional media content appended after the text item.
	Images            []mcp.ImageContent     `json:"-"`
	Audio             []mcp.AudioContent     `json:"-"`
	ResourceLinks     []mcp.ResourceLink     `json:"-"`
	EmbeddedResources []mcp.EmbeddedResource `json:"-"`
}

// ToolRegistry is the plug-in registry of callable tools. Implementations
// live outside the core; tools are plain descriptors plus handler functions.
type ToolRegistry interface {
	// ListTools returns all tool descriptors in a stable order.
	ListTools(ctx context.Context) ([]mcp.Tool, error)

	// CallTool invokes the named tool. An unknown name returns an error;
	// a tool-level failure returns a ToolResult with Success=false.
	CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolResult, error)
}

// PromptRegistry is the plug-in registry of prompts.
type PromptRegistry interface {
	// ListPrompts returns all prompt descriptors in a stable order.
	ListPrompts(ctx context.Context) ([]mcp.Prompt, error)

	// GetPrompt renders the named prompt with the given arguments.
	GetPrompt(ctx context.Context, name string, arguments map[string]string) (*mcp.GetPromptResult, error)
}

// ResourceRegistry is the plug-in registry of resources and resource
// templates.
type ResourceRegistry interface {
	// ListResources returns all concrete resources in a stable order.
	ListResources(ctx context.Context) ([]mcp.Resource, error)

	// ListTemplates returns all resource templates in a stable order.
	ListTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error)

	// ReadResource reads the resource at uri.
	ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error)
}
