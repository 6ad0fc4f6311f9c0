// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcp-gateway/pkg/config"
	"github.com/stacklok/mcp-gateway/pkg/mcpserver"
)

// builtinTools registers the gateway's built-in demo tools. Deployments
// embed their own registries; these exist so a fresh gateway answers
// tools/list and tools/call out of the box.
func builtinTools() *mcpserver.InMemoryToolRegistry {
	tools := mcpserver.NewInMemoryToolRegistry()

	tools.Register(mcp.Tool{
		Name:        "echo",
		Description: "Echoes the provided arguments back to the caller.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"message": map[string]any{"type": "string", "description": "Text to echo back"},
			},
		},
	}, func(ctx context.Context, arguments map[string]any) (*mcpserver.ToolResult, error) {
		report := mcpserver.ProgressReporter(ctx)
		report(0, 1, "echoing")
		report(1, 1, "done")
		return &mcpserver.ToolResult{Success: true, StructuredContent: arguments}, nil
	})

	tools.Register(mcp.Tool{
		Name:        "current_time",
		Description: "Returns the current server time in RFC 3339 format.",
		InputSchema: mcp.ToolInputSchema{Type: "object"},
	}, func(_ context.Context, _ map[string]any) (*mcpserver.ToolResult, error) {
		return &mcpserver.ToolResult{
			Success:           true,
			StructuredContent: map[string]any{"time": time.Now().UTC().Format(time.RFC3339)},
		}, nil
	})

	return tools
}

func builtinPrompts() *mcpserver.InMemoryPromptRegistry {
	prompts := mcpserver.NewInMemoryPromptRegistry()

	prompts.Register(mcp.Prompt{
		Name:        "greeting",
		Description: "A friendly greeting for the named person.",
		Arguments: []mcp.PromptArgument{
			{Name: "name", Description: "Who to greet", Required: true},
		},
	}, func(_ context.Context, arguments map[string]string) (*mcp.GetPromptResult, error) {
		name := arguments["name"]
		if name == "" {
			name = "there"
		}
		return &mcp.GetPromptResult{
			Messages: []mcp.PromptMessage{
				{Role: mcp.RoleUser, Content: mcp.NewTextContent(fmt.Sprintf("Hello, %s!", name))},
			},
		}, nil
	})

	return prompts
}

// builtinResources exposes the effective (non-secret) server settings as a
// readable resource.
func builtinResources(cfg *config.Config) *mcpserver.InMemoryResourceRegistry {
	resources := mcpserver.NewInMemoryResourceRegistry()

	resources.Register(mcp.Resource{
		URI:         "config://server",
		Name:        "Server configuration",
		Description: "Effective gateway settings, secrets excluded.",
		MIMEType:    "application/json",
	}, func(_ context.Context, uri string) ([]mcp.ResourceContents, error) {
		doc, err := json.Marshal(map[string]any{
			"environment":  cfg.Server.Environment,
			"version":      cfg.Server.Version,
			"auth_enabled": cfg.Server.Auth.Enabled,
			"storage_type": cfg.Storage.Type,
		})
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(doc)},
		}, nil
	})

	return resources
}
