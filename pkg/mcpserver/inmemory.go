// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolHandler executes one tool call.
type ToolHandler func(ctx context.Context, arguments map[string]any) (*ToolResult, error)

// PromptHandler renders one prompt.
type PromptHandler func(ctx context.Context, arguments map[string]string) (*mcp.GetPromptResult, error)

// ResourceHandler reads one resource.
type ResourceHandler func(ctx context.Context, uri string) ([]mcp.ResourceContents, error)

// Compile-time interface compliance checks.
var (
	_ ToolRegistry     = (*InMemoryToolRegistry)(nil)
	_ PromptRegistry   = (*InMemoryPromptRegistry)(nil)
	_ ResourceRegistry = (*InMemoryResourceRegistry)(nil)
)

type toolEntry struct {
	tool    mcp.Tool
	handler ToolHandler
}

// InMemoryToolRegistry is a map-backed ToolRegistry populated at startup.
// Listing order is by name so pagination cursors stay stable.
type InMemoryToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]toolEntry
}

// NewInMemoryToolRegistry creates an empty tool registry.
func NewInMemoryToolRegistry() *InMemoryToolRegistry {
	return &InMemoryToolRegistry{tools: make(map[string]toolEntry)}
}

// Register adds or replaces a tool.
func (r *InMemoryToolRegistry) Register(tool mcp.Tool, handler ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = toolEntry{tool: tool, handler: handler}
}

// ListTools returns all tools ordered by name.
func (r *InMemoryToolRegistry) ListTools(_ context.Context) ([]mcp.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]mcp.Tool, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CallTool invokes the named tool.
func (r *InMemoryToolRegistry) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolResult, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return e.handler(ctx, arguments)
}

type promptEntry struct {
	prompt  mcp.Prompt
	handler PromptHandler
}

// InMemoryPromptRegistry is a map-backed PromptRegistry.
type InMemoryPromptRegistry struct {
	mu      sync.RWMutex
	prompts map[string]promptEntry
}

// NewInMemoryPromptRegistry creates an empty prompt registry.
func NewInMemoryPromptRegistry() *InMemoryPromptRegistry {
	return &InMemoryPromptRegistry{prompts: make(map[string]promptEntry)}
}

// Register adds or replaces a prompt.
func (r *InMemoryPromptRegistry) Register(prompt mcp.Prompt, handler PromptHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts[prompt.Name] = promptEntry{prompt: prompt, handler: handler}
}

// ListPrompts returns all prompts ordered by name.
func (r *InMemoryPromptRegistry) ListPrompts(_ context.Context) ([]mcp.Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]mcp.Prompt, 0, len(r.prompts))
	for _, e := range r.prompts {
		out = append(out, e.prompt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetPrompt renders the named prompt.
func (r *InMemoryPromptRegistry) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*mcp.GetPromptResult, error) {
	r.mu.RLock()
	e, ok := r.prompts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown prompt: %s", name)
	}
	return e.handler(ctx, arguments)
}

type resourceEntry struct {
	resource mcp.Resource
	handler  ResourceHandler
}

// InMemoryResourceRegistry is a map-backed ResourceRegistry keyed by URI.
type InMemoryResourceRegistry struct {
	mu        sync.RWMutex
	resources map[string]resourceEntry
	templates []mcp.ResourceTemplate
}

// NewInMemoryResourceRegistry creates an empty resource registry.
func NewInMemoryResourceRegistry() *InMemoryResourceRegistry {
	return &InMemoryResourceRegistry{resources: make(map[string]resourceEntry)}
}

// Register adds or replaces a resource.
func (r *InMemoryResourceRegistry) Register(resource mcp.Resource, handler ResourceHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[resource.URI] = resourceEntry{resource: resource, handler: handler}
}

// RegisterTemplate adds a resource template.
func (r *InMemoryResourceRegistry) RegisterTemplate(template mcp.ResourceTemplate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates = append(r.templates, template)
}

// ListResources returns all concrete resources ordered by URI.
func (r *InMemoryResourceRegistry) ListResources(_ context.Context) ([]mcp.Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]mcp.Resource, 0, len(r.resources))
	for _, e := range r.resources {
		out = append(out, e.resource)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

// ListTemplates returns all templates in registration order.
func (r *InMemoryResourceRegistry) ListTemplates(_ context.Context) ([]mcp.ResourceTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]mcp.ResourceTemplate, len(r.templates))
	copy(out, r.templates)
	return out, nil
}

// ReadResource reads the resource registered at uri.
func (r *InMemoryResourceRegistry) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	r.mu.RLock()
	e, ok := r.resources[uri]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown resource: %s", uri)
	}
	return e.handler(ctx, uri)
}
