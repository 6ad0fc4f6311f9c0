// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package mcpserver implements the MCP request handlers the gateway exposes
// over Streamable HTTP. It owns method dispatch, capability advertisement,
// cursor pagination of list operations, tool result shaping and progress
// forwarding; the actual tools, prompts and resources are supplied through
// registries.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/exp/jsonrpc2"

	"github.com/stacklok/mcp-gateway/pkg/logger"
)

// Protocol versions this server negotiates. The default is applied when a
// client omits the version header entirely.
var SupportedProtocolVersions = []string{"2024-11-05", "2025-03-26", "2025-06-18"}

// DefaultProtocolVersion is assumed for clients that do not send a
// mcp-protocol-version header.
const DefaultProtocolVersion = "2025-03-26"

// IsSupportedProtocolVersion reports whether v is a version this server can
// speak.
func IsSupportedProtocolVersion(v string) bool {
	for _, s := range SupportedProtocolVersions {
		if s == v {
			return true
		}
	}
	return false
}

// JSON-RPC error codes used by the dispatch layer.
const (
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

// MCP method names.
const (
	methodInitialize         = "initialize"
	methodNotifInitialized   = "notifications/initialized"
	methodPing               = "ping"
	methodToolsList          = "tools/list"
	methodToolsCall          = "tools/call"
	methodPromptsList        = "prompts/list"
	methodPromptsGet         = "prompts/get"
	methodResourcesList      = "resources/list"
	methodResourcesTemplates = "resources/templates/list"
	methodResourcesRead      = "resources/read"
	methodNotifProgress      = "notifications/progress"
)

// NotifyFunc delivers a server-initiated message (progress notifications) to
// the client over whatever stream the request arrived on.
type NotifyFunc func(ctx context.Context, msg jsonrpc2.Message) error

// Server dispatches MCP requests against the configured registries.
type Server struct {
	name    string
	version string

	tools     ToolRegistry
	prompts   PromptRegistry
	resources ResourceRegistry
}

// Option configures a Server.
type Option func(*Server)

// WithTools installs the tool registry.
func WithTools(r ToolRegistry) Option {
	return func(s *Server) { s.tools = r }
}

// WithPrompts installs the prompt registry.
func WithPrompts(r PromptRegistry) Option {
	return func(s *Server) { s.prompts = r }
}

// WithResources installs the resource registry.
func WithResources(r ResourceRegistry) Option {
	return func(s *Server) { s.resources = r }
}

// New creates a Server advertising the given implementation name and version.
// Registries are optional; absent ones list as empty.
func New(name, version string, opts ...Option) *Server {
	s := &Server{name: name, version: version}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wire shapes owned by this package so the emitted JSON matches the protocol
// exactly regardless of SDK struct evolution.

type implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type promptsCapability struct {
	ListChanged bool `json:"listChanged"`
}

type loggingCapability struct {
	Level string `json:"level"`
}

type serverCapabilities struct {
	Tools   struct{}          `json:"tools"`
	Prompts promptsCapability `json:"prompts"`
	Logging loggingCapability `json:"logging"`
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    serverCapabilities `json:"capabilities"`
	ServerInfo      implementation     `json:"serverInfo"`
}

type listParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type listToolsResult struct {
	Tools      []mcp.Tool `json:"tools"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

type requestMeta struct {
	ProgressToken any `json:"progressToken,omitempty"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Meta      *requestMeta   `json:"_meta,omitempty"`
}

type listPromptsResult struct {
	Prompts    []mcp.Prompt `json:"prompts"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

type getPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
	Meta      *requestMeta      `json:"_meta,omitempty"`
}

type listResourcesResult struct {
	Resources  []mcp.Resource `json:"resources"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

type listTemplatesResult struct {
	ResourceTemplates []mcp.ResourceTemplate `json:"resourceTemplates"`
	NextCursor        string                 `json:"nextCursor,omitempty"`
}

type readResourceParams struct {
	URI string `json:"uri"`
}

type readResourceResult struct {
	Contents []mcp.ResourceContents `json:"contents"`
}

type progressParams struct {
	ProgressToken any     `json:"progressToken"`
	Progress      float64 `json:"progress"`
	Total         float64 `json:"total,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// HandleRequest dispatches one decoded JSON-RPC message. Calls return a
// response; notifications return (nil, nil). Server-initiated notifications
// emitted while handling (progress) go through notify.
func (s *Server) HandleRequest(ctx context.Context, req *jsonrpc2.Request, notify NotifyFunc) (*jsonrpc2.Response, error) {
	if !req.ID.IsValid() {
		// Client notification. Only "initialized" is expected; everything
		// else is ignored per protocol.
		if req.Method != methodNotifInitialized {
			logger.FromContext(ctx).Debug("ignoring client notification", "method", req.Method)
		}
		return nil, nil
	}

	result, err := s.dispatch(ctx, req, notify)
	if err != nil {
		return jsonrpc2.NewResponse(req.ID, nil, err)
	}
	return jsonrpc2.NewResponse(req.ID, result, nil)
}

func (s *Server) dispatch(ctx context.Context, req *jsonrpc2.Request, notify NotifyFunc) (any, error) {
	switch req.Method {
	case methodInitialize:
		return s.handleInitialize(req.Params)
	case methodPing:
		return struct{}{}, nil
	case methodToolsList:
		return s.handleToolsList(ctx, req.Params)
	case methodToolsCall:
		return s.handleToolsCall(ctx, req.Params, notify)
	case methodPromptsList:
		return s.handlePromptsList(ctx, req.Params)
	case methodPromptsGet:
		return s.handlePromptsGet(ctx, req.Params, notify)
	case methodResourcesList:
		return s.handleResourcesList(ctx, req.Params)
	case methodResourcesTemplates:
		return s.handleResourcesTemplates(ctx, req.Params)
	case methodResourcesRead:
		return s.handleResourcesRead(ctx, req.Params)
	default:
		return nil, jsonrpc2.NewError(codeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *Server) handleInitialize(raw json.RawMessage) (any, error) {
	var params initializeParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, jsonrpc2.NewError(codeInvalidParams, "malformed initialize params")
		}
	}

	// Echo a supported requested version, otherwise answer with the newest
	// version we speak and let the client decide.
	version := mcp.LATEST_PROTOCOL_VERSION
	if IsSupportedProtocolVersion(params.ProtocolVersion) {
		version = params.ProtocolVersion
	}

	return initializeResult{
		ProtocolVersion: version,
		Capabilities: serverCapabilities{
			Prompts: promptsCapability{ListChanged: true},
			Logging: loggingCapability{Level: "debug"},
		},
		ServerInfo: implementation{Name: s.name, Version: s.version},
	}, nil
}

func (s *Server) handleToolsList(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := parseListParams(raw)
	if err != nil {
		return nil, err
	}

	var tools []mcp.Tool
	if s.tools != nil {
		tools, err = s.tools.ListTools(ctx)
		if err != nil {
			return nil, internalError(ctx, "tools/list", err)
		}
	}
	page, next := paginate(tools, params.Cursor)
	return listToolsResult{Tools: page, NextCursor: next}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, raw json.RawMessage, notify NotifyFunc) (any, error) {
	var params callToolParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, jsonrpc2.NewError(codeInvalidParams, "malformed tools/call params")
	}
	if params.Name == "" {
		return nil, jsonrpc2.NewError(codeInvalidParams, "tool name is required")
	}
	if s.tools == nil {
		return nil, jsonrpc2.NewError(codeInvalidParams, fmt.Sprintf("unknown tool: %s", params.Name))
	}

	ctx = s.withProgress(ctx, tokenFromMeta(params.Meta), notify)

	res, err := s.tools.CallTool(ctx, params.Name, params.Arguments)
	if err != nil {
		return nil, jsonrpc2.NewError(codeInvalidParams, err.Error())
	}
	return buildCallToolResult(res), nil
}

func (s *Server) handlePromptsList(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := parseListParams(raw)
	if err != nil {
		return nil, err
	}

	var prompts []mcp.Prompt
	if s.prompts != nil {
		prompts, err = s.prompts.ListPrompts(ctx)
		if err != nil {
			return nil, internalError(ctx, "prompts/list", err)
		}
	}
	page, next := paginate(prompts, params.Cursor)
	return listPromptsResult{Prompts: page, NextCursor: next}, nil
}

func (s *Server) handlePromptsGet(ctx context.Context, raw json.RawMessage, notify NotifyFunc) (any, error) {
	var params getPromptParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, jsonrpc2.NewError(codeInvalidParams, "malformed prompts/get params")
	}
	if params.Name == "" {
		return nil, jsonrpc2.NewError(codeInvalidParams, "prompt name is required")
	}
	if s.prompts == nil {
		return nil, jsonrpc2.NewError(codeInvalidParams, fmt.Sprintf("unknown prompt: %s", params.Name))
	}

	ctx = s.withProgress(ctx, tokenFromMeta(params.Meta), notify)

	res, err := s.prompts.GetPrompt(ctx, params.Name, params.Arguments)
	if err != nil {
		return nil, jsonrpc2.NewError(codeInvalidParams, err.Error())
	}
	return res, nil
}

func (s *Server) handleResourcesList(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := parseListParams(raw)
	if err != nil {
		return nil, err
	}

	var resources []mcp.Resource
	if s.resources != nil {
		resources, err = s.resources.ListResources(ctx)
		if err != nil {
			return nil, internalError(ctx, "resources/list", err)
		}
	}
	page, next := paginate(resources, params.Cursor)
	return listResourcesResult{Resources: page, NextCursor: next}, nil
}

func (s *Server) handleResourcesTemplates(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := parseListParams(raw)
	if err != nil {
		return nil, err
	}

	var templates []mcp.ResourceTemplate
	if s.resources != nil {
		templates, err = s.resources.ListTemplates(ctx)
		if err != nil {
			return nil, internalError(ctx, "resources/templates/list", err)
		}
	}
	page, next := paginate(templates, params.Cursor)
	return listTemplatesResult{ResourceTemplates: page, NextCursor: next}, nil
}

func (s *Server) handleResourcesRead(ctx context.Context, raw json.RawMessage) (any, error) {
	var params readResourceParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, jsonrpc2.NewError(codeInvalidParams, "malformed resources/read params")
	}
	if params.URI == "" {
		return nil, jsonrpc2.NewError(codeInvalidParams, "resource uri is required")
	}
	if s.resources == nil {
		return nil, jsonrpc2.NewError(codeInvalidParams, fmt.Sprintf("unknown resource: %s", params.URI))
	}

	contents, err := s.resources.ReadResource(ctx, params.URI)
	if err != nil {
		return nil, jsonrpc2.NewError(codeInvalidParams, err.Error())
	}
	return readResourceResult{Contents: contents}, nil
}

// withProgress installs a reporter that forwards handler progress to the
// client as notifications/progress carrying token.
func (s *Server) withProgress(ctx context.Context, token any, notify NotifyFunc) context.Context {
	if notify == nil {
		return ctx
	}
	return WithProgressReporter(ctx, func(progress, total float64, message string) {
		n, err := jsonrpc2.NewNotification(methodNotifProgress, progressParams{
			ProgressToken: token,
			Progress:      progress,
			Total:         total,
			Message:       message,
		})
		if err != nil {
			logger.FromContext(ctx).Error("failed to build progress notification", "error", err)
			return
		}
		if err := notify(ctx, n); err != nil {
			logger.FromContext(ctx).Debug("failed to deliver progress notification", "error", err)
		}
	})
}

// tokenFromMeta returns the request's progress token, generating a short
// random one when the metadata lacks it.
func tokenFromMeta(meta *requestMeta) any {
	if meta != nil && meta.ProgressToken != nil {
		return meta.ProgressToken
	}
	return newProgressToken()
}

func parseListParams(raw json.RawMessage) (listParams, error) {
	var params listParams
	if len(raw) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return params, jsonrpc2.NewError(codeInvalidParams, "malformed list params")
	}
	return params, nil
}

func internalError(ctx context.Context, op string, err error) error {
	logger.FromContext(ctx).Error("registry operation failed", "operation", op, "error", err)
	return jsonrpc2.NewError(codeInternal, "internal error")
}
