// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/jsonrpc2"
)

func newTestServer(t *testing.T, numTools int) *Server {
	t.Helper()

	tools := NewInMemoryToolRegistry()
	for i := 0; i < numTools; i++ {
		name := fmt.Sprintf("tool-%03d", i)
		tools.Register(mcp.Tool{
			Name:        name,
			Description: "test tool",
			InputSchema: mcp.ToolInputSchema{Type: "object"},
		}, func(_ context.Context, args map[string]any) (*ToolResult, error) {
			return &ToolResult{Success: true, StructuredContent: args}, nil
		})
	}

	prompts := NewInMemoryPromptRegistry()
	prompts.Register(mcp.Prompt{Name: "greeting"}, func(_ context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Messages: []mcp.PromptMessage{
				{Role: mcp.RoleUser, Content: mcp.NewTextContent("hello " + args["name"])},
			},
		}, nil
	})

	resources := NewInMemoryResourceRegistry()
	resources.Register(mcp.Resource{URI: "test://config", Name: "config"}, func(_ context.Context, uri string) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: uri, MIMEType: "text/plain", Text: "contents"},
		}, nil
	})

	return New("test-gateway", "0.1.0",
		WithTools(tools),
		WithPrompts(prompts),
		WithResources(resources),
	)
}

func call(t *testing.T, s *Server, method string, params any, notify NotifyFunc) *jsonrpc2.Response {
	t.Helper()

	req, err := jsonrpc2.NewCall(jsonrpc2.Int64ID(1), method, params)
	require.NoError(t, err)
	resp, err := s.HandleRequest(context.Background(), req, notify)
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func resultMap(t *testing.T, resp *jsonrpc2.Response) map[string]any {
	t.Helper()

	require.NoError(t, resp.Error)
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	return out
}

func TestInitializeNegotiation(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 0)

	tests := []struct {
		name      string
		requested string
		want      string
	}{
		{name: "supported version is echoed", requested: "2024-11-05", want: "2024-11-05"},
		{name: "unsupported version falls back to latest", requested: "1999-01-01", want: mcp.LATEST_PROTOCOL_VERSION},
		{name: "missing version falls back to latest", requested: "", want: mcp.LATEST_PROTOCOL_VERSION},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp := call(t, s, "initialize", initializeParams{ProtocolVersion: tt.requested}, nil)
			got := resultMap(t, resp)
			assert.Equal(t, tt.want, got["protocolVersion"])

			caps, ok := got["capabilities"].(map[string]any)
			require.True(t, ok)
			assert.Contains(t, caps, "tools")
			assert.Equal(t, map[string]any{"listChanged": true}, caps["prompts"])
			assert.Equal(t, map[string]any{"level": "debug"}, caps["logging"])

			info, ok := got["serverInfo"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "test-gateway", info["name"])
		})
	}
}

func TestToolsListPagination(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 120)

	// First page: 50 tools plus a cursor.
	resp := call(t, s, "tools/list", listParams{}, nil)
	got := resultMap(t, resp)
	require.Len(t, got["tools"], 50)
	cursor, ok := got["nextCursor"].(string)
	require.True(t, ok)

	// Second page continues where the first left off.
	resp = call(t, s, "tools/list", listParams{Cursor: cursor}, nil)
	got = resultMap(t, resp)
	tools := got["tools"].([]any)
	require.Len(t, tools, 50)
	first := tools[0].(map[string]any)
	assert.Equal(t, "tool-050", first["name"])
	cursor, ok = got["nextCursor"].(string)
	require.True(t, ok)

	// Last page: 20 tools, no cursor.
	resp = call(t, s, "tools/list", listParams{Cursor: cursor}, nil)
	got = resultMap(t, resp)
	require.Len(t, got["tools"], 20)
	assert.NotContains(t, got, "nextCursor")
}

func TestDecodeCursor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		cursor string
		want   int
	}{
		{name: "empty", cursor: "", want: 0},
		{name: "valid offset", cursor: encodeCursor(50), want: 50},
		{name: "not base64", cursor: "!!!", want: 0},
		{name: "not a number", cursor: "aGVsbG8=", want: 0},
		{name: "negative", cursor: encodeCursor(-1), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, decodeCursor(tt.cursor))
		})
	}
}

func TestCursorPastEnd(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 3)
	resp := call(t, s, "tools/list", listParams{Cursor: encodeCursor(1000)}, nil)
	got := resultMap(t, resp)
	assert.Empty(t, got["tools"])
	assert.NotContains(t, got, "nextCursor")
}

func TestToolsCall(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 1)

	resp := call(t, s, "tools/call", callToolParams{
		Name:      "tool-000",
		Arguments: map[string]any{"key": "value"},
	}, nil)
	got := resultMap(t, resp)
	assert.NotEqual(t, true, got["isError"])

	content := got["content"].([]any)
	require.NotEmpty(t, content)
	text := content[0].(map[string]any)
	assert.Equal(t, "text", text["type"])
	assert.JSONEq(t, `{"key":"value"}`, text["text"].(string))
}

func TestToolsCallFailure(t *testing.T) {
	t.Parallel()

	tools := NewInMemoryToolRegistry()
	tools.Register(mcp.Tool{Name: "flaky"}, func(context.Context, map[string]any) (*ToolResult, error) {
		return &ToolResult{Success: false, Message: "backend unavailable"}, nil
	})
	s := New("test", "0.1.0", WithTools(tools))

	resp := call(t, s, "tools/call", callToolParams{Name: "flaky"}, nil)
	got := resultMap(t, resp)
	assert.Equal(t, true, got["isError"])
}

func TestToolsCallUnknown(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 1)
	resp := call(t, s, "tools/call", callToolParams{Name: "nope"}, nil)
	require.Error(t, resp.Error)
	assert.Contains(t, resp.Error.Error(), "unknown tool")
}

func TestProgressForwarding(t *testing.T) {
	t.Parallel()

	tools := NewInMemoryToolRegistry()
	tools.Register(mcp.Tool{Name: "slow"}, func(ctx context.Context, _ map[string]any) (*ToolResult, error) {
		report := ProgressReporter(ctx)
		report(1, 2, "halfway")
		report(2, 2, "done")
		return &ToolResult{Success: true, Message: "ok"}, nil
	})
	s := New("test", "0.1.0", WithTools(tools))

	var notifications []*jsonrpc2.Request
	notify := func(_ context.Context, msg jsonrpc2.Message) error {
		notifications = append(notifications, msg.(*jsonrpc2.Request))
		return nil
	}

	resp := call(t, s, "tools/call", map[string]any{
		"name":  "slow",
		"_meta": map[string]any{"progressToken": "tok-1"},
	}, notify)
	require.NoError(t, resp.Error)

	require.Len(t, notifications, 2)
	assert.Equal(t, "notifications/progress", notifications[0].Method)

	var params progressParams
	require.NoError(t, json.Unmarshal(notifications[0].Params, &params))
	assert.Equal(t, "tok-1", params.ProgressToken)
	assert.Equal(t, float64(1), params.Progress)
	assert.Equal(t, "halfway", params.Message)
}

func TestProgressTokenGenerated(t *testing.T) {
	t.Parallel()

	tools := NewInMemoryToolRegistry()
	tools.Register(mcp.Tool{Name: "slow"}, func(ctx context.Context, _ map[string]any) (*ToolResult, error) {
		ProgressReporter(ctx)(1, 1, "")
		return &ToolResult{Success: true}, nil
	})
	s := New("test", "0.1.0", WithTools(tools))

	var tokens []any
	notify := func(_ context.Context, msg jsonrpc2.Message) error {
		var params progressParams
		require.NoError(t, json.Unmarshal(msg.(*jsonrpc2.Request).Params, &params))
		tokens = append(tokens, params.ProgressToken)
		return nil
	}

	resp := call(t, s, "tools/call", callToolParams{Name: "slow"}, notify)
	require.NoError(t, resp.Error)
	require.Len(t, tokens, 1)
	assert.NotEmpty(t, tokens[0])
}

func TestPromptsGet(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 0)
	resp := call(t, s, "prompts/get", getPromptParams{
		Name:      "greeting",
		Arguments: map[string]string{"name": "world"},
	}, nil)
	got := resultMap(t, resp)
	messages := got["messages"].([]any)
	require.Len(t, messages, 1)
}

func TestResourcesRead(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 0)
	resp := call(t, s, "resources/read", readResourceParams{URI: "test://config"}, nil)
	got := resultMap(t, resp)
	contents := got["contents"].([]any)
	require.Len(t, contents, 1)
	first := contents[0].(map[string]any)
	assert.Equal(t, "test://config", first["uri"])
	assert.Equal(t, "contents", first["text"])
}

func TestMethodNotFound(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 0)
	resp := call(t, s, "no/such/method", nil, nil)
	require.Error(t, resp.Error)
}

func TestNotificationsProduceNoResponse(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 0)
	n, err := jsonrpc2.NewNotification("notifications/initialized", nil)
	require.NoError(t, err)

	resp, err := s.HandleRequest(context.Background(), n, nil)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestPing(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 0)
	resp := call(t, s, "ping", nil, nil)
	require.NoError(t, resp.Error)
	assert.JSONEq(t, `{}`, string(resp.Result))
}
