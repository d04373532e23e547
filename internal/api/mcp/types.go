// Package mcp exposes the engram engine as a Model Context Protocol server:
// JSON-RPC 2.0 over line-delimited stdio, with one tool per engine operation.
package mcp

import (
	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/pkg/types"
)

// ChatArgs contains arguments for the chat tool.
type ChatArgs struct {
	Message string `json:"message"` // User message (required)
}

// RememberArgs contains arguments for the remember tool.
type RememberArgs struct {
	Kind       string  `json:"kind"`                 // One of types.AllKinds
	Key        string  `json:"key"`                  // Memory key (required)
	Value      string  `json:"value"`                // Memory value (required)
	Confidence float64 `json:"confidence,omitempty"` // Defaults to the engine's inject confidence
}

// RememberResult is the curator decision for an injected memory.
type RememberResult struct {
	Operation types.Operation `json:"operation"`
	TargetID  string          `json:"target_id,omitempty"`
	Reason    string          `json:"reason"`
	Memory    *types.Memory   `json:"memory,omitempty"`
}

// MemoriesArgs contains arguments for the memories tool.
type MemoriesArgs struct {
	Kind  string `json:"kind,omitempty"`  // Optional kind filter
	Limit int    `json:"limit,omitempty"` // Default 50, max 500
}

// MemoriesResult lists stored memories, hottest first.
type MemoriesResult struct {
	Memories []*types.Memory `json:"memories"`
	Total    int             `json:"total"`   // Matching memories before the limit
	HasMore  bool            `json:"has_more"`
}

// GetTurnArgs contains arguments for the get_turn tool.
type GetTurnArgs struct {
	Turn int `json:"turn"`
}

// StatsResult is the engine summary returned by the stats tool.
type StatsResult = engine.Stats

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID; absent for notifications
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`          // Must be "2.0"
	Result  interface{}   `json:"result,omitempty"` // Result (if successful)
	Error   *JSONRPCError `json:"error,omitempty"`  // Error (if failed)
	ID      interface{}   `json:"id"`               // Request ID
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrCodeServerError    = -32000 // Server error
)

// MCPClientInfo identifies the connecting MCP client.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPInitializeParams holds the parameters of the initialize request.
type MCPInitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      MCPClientInfo          `json:"clientInfo"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via tools/list.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
