package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/pkg/types"
)

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2024-11-05"

const (
	defaultMemoryLimit = 50
	maxMemoryLimit     = 500
)

// Engine is the subset of *engine.Engine exposed as tools.
type Engine interface {
	Chat(ctx context.Context, message string) (*types.TurnResult, error)
	InjectMemory(ctx context.Context, kind types.Kind, key, value string, confidence float64) (types.Decision, error)
	MemoriesByKind(kind types.Kind) []*types.Memory
	Snapshot() []*types.Memory
	Turn(ctx context.Context, n int) (*types.TurnResult, error)
	Stats() engine.Stats
}

// toolFunc runs one tool against decoded JSON arguments.
type toolFunc func(ctx context.Context, params interface{}) (interface{}, error)

// Server implements the Model Context Protocol over an Engine.
type Server struct {
	engine    Engine
	logger    *slog.Logger
	version   string
	sessionID string
	tools     map[string]toolFunc
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the diagnostic logger. It must not write to stdout.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithVersion sets the version reported in serverInfo.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// NewServer creates an MCP server for eng.
func NewServer(eng Engine, opts ...ServerOption) *Server {
	s := &Server{
		engine:    eng,
		logger:    slog.Default(),
		version:   "dev",
		sessionID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tools = map[string]toolFunc{
		"chat":     s.handleChat,
		"remember": s.handleRemember,
		"memories": s.handleMemories,
		"get_turn": s.handleGetTurn,
		"stats":    s.handleStats,
	}
	s.logger.Info("mcp session started", "session_id", s.sessionID)
	return s
}

// SessionID identifies this server instance in logs.
func (s *Server) SessionID() string {
	return s.sessionID
}

// HandleRequest processes one JSON-RPC 2.0 message. It returns nil for
// notifications, which get no response.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err.Error())
	}
	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}
	if req.ID == nil {
		s.logger.Debug("mcp notification", "method", req.Method)
		return nil, nil
	}

	var result interface{}
	var err error

	switch req.Method {
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "ping":
		result = map[string]interface{}{}
	case "tools/list":
		result = MCPToolsListResult{Tools: s.buildToolsList()}
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)
	default:
		tool, ok := s.tools[req.Method]
		if !ok {
			return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
		}
		result, err = tool(ctx, req.Params)
	}

	if err != nil {
		var pe *paramsError
		if errors.As(err, &pe) {
			return s.errorResponse(req.ID, ErrCodeInvalidParams, err.Error(), nil)
		}
		return s.errorResponse(req.ID, ErrCodeServerError, err.Error(), nil)
	}
	return s.successResponse(req.ID, result)
}

func (s *Server) handleInitialize(_ context.Context, params interface{}) (interface{}, error) {
	var p MCPInitializeParams
	if params != nil {
		if err := s.unmarshalParams(params, &p); err != nil {
			return nil, err
		}
	}
	s.logger.Info("mcp client connected",
		"client", p.ClientInfo.Name,
		"client_version", p.ClientInfo.Version,
		"protocol", p.ProtocolVersion)

	return MCPInitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    MCPServerCapabilities{Tools: &MCPToolsCapability{}},
		ServerInfo:      MCPServerInfo{Name: "engram", Version: s.version},
	}, nil
}

// handleToolsCall dispatches a tools/call request and wraps the result in the
// MCP content envelope. Tool failures are reported in-band with isError.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := s.unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	tool, ok := s.tools[p.Name]
	if !ok {
		return toolError(fmt.Sprintf("unknown tool: %s", p.Name)), nil
	}

	var args interface{} = p.Arguments
	if p.Arguments == nil {
		args = map[string]interface{}{}
	}
	result, err := tool(ctx, args)
	if err != nil {
		s.logger.Warn("mcp tool failed", "tool", p.Name, "error", err)
		return toolError(err.Error()), nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &MCPToolCallResult{Content: []MCPToolCallContent{{Type: "text", Text: string(text)}}}, nil
}

func toolError(msg string) *MCPToolCallResult {
	return &MCPToolCallResult{Content: []MCPToolCallContent{{Type: "text", Text: msg}}, IsError: true}
}

func (s *Server) handleChat(ctx context.Context, params interface{}) (interface{}, error) {
	var args ChatArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Message) == "" {
		return nil, &paramsError{msg: "message is required"}
	}
	return s.engine.Chat(ctx, args.Message)
}

func (s *Server) handleRemember(ctx context.Context, params interface{}) (interface{}, error) {
	var args RememberArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	kind, err := types.ParseKind(args.Kind)
	if err != nil {
		return nil, &paramsError{msg: err.Error()}
	}
	if args.Confidence < 0 || args.Confidence > 1 {
		return nil, &paramsError{msg: "confidence must be between 0 and 1"}
	}

	decision, err := s.engine.InjectMemory(ctx, kind, args.Key, args.Value, args.Confidence)
	if err != nil {
		return nil, err
	}
	return &RememberResult{
		Operation: decision.Operation,
		TargetID:  decision.TargetID,
		Reason:    decision.Reason,
		Memory:    decision.Candidate,
	}, nil
}

func (s *Server) handleMemories(_ context.Context, params interface{}) (interface{}, error) {
	var args MemoriesArgs
	if params != nil {
		if err := s.unmarshalParams(params, &args); err != nil {
			return nil, err
		}
	}

	var memories []*types.Memory
	if args.Kind != "" {
		kind, err := types.ParseKind(args.Kind)
		if err != nil {
			return nil, &paramsError{msg: err.Error()}
		}
		memories = s.engine.MemoriesByKind(kind)
	} else {
		memories = s.engine.Snapshot()
	}

	limit := args.Limit
	if limit <= 0 {
		limit = defaultMemoryLimit
	}
	if limit > maxMemoryLimit {
		limit = maxMemoryLimit
	}

	total := len(memories)
	if total > limit {
		memories = memories[:limit]
	}
	if memories == nil {
		memories = []*types.Memory{}
	}
	return &MemoriesResult{Memories: memories, Total: total, HasMore: total > limit}, nil
}

func (s *Server) handleGetTurn(ctx context.Context, params interface{}) (interface{}, error) {
	var args GetTurnArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if args.Turn < 1 {
		return nil, &paramsError{msg: "turn must be a positive integer"}
	}
	result, err := s.engine.Turn(ctx, args.Turn)
	if err != nil {
		return nil, fmt.Errorf("turn %d: %w", args.Turn, err)
	}
	return result, nil
}

func (s *Server) handleStats(context.Context, interface{}) (interface{}, error) {
	stats := s.engine.Stats()
	return &stats, nil
}

// buildToolsList returns the tool definitions in a stable order.
func (s *Server) buildToolsList() []MCPTool {
	kinds := make([]string, 0, len(types.AllKinds))
	for _, k := range types.AllKinds {
		kinds = append(kinds, k.String())
	}
	return []MCPTool{
		{
			Name:        "chat",
			Description: "Run one dialogue turn. Relevant memories are retrieved into the prompt and new ones are extracted from the message in the background.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"message"},
				"properties": map[string]interface{}{
					"message": map[string]interface{}{"type": "string", "description": "The user message"},
				},
			},
		},
		{
			Name:        "remember",
			Description: "Store a memory through the curator. Returns ADD, UPDATE or NOOP with the reason.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"kind", "key", "value"},
				"properties": map[string]interface{}{
					"kind":       map[string]interface{}{"type": "string", "enum": kinds},
					"key":        map[string]interface{}{"type": "string", "description": "Short identifier such as \"diet\" or \"home_city\""},
					"value":      map[string]interface{}{"type": "string"},
					"confidence": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
				},
			},
		},
		{
			Name:        "memories",
			Description: "List stored memories, hottest first, optionally filtered by kind.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"kind":  map[string]interface{}{"type": "string", "enum": kinds},
					"limit": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": maxMemoryLimit},
				},
			},
		},
		{
			Name:        "get_turn",
			Description: "Load the recorded result of a turn, including late curation results.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"turn"},
				"properties": map[string]interface{}{
					"turn": map[string]interface{}{"type": "integer", "minimum": 1},
				},
			},
		},
		{
			Name:        "stats",
			Description: "Summarize memory counts, heat and pending curation jobs.",
			InputSchema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		},
	}
}

// paramsError marks argument validation failures.
type paramsError struct {
	msg string
}

func (e *paramsError) Error() string { return e.msg }

// unmarshalParams unmarshals JSON-RPC parameters into a typed struct.
func (s *Server) unmarshalParams(params interface{}, dest interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return &paramsError{msg: fmt.Sprintf("failed to marshal params: %v", err)}
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return &paramsError{msg: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{JSONRPC: "2.0", Result: result, ID: id})
}

func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
		ID:      id,
	})
}
