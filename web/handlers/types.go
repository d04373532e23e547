package handlers

import (
	"github.com/scrypster/engram/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ChatRequest is the request body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// RememberRequest is the request body of POST /api/memories.
type RememberRequest struct {
	Kind       string  `json:"kind"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence,omitempty"`
}

// RememberResponse reports the curator's decision for an injected memory.
type RememberResponse struct {
	Operation types.Operation `json:"operation"`
	TargetID  string          `json:"target_id,omitempty"`
	Reason    string          `json:"reason"`
	Memory    *types.Memory   `json:"memory"`
}

// MemoriesResponse is the response format for GET /api/memories.
type MemoriesResponse struct {
	Memories []*types.Memory `json:"memories"`
	Total    int             `json:"total"`
}

// TurnsResponse is the response format for GET /api/turns.
type TurnsResponse struct {
	Turns []*types.TurnResult `json:"turns"`
}

// Event types pushed to WebSocket clients.
const (
	EventTurn        = "turn"
	EventTurnAmended = "turn_amended"
	EventReset       = "reset"
	EventError       = "error"
)

// Event is one message pushed to WebSocket clients.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// InboundMessage is a message sent by a WebSocket client. Only "chat" is
// understood.
type InboundMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
