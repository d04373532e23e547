package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// Engine is the part of *engine.Engine the API serves.
type Engine interface {
	Chat(ctx context.Context, message string) (*types.TurnResult, error)
	InjectMemory(ctx context.Context, kind types.Kind, key, value string, confidence float64) (types.Decision, error)
	MemoriesByKind(kind types.Kind) []*types.Memory
	Snapshot() []*types.Memory
	Turn(ctx context.Context, n int) (*types.TurnResult, error)
	Turns(ctx context.Context, limit int) ([]*types.TurnResult, error)
	Stats() engine.Stats
	Reset(ctx context.Context) error
}

// Broadcaster pushes events to connected WebSocket clients.
type Broadcaster interface {
	Broadcast(message interface{})
}

// APIHandlers contains HTTP handlers for the REST API.
type APIHandlers struct {
	engine Engine
	events Broadcaster
	logger *slog.Logger
}

// NewAPIHandlers creates a new APIHandlers instance. events may be nil.
func NewAPIHandlers(eng Engine, events Broadcaster, logger *slog.Logger) *APIHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandlers{engine: eng, events: events, logger: logger}
}

// Chat handles POST /api/chat - run one dialogue turn.
func (h *APIHandlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is required", nil)
		return
	}

	result, err := h.engine.Chat(r.Context(), req.Message)
	if err != nil {
		h.respondEngineError(w, "chat failed", err)
		return
	}
	h.broadcast(Event{Type: EventTurn, Data: result})
	respondJSON(w, http.StatusOK, result)
}

// ListMemories handles GET /api/memories - list stored memories, hottest
// first. An optional "kind" query parameter filters by kind.
func (h *APIHandlers) ListMemories(w http.ResponseWriter, r *http.Request) {
	var memories []*types.Memory
	if k := r.URL.Query().Get("kind"); k != "" {
		kind, err := types.ParseKind(k)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid kind", err)
			return
		}
		memories = h.engine.MemoriesByKind(kind)
	} else {
		memories = h.engine.Snapshot()
	}
	if memories == nil {
		memories = []*types.Memory{}
	}
	respondJSON(w, http.StatusOK, MemoriesResponse{Memories: memories, Total: len(memories)})
}

// Remember handles POST /api/memories - inject a memory through the curator.
func (h *APIHandlers) Remember(w http.ResponseWriter, r *http.Request) {
	var req RememberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	kind, err := types.ParseKind(req.Kind)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid kind", err)
		return
	}

	decision, err := h.engine.InjectMemory(r.Context(), kind, req.Key, req.Value, req.Confidence)
	if err != nil {
		h.respondEngineError(w, "failed to store memory", err)
		return
	}

	status := http.StatusOK
	if decision.Operation == types.OpAdd {
		status = http.StatusCreated
	}
	respondJSON(w, status, RememberResponse{
		Operation: decision.Operation,
		TargetID:  decision.TargetID,
		Reason:    decision.Reason,
		Memory:    decision.Candidate,
	})
}

// GetTurn handles GET /api/turns/{n} - load one turn record.
func (h *APIHandlers) GetTurn(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 1 {
		respondError(w, http.StatusBadRequest, "turn must be a positive integer", err)
		return
	}
	result, err := h.engine.Turn(r.Context(), n)
	if err != nil {
		h.respondEngineError(w, "failed to load turn", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ListTurns handles GET /api/turns - most recent turn records, newest first.
func (h *APIHandlers) ListTurns(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 20)
	if limit < 1 {
		limit = 20
	}
	if limit > 1000 {
		limit = 1000
	}
	turns, err := h.engine.Turns(r.Context(), limit)
	if err != nil {
		h.respondEngineError(w, "failed to list turns", err)
		return
	}
	if turns == nil {
		turns = []*types.TurnResult{}
	}
	respondJSON(w, http.StatusOK, TurnsResponse{Turns: turns})
}

// GetStats handles GET /api/stats.
func (h *APIHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Stats())
}

// Reset handles POST /api/reset - wipe every memory and turn.
func (h *APIHandlers) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reset(r.Context()); err != nil {
		h.respondEngineError(w, "reset failed", err)
		return
	}
	h.broadcast(Event{Type: EventReset})
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *APIHandlers) broadcast(ev Event) {
	if h.events != nil {
		h.events.Broadcast(ev)
	}
}

// respondEngineError maps engine and storage errors onto status codes.
func (h *APIHandlers) respondEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, message, err)
	case errors.Is(err, storage.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, engine.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, message, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusRequestTimeout, message, err)
	default:
		h.logger.Error(message, "error", err)
		respondError(w, http.StatusInternalServerError, message, err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseInt parses an integer query parameter with a default value.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent.
		slog.Default().Warn("failed to encode JSON response", "error", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}
