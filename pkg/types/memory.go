package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Heat thresholds that drive status transitions.
const (
	// ActiveHeatThreshold is the minimum heat for StatusActive.
	ActiveHeatThreshold = 0.30

	// EvictionHeatThreshold is the heat below which a memory is evicted.
	EvictionHeatThreshold = 0.08

	// InitialHeat is the heat of a newly created memory.
	InitialHeat = 1.0
)

// Memory is a single durable fact about the user.
type Memory struct {
	ID               string    `json:"id"`
	Kind             Kind      `json:"kind"`
	Key              string    `json:"key"`
	Value            string    `json:"value"`
	SourceTurn       int       `json:"source_turn"`
	LastRecalledTurn int       `json:"last_recalled_turn"`
	Heat             float64   `json:"heat"`
	Confidence       float64   `json:"confidence"`
	Status           Status    `json:"status"`
	IndexText        string    `json:"index_text"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Identity is the exact-match key of a memory: the same concept of the same kind.
type Identity struct {
	Key  string
	Kind Kind
}

// NewMemory builds a fresh memory created on turn. It starts hot and is
// considered recalled on the turn it was created.
func NewMemory(kind Kind, key, value string, turn int, confidence float64) *Memory {
	now := time.Now().UTC()
	m := &Memory{
		ID:               NewMemoryID(),
		Kind:             kind,
		Key:              NormalizeKey(key),
		Value:            strings.TrimSpace(value),
		SourceTurn:       turn,
		LastRecalledTurn: turn,
		Heat:             InitialHeat,
		Confidence:       ClampUnit(confidence),
		Status:           StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.IndexText = BuildIndexText(m.Key, m.Value)
	return m
}

// NewMemoryID returns a unique memory identifier of the form "mem_<uuid>".
func NewMemoryID() string {
	return "mem_" + uuid.NewString()
}

// BuildIndexText returns the text indexed for similarity search.
func BuildIndexText(key, value string) string {
	return key + ": " + value
}

// NormalizeKey lower-cases a key and joins its words with underscores.
func NormalizeKey(key string) string {
	fields := strings.FieldsFunc(strings.ToLower(strings.TrimSpace(key)), func(r rune) bool {
		return r == ' ' || r == '-' || r == '\t'
	})
	return strings.Join(fields, "_")
}

// NormalizeValue folds case and collapses whitespace for value comparison.
func NormalizeValue(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}

// Identity returns the (key, kind) pair of the memory.
func (m *Memory) Identity() Identity {
	return Identity{Key: m.Key, Kind: m.Kind}
}

// SetValue replaces the value and keeps IndexText in sync.
func (m *Memory) SetValue(value string, now time.Time) {
	m.Value = strings.TrimSpace(value)
	m.IndexText = BuildIndexText(m.Key, m.Value)
	m.UpdatedAt = now
}

// SetHeat clamps heat to [0,1] and recomputes the status.
func (m *Memory) SetHeat(heat float64) {
	m.Heat = ClampUnit(heat)
	m.Status = StatusForHeat(m.Heat)
}

// PromptFragment renders the memory as "[KIND] key: value".
func (m *Memory) PromptFragment() string {
	return "[" + m.Kind.Label() + "] " + m.Key + ": " + m.Value
}

// Clone returns a copy safe to hand to callers.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// StatusForHeat maps a heat value onto a lifecycle status.
func StatusForHeat(heat float64) Status {
	switch {
	case heat >= ActiveHeatThreshold:
		return StatusActive
	case heat >= EvictionHeatThreshold:
		return StatusDecaying
	default:
		return StatusEvicted
	}
}

// ClampUnit clamps v into [0,1].
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
