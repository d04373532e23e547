package types_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engram/pkg/types"
)

func TestNewMemory_Defaults(t *testing.T) {
	m := types.NewMemory(types.KindConstraint, "Contact Time", "  call after 5pm ", 4, 1.7)

	assert.True(t, strings.HasPrefix(m.ID, "mem_"))
	assert.Equal(t, "contact_time", m.Key)
	assert.Equal(t, "call after 5pm", m.Value)
	assert.Equal(t, "contact_time: call after 5pm", m.IndexText)
	assert.Equal(t, 4, m.SourceTurn)
	assert.Equal(t, 4, m.LastRecalledTurn)
	assert.Equal(t, 1.0, m.Heat)
	assert.Equal(t, 1.0, m.Confidence, "confidence is clamped")
	assert.Equal(t, types.StatusActive, m.Status)
	assert.False(t, m.CreatedAt.IsZero())
}

func TestNewMemory_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := types.NewMemoryID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestMemory_SetValueKeepsIndexTextInSync(t *testing.T) {
	m := types.NewMemory(types.KindFact, "city", "Lisbon", 1, 0.9)
	now := time.Now()

	m.SetValue("Porto", now)

	assert.Equal(t, "Porto", m.Value)
	assert.Equal(t, "city: Porto", m.IndexText)
	assert.Equal(t, now, m.UpdatedAt)
}

func TestStatusForHeat_Boundaries(t *testing.T) {
	tests := []struct {
		heat float64
		want types.Status
	}{
		{1.0, types.StatusActive},
		{0.30, types.StatusActive},
		{0.29, types.StatusDecaying},
		{0.08, types.StatusDecaying},
		{0.079, types.StatusEvicted},
		{0, types.StatusEvicted},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, types.StatusForHeat(tt.heat), "heat %v", tt.heat)
	}
}

func TestMemory_SetHeatClamps(t *testing.T) {
	m := types.NewMemory(types.KindFact, "k", "v", 1, 1)

	m.SetHeat(-0.5)
	assert.Equal(t, 0.0, m.Heat)
	assert.Equal(t, types.StatusEvicted, m.Status)

	m.SetHeat(3)
	assert.Equal(t, 1.0, m.Heat)
	assert.Equal(t, types.StatusActive, m.Status)
}

func TestMemory_PromptFragment(t *testing.T) {
	m := types.NewMemory(types.KindCommitment, "gym", "three times a week", 1, 1)
	assert.Equal(t, "[COMMITMENT] gym: three times a week", m.PromptFragment())
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, "call after 5pm", types.NormalizeValue("  Call   AFTER\t5pm "))
}

func TestKind_ParseAndString(t *testing.T) {
	for _, k := range types.AllKinds {
		parsed, err := types.ParseKind(strings.ToUpper(k.String()))
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := types.ParseKind("opinion")
	assert.Error(t, err)
	assert.False(t, types.KindUnknown.IsValid())
}

func TestEnums_JSONUsesStableNames(t *testing.T) {
	m := types.NewMemory(types.KindPreference, "diet", "vegan", 2, 0.8)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"preference"`)
	assert.Contains(t, string(data), `"status":"active"`)

	var back types.Memory
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, types.KindPreference, back.Kind)
	assert.Equal(t, types.StatusActive, back.Status)
}

func TestOperation_Parse(t *testing.T) {
	op, err := types.ParseOperation(" delete ")
	require.NoError(t, err)
	assert.Equal(t, types.OpDelete, op)

	_, err = types.ParseOperation("MERGE")
	assert.Error(t, err)
}

func TestOperationCounts_JSONKeys(t *testing.T) {
	counts := types.Tally([]types.Decision{
		{Operation: types.OpAdd},
		{Operation: types.OpAdd},
		{Operation: types.OpNoop},
	})

	assert.Equal(t, 2, counts[types.OpAdd])
	assert.Equal(t, 0, counts[types.OpDelete])

	data, err := json.Marshal(counts)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ADD":2`)
	assert.Contains(t, string(data), `"NOOP":1`)
}

func TestIsErrorTagged(t *testing.T) {
	assert.True(t, types.IsErrorTagged("[generation error: timeout]"))
	assert.False(t, types.IsErrorTagged("All good"))
}

func TestTurnResult_Merge(t *testing.T) {
	r := &types.TurnResult{Turn: 3, Pending: true}
	now := time.Now()

	r.Merge(types.BackgroundOutcome{Extracted: 2, Evicted: []string{"mem_x"}, CuratorOps: types.NewOperationCounts()}, now)

	assert.False(t, r.Pending)
	assert.Equal(t, 2, r.Extracted)
	assert.Equal(t, []string{"mem_x"}, r.Evicted)
	require.NotNil(t, r.CompletedAt)
}
