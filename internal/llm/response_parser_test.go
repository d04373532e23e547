package llm

import (
	"testing"

	"github.com/scrypster/engram/pkg/types"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantJSON string
	}{
		{
			name:     "plain JSON object",
			input:    `{"key": "value"}`,
			wantJSON: `{"key": "value"}`,
		},
		{
			name:     "JSON with markdown code block",
			input:    "```json\n{\"key\": \"value\"}\n```",
			wantJSON: `{"key": "value"}`,
		},
		{
			name:     "JSON with surrounding text",
			input:    "Here is the JSON:\n{\"key\": \"value\"}\nEnd of JSON",
			wantJSON: `{"key": "value"}`,
		},
		{
			name:     "nested JSON object",
			input:    `{"outer": {"inner": "value"}} trailing {"x":1}`,
			wantJSON: `{"outer": {"inner": "value"}}`,
		},
		{
			name:     "braces inside strings",
			input:    `{"text": "a } b { c"}`,
			wantJSON: `{"text": "a } b { c"}`,
		},
		{
			name:     "JSON with escaped quotes in string",
			input:    `{"text": "He said \"hello\""}`,
			wantJSON: `{"text": "He said \"hello\""}`,
		},
		{
			name:     "no JSON present",
			input:    "just some text without json",
			wantJSON: "just some text without json",
		},
		{
			name:     "empty string",
			input:    "",
			wantJSON: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractJSON(tt.input)
			if got != tt.wantJSON {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.input, got, tt.wantJSON)
			}
		})
	}
}

func TestParseExtractionResponse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKeys []string
		wantErr  bool
	}{
		{
			name:     "valid memories",
			raw:      `{"memories":[{"type":"constraint","key":"diet","value":"vegetarian","confidence":0.95},{"type":"preference","key":"Vacation Preference","value":"mountains","confidence":0.8}]}`,
			wantKeys: []string{"diet", "vacation_preference"},
		},
		{
			name:     "fenced output",
			raw:      "```json\n{\"memories\":[{\"type\":\"fact\",\"key\":\"city\",\"value\":\"Lisbon\",\"confidence\":0.9}]}\n```",
			wantKeys: []string{"city"},
		},
		{
			name:     "empty memories",
			raw:      `{"memories":[]}`,
			wantKeys: nil,
		},
		{
			name:     "unknown type skipped",
			raw:      `{"memories":[{"type":"opinion","key":"x","value":"y","confidence":0.9},{"type":"entity","key":"dog","value":"Rex","confidence":0.9}]}`,
			wantKeys: []string{"dog"},
		},
		{
			name:     "empty key or value skipped",
			raw:      `{"memories":[{"type":"fact","key":"","value":"y","confidence":0.9},{"type":"fact","key":"k","value":"  ","confidence":0.9}]}`,
			wantKeys: nil,
		},
		{
			name:    "malformed JSON",
			raw:     `{"memories":[{"type":"fact"`,
			wantErr: true,
		},
		{
			name:    "no JSON at all",
			raw:     "I could not find anything.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseExtractionResponse(tt.raw, 4)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %d memories", len(got))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.wantKeys) {
				t.Fatalf("got %d memories, want %d", len(got), len(tt.wantKeys))
			}
			for i, m := range got {
				if m.Key != tt.wantKeys[i] {
					t.Errorf("memory %d key = %q, want %q", i, m.Key, tt.wantKeys[i])
				}
				if m.SourceTurn != 4 {
					t.Errorf("memory %d source turn = %d, want 4", i, m.SourceTurn)
				}
			}
		})
	}
}

func TestParseExtractionResponse_ClampsConfidence(t *testing.T) {
	got, err := ParseExtractionResponse(`{"memories":[{"type":"fact","key":"a","value":"b","confidence":1.7}]}`, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Confidence != 1 {
		t.Fatalf("expected one memory with confidence 1, got %+v", got)
	}
}

func TestParseJudgeResponse(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantOp     types.Operation
		wantTarget string
		wantErr    bool
	}{
		{
			name:       "delete with target",
			raw:        `{"operation":"DELETE","target_id":"mem_1","reason":"contradiction"}`,
			wantOp:     types.OpDelete,
			wantTarget: "mem_1",
		},
		{
			name:   "lowercase add with null target",
			raw:    `{"operation":"add","target_id":null,"reason":"new"}`,
			wantOp: types.OpAdd,
		},
		{
			name:   "string null target",
			raw:    `Sure! {"operation":"NOOP","target_id":"null"}`,
			wantOp: types.OpNoop,
		},
		{
			name:    "unknown operation",
			raw:     `{"operation":"MERGE","target_id":"mem_1"}`,
			wantErr: true,
		},
		{
			name:    "malformed",
			raw:     `{"operation":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJudgeResponse(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Operation != tt.wantOp {
				t.Errorf("operation = %v, want %v", got.Operation, tt.wantOp)
			}
			if got.TargetID != tt.wantTarget {
				t.Errorf("target = %q, want %q", got.TargetID, tt.wantTarget)
			}
			if got.Reason == "" {
				t.Error("reason should never be empty")
			}
		})
	}
}

func FuzzParseExtractionResponse(f *testing.F) {
	f.Add(`{"memories":[{"type":"fact","key":"a","value":"b","confidence":0.9}]}`)
	f.Add(``)
	f.Add(`{"memories": null}`)
	f.Add("```json\n{\"memories\": []}\n```")
	f.Add(`{"memories":[{"type":"fact"`)
	f.Add(`{{{`)
	f.Add(`[{"type":"fact"}]`)
	f.Add(`{"memories":[{"type":null,"key":null,"value":null,"confidence":"0.9"}]}`)

	f.Fuzz(func(t *testing.T, input string) {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("ParseExtractionResponse panicked on input %q: %v", input, r)
			}
		}()
		_, _ = ParseExtractionResponse(input, 1)
		_, _ = ParseJudgeResponse(input)
	})
}
