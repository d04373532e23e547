package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engram/internal/llm"
	"github.com/scrypster/engram/pkg/types"
)

var dialogue = []types.Message{
	{Role: types.RoleUser, Content: "I'm vegan"},
	{Role: types.RoleAssistant, Content: "Noted."},
}

type chatBody struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func TestOpenAIClient_Chat(t *testing.T) {
	var got chatBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Try tofu."}}]}`))
	}))
	defer srv.Close()

	c := llm.NewOpenAIClient(llm.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	reply, err := c.Chat(context.Background(), "be brief", dialogue, "dinner?")
	require.NoError(t, err)
	assert.Equal(t, "Try tofu.", reply)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.Equal(t, "dinner?", got.Messages[3].Content)
}

func TestOpenAIClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := llm.NewOpenAIClient(llm.OpenAIConfig{BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestOpenAIEmbeddingClient_Embed(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.5,0.25]}]}`))
	}))
	defer srv.Close()

	c := llm.NewOpenAIEmbeddingClient(llm.OpenAIEmbeddingConfig{APIKey: "sk-test", BaseURL: srv.URL, Dimensions: 2})
	vec, err := c.Embed(context.Background(), "diet: vegan")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)

	assert.Equal(t, "text-embedding-3-small", got["model"])
	assert.Equal(t, "diet: vegan", got["input"])
	assert.Equal(t, "float", got["encoding_format"])
	assert.EqualValues(t, 2, got["dimensions"])
}

func TestOpenAIEmbeddingClient_RejectsUnexpectedWidth(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.5,0.25,0.125]}]}`))
	}))
	defer srv.Close()

	native := llm.NewOpenAIEmbeddingClient(llm.OpenAIEmbeddingConfig{BaseURL: srv.URL})
	vec, err := native.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.NotContains(t, got, "dimensions")

	short := llm.NewOpenAIEmbeddingClient(llm.OpenAIEmbeddingConfig{BaseURL: srv.URL, Dimensions: 2})
	_, err = short.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 dimensions, want 2")
}

func TestOpenAIEmbeddingClient_EmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := llm.NewOpenAIEmbeddingClient(llm.OpenAIEmbeddingConfig{BaseURL: srv.URL})
	_, err := c.Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "empty embedding")
}

func TestOllamaClient(t *testing.T) {
	var chat chatBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/generate":
			_, _ = w.Write([]byte(`{"response":"{\"memories\":[]}","done":true}`))
		case "/api/chat":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&chat))
			_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"Hello!"},"done":true}`))
		case "/api/embed":
			_, _ = w.Write([]byte(`{"embeddings":[[1,0,0]]}`))
		case "/api/version":
			_, _ = w.Write([]byte(`{"version":"0.5.0"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := llm.NewOllamaClient(llm.OllamaConfig{BaseURL: srv.URL})
	ctx := context.Background()

	out, err := c.Complete(ctx, "extract")
	require.NoError(t, err)
	assert.Equal(t, `{"memories":[]}`, out)

	reply, err := c.Chat(ctx, "sys", dialogue, "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello!", reply)
	assert.Equal(t, "llama3.2", chat.Model)
	require.Len(t, chat.Messages, 4)
	assert.Equal(t, "system", chat.Messages[0].Role)

	vec, err := c.Embed(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, vec)

	assert.NoError(t, c.HealthCheck(ctx))
}

func TestAnthropicClient_Chat(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		System   []struct {
			Text string `json:"text"`
		} `json:"system"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"msg_1","type":"message","role":"assistant","model":"claude-haiku-4-5-20251001",
			"content":[{"type":"text","text":"Lentil curry."}],
			"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":3}
		}`))
	}))
	defer srv.Close()

	c := llm.NewAnthropicClient(llm.AnthropicConfig{APIKey: "sk-ant-test", BaseURL: srv.URL})
	reply, err := c.Chat(context.Background(), "remember things", dialogue, "dinner?")
	require.NoError(t, err)
	assert.Equal(t, "Lentil curry.", reply)

	require.Len(t, got.System, 1)
	assert.Equal(t, "remember things", got.System[0].Text)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	assert.Equal(t, "user", got.Messages[2].Role)
}

func TestFactory(t *testing.T) {
	emb, err := llm.NewEmbeddingGenerator(llm.ProviderConfig{Provider: llm.ProviderHash}, 0)
	require.NoError(t, err)
	assert.Equal(t, "hash-bow", emb.GetModel())

	_, err = llm.NewEmbeddingGenerator(llm.ProviderConfig{Provider: llm.ProviderAnthropic}, 0)
	assert.Error(t, err)

	remote, err := llm.NewEmbeddingGenerator(llm.ProviderConfig{Provider: llm.ProviderOpenAI, Model: "text-embedding-3-small"}, 1<<20)
	require.NoError(t, err)
	assert.IsType(t, &llm.CachedEmbedder{}, remote)

	gen, err := llm.NewChatGenerator(llm.ProviderConfig{Provider: llm.ProviderAnthropic, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "claude-haiku-4-5-20251001", gen.GetModel())

	_, err = llm.NewTextGenerator(llm.ProviderConfig{Provider: "bogus"})
	assert.Error(t, err)
}
