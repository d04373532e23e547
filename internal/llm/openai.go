package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scrypster/engram/pkg/types"
)

const openAIDefaultBaseURL = "https://api.openai.com"

// openAIEndpoint is the transport shared by the chat and embedding clients:
// bearer auth, a per-call timeout and a circuit breaker named after the client.
type openAIEndpoint struct {
	name    string
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	breaker *CircuitBreaker
}

func newOpenAIEndpoint(name, baseURL, apiKey string, timeout time.Duration, rps float64) *openAIEndpoint {
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	return &openAIEndpoint{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		breaker: NewCircuitBreakerWithConfig(CircuitBreakerConfig{Name: name, RequestsPerSecond: rps}),
	}
}

// call runs post through the circuit breaker and decodes into out.
func (e *openAIEndpoint) call(ctx context.Context, path string, body, out interface{}) error {
	_, err := e.breaker.Execute(ctx, func() (interface{}, error) {
		return nil, e.post(ctx, path, body, out)
	})
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("%s circuit breaker open: %w", e.name, err)
	}
	return err
}

func (e *openAIEndpoint) post(ctx context.Context, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%s returned status %d: %s", e.name, resp.StatusCode, bytes.TrimSpace(data))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", e.name, err)
	}
	return nil
}

// OpenAIConfig configures the chat client. Any server speaking the chat
// completions protocol works through BaseURL.
type OpenAIConfig struct {
	APIKey      string
	Model       string        // default: gpt-4o-mini
	BaseURL     string        // default: https://api.openai.com
	Timeout     time.Duration // default: 60s
	Temperature float64
	// RequestsPerSecond throttles outgoing calls; zero disables throttling.
	RequestsPerSecond float64
}

// OpenAIClient answers engram's extraction prompts and user turns through
// /v1/chat/completions.
type OpenAIClient struct {
	model       string
	temperature float64
	endpoint    *openAIEndpoint
}

// NewOpenAIClient creates a chat client, filling unset fields with defaults.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAIClient{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		endpoint:    newOpenAIEndpoint("openai", cfg.BaseURL, cfg.APIKey, cfg.Timeout, cfg.RequestsPerSecond),
	}
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string                  `json:"model"`
	Messages    []chatCompletionMessage `json:"messages"`
	Temperature float64                 `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends prompt as a lone user message.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, []chatCompletionMessage{{Role: types.RoleUser.String(), Content: prompt}})
}

// Chat sends the system prompt, the dialogue window and the new message.
func (c *OpenAIClient) Chat(ctx context.Context, system string, history []types.Message, message string) (string, error) {
	msgs := make([]chatCompletionMessage, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, chatCompletionMessage{Role: "system", Content: system})
	}
	for _, m := range history {
		msgs = append(msgs, chatCompletionMessage{Role: m.Role.String(), Content: m.Content})
	}
	msgs = append(msgs, chatCompletionMessage{Role: types.RoleUser.String(), Content: message})
	return c.complete(ctx, msgs)
}

func (c *OpenAIClient) complete(ctx context.Context, msgs []chatCompletionMessage) (string, error) {
	var resp chatCompletionResponse
	req := chatCompletionRequest{Model: c.model, Messages: msgs, Temperature: c.temperature}
	if err := c.endpoint.call(ctx, "/v1/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// GetModel returns the configured model name.
func (c *OpenAIClient) GetModel() string {
	return c.model
}

var (
	_ TextGenerator = (*OpenAIClient)(nil)
	_ ChatGenerator = (*OpenAIClient)(nil)
)

// OpenAIEmbeddingConfig configures the embedding client that backs the
// similarity index when embedding_provider is openai.
type OpenAIEmbeddingConfig struct {
	APIKey  string
	Model   string        // default: text-embedding-3-small
	BaseURL string        // default: https://api.openai.com
	Timeout time.Duration // default: 30s
	// Dimensions shortens text-embedding-3 vectors; zero keeps the model's
	// native width. The index must be rebuilt when it changes.
	Dimensions int
	// RequestsPerSecond throttles outgoing calls; zero disables throttling.
	RequestsPerSecond float64
}

// OpenAIEmbeddingClient embeds memory index text through /v1/embeddings.
type OpenAIEmbeddingClient struct {
	model      string
	dimensions int
	endpoint   *openAIEndpoint
}

// NewOpenAIEmbeddingClient creates an embedding client, filling unset fields
// with defaults.
func NewOpenAIEmbeddingClient(cfg OpenAIEmbeddingConfig) *OpenAIEmbeddingClient {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OpenAIEmbeddingClient{
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		endpoint:   newOpenAIEndpoint("openai-embed", cfg.BaseURL, cfg.APIKey, cfg.Timeout, cfg.RequestsPerSecond),
	}
}

type embeddingRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	EncodingFormat string `json:"encoding_format"`
	Dimensions     int    `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding of text.
func (c *OpenAIEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embeddingResponse
	req := embeddingRequest{Model: c.model, Input: text, EncodingFormat: "float", Dimensions: c.dimensions}
	if err := c.endpoint.call(ctx, "/v1/embeddings", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("openai-embed returned an empty embedding")
	}
	vec := resp.Data[0].Embedding
	if c.dimensions > 0 && len(vec) != c.dimensions {
		return nil, fmt.Errorf("openai-embed returned %d dimensions, want %d", len(vec), c.dimensions)
	}
	return vec, nil
}

// GetModel returns the configured model name.
func (c *OpenAIEmbeddingClient) GetModel() string {
	return c.model
}

var _ EmbeddingGenerator = (*OpenAIEmbeddingClient)(nil)
