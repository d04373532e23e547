package llm

import (
	"fmt"
	"time"
)

// Provider names accepted by the factory functions.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	// ProviderHash selects the local HashEmbedder. Embeddings only.
	ProviderHash = "hash"
)

// ProviderConfig selects and configures one model provider.
type ProviderConfig struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
	// RequestsPerSecond throttles outgoing calls; zero disables throttling.
	RequestsPerSecond float64
	// Dimensions requests shortened embeddings where the provider supports it.
	Dimensions int
}

// NewTextGenerator creates the TextGenerator for cfg.Provider.
func NewTextGenerator(cfg ProviderConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		return newAnthropic(cfg), nil
	case ProviderOpenAI:
		return newOpenAI(cfg), nil
	case ProviderOllama, "":
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// NewChatGenerator creates the ChatGenerator for cfg.Provider.
func NewChatGenerator(cfg ProviderConfig) (ChatGenerator, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		return newAnthropic(cfg), nil
	case ProviderOpenAI:
		return newOpenAI(cfg), nil
	case ProviderOllama, "":
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// NewEmbeddingGenerator creates the EmbeddingGenerator for cfg.Provider.
// Remote embedders are wrapped in a CachedEmbedder of cacheBytes.
func NewEmbeddingGenerator(cfg ProviderConfig, cacheBytes int64) (EmbeddingGenerator, error) {
	var remote EmbeddingGenerator
	switch cfg.Provider {
	case ProviderHash, "":
		return NewHashEmbedder(DefaultHashDimensions), nil
	case ProviderOpenAI:
		remote = NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			BaseURL:           cfg.BaseURL,
			Timeout:           cfg.Timeout,
			Dimensions:        cfg.Dimensions,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	case ProviderOllama:
		remote = NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, EmbedModel: cfg.Model, Timeout: cfg.Timeout})
	default:
		// Anthropic has no embeddings endpoint.
		return nil, fmt.Errorf("provider %q does not support embeddings", cfg.Provider)
	}
	cached, err := NewCachedEmbedder(remote, cacheBytes)
	if err != nil {
		return nil, err
	}
	return cached, nil
}

func newAnthropic(cfg ProviderConfig) *AnthropicClient {
	return NewAnthropicClient(AnthropicConfig{
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		BaseURL:           cfg.BaseURL,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
}

func newOpenAI(cfg ProviderConfig) *OpenAIClient {
	return NewOpenAIClient(OpenAIConfig{
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		BaseURL:           cfg.BaseURL,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
}
