// Package config provides configuration management for engram.
// It loads settings from environment variables with the ENGRAM_ prefix and
// provides sensible defaults for all configuration options.
//
// An optional YAML file (ENGRAM_CONFIG, or the path passed to Load) is applied
// on top of the defaults first; environment variables always win over it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/scrypster/engram/internal/backup"
	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/internal/llm"
	"github.com/scrypster/engram/internal/storage/tiered"
)

// Index backends accepted by StorageConfig.IndexBackend.
const (
	IndexChromem  = "chromem"
	IndexPgvector = "pgvector"
)

// DatabaseFile is the SQLite file name inside the data directory.
const DatabaseFile = "engram.db"

// Config holds all configuration settings for the engram application.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	LLM      LLMConfig      `yaml:"llm"`
	Engine   EngineConfig   `yaml:"engine"`
	Security SecurityConfig `yaml:"security"`
	Backup   BackupConfig   `yaml:"backup"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port      int     `yaml:"port"`       // Server port (default: 6363)
	Host      string  `yaml:"host"`       // Server host (default: 127.0.0.1)
	RateLimit float64 `yaml:"rate_limit"` // Requests per second per client (default: 10, 0 disables)
	RateBurst int     `yaml:"rate_burst"` // Burst size (default: 20)
}

// StorageConfig contains database and index configuration.
type StorageConfig struct {
	DataPath            string  `yaml:"data_path"`             // Directory of the SQLite file (default: ./data)
	IndexBackend        string  `yaml:"index_backend"`         // chromem or pgvector (default: chromem)
	PostgresDSN         string  `yaml:"postgres_dsn"`          // Required for the pgvector backend
	EmbeddingCacheBytes int64   `yaml:"embedding_cache_bytes"` // Embedding cache size (default: 32 MiB)
	RecentSize          int     `yaml:"recent_size"`           // Recent tier capacity (default: 20)
	DecayPerTurn        float64 `yaml:"decay_per_turn"`        // Heat lost per unrecalled turn (default: 0.04)
	RecallBoost         float64 `yaml:"recall_boost"`          // Heat gained on recall (default: 0.1)
}

// LLMConfig contains model provider configuration.
type LLMConfig struct {
	Provider             string        `yaml:"provider"`            // Chat provider: ollama, openai, anthropic (default: ollama)
	ExtractionProvider   string        `yaml:"extraction_provider"` // Extraction and judge provider (default: Provider)
	EmbeddingProvider    string        `yaml:"embedding_provider"`  // hash, ollama, openai (default: hash)
	OllamaURL            string        `yaml:"ollama_url"`
	OllamaModel          string        `yaml:"ollama_model"`
	OllamaEmbeddingModel string        `yaml:"ollama_embedding_model"`
	OpenAIAPIKey         string        `yaml:"openai_api_key"`
	OpenAIModel          string        `yaml:"openai_model"`
	OpenAIBaseURL        string        `yaml:"openai_base_url"`
	OpenAIEmbeddingModel string        `yaml:"openai_embedding_model"`
	OpenAIEmbeddingDims  int           `yaml:"openai_embedding_dimensions"` // 0 keeps the model width
	AnthropicAPIKey      string        `yaml:"anthropic_api_key"`
	AnthropicModel       string        `yaml:"anthropic_model"`
	Timeout              time.Duration `yaml:"timeout"`              // Per-request timeout (default: 60s)
	RequestsPerSecond    float64       `yaml:"requests_per_second"`  // Client-side throttle, 0 disables
	ConfidenceThreshold  float64       `yaml:"confidence_threshold"` // Extraction filter (default: 0.65)
	Judge                bool          `yaml:"judge"`                // Resolve conflicts with the LLM judge
}

// EngineConfig contains the memory engine tuning parameters.
type EngineConfig struct {
	ConflictThreshold  float64       `yaml:"conflict_threshold"`
	DuplicateThreshold float64       `yaml:"duplicate_threshold"`
	SimilarLimit       int           `yaml:"similar_limit"`
	TopK               int           `yaml:"top_k"`
	RelevanceThreshold float64       `yaml:"relevance_threshold"`
	TokenBudget        int           `yaml:"token_budget"`
	HistoryWindow      int           `yaml:"history_window"` // Messages kept; must be even
	BackgroundTimeout  time.Duration `yaml:"background_timeout"`
	QueueSize          int           `yaml:"queue_size"`
	SystemPrompt       string        `yaml:"system_prompt"`
}

// SecurityConfig contains API authentication settings.
type SecurityConfig struct {
	APIToken string `yaml:"api_token"` // Bearer token for the HTTP API; empty disables auth
}

// BackupConfig contains database snapshot settings.
type BackupConfig struct {
	Dir      string        `yaml:"dir"`      // Snapshot directory (default: <data_path>/backups)
	Interval time.Duration `yaml:"interval"` // Scheduled snapshots while serving; 0 disables
	Schedule string        `yaml:"schedule"` // Cron expression; replaces interval when set
	Verify   bool          `yaml:"verify"`   // Integrity-check each snapshot (default: true)
	Hourly   int           `yaml:"hourly"`
	Daily    int           `yaml:"daily"`
	Weekly   int           `yaml:"weekly"`
	Monthly  int           `yaml:"monthly"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string `yaml:"level"`    // debug, info, warn, error (default: info)
	Format  string `yaml:"format"`   // text or json (default: text)
	TurnLog string `yaml:"turn_log"` // JSONL turn audit file; empty disables
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	ec := engine.DefaultConfig()
	tc := tiered.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Port:      6363,
			Host:      "127.0.0.1",
			RateLimit: 10,
			RateBurst: 20,
		},
		Storage: StorageConfig{
			DataPath:            "./data",
			IndexBackend:        IndexChromem,
			EmbeddingCacheBytes: 32 << 20,
			RecentSize:          tc.RecentSize,
			DecayPerTurn:        tc.DecayPerTurn,
			RecallBoost:         tc.RecallBoost,
		},
		LLM: LLMConfig{
			Provider:             llm.ProviderOllama,
			EmbeddingProvider:    llm.ProviderHash,
			OllamaURL:            "http://localhost:11434",
			OllamaModel:          "llama3.2",
			OllamaEmbeddingModel: "nomic-embed-text",
			OpenAIModel:          "gpt-4o-mini",
			OpenAIEmbeddingModel: "text-embedding-3-small",
			AnthropicModel:       "claude-haiku-4-5-20251001",
			Timeout:              60 * time.Second,
			ConfidenceThreshold:  llm.DefaultConfidenceThreshold,
		},
		Engine: EngineConfig{
			ConflictThreshold:  ec.ConflictThreshold,
			DuplicateThreshold: ec.DuplicateThreshold,
			SimilarLimit:       ec.SimilarLimit,
			TopK:               ec.TopKSemantic,
			RelevanceThreshold: ec.RelevanceThreshold,
			TokenBudget:        ec.TokenBudget,
			HistoryWindow:      ec.HistoryWindow,
			BackgroundTimeout:  ec.BackgroundTimeout,
			QueueSize:          ec.QueueSize,
			SystemPrompt:       engine.DefaultSystemPrompt,
		},
		Backup: BackupConfig{
			Verify:  true,
			Hourly:  backup.DefaultRetention().Hourly,
			Daily:   backup.DefaultRetention().Daily,
			Weekly:  backup.DefaultRetention().Weekly,
			Monthly: backup.DefaultRetention().Monthly,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from ENGRAM_CONFIG (if set) and environment
// variables.
func LoadConfig() (*Config, error) {
	return Load("")
}

// Load builds the configuration from defaults, then the YAML file at path
// (or ENGRAM_CONFIG when path is empty), then environment variables. The
// result is validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("ENGRAM_CONFIG")
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables, using the current values as
// defaults.
func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("ENGRAM_PORT", c.Server.Port)
	c.Server.Host = getEnv("ENGRAM_HOST", c.Server.Host)
	c.Server.RateLimit = getEnvFloat("ENGRAM_RATE_LIMIT", c.Server.RateLimit)
	c.Server.RateBurst = getEnvInt("ENGRAM_RATE_BURST", c.Server.RateBurst)

	c.Storage.DataPath = getEnv("ENGRAM_DATA_PATH", c.Storage.DataPath)
	c.Storage.IndexBackend = getEnv("ENGRAM_INDEX_BACKEND", c.Storage.IndexBackend)
	c.Storage.PostgresDSN = getEnv("ENGRAM_POSTGRES_DSN", c.Storage.PostgresDSN)
	c.Storage.EmbeddingCacheBytes = int64(getEnvInt("ENGRAM_EMBEDDING_CACHE_BYTES", int(c.Storage.EmbeddingCacheBytes)))
	c.Storage.RecentSize = getEnvInt("ENGRAM_RECENT_SIZE", c.Storage.RecentSize)
	c.Storage.DecayPerTurn = getEnvFloat("ENGRAM_DECAY_PER_TURN", c.Storage.DecayPerTurn)
	c.Storage.RecallBoost = getEnvFloat("ENGRAM_RECALL_BOOST", c.Storage.RecallBoost)

	c.LLM.Provider = getEnv("ENGRAM_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.ExtractionProvider = getEnv("ENGRAM_EXTRACTION_PROVIDER", c.LLM.ExtractionProvider)
	c.LLM.EmbeddingProvider = getEnv("ENGRAM_EMBEDDING_PROVIDER", c.LLM.EmbeddingProvider)
	c.LLM.OllamaURL = getEnv("ENGRAM_OLLAMA_URL", c.LLM.OllamaURL)
	c.LLM.OllamaModel = getEnv("ENGRAM_OLLAMA_MODEL", c.LLM.OllamaModel)
	c.LLM.OllamaEmbeddingModel = getEnv("ENGRAM_OLLAMA_EMBEDDING_MODEL", c.LLM.OllamaEmbeddingModel)
	c.LLM.OpenAIAPIKey = getEnv("ENGRAM_OPENAI_API_KEY", c.LLM.OpenAIAPIKey)
	c.LLM.OpenAIModel = getEnv("ENGRAM_OPENAI_MODEL", c.LLM.OpenAIModel)
	c.LLM.OpenAIBaseURL = getEnv("ENGRAM_OPENAI_BASE_URL", c.LLM.OpenAIBaseURL)
	c.LLM.OpenAIEmbeddingModel = getEnv("ENGRAM_OPENAI_EMBEDDING_MODEL", c.LLM.OpenAIEmbeddingModel)
	c.LLM.OpenAIEmbeddingDims = getEnvInt("ENGRAM_OPENAI_EMBEDDING_DIMENSIONS", c.LLM.OpenAIEmbeddingDims)
	c.LLM.AnthropicAPIKey = getEnv("ENGRAM_ANTHROPIC_API_KEY", c.LLM.AnthropicAPIKey)
	c.LLM.AnthropicModel = getEnv("ENGRAM_ANTHROPIC_MODEL", c.LLM.AnthropicModel)
	c.LLM.Timeout = getEnvDuration("ENGRAM_LLM_TIMEOUT", c.LLM.Timeout)
	c.LLM.RequestsPerSecond = getEnvFloat("ENGRAM_LLM_REQUESTS_PER_SECOND", c.LLM.RequestsPerSecond)
	c.LLM.ConfidenceThreshold = getEnvFloat("ENGRAM_CONFIDENCE_THRESHOLD", c.LLM.ConfidenceThreshold)
	c.LLM.Judge = getEnvBool("ENGRAM_JUDGE", c.LLM.Judge)

	c.Engine.ConflictThreshold = getEnvFloat("ENGRAM_CONFLICT_THRESHOLD", c.Engine.ConflictThreshold)
	c.Engine.DuplicateThreshold = getEnvFloat("ENGRAM_DUPLICATE_THRESHOLD", c.Engine.DuplicateThreshold)
	c.Engine.SimilarLimit = getEnvInt("ENGRAM_SIMILAR_LIMIT", c.Engine.SimilarLimit)
	c.Engine.TopK = getEnvInt("ENGRAM_TOP_K", c.Engine.TopK)
	c.Engine.RelevanceThreshold = getEnvFloat("ENGRAM_RELEVANCE_THRESHOLD", c.Engine.RelevanceThreshold)
	c.Engine.TokenBudget = getEnvInt("ENGRAM_TOKEN_BUDGET", c.Engine.TokenBudget)
	c.Engine.HistoryWindow = getEnvInt("ENGRAM_HISTORY_WINDOW", c.Engine.HistoryWindow)
	c.Engine.BackgroundTimeout = getEnvDuration("ENGRAM_BACKGROUND_TIMEOUT", c.Engine.BackgroundTimeout)
	c.Engine.QueueSize = getEnvInt("ENGRAM_QUEUE_SIZE", c.Engine.QueueSize)
	c.Engine.SystemPrompt = getEnv("ENGRAM_SYSTEM_PROMPT", c.Engine.SystemPrompt)

	c.Security.APIToken = getEnv("ENGRAM_API_TOKEN", c.Security.APIToken)

	c.Backup.Dir = getEnv("ENGRAM_BACKUP_DIR", c.Backup.Dir)
	c.Backup.Interval = getEnvDuration("ENGRAM_BACKUP_INTERVAL", c.Backup.Interval)
	c.Backup.Schedule = getEnv("ENGRAM_BACKUP_SCHEDULE", c.Backup.Schedule)
	c.Backup.Verify = getEnvBool("ENGRAM_BACKUP_VERIFY", c.Backup.Verify)

	c.Log.Level = getEnv("ENGRAM_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("ENGRAM_LOG_FORMAT", c.Log.Format)
	c.Log.TurnLog = getEnv("ENGRAM_TURN_LOG", c.Log.TurnLog)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be in [1,65535], got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("config: server.rate_limit must be >= 0, got %v", c.Server.RateLimit)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return fmt.Errorf("config: server.rate_burst must be >= 1, got %d", c.Server.RateBurst)
	}
	if c.Storage.DataPath == "" {
		return errors.New("config: storage.data_path is required")
	}
	switch c.Storage.IndexBackend {
	case IndexChromem:
	case IndexPgvector:
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: storage.postgres_dsn is required for the pgvector backend")
		}
	default:
		return fmt.Errorf("config: unknown storage.index_backend %q", c.Storage.IndexBackend)
	}
	if err := c.TieredConfig().Validate(); err != nil {
		return fmt.Errorf("config: storage: %w", err)
	}

	for _, p := range []string{c.LLM.Provider, c.extractionProvider()} {
		switch p {
		case llm.ProviderAnthropic, llm.ProviderOpenAI, llm.ProviderOllama:
		default:
			return fmt.Errorf("config: unsupported llm provider %q", p)
		}
	}
	switch c.LLM.EmbeddingProvider {
	case llm.ProviderHash, llm.ProviderOllama, llm.ProviderOpenAI:
	default:
		return fmt.Errorf("config: unsupported embedding provider %q", c.LLM.EmbeddingProvider)
	}
	if c.LLM.OpenAIEmbeddingDims < 0 {
		return fmt.Errorf("config: llm.openai_embedding_dimensions must be >= 0, got %d", c.LLM.OpenAIEmbeddingDims)
	}
	if c.LLM.ConfidenceThreshold < 0 || c.LLM.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: llm.confidence_threshold must be in [0,1], got %v", c.LLM.ConfidenceThreshold)
	}
	if err := c.EngineConfig().Validate(); err != nil {
		return fmt.Errorf("config: engine: %w", err)
	}

	if c.Backup.Interval < 0 {
		return fmt.Errorf("config: backup.interval must be >= 0, got %v", c.Backup.Interval)
	}
	if c.Backup.Schedule != "" {
		if _, err := cron.ParseStandard(c.Backup.Schedule); err != nil {
			return fmt.Errorf("config: backup.schedule: %w", err)
		}
	}
	for name, n := range map[string]int{
		"hourly": c.Backup.Hourly, "daily": c.Backup.Daily, "weekly": c.Backup.Weekly, "monthly": c.Backup.Monthly,
	} {
		if n < 0 {
			return fmt.Errorf("config: backup.%s must be >= 0, got %d", name, n)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log.format %q", c.Log.Format)
	}
	return nil
}

// DatabasePath returns the SQLite file location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataPath, DatabaseFile)
}

// Scheduled reports whether serve should take periodic snapshots.
func (b BackupConfig) Scheduled() bool {
	return b.Interval > 0 || b.Schedule != ""
}

// BackupConfig maps the backup section onto backup.Config.
func (c *Config) BackupConfig() backup.Config {
	dir := c.Backup.Dir
	if dir == "" {
		dir = filepath.Join(c.Storage.DataPath, "backups")
	}
	return backup.Config{
		DBPath:   c.DatabasePath(),
		Dir:      dir,
		Interval: c.Backup.Interval,
		Schedule: c.Backup.Schedule,
		Verify:   c.Backup.Verify,
		Retention: backup.RetentionPolicy{
			Hourly:  c.Backup.Hourly,
			Daily:   c.Backup.Daily,
			Weekly:  c.Backup.Weekly,
			Monthly: c.Backup.Monthly,
		},
	}
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// EngineConfig maps the engine section onto engine.Config.
func (c *Config) EngineConfig() engine.Config {
	ec := engine.DefaultConfig()
	ec.ConflictThreshold = c.Engine.ConflictThreshold
	ec.DuplicateThreshold = c.Engine.DuplicateThreshold
	ec.SimilarLimit = c.Engine.SimilarLimit
	ec.TopKSemantic = c.Engine.TopK
	ec.RelevanceThreshold = c.Engine.RelevanceThreshold
	ec.TokenBudget = c.Engine.TokenBudget
	ec.HistoryWindow = c.Engine.HistoryWindow
	ec.BackgroundTimeout = c.Engine.BackgroundTimeout
	ec.QueueSize = c.Engine.QueueSize
	return ec
}

// TieredConfig maps the storage section onto tiered.Config.
func (c *Config) TieredConfig() tiered.Config {
	return tiered.Config{
		RecentSize:   c.Storage.RecentSize,
		DecayPerTurn: c.Storage.DecayPerTurn,
		RecallBoost:  c.Storage.RecallBoost,
	}
}

// ChatProvider returns the provider settings for response generation.
func (c *Config) ChatProvider() llm.ProviderConfig {
	return c.provider(c.LLM.Provider)
}

// ExtractionProvider returns the provider settings for extraction and the
// conflict judge.
func (c *Config) ExtractionProvider() llm.ProviderConfig {
	return c.provider(c.extractionProvider())
}

// EmbeddingProvider returns the provider settings for the embedder.
func (c *Config) EmbeddingProvider() llm.ProviderConfig {
	pc := llm.ProviderConfig{
		Provider:          c.LLM.EmbeddingProvider,
		Timeout:           c.LLM.Timeout,
		RequestsPerSecond: c.LLM.RequestsPerSecond,
	}
	switch c.LLM.EmbeddingProvider {
	case llm.ProviderOllama:
		pc.BaseURL = c.LLM.OllamaURL
		pc.Model = c.LLM.OllamaEmbeddingModel
	case llm.ProviderOpenAI:
		pc.APIKey = c.LLM.OpenAIAPIKey
		pc.BaseURL = c.LLM.OpenAIBaseURL
		pc.Model = c.LLM.OpenAIEmbeddingModel
		pc.Dimensions = c.LLM.OpenAIEmbeddingDims
	}
	return pc
}

func (c *Config) extractionProvider() string {
	if c.LLM.ExtractionProvider != "" {
		return c.LLM.ExtractionProvider
	}
	return c.LLM.Provider
}

func (c *Config) provider(name string) llm.ProviderConfig {
	pc := llm.ProviderConfig{
		Provider:          name,
		Timeout:           c.LLM.Timeout,
		RequestsPerSecond: c.LLM.RequestsPerSecond,
	}
	switch name {
	case llm.ProviderAnthropic:
		pc.APIKey = c.LLM.AnthropicAPIKey
		pc.Model = c.LLM.AnthropicModel
	case llm.ProviderOpenAI:
		pc.APIKey = c.LLM.OpenAIAPIKey
		pc.Model = c.LLM.OpenAIModel
		pc.BaseURL = c.LLM.OpenAIBaseURL
	case llm.ProviderOllama:
		pc.BaseURL = c.LLM.OllamaURL
		pc.Model = c.LLM.OllamaModel
	}
	return pc
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration such as "5s" or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
