package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/scrypster/engram/internal/config"
	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/internal/llm"
	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/internal/storage/chromem"
	"github.com/scrypster/engram/internal/storage/postgres"
	"github.com/scrypster/engram/internal/storage/sqlite"
	"github.com/scrypster/engram/internal/storage/tiered"
)

// app is a fully wired engine plus everything that must be released with it.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	engine *engine.Engine

	// closers run in reverse order after the engine stops.
	closers []func() error
}

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openApp wires storage, model clients and the engine from cfg. extra options
// are applied after the configured ones.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...engine.Option) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	durable, err := sqlite.NewMemoryStore(cfg.DatabasePath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.push(durable.Close)

	embedder, err := llm.NewEmbeddingGenerator(cfg.EmbeddingProvider(), cfg.Storage.EmbeddingCacheBytes)
	if err != nil {
		return nil, err
	}
	if cached, ok := embedder.(*llm.CachedEmbedder); ok {
		a.push(func() error { cached.Close(); return nil })
	}

	index, err := openIndex(ctx, cfg, embedder, logger)
	if err != nil {
		return nil, err
	}
	a.push(index.Close)

	tcfg := cfg.TieredConfig()
	tcfg.Logger = logger
	store, err := tiered.New(ctx, durable, index, tcfg)
	if err != nil {
		return nil, err
	}

	extractGen, err := llm.NewTextGenerator(cfg.ExtractionProvider())
	if err != nil {
		return nil, err
	}
	chatGen, err := llm.NewChatGenerator(cfg.ChatProvider())
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithSystemPrompt(cfg.Engine.SystemPrompt),
	}
	if cfg.LLM.Judge {
		opts = append(opts, engine.WithConflictResolver(engine.NewJudgeResolver(extractGen, logger)))
	}
	if cfg.Log.TurnLog != "" {
		turnLog, f, err := openTurnLog(cfg.Log.TurnLog)
		if err != nil {
			return nil, err
		}
		a.push(f.Close)
		opts = append(opts, engine.WithTurnLog(turnLog))
	}

	latest, err := durable.Turns().ListTurns(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to read turn log: %w", err)
	}
	if len(latest) > 0 {
		opts = append(opts, engine.WithStartTurn(latest[0].Turn))
	}
	opts = append(opts, extra...)

	eng, err := engine.New(store, durable.Turns(),
		llm.NewExtractor(extractGen, cfg.LLM.ConfidenceThreshold, logger),
		llm.NewResponder(chatGen),
		cfg.EngineConfig(), opts...)
	if err != nil {
		return nil, err
	}
	a.engine = eng

	logger.Debug("engine ready",
		"database", cfg.DatabasePath(),
		"index", cfg.Storage.IndexBackend,
		"provider", cfg.LLM.Provider,
		"embedder", cfg.LLM.EmbeddingProvider,
		"turn", eng.CurrentTurn())
	return a, nil
}

// openIndex opens the configured searchable tier. A pgvector table may hold
// rows from a previous run or another process, so it is emptied here and
// rebuilt from the durable tier.
func openIndex(ctx context.Context, cfg *config.Config, embedder llm.EmbeddingGenerator, logger *slog.Logger) (storage.SearchIndex, error) {
	switch cfg.Storage.IndexBackend {
	case config.IndexPgvector:
		idx, err := postgres.NewVectorIndex(ctx, cfg.Storage.PostgresDSN, embedder, logger)
		if err != nil {
			return nil, err
		}
		if err := idx.Truncate(ctx); err != nil {
			_ = idx.Close()
			return nil, err
		}
		return idx, nil
	default:
		return chromem.NewIndex(embedder)
	}
}

// openTurnLog opens path for appending and returns a JSON logger writing one
// line per turn.
func openTurnLog(path string) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create turn log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open turn log: %w", err)
	}
	return slog.New(slog.NewJSONHandler(f, nil)), f, nil
}

func (a *app) push(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close drains the engine's background work, then releases storage.
func (a *app) Close() error {
	var errs []error
	if a.engine != nil {
		errs = append(errs, a.engine.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
