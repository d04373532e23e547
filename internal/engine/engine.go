package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/internal/storage/tiered"
	"github.com/scrypster/engram/pkg/types"
)

// ErrClosed is returned by operations on a closed Engine.
var ErrClosed = errors.New("engine closed")

// DefaultSystemPrompt is the base system prompt used when none is configured.
const DefaultSystemPrompt = "You are a helpful assistant."

// Engine orchestrates dialogue turns: retrieval and generation on the calling
// goroutine, curation and decay on a single background worker.
//
// All store mutations happen under writeMu, including the recall boosts
// applied during retrieval. Turns are serialized by turnMu.
type Engine struct {
	cfg       Config
	store     *tiered.Store
	turns     storage.TurnStore
	extractor Extractor
	generator Generator
	resolver  Resolver
	system    string
	logger    *slog.Logger
	turnLog   *slog.Logger
	onAmended func(*types.TurnResult)

	turnMu  sync.Mutex
	writeMu sync.Mutex

	curator   *Curator
	retriever *Retriever

	stateMu sync.RWMutex
	turn    int
	history []types.Message

	jobs    chan *curationJob
	wg      sync.WaitGroup
	pending atomic.Int64
	closed  bool

	workerCtx    context.Context
	workerCancel context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTurnLog records one structured entry per completed turn on l.
func WithTurnLog(l *slog.Logger) Option {
	return func(e *Engine) { e.turnLog = l }
}

// WithConflictResolver replaces the curator's heuristic resolver.
func WithConflictResolver(r Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithSystemPrompt sets the base system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(e *Engine) {
		if prompt != "" {
			e.system = prompt
		}
	}
}

// WithOnTurnAmended registers a callback fired when a turn's background
// curation finishes after the turn already returned. The callback receives
// the amended turn record and runs on the worker goroutine.
func WithOnTurnAmended(fn func(*types.TurnResult)) Option {
	return func(e *Engine) { e.onAmended = fn }
}

// WithStartTurn resumes the turn counter after n, typically the latest
// persisted turn. Non-positive values are ignored.
func WithStartTurn(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.turn = n
		}
	}
}

// Stats is a point-in-time summary of the engine state.
type Stats struct {
	Turn          int            `json:"turn"`
	TotalMemories int            `json:"total_memories"`
	ByKind        map[string]int `json:"by_kind"`
	ByStatus      map[string]int `json:"by_status"`
	AverageHeat   float64        `json:"average_heat"`
	HistoryLength int            `json:"history_length"`
	PendingJobs   int            `json:"pending_jobs"`
}

// curationJob is one turn's background work. done is buffered so the worker
// never blocks on a caller that stopped waiting.
type curationJob struct {
	turn    int
	message string
	done    chan types.BackgroundOutcome

	// ready is closed once the turn is committed, or abandoned before it was.
	ready chan struct{}
	skip  bool

	mu        sync.Mutex
	finished  bool
	abandoned bool
}

// New creates an Engine and starts its background worker.
func New(store *tiered.Store, turns storage.TurnStore, extractor Extractor, generator Generator, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil || turns == nil {
		return nil, fmt.Errorf("%w: store and turn store are required", storage.ErrInvalidInput)
	}
	if extractor == nil || generator == nil {
		return nil, fmt.Errorf("%w: extractor and generator are required", storage.ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		store:     store,
		turns:     turns,
		extractor: extractor,
		generator: generator,
		system:    DefaultSystemPrompt,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.rebuild()
	e.startWorker()
	return e, nil
}

func (e *Engine) rebuild() {
	var opts []CuratorOption
	if e.resolver != nil {
		opts = append(opts, WithResolver(e.resolver))
	}
	e.curator = NewCurator(e.store, e.cfg, e.logger, opts...)
	e.retriever = NewRetriever(e.store, e.cfg, e.logger)
}

func (e *Engine) startWorker() {
	e.jobs = make(chan *curationJob, e.cfg.QueueSize)
	e.workerCtx, e.workerCancel = context.WithCancel(context.Background())
	e.wg.Add(1)
	go e.worker(e.jobs)
}

// stopWorker drains queued jobs and waits for the worker to exit.
// Callers must hold turnMu.
func (e *Engine) stopWorker() {
	close(e.jobs)
	e.wg.Wait()
	e.workerCancel()
}

// Chat runs one dialogue turn for message.
func (e *Engine) Chat(ctx context.Context, message string) (*types.TurnResult, error) {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	// The queue slot is taken before any turn state changes, so a caller
	// that gives up waiting for it leaves nothing behind.
	job := &curationJob{message: message, ready: make(chan struct{}), done: make(chan types.BackgroundOutcome, 1)}
	e.pending.Add(1)
	select {
	case e.jobs <- job:
	case <-ctx.Done():
		e.pending.Add(-1)
		return nil, ctx.Err()
	}
	released := false
	defer func() {
		if !released {
			job.release(false)
		}
	}()

	e.stateMu.Lock()
	e.turn++
	turn := e.turn
	history := SanitizeHistory(e.history)
	e.stateMu.Unlock()

	e.writeMu.Lock()
	retrieval, err := e.retriever.Retrieve(ctx, message, turn)
	e.writeMu.Unlock()
	if err != nil {
		e.stateMu.Lock()
		e.turn--
		e.stateMu.Unlock()
		return nil, fmt.Errorf("turn %d: %w", turn, err)
	}

	response := e.generator.Generate(ctx, BuildSystemPrompt(e.system, retrieval), message, history)
	if types.IsErrorTagged(response) {
		e.logger.Warn("generation failed", "turn", turn, "response", response)
	}

	e.stateMu.Lock()
	e.history = AppendHistory(e.history, message, response, e.cfg.HistoryWindow)
	e.stateMu.Unlock()

	result := &types.TurnResult{
		Turn:         turn,
		UserMessage:  message,
		Response:     response,
		MemoriesUsed: retrieval.Memories,
		PromptBlock:  retrieval.PromptBlock,
		CuratorOps:   types.NewOperationCounts(),
		Pending:      true,
		CreatedAt:    start.UTC(),
	}
	result.Latency = time.Since(start)

	if err := e.turns.SaveTurn(context.WithoutCancel(ctx), result); err != nil {
		e.logger.Warn("failed to save turn", "turn", turn, "error", err)
	}

	job.turn = turn
	job.release(true)
	released = true

	timer := time.NewTimer(e.cfg.BackgroundTimeout)
	defer timer.Stop()

	select {
	case out := <-job.done:
		result.Merge(out, time.Now().UTC())
	case <-timer.C:
		if out, ok := job.abandon(); ok {
			result.Merge(out, time.Now().UTC())
		} else {
			e.logger.Warn("background curation timed out", "turn", turn, "timeout", e.cfg.BackgroundTimeout)
		}
	case <-ctx.Done():
		job.abandon()
		return nil, ctx.Err()
	}

	result.Latency = time.Since(start)
	e.logTurn(result)
	return result, nil
}

// release lets the worker start the job. A job released with run false is
// dropped without touching the store or the turn record.
func (j *curationJob) release(run bool) {
	j.skip = !run
	close(j.ready)
}

// abandon marks the job as no longer awaited. If the worker already finished,
// its outcome is returned instead.
func (j *curationJob) abandon() (types.BackgroundOutcome, bool) {
	j.mu.Lock()
	finished := j.finished
	if !finished {
		j.abandoned = true
	}
	j.mu.Unlock()

	if finished {
		return <-j.done, true
	}
	return types.BackgroundOutcome{}, false
}

// finish reports whether a caller is still waiting for the outcome.
func (j *curationJob) finish(out types.BackgroundOutcome) bool {
	j.mu.Lock()
	j.finished = true
	waiting := !j.abandoned
	j.mu.Unlock()

	if waiting {
		j.done <- out
	}
	return waiting
}

func (e *Engine) worker(jobs <-chan *curationJob) {
	defer e.wg.Done()
	for job := range jobs {
		<-job.ready
		if !job.skip {
			e.runJob(job)
		}
		e.pending.Add(-1)
	}
}

func (e *Engine) runJob(job *curationJob) {
	ctx := e.workerCtx

	extraction := e.extractor.Extract(ctx, job.message, job.turn)

	e.writeMu.Lock()
	decisions, err := e.curator.Process(ctx, extraction.FilteredIn, job.turn)
	if err != nil {
		e.logger.Error("curation failed", "turn", job.turn, "error", err)
	}
	evicted, err := e.curator.RunDecay(ctx, job.turn)
	if err != nil {
		e.logger.Error("decay failed", "turn", job.turn, "error", err)
	}
	added := e.curator.Changed(decisions)
	e.writeMu.Unlock()

	out := types.BackgroundOutcome{
		Extracted:     len(extraction.Candidates),
		MemoriesAdded: added,
		Evicted:       evicted,
		CuratorOps:    types.Tally(decisions),
	}

	late := !job.finish(out)
	if err := e.turns.CompleteTurn(ctx, job.turn, out, late); err != nil {
		e.logger.Warn("failed to complete turn record", "turn", job.turn, "error", err)
	}
	if !late {
		return
	}

	e.logger.Info("late curation result",
		"turn", job.turn, "extracted", out.Extracted,
		"added", len(out.MemoriesAdded), "evicted", len(out.Evicted))

	if e.onAmended == nil {
		return
	}
	amended, err := e.turns.GetTurn(ctx, job.turn)
	if err != nil {
		e.logger.Warn("failed to load amended turn", "turn", job.turn, "error", err)
		return
	}
	e.onAmended(amended)
}

func (e *Engine) logTurn(r *types.TurnResult) {
	if e.turnLog == nil {
		return
	}
	e.turnLog.Info("turn",
		"turn", r.Turn,
		"latency_ms", r.Latency.Milliseconds(),
		"memories_used", len(r.MemoriesUsed),
		"memories_added", len(r.MemoriesAdded),
		"evicted", len(r.Evicted),
		"extracted", r.Extracted,
		"curator_ops", r.CuratorOps,
		"pending", r.Pending,
		"error", types.IsErrorTagged(r.Response))
}

// Reset drains the background worker and clears every memory, every turn
// record, the turn counter and the history. The durable location is kept.
func (e *Engine) Reset(ctx context.Context) error {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	if e.closed {
		return ErrClosed
	}

	e.stopWorker()
	defer e.startWorker()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	if err := e.turns.Purge(ctx); err != nil {
		return fmt.Errorf("failed to purge turns: %w", err)
	}
	e.rebuild()

	e.stateMu.Lock()
	e.turn = 0
	e.history = nil
	e.stateMu.Unlock()

	e.logger.Info("engine reset")
	return nil
}

// InjectMemory seeds a memory through the curator, as if it had been
// extracted on the current turn. A non-positive confidence uses the
// configured default.
func (e *Engine) InjectMemory(ctx context.Context, kind types.Kind, key, value string, confidence float64) (types.Decision, error) {
	if !kind.IsValid() {
		return types.Decision{}, fmt.Errorf("%w: unknown kind %q", storage.ErrInvalidInput, kind)
	}
	if types.NormalizeKey(key) == "" || value == "" {
		return types.Decision{}, fmt.Errorf("%w: key and value are required", storage.ErrInvalidInput)
	}
	if confidence <= 0 {
		confidence = e.cfg.InjectConfidence
	}

	turn := e.CurrentTurn()
	m := types.NewMemory(kind, key, value, turn, confidence)

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	decisions, err := e.curator.Process(ctx, []*types.Memory{m}, turn)
	if len(decisions) == 0 {
		return types.Decision{}, err
	}
	return decisions[0], err
}

// MemoriesByKind returns the stored memories of kind.
func (e *Engine) MemoriesByKind(kind types.Kind) []*types.Memory {
	return e.store.GetByKind(kind)
}

// Snapshot returns every stored memory, hottest first.
func (e *Engine) Snapshot() []*types.Memory {
	return e.store.Snapshot()
}

// Turn loads the recorded result of turn n.
func (e *Engine) Turn(ctx context.Context, n int) (*types.TurnResult, error) {
	return e.turns.GetTurn(ctx, n)
}

// Turns lists the most recent turn records, newest first.
func (e *Engine) Turns(ctx context.Context, limit int) ([]*types.TurnResult, error) {
	return e.turns.ListTurns(ctx, limit)
}

// CurrentTurn returns the number of the last turn.
func (e *Engine) CurrentTurn() int {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.turn
}

// History returns a copy of the rolling dialogue history.
func (e *Engine) History() []types.Message {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return append([]types.Message(nil), e.history...)
}

// Stats summarizes the engine state.
func (e *Engine) Stats() Stats {
	s := Stats{
		ByKind:      make(map[string]int),
		ByStatus:    make(map[string]int),
		PendingJobs: int(e.pending.Load()),
	}
	e.stateMu.RLock()
	s.Turn = e.turn
	s.HistoryLength = len(e.history)
	e.stateMu.RUnlock()

	var heat float64
	for _, m := range e.store.Snapshot() {
		s.TotalMemories++
		s.ByKind[m.Kind.String()]++
		s.ByStatus[m.Status.String()]++
		heat += m.Heat
	}
	if s.TotalMemories > 0 {
		s.AverageHeat = heat / float64(s.TotalMemories)
	}
	return s
}

// Close stops the background worker after draining queued jobs. It does not
// close the store.
func (e *Engine) Close() error {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.stopWorker()
	return nil
}
