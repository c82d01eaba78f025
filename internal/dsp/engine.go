package dsp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maauso/audiobook-forge/internal/cache"
	"github.com/maauso/audiobook-forge/internal/failure"
	"github.com/maauso/audiobook-forge/internal/media"
	"github.com/maauso/audiobook-forge/internal/storage"
)

// Static errors for the engine.
var (
	// ErrKeyRequired is returned when Apply is called without a cache key.
	ErrKeyRequired = errors.New("dsp: cache key is required")
	// ErrNoOutput is returned when the tool reported success but produced no usable file.
	ErrNoOutput = errors.New("dsp: tool reported success but output is missing or corrupt")
)

// ApplyOptions are per-call settings for Apply.
type ApplyOptions struct {
	// JobID lets Cancel stop this call. Optional.
	JobID string
	// Fields are stored in the cache entry metadata.
	Fields map[string]string
}

// Result is the outcome of Apply.
type Result struct {
	Key        string `json:"key"`
	OutputPath string `json:"outputPath"`
	Cached     bool   `json:"cached"`
}

// Engine renders chains through ffmpeg and caches the results.
type Engine struct {
	runner  *media.Runner
	store   *cache.Store
	scratch storage.Scratch
	format  Format
	logger  *slog.Logger

	mu       sync.Mutex
	seq      uint64
	inflight map[string]map[uint64]context.CancelFunc
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithFormat sets the output sample rate and channel count.
func WithFormat(f Format) EngineOption {
	return func(e *Engine) {
		e.format = f
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an Engine that runs runner's tool, stages inputs in
// scratch and registers outputs in store.
func NewEngine(runner *media.Runner, store *cache.Store, scratch storage.Scratch, opts ...EngineOption) *Engine {
	e := &Engine{
		runner:   runner,
		store:    store,
		scratch:  scratch,
		format:   Format{SampleRate: 44100},
		logger:   slog.Default(),
		inflight: make(map[string]map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "dsp"))
	return e
}

// Apply returns the processed audio for waveform under chain. A cache hit
// returns immediately without running the tool. On a miss the tool runs once
// and its output is registered under key only after it has been verified.
func (e *Engine) Apply(ctx context.Context, waveform io.Reader, chain Chain, key string, opts ApplyOptions) (Result, error) {
	const op = "dsp.apply"

	if key == "" {
		return Result{}, failure.Validation(op, ErrKeyRequired)
	}
	if err := chain.Validate(); err != nil {
		return Result{}, failure.Validation(op, err)
	}

	entry, err := e.store.Get(ctx, key)
	if err == nil {
		e.logger.Debug("processing cache hit", slog.String("key", key))
		return Result{Key: key, OutputPath: entry.Path, Cached: true}, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		return Result{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.JobID != "" {
		defer e.register(opts.JobID, cancel)()
	}

	in, err := e.scratch.SaveTemp(ctx, "waveform.wav", waveform)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, failure.Cancelled(op, ctx.Err())
		}
		return Result{}, failure.Environment(op, fmt.Errorf("stage waveform: %w", err))
	}
	workDir, err := e.scratch.WorkDir(ctx, "dsp")
	if err != nil {
		_ = e.scratch.CleanupTemp(context.WithoutCancel(ctx), []string{in})
		if ctx.Err() != nil {
			return Result{}, failure.Cancelled(op, ctx.Err())
		}
		return Result{}, failure.Environment(op, fmt.Errorf("create work dir: %w", err))
	}
	defer func() {
		if err := e.scratch.CleanupTemp(context.WithoutCancel(ctx), []string{in, workDir}); err != nil {
			e.logger.Warn("failed to clean up scratch files", slog.String("error", err.Error()))
		}
	}()

	out := filepath.Join(workDir, "out.wav")
	start := time.Now()
	if err := e.runner.Run(ctx, op, BuildArgs(in, out, chain, e.format)); err != nil {
		return Result{}, err
	}

	if err := media.ValidateWAVFile(out); err != nil {
		return Result{}, failure.Integrity(op, fmt.Errorf("%w: %w", ErrNoOutput, err))
	}
	if err := ctx.Err(); err != nil {
		return Result{}, failure.Cancelled(op, err)
	}

	entry, err = e.store.PutFile(ctx, key, out, opts.Fields)
	if err != nil {
		if failure.Is(err, failure.KindValidation) {
			return Result{}, failure.Integrity(op, fmt.Errorf("%w: %w", ErrNoOutput, err))
		}
		return Result{}, err
	}

	e.logger.Info("processing chain applied",
		slog.String("key", key),
		slog.Int("filters", len(BuildFilters(chain))),
		slog.Duration("duration", time.Since(start)),
	)
	return Result{Key: key, OutputPath: entry.Path}, nil
}

// ApplyFile is Apply reading the waveform from a file.
func (e *Engine) ApplyFile(ctx context.Context, path string, chain Chain, key string, opts ApplyOptions) (Result, error) {
	f, err := os.Open(path) // #nosec G304 - paths come from the synthesis cache
	if err != nil {
		return Result{}, failure.Validation("dsp.apply", fmt.Errorf("open waveform: %w", err))
	}
	defer func() { _ = f.Close() }()
	return e.Apply(ctx, f, chain, key, opts)
}

// Cancel stops every in-flight Apply started with jobID, killing its tool
// process. It reports whether anything was cancelled.
func (e *Engine) Cancel(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.inflight[jobID]
	for _, cancel := range set {
		cancel()
	}
	return len(set) > 0
}

// register records cancel under jobID and returns the matching unregister func.
func (e *Engine) register(jobID string, cancel context.CancelFunc) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	id := e.seq
	if e.inflight[jobID] == nil {
		e.inflight[jobID] = make(map[uint64]context.CancelFunc)
	}
	e.inflight[jobID][id] = cancel

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.inflight[jobID], id)
		if len(e.inflight[jobID]) == 0 {
			delete(e.inflight, jobID)
		}
	}
}
