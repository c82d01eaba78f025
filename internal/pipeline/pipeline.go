// Package pipeline is the orchestration layer: it resolves voices and
// processing chains, consults the caches, retries provider failures, and
// drives synthesis, processing and chapter assembly for its callers.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/maauso/audiobook-forge/internal/audio"
	"github.com/maauso/audiobook-forge/internal/cache"
	"github.com/maauso/audiobook-forge/internal/dsp"
	"github.com/maauso/audiobook-forge/internal/synth"
)

// Defaults for the orchestration layer.
const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 500 * time.Millisecond
	DefaultPreset       = "audiobook"
)

// Static errors for the orchestration layer.
var (
	// ErrNotSpeech is returned when audio is requested for a non-speech segment.
	ErrNotSpeech = errors.New("pipeline: segment is not speech")
	// ErrNoVoice is returned when a segment has neither a voice id nor a character.
	ErrNoVoice = errors.New("pipeline: segment has no voice id or character")
	// ErrUnknownNamespace is returned by the cache operations for unknown namespaces.
	ErrUnknownNamespace = errors.New("pipeline: unknown cache namespace")
	// ErrWaveformRequired is returned when processing is requested without input audio.
	ErrWaveformRequired = errors.New("pipeline: waveform path is required")
)

// Progress is a coarse progress report.
type Progress struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage"`
}

// ProgressFunc receives progress reports. It is called synchronously and
// must return quickly.
type ProgressFunc func(Progress)

// Option configures a Service.
type Option func(*Service)

// WithCasting sets the character to voice assignments.
func WithCasting(c synth.Casting) Option {
	return func(s *Service) {
		s.casting = c
	}
}

// WithPresets sets the named processing chains.
func WithPresets(p *dsp.Presets) Option {
	return func(s *Service) {
		if p != nil {
			s.presets = p
		}
	}
}

// WithDefaultPreset sets the chain used when a request names none.
func WithDefaultPreset(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.defaultPreset = name
		}
	}
}

// WithRetry sets how often and how patiently provider failures are retried.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(s *Service) {
		if maxRetries >= 0 {
			s.maxRetries = maxRetries
		}
		if backoff > 0 {
			s.backoff = backoff
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service runs the pipeline operations.
type Service struct {
	synthesizer synth.Synthesizer
	ttsCache    *cache.Store
	procCache   *cache.Store
	engine      *dsp.Engine
	assembler   *audio.Assembler

	casting       synth.Casting
	presets       *dsp.Presets
	defaultPreset string
	maxRetries    int
	backoff       time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
	logger        *slog.Logger

	group singleflight.Group

	mu       sync.Mutex
	seq      uint64
	inflight map[string]map[uint64]context.CancelFunc
}

// NewService wires the pipeline components. procCache must be the store the
// engine writes to.
func NewService(synthesizer synth.Synthesizer, ttsCache, procCache *cache.Store, engine *dsp.Engine, assembler *audio.Assembler, opts ...Option) *Service {
	s := &Service{
		synthesizer:   synthesizer,
		ttsCache:      ttsCache,
		procCache:     procCache,
		engine:        engine,
		assembler:     assembler,
		casting:       synth.Casting{},
		presets:       dsp.DefaultPresets(),
		defaultPreset: DefaultPreset,
		maxRetries:    DefaultMaxRetries,
		backoff:       DefaultRetryBackoff,
		sleep:         sleepContext,
		logger:        slog.Default(),
		inflight:      make(map[string]map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "pipeline"))
	return s
}

// Presets returns the preset registry.
func (s *Service) Presets() *dsp.Presets {
	return s.presets
}

// DefaultPreset returns the preset used when a request names none.
func (s *Service) DefaultPreset() string {
	return s.defaultPreset
}

// Cancel stops every in-flight operation started with jobID and reports
// whether there was one.
func (s *Service) Cancel(jobID string) bool {
	s.mu.Lock()
	set := s.inflight[jobID]
	for _, cancel := range set {
		cancel()
	}
	s.mu.Unlock()

	engineCancelled := s.engine.Cancel(jobID)
	return len(set) > 0 || engineCancelled
}

// track derives a cancellable context registered under jobID.
func (s *Service) track(ctx context.Context, jobID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	if jobID == "" {
		return ctx, cancel
	}

	s.mu.Lock()
	s.seq++
	id := s.seq
	if s.inflight[jobID] == nil {
		s.inflight[jobID] = make(map[uint64]context.CancelFunc)
	}
	s.inflight[jobID][id] = cancel
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		delete(s.inflight[jobID], id)
		if len(s.inflight[jobID]) == 0 {
			delete(s.inflight, jobID)
		}
		s.mu.Unlock()
		cancel()
	}
}

// reporter wraps fn so callers may pass nil and progress never moves backwards.
func reporter(fn ProgressFunc) func(percent int, stage string) {
	var mu sync.Mutex
	last := -1
	return func(percent int, stage string) {
		if fn == nil {
			return
		}
		mu.Lock()
		if percent < last {
			percent = last
		}
		last = percent
		mu.Unlock()
		fn(Progress{Percent: percent, Stage: stage})
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
