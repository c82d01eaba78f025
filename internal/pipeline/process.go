package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/maauso/audiobook-forge/internal/cache"
	"github.com/maauso/audiobook-forge/internal/dsp"
	"github.com/maauso/audiobook-forge/internal/failure"
)

const opProcess = "pipeline.process"

// ProcessRequest asks for a waveform rendered through a processing chain.
type ProcessRequest struct {
	// WaveformPath is the WAV file to process.
	WaveformPath string
	// Chain overrides Preset. When both are empty the default preset is used.
	Chain  *dsp.Chain
	Preset string
	// JobID lets Cancel stop this call. Optional.
	JobID string
}

// ApplyProcessing renders a waveform through a chain, reusing the cached
// result when the same audio was already processed with an equivalent chain.
func (s *Service) ApplyProcessing(ctx context.Context, req ProcessRequest, progress ProgressFunc) (dsp.Result, error) {
	report := reporter(progress)

	if strings.TrimSpace(req.WaveformPath) == "" {
		return dsp.Result{}, failure.Validation(opProcess, ErrWaveformRequired)
	}
	chain, err := s.resolveChain(req.Chain, req.Preset)
	if err != nil {
		return dsp.Result{}, err
	}

	ctx, done := s.track(ctx, req.JobID)
	defer done()

	report(10, "processing")
	res, err := s.process(ctx, req.WaveformPath, chain, req.JobID, nil)
	if err != nil {
		return dsp.Result{}, err
	}
	report(100, "done")
	return res, nil
}

// process derives the processing key from the waveform's content and the full
// chain, disabled stages included, and runs the engine at most once per key at a time.
func (s *Service) process(ctx context.Context, path string, chain dsp.Chain, jobID string, fields map[string]string) (dsp.Result, error) {
	hash, err := cache.FileHash(path)
	if err != nil {
		return dsp.Result{}, failure.Validation(opProcess, fmt.Errorf("read waveform: %w", err))
	}
	key, err := cache.ProcessingKey(hash, chain)
	if err != nil {
		return dsp.Result{}, failure.Validation(opProcess, err)
	}

	v, err := s.shared(ctx, key, func(ctx context.Context) (any, error) {
		return s.engine.ApplyFile(ctx, path, chain, key, dsp.ApplyOptions{JobID: jobID, Fields: fields})
	})
	if err != nil {
		return dsp.Result{}, err
	}
	return v.(dsp.Result), nil
}

// resolveChain picks the explicit chain, else the named preset, else the default preset.
func (s *Service) resolveChain(chain *dsp.Chain, preset string) (dsp.Chain, error) {
	if chain != nil {
		if err := chain.Validate(); err != nil {
			return dsp.Chain{}, failure.Validation(opProcess, err)
		}
		return *chain, nil
	}
	if preset == "" {
		preset = s.defaultPreset
	}
	c, err := s.presets.Get(preset)
	if err != nil {
		return dsp.Chain{}, failure.Validation(opProcess, err)
	}
	return c, nil
}
