// Package bootstrap provides dependency initialization for audiobook-forge.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/audiobook-forge/internal/audio"
	"github.com/maauso/audiobook-forge/internal/cache"
	"github.com/maauso/audiobook-forge/internal/config"
	"github.com/maauso/audiobook-forge/internal/dsp"
	"github.com/maauso/audiobook-forge/internal/failure"
	"github.com/maauso/audiobook-forge/internal/job"
	"github.com/maauso/audiobook-forge/internal/media"
	"github.com/maauso/audiobook-forge/internal/notify"
	"github.com/maauso/audiobook-forge/internal/pipeline"
	"github.com/maauso/audiobook-forge/internal/storage"
	"github.com/maauso/audiobook-forge/internal/synth"
)

// Dependencies holds all initialized dependencies for the server and CLI.
type Dependencies struct {
	Pipeline *pipeline.Service
	Jobs     *job.Service
	Scratch  storage.Scratch
	Events   *notify.Broadcaster
	// HealthChecks names the optional links reported by GET /health.
	HealthChecks map[string]func() bool

	closers []func() error
}

// NewDependencies creates and initializes all dependencies for the application.
// Without synthesis credentials the pipeline still assembles and processes
// audio; synthesis calls fail with a configuration error.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Dependencies, err error) {
	deps := &Dependencies{HealthChecks: make(map[string]func() bool)}
	defer func() {
		if err != nil {
			_ = deps.closeAll()
		}
	}()

	// Initialize storage
	scratch, publisher, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps.Scratch = scratch

	// Resolve external tools
	ffmpeg, err := media.Resolve(cfg.FFmpegName, cfg.ToolsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve ffmpeg: %w", err)
	}
	dspTool, err := media.Resolve(cfg.DSPToolName, cfg.ToolsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve processing tool: %w", err)
	}
	var prober *media.Prober
	if ffprobe, err := media.Resolve(cfg.FFprobeName, cfg.ToolsDir); err != nil {
		logger.Warn("ffprobe not found, chapter durations will be omitted", slog.String("error", err.Error()))
	} else {
		prober = media.NewProber(ffprobe, logger)
	}
	logger.Info("tools resolved",
		slog.String("ffmpeg", ffmpeg.Path),
		slog.Bool("ffmpeg_bundled", ffmpeg.Bundled),
		slog.String("dsp_tool", dspTool.Path),
	)

	ttsCache, procCache, err := NewCaches(cfg, logger)
	if err != nil {
		return nil, err
	}

	presets, err := LoadPresets(cfg)
	if err != nil {
		return nil, err
	}

	casting := synth.Casting{}
	if cfg.CastingFile != "" {
		if casting, err = synth.LoadCasting(cfg.CastingFile); err != nil {
			return nil, err
		}
		logger.Info("casting loaded", slog.Int("characters", len(casting)))
	}

	synthesizer, err := initSynthesizer(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Chapter notifications
	var downstream []notify.Notifier
	if cfg.NATSEnabled() {
		nc, err := notify.ConnectNATS(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
		if err != nil {
			return nil, fmt.Errorf("connect NATS: %w", err)
		}
		deps.closers = append(deps.closers, func() error { nc.Close(); return nil })
		downstream = append(downstream, nc)
		deps.HealthChecks["nats"] = nc.Healthy
		logger.Info("chapter notifications enabled", slog.String("subject", nc.Subject()))
	}
	deps.Events = notify.NewBroadcaster(logger, downstream...)

	engine := dsp.NewEngine(media.NewRunner(dspTool, logger), procCache, scratch,
		dsp.WithFormat(dsp.Format{SampleRate: cfg.OutputSampleRate, Channels: cfg.OutputChannels}),
		dsp.WithLogger(logger),
	)

	assemblerOpts := []audio.Option{
		audio.WithSFXDir(cfg.SFXDir()),
		audio.WithFormat(cfg.OutputSampleRate, cfg.OutputChannels),
		audio.WithNotifier(deps.Events),
		audio.WithLogger(logger),
	}
	if publisher != nil {
		assemblerOpts = append(assemblerOpts, audio.WithPublisher(publisher))
	}
	assembler := audio.NewAssembler(media.NewRunner(ffmpeg, logger), prober, scratch, cfg.ChaptersDir(), assemblerOpts...)

	deps.Pipeline = pipeline.NewService(synthesizer, ttsCache, procCache, engine, assembler,
		pipeline.WithCasting(casting),
		pipeline.WithPresets(presets),
		pipeline.WithDefaultPreset(cfg.DefaultPreset),
		pipeline.WithRetry(cfg.MaxRetries, cfg.RetryBackoff()),
		pipeline.WithLogger(logger),
	)

	repo, err := initJobRepository(ctx, cfg, logger, deps)
	if err != nil {
		return nil, err
	}
	deps.Jobs = job.NewService(repo,
		job.WithJobTimeout(cfg.JobTimeout()),
		job.WithServiceLogger(logger),
	)

	return deps, nil
}

// Close stops running jobs and releases connections.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	if d.Jobs != nil {
		if err := d.Jobs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown jobs: %w", err))
		}
	}
	if err := d.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *Dependencies) closeAll() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// NewCaches opens the synthesis and processing cache namespaces.
func NewCaches(cfg *config.Config, logger *slog.Logger) (tts, processed *cache.Store, err error) {
	opts := []cache.Option{
		cache.WithRetention(cfg.CacheRetention()),
		cache.WithLogger(logger),
	}
	tts, err = cache.NewStore(cfg.CacheDir, cache.NamespaceSynthesis, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("open synthesis cache: %w", err)
	}
	processed, err = cache.NewStore(cfg.CacheDir, cache.NamespaceProcessing, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("open processing cache: %w", err)
	}
	return tts, processed, nil
}

// LoadPresets returns the built-in presets merged with PRESETS_FILE and
// checks that the default preset exists.
func LoadPresets(cfg *config.Config) (*dsp.Presets, error) {
	presets := dsp.DefaultPresets()
	if cfg.PresetsFile != "" {
		if err := presets.LoadFile(cfg.PresetsFile); err != nil {
			return nil, err
		}
	}
	if _, err := presets.Get(cfg.DefaultPreset); err != nil {
		return nil, fmt.Errorf("default preset: %w", err)
	}
	return presets, nil
}

// initStorage creates the scratch area and, when S3 is configured, the
// publisher for finished chapters.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.LocalStorage, storage.Publisher, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			KeyPrefix:       cfg.S3KeyPrefix,
		}
		s3Store, err := storage.NewS3Storage(ctx, cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 publishing configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store.LocalStorage, s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil, nil
}

func initSynthesizer(cfg *config.Config, logger *slog.Logger) (synth.Synthesizer, error) {
	if err := cfg.Validate(); err != nil {
		logger.Warn("speech synthesis disabled", slog.String("reason", err.Error()))
		return unconfiguredSynthesizer{err: err}, nil
	}

	opts := []synth.ClientOption{
		synth.WithTimeout(cfg.TTSTimeout()),
		synth.WithRateLimit(cfg.TTSRequestsPerSec),
		synth.WithLogger(logger),
	}
	if len(cfg.TTSTokenEndpoints) > 0 {
		opts = append(opts, synth.WithTokenEndpoints(cfg.TTSTokenEndpoints...))
	}
	if cfg.TTSEndpoint != "" {
		opts = append(opts, synth.WithEndpoint(cfg.TTSEndpoint))
	}
	client, err := synth.NewAzureClient(cfg.TTSRegion, cfg.TTSSubscriptionKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("create synthesis client: %w", err)
	}
	return client, nil
}

func initJobRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *Dependencies) (job.Repository, error) {
	if cfg.JobDBPath == "" {
		return job.NewMemoryRepository(), nil
	}

	repo, err := job.OpenSQLite(ctx, cfg.JobDBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open job database: %w", err)
	}
	deps.closers = append(deps.closers, repo.Close)

	if retention := cfg.CacheRetention(); retention > 0 {
		pruned, err := repo.PruneFinished(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Warn("failed to prune job history", slog.String("error", err.Error()))
		} else if pruned > 0 {
			logger.Info("job history pruned", slog.Int64("removed", pruned))
		}
	}
	return repo, nil
}

// unconfiguredSynthesizer stands in when no provider credentials are set.
type unconfiguredSynthesizer struct {
	err error
}

func (u unconfiguredSynthesizer) Synthesize(context.Context, string, synth.Voice) ([]byte, error) {
	return nil, failure.Configuration("synth.synthesize", u.err)
}
