package bootstrap

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/audiobook-forge/internal/audio"
	"github.com/maauso/audiobook-forge/internal/config"
	"github.com/maauso/audiobook-forge/internal/dsp"
	"github.com/maauso/audiobook-forge/internal/failure"
	"github.com/maauso/audiobook-forge/internal/pipeline"
	"github.com/maauso/audiobook-forge/internal/synth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testConfig returns a config rooted in a temp dir with stub tools bundled.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub tools are shell scripts")
	}
	root := t.TempDir()
	tools := filepath.Join(root, "tools")
	require.NoError(t, os.MkdirAll(tools, 0o750))
	for _, name := range []string{"ffmpeg", "ffprobe"} {
		require.NoError(t, os.WriteFile(filepath.Join(tools, name), []byte("#!/bin/sh\nexit 0\n"), 0o755)) // #nosec G306 - test stub must be executable
	}

	return &config.Config{
		CacheDir:            filepath.Join(root, "cache"),
		CacheRetentionHours: 168,
		TempDir:             filepath.Join(root, "tmp"),
		ProjectsDir:         filepath.Join(root, "project"),
		JobDBPath:           filepath.Join(root, "jobs.db"),
		ToolsDir:            tools,
		FFmpegName:          "ffmpeg",
		FFprobeName:         "ffprobe",
		DSPToolName:         "ffmpeg",
		MaxRetries:          1,
		RetryBackoffMs:      1,
		OutputSampleRate:    44100,
		OutputChannels:      1,
		DefaultPreset:       "audiobook",
		NATSSubjectPrefix:   "audiobook",
	}
}

func TestNewDependencies_WithoutSynthesisCredentials(t *testing.T) {
	cfg := testConfig(t)

	deps, err := NewDependencies(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, deps.Close(context.Background())) })

	require.NotNil(t, deps.Pipeline)
	require.NotNil(t, deps.Jobs)
	require.NotNil(t, deps.Events)
	assert.Equal(t, "audiobook", deps.Pipeline.DefaultPreset())
	assert.Equal(t, []string{"processed", "tts"}, deps.Pipeline.CacheNamespaces())
	assert.DirExists(t, filepath.Join(cfg.CacheDir, "tts"))
	assert.FileExists(t, cfg.JobDBPath)
	assert.Empty(t, deps.HealthChecks)

	_, err = deps.Pipeline.ProduceSegmentAudio(context.Background(), pipeline.SegmentRequest{
		Segment: audio.Segment{ID: "s1", Kind: audio.KindSpeech, Text: "Hola"},
		Voice:   &synth.Voice{ID: "es-PE-CamilaNeural"},
	}, nil)
	assert.True(t, failure.Is(err, failure.KindConfiguration), "got %v", err)
}

func TestNewDependencies_NATSHealthCheck(t *testing.T) {
	opts := test.DefaultTestOptions
	opts.Port = -1
	srv := test.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	cfg := testConfig(t)
	cfg.NATSURL = srv.ClientURL()

	deps, err := NewDependencies(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })

	check, ok := deps.HealthChecks["nats"]
	require.True(t, ok)
	assert.True(t, check())

	srv.Shutdown()
	assert.Eventually(t, func() bool { return !check() }, 5*time.Second, 20*time.Millisecond)
}

func TestNewDependencies_MissingTool(t *testing.T) {
	cfg := testConfig(t)
	cfg.FFmpegName = "definitely-not-a-real-ffmpeg"

	_, err := NewDependencies(context.Background(), cfg, testLogger())
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindEnvironment))
}

func TestNewDependencies_BadCastingFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.CastingFile = filepath.Join(t.TempDir(), "casting.yaml")
	require.NoError(t, os.WriteFile(cfg.CastingFile, []byte("characters: {}\n"), 0o600))

	_, err := NewDependencies(context.Background(), cfg, testLogger())
	assert.ErrorIs(t, err, synth.ErrEmptyCasting)
}

func TestLoadPresets(t *testing.T) {
	t.Run("merges file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "presets.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
presets:
  narration:
    noise: {enabled: true, highPass: {enabled: true, freqHz: 90}}
`), 0o600))

		presets, err := LoadPresets(&config.Config{PresetsFile: path, DefaultPreset: "narration"})
		require.NoError(t, err)
		assert.Contains(t, presets.Names(), "narration")
		assert.Contains(t, presets.Names(), "audiobook")
	})

	t.Run("unknown default", func(t *testing.T) {
		_, err := LoadPresets(&config.Config{DefaultPreset: "nope"})
		assert.ErrorIs(t, err, dsp.ErrUnknownPreset)
	})
}
