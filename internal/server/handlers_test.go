package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/audiobook-forge/internal/audio"
	"github.com/maauso/audiobook-forge/internal/cache"
	"github.com/maauso/audiobook-forge/internal/dsp"
	"github.com/maauso/audiobook-forge/internal/failure"
	"github.com/maauso/audiobook-forge/internal/job"
	"github.com/maauso/audiobook-forge/internal/notify"
	"github.com/maauso/audiobook-forge/internal/pipeline"
	"github.com/maauso/audiobook-forge/internal/storage"
)

// mockPipeline implements Pipeline for testing.
type mockPipeline struct {
	mock.Mock
}

func (m *mockPipeline) ProduceSegmentAudio(ctx context.Context, req pipeline.SegmentRequest, progress pipeline.ProgressFunc) (pipeline.SegmentResult, error) {
	args := m.Called(ctx, req, progress)
	return args.Get(0).(pipeline.SegmentResult), args.Error(1)
}

func (m *mockPipeline) ApplyProcessing(ctx context.Context, req pipeline.ProcessRequest, progress pipeline.ProgressFunc) (dsp.Result, error) {
	args := m.Called(ctx, req, progress)
	return args.Get(0).(dsp.Result), args.Error(1)
}

func (m *mockPipeline) AssembleChapter(ctx context.Context, req pipeline.ChapterRequest, progress pipeline.ProgressFunc) (audio.Artifact, error) {
	args := m.Called(ctx, req, progress)
	return args.Get(0).(audio.Artifact), args.Error(1)
}

func (m *mockPipeline) Cancel(jobID string) bool {
	return m.Called(jobID).Bool(0)
}

func (m *mockPipeline) CacheNamespaces() []string {
	return m.Called().Get(0).([]string)
}

func (m *mockPipeline) CacheList(ctx context.Context, ns string) ([]cache.Entry, error) {
	args := m.Called(ctx, ns)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cache.Entry), args.Error(1)
}

func (m *mockPipeline) CacheStats(ctx context.Context, ns string) (cache.Stats, error) {
	args := m.Called(ctx, ns)
	return args.Get(0).(cache.Stats), args.Error(1)
}

func (m *mockPipeline) CacheClear(ctx context.Context, ns string) (int, error) {
	args := m.Called(ctx, ns)
	return args.Int(0), args.Error(1)
}

func (m *mockPipeline) CacheEvict(ctx context.Context, ns, key string) error {
	return m.Called(ctx, ns, key).Error(0)
}

func (m *mockPipeline) CachePrune(ctx context.Context, ns string) (int, error) {
	args := m.Called(ctx, ns)
	return args.Int(0), args.Error(1)
}

func (m *mockPipeline) Presets() *dsp.Presets {
	return m.Called().Get(0).(*dsp.Presets)
}

func (m *mockPipeline) DefaultPreset() string {
	return m.Called().String(0)
}

type testServer struct {
	handlers *Handlers
	pipeline *mockPipeline
	jobs     *job.Service
	scratch  *storage.LocalStorage
	router   http.Handler
}

func newTestServer(t *testing.T, opts ...HandlerOption) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	jobs := job.NewService(job.NewMemoryRepository(), job.WithServiceLogger(logger))
	t.Cleanup(func() { _ = jobs.Shutdown(context.Background()) })

	scratch, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	p := &mockPipeline{}
	h := NewHandlers(p, jobs, scratch, logger, opts...)
	return &testServer{
		handlers: h,
		pipeline: p,
		jobs:     jobs,
		scratch:  scratch,
		router:   NewRouter(h, logger, DefaultConfig()),
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

// waitForStatus polls GET /jobs/{id} until the job reaches status.
func (ts *testServer) waitForStatus(t *testing.T, id string, status job.Status) JobResponse {
	t.Helper()
	var resp JobResponse
	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/jobs/"+id, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		resp = JobResponse{}
		return json.NewDecoder(rec.Body).Decode(&resp) == nil && resp.Status == string(status)
	}, 2*time.Second, 10*time.Millisecond)
	return resp
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func speechSegment() map[string]any {
	return map[string]any{
		"segmentId":    "seg-1",
		"displayOrder": 0,
		"segmentType":  "speech",
		"text":         "Hola",
		"voiceId":      "es-PE-CamilaNeural",
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Empty(t, resp.Checks)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestHealth_ReportsChecks(t *testing.T) {
	up := true
	ts := newTestServer(t,
		WithHealthCheck("nats", func() bool { return up }),
		WithHealthCheck("static", func() bool { return true }),
	)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]string{"nats": "ok", "static": "ok"}, resp.Checks)

	up = false
	rec = ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "down", resp.Checks["nats"])
	assert.Equal(t, "ok", resp.Checks["static"])
}

func TestProduceSegmentAudio_Success(t *testing.T) {
	ts := newTestServer(t)
	ts.pipeline.On("ProduceSegmentAudio", mock.Anything, mock.MatchedBy(func(req pipeline.SegmentRequest) bool {
		return req.Segment.ID == "seg-1" && req.Preset == "podcast" && strings.HasPrefix(req.JobID, "job-")
	}), mock.Anything).
		Run(func(args mock.Arguments) {
			args.Get(2).(pipeline.ProgressFunc)(pipeline.Progress{Percent: 50, Stage: "synthesized"})
		}).
		Return(pipeline.SegmentResult{VoiceID: "es-PE-CamilaNeural", SynthesisKey: "tts_abc"}, nil)

	rec := ts.do(t, http.MethodPost, "/segments/audio", map[string]any{
		"segment": speechSegment(),
		"preset":  "podcast",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	created := decodeBody[CreateJobResponse](t, rec)
	assert.Equal(t, "segment", created.Kind)
	assert.Equal(t, "IN_QUEUE", created.Status)

	done := ts.waitForStatus(t, created.ID, job.StatusCompleted)
	assert.Equal(t, 100, done.Progress)
	assert.Contains(t, string(done.Result), `"synthesisKey":"tts_abc"`)
	assert.False(t, done.CompletedAt.IsZero())
	ts.pipeline.AssertExpectations(t)
}

func TestProduceSegmentAudio_Failure(t *testing.T) {
	ts := newTestServer(t)
	ts.pipeline.On("ProduceSegmentAudio", mock.Anything, mock.Anything, mock.Anything).
		Return(pipeline.SegmentResult{}, failure.Configuration("pipeline.voice", errors.New("no voice for narrator")))

	rec := ts.do(t, http.MethodPost, "/segments/audio", map[string]any{"segment": speechSegment()})
	require.Equal(t, http.StatusAccepted, rec.Code)

	failed := ts.waitForStatus(t, decodeBody[CreateJobResponse](t, rec).ID, job.StatusFailed)
	assert.Equal(t, "configuration", failed.ErrorKind)
	assert.Contains(t, failed.Error, "no voice for narrator")
}

func TestProduceSegmentAudio_BadRequests(t *testing.T) {
	missingID := speechSegment()
	delete(missingID, "segmentId")
	badKind := speechSegment()
	badKind["segmentType"] = "music"

	tests := []struct {
		name string
		body any
		code string
	}{
		{"invalid json", "not json", "INVALID_JSON"},
		{"missing segment id", map[string]any{"segment": missingID}, "VALIDATION_ERROR"},
		{"unknown segment type", map[string]any{"segment": badKind}, "VALIDATION_ERROR"},
		{"voice without id", map[string]any{"segment": speechSegment(), "voice": map[string]any{"style": "calm"}}, "VALIDATION_ERROR"},
		{"incomplete chain", map[string]any{
			"segment": speechSegment(),
			"chain":   map[string]any{"noise": map[string]any{"enabled": true, "highPass": map[string]any{"enabled": true}}},
		}, "INVALID_CHAIN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			rec := ts.do(t, http.MethodPost, "/segments/audio", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
			ts.pipeline.AssertNotCalled(t, "ProduceSegmentAudio", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestApplyProcessing_StagesBase64Waveform(t *testing.T) {
	ts := newTestServer(t)

	var staged string
	ts.pipeline.On("ApplyProcessing", mock.Anything, mock.MatchedBy(func(req pipeline.ProcessRequest) bool {
		return req.Preset == "clean" && req.JobID != ""
	}), mock.Anything).
		Run(func(args mock.Arguments) {
			req := args.Get(1).(pipeline.ProcessRequest)
			staged = req.WaveformPath
			data, err := os.ReadFile(req.WaveformPath)
			if assert.NoError(t, err) {
				assert.Equal(t, "RIFF-ish", string(data))
			}
		}).
		Return(dsp.Result{Key: "dsp-v3_abc", OutputPath: "/cache/processed/dsp-v3_abc.wav"}, nil)

	rec := ts.do(t, http.MethodPost, "/processing", ProcessingRequest{
		WaveformBase64: base64.StdEncoding.EncodeToString([]byte("RIFF-ish")),
		Preset:         "clean",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	done := ts.waitForStatus(t, decodeBody[CreateJobResponse](t, rec).ID, job.StatusCompleted)
	assert.Contains(t, string(done.Result), "dsp-v3_abc")

	require.NotEmpty(t, staged)
	assert.Equal(t, ts.scratch.TempDir(), filepath.Dir(staged))
	assert.NoFileExists(t, staged)
}

func TestApplyProcessing_PathIsPassedThrough(t *testing.T) {
	ts := newTestServer(t)
	ts.pipeline.On("ApplyProcessing", mock.Anything, mock.MatchedBy(func(req pipeline.ProcessRequest) bool {
		return req.WaveformPath == "/audio/take-3.wav" && req.Chain != nil && req.Chain.Mastering.Enabled
	}), mock.Anything).Return(dsp.Result{Key: "dsp-v3_def"}, nil)

	rec := ts.do(t, http.MethodPost, "/processing", map[string]any{
		"waveformPath": "/audio/take-3.wav",
		"chain": map[string]any{"mastering": map[string]any{
			"enabled":       true,
			"normalization": map[string]any{"enabled": true, "targetLufs": -20, "truePeakDb": -3, "lra": 11},
		}},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	ts.waitForStatus(t, decodeBody[CreateJobResponse](t, rec).ID, job.StatusCompleted)
	ts.pipeline.AssertExpectations(t)
}

func TestApplyProcessing_WaveformChoice(t *testing.T) {
	ts := newTestServer(t)

	for _, body := range []ProcessingRequest{
		{},
		{WaveformPath: "/a.wav", WaveformBase64: base64.StdEncoding.EncodeToString([]byte("x"))},
	} {
		rec := ts.do(t, http.MethodPost, "/processing", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}

	rec := ts.do(t, http.MethodPost, "/processing", ProcessingRequest{WaveformBase64: "%%%"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeBody[ErrorResponse](t, rec).Code)
}

func TestAssembleChapter(t *testing.T) {
	ts := newTestServer(t)
	ts.pipeline.On("AssembleChapter", mock.Anything, mock.MatchedBy(func(req pipeline.ChapterRequest) bool {
		return req.ChapterID == "ch-01" && len(req.Segments) == 2 && req.JobID != ""
	}), mock.Anything).Return(audio.Artifact{ChapterID: "ch-01", Path: "/projects/chapters/ch-01.wav", SizeBytes: 4096}, nil)

	door := map[string]any{"segmentId": "sfx-1", "displayOrder": 1, "segmentType": "sound-effect", "sfxFile": "door.wav"}
	rec := ts.do(t, http.MethodPost, "/chapters/ch-01/assemble", map[string]any{
		"segments": []any{speechSegment(), door},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	done := ts.waitForStatus(t, decodeBody[CreateJobResponse](t, rec).ID, job.StatusCompleted)
	assert.Equal(t, "chapter", done.Kind)
	assert.Contains(t, string(done.Result), `"chapterId":"ch-01"`)

	rec = ts.do(t, http.MethodPost, "/chapters/ch-01/assemble", map[string]any{"segments": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelJob(t *testing.T) {
	ts := newTestServer(t)
	started := make(chan struct{})
	ts.pipeline.On("ProduceSegmentAudio", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(pipeline.SegmentResult{}, failure.Cancelled("pipeline.segment", context.Canceled))
	ts.pipeline.On("Cancel", mock.Anything).Return(true)

	rec := ts.do(t, http.MethodPost, "/segments/audio", map[string]any{"segment": speechSegment()})
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decodeBody[CreateJobResponse](t, rec).ID
	<-started

	rec = ts.do(t, http.MethodDelete, "/jobs/"+id, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	ts.waitForStatus(t, id, job.StatusCancelled)
	ts.pipeline.AssertCalled(t, "Cancel", id)

	rec = ts.do(t, http.MethodDelete, "/jobs/"+id, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB_FINISHED", decodeBody[ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodDelete, "/jobs/job-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJob_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/jobs/job-nonexistent", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code)
}

func TestGetJob_MissingID(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/", nil)
	rec := httptest.NewRecorder()
	ts.handlers.GetJob(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_JOB_ID", decodeBody[ErrorResponse](t, rec).Code)
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t)
	ts.pipeline.On("AssembleChapter", mock.Anything, mock.Anything, mock.Anything).Return(audio.Artifact{ChapterID: "ch-01"}, nil)

	for range 2 {
		rec := ts.do(t, http.MethodPost, "/chapters/ch-01/assemble", map[string]any{"segments": []any{speechSegment()}})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[JobListResponse](t, rec).Jobs, 2)
}

func TestSubmit_AfterShutdown(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.jobs.Shutdown(context.Background()))

	rec := ts.do(t, http.MethodPost, "/segments/audio", map[string]any{"segment": speechSegment()})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "SHUTTING_DOWN", decodeBody[ErrorResponse](t, rec).Code)
}

func TestCacheEndpoints(t *testing.T) {
	ts := newTestServer(t)
	p := ts.pipeline
	p.On("CacheNamespaces").Return([]string{"processed", "tts"})
	p.On("CacheList", mock.Anything, "tts").Return([]cache.Entry{{Key: "tts_abc", Path: "/cache/tts/tts_abc.wav"}}, nil)
	p.On("CacheStats", mock.Anything, "tts").Return(cache.Stats{Namespace: "tts", Entries: 1, TotalBytes: 48044}, nil)
	p.On("CacheStats", mock.Anything, "processed").Return(cache.Stats{Namespace: "processed"}, nil)
	p.On("CacheClear", mock.Anything, "processed").Return(3, nil)
	p.On("CachePrune", mock.Anything, "tts").Return(1, nil)
	p.On("CacheEvict", mock.Anything, "tts", "tts_abc").Return(nil)
	p.On("CacheList", mock.Anything, "bogus").Return(nil, failure.Validation("pipeline.cache", pipeline.ErrUnknownNamespace))

	t.Run("overview", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/cache", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decodeBody[CacheOverviewResponse](t, rec).Namespaces, 2)
	})

	t.Run("list namespace", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/cache/tts", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeBody[CacheResponse](t, rec)
		assert.Equal(t, 1, resp.Stats.Entries)
		require.Len(t, resp.Entries, 1)
		assert.Equal(t, "tts_abc", resp.Entries[0].Key)
	})

	t.Run("clear", func(t *testing.T) {
		rec := ts.do(t, http.MethodDelete, "/cache/processed", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, RemovedResponse{Namespace: "processed", Removed: 3}, decodeBody[RemovedResponse](t, rec))
	})

	t.Run("prune", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/cache/tts/prune", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, decodeBody[RemovedResponse](t, rec).Removed)
	})

	t.Run("evict", func(t *testing.T) {
		rec := ts.do(t, http.MethodDelete, "/cache/tts/tts_abc", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("unknown namespace", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/cache/bogus", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeBody[ErrorResponse](t, rec).Code)
	})
}

func TestListPresets(t *testing.T) {
	ts := newTestServer(t)
	ts.pipeline.On("Presets").Return(dsp.DefaultPresets())
	ts.pipeline.On("DefaultPreset").Return("audiobook")

	rec := ts.do(t, http.MethodGet, "/presets", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[PresetsResponse](t, rec)
	assert.Equal(t, "audiobook", resp.Default)
	assert.Contains(t, resp.Presets, "raw")
	assert.True(t, resp.Presets["audiobook"].Mastering.Enabled)
}

func TestEvents(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(t, http.MethodGet, "/events", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("streams chapter changes", func(t *testing.T) {
		broadcaster := notify.NewBroadcaster(nil)
		ts := newTestServer(t, WithEvents(broadcaster))
		srv := httptest.NewServer(ts.router)
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
		require.NoError(t, err)
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

		require.NoError(t, broadcaster.ChapterChanged(ctx, notify.ChapterEvent{ChapterID: "ch-07", Segments: 4}))

		reader := bufio.NewReader(resp.Body)
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "event: chapter.changed\n", line)
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		assert.Contains(t, line, `"chapterId":"ch-07"`)
	})
}

func TestCORSMiddleware(t *testing.T) {
	ts := newTestServer(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	router := NewRouter(ts.handlers, logger, Config{AllowedOrigins: []string{"https://example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Preflight
	req = httptest.NewRequest(http.MethodOptions, "/segments/audio", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	// Create a handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(logger)(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	// Should not panic
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeBody[ErrorResponse](t, rec).Code)
}
