package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/audiobook-forge/internal/audio"
	"github.com/maauso/audiobook-forge/internal/cache"
	"github.com/maauso/audiobook-forge/internal/dsp"
	"github.com/maauso/audiobook-forge/internal/failure"
	"github.com/maauso/audiobook-forge/internal/job"
	"github.com/maauso/audiobook-forge/internal/notify"
	"github.com/maauso/audiobook-forge/internal/pipeline"
	"github.com/maauso/audiobook-forge/internal/storage"
)

// maxBodyBytes bounds request bodies, base64 waveforms included.
const maxBodyBytes = 64 << 20

var errWaveformChoice = errors.New("exactly one of waveformPath and waveformBase64 is required")

// Pipeline is the subset of the pipeline service the handlers use.
type Pipeline interface {
	ProduceSegmentAudio(ctx context.Context, req pipeline.SegmentRequest, progress pipeline.ProgressFunc) (pipeline.SegmentResult, error)
	ApplyProcessing(ctx context.Context, req pipeline.ProcessRequest, progress pipeline.ProgressFunc) (dsp.Result, error)
	AssembleChapter(ctx context.Context, req pipeline.ChapterRequest, progress pipeline.ProgressFunc) (audio.Artifact, error)
	Cancel(jobID string) bool

	CacheNamespaces() []string
	CacheList(ctx context.Context, ns string) ([]cache.Entry, error)
	CacheStats(ctx context.Context, ns string) (cache.Stats, error)
	CacheClear(ctx context.Context, ns string) (int, error)
	CacheEvict(ctx context.Context, ns, key string) error
	CachePrune(ctx context.Context, ns string) (int, error)

	Presets() *dsp.Presets
	DefaultPreset() string
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	pipeline  Pipeline
	jobs      *job.Service
	scratch   storage.Scratch
	events    *notify.Broadcaster
	checks    map[string]func() bool
	validator *validator.Validate
	logger    *slog.Logger
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithEvents enables GET /events, streaming chapter changes from b.
func WithEvents(b *notify.Broadcaster) HandlerOption {
	return func(h *Handlers) {
		h.events = b
	}
}

// WithHealthCheck adds a named link to GET /health. A failing check marks the
// service degraded without failing the request.
func WithHealthCheck(name string, healthy func() bool) HandlerOption {
	return func(h *Handlers) {
		if h.checks == nil {
			h.checks = make(map[string]func() bool)
		}
		h.checks[name] = healthy
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(p Pipeline, jobs *job.Service, scratch storage.Scratch, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		pipeline:  p,
		jobs:      jobs,
		scratch:   scratch,
		validator: validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
		for name, healthy := range h.checks {
			if healthy() {
				resp.Checks[name] = "ok"
				continue
			}
			resp.Checks[name] = "down"
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ProduceSegmentAudio handles POST /segments/audio requests.
func (h *Handlers) ProduceSegmentAudio(w http.ResponseWriter, r *http.Request) {
	var req SegmentAudioRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Chain != nil && !h.validChain(w, *req.Chain) {
		return
	}

	h.submit(w, r, job.KindSegment, func(ctx context.Context, progress job.ProgressFunc) (any, error) {
		return h.pipeline.ProduceSegmentAudio(ctx, pipeline.SegmentRequest{
			Segment: req.Segment,
			Voice:   req.Voice,
			Chain:   req.Chain,
			Preset:  req.Preset,
			JobID:   job.JobID(ctx),
		}, forward(progress))
	})
}

// ApplyProcessing handles POST /processing requests.
func (h *Handlers) ApplyProcessing(w http.ResponseWriter, r *http.Request) {
	var req ProcessingRequest
	if !h.decode(w, r, &req) {
		return
	}
	if (req.WaveformPath == "") == (req.WaveformBase64 == "") {
		writeError(w, http.StatusBadRequest, errWaveformChoice.Error(), "VALIDATION_ERROR")
		return
	}
	if req.Chain != nil && !h.validChain(w, *req.Chain) {
		return
	}

	path := req.WaveformPath
	var staged string
	if req.WaveformBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.WaveformBase64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "waveformBase64 is not valid base64", "VALIDATION_ERROR")
			return
		}
		staged, err = h.scratch.SaveTemp(r.Context(), "upload.wav", bytes.NewReader(data))
		if err != nil {
			h.logger.Error("failed to stage waveform", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to stage waveform", "STAGING_FAILED")
			return
		}
		path = staged
	}

	ok := h.submit(w, r, job.KindProcess, func(ctx context.Context, progress job.ProgressFunc) (any, error) {
		if staged != "" {
			defer func() { _ = h.scratch.CleanupTemp(context.WithoutCancel(ctx), []string{staged}) }()
		}
		return h.pipeline.ApplyProcessing(ctx, pipeline.ProcessRequest{
			WaveformPath: path,
			Chain:        req.Chain,
			Preset:       req.Preset,
			JobID:        job.JobID(ctx),
		}, forward(progress))
	})
	if !ok && staged != "" {
		_ = h.scratch.CleanupTemp(r.Context(), []string{staged})
	}
}

// AssembleChapter handles POST /chapters/{id}/assemble requests.
func (h *Handlers) AssembleChapter(w http.ResponseWriter, r *http.Request) {
	chapterID := r.PathValue("id")
	if chapterID == "" {
		writeError(w, http.StatusBadRequest, "chapter ID is required", "MISSING_CHAPTER_ID")
		return
	}
	var req AssembleChapterRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.submit(w, r, job.KindChapter, func(ctx context.Context, progress job.ProgressFunc) (any, error) {
		return h.pipeline.AssembleChapter(ctx, pipeline.ChapterRequest{
			ChapterID: chapterID,
			Segments:  req.Segments,
			JobID:     job.JobID(ctx),
		}, forward(progress))
	})
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_FETCH_FAILED")
		return
	}
	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	foundJob, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(foundJob))
}

// CancelJob handles DELETE /jobs/{id} requests.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	h.pipeline.Cancel(jobID)
	if err := h.jobs.Cancel(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, job.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		case errors.Is(err, job.ErrJobFinished):
			writeError(w, http.StatusConflict, "job already finished", "JOB_FINISHED")
		default:
			h.logger.Error("failed to cancel job",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to cancel job", "JOB_CANCEL_FAILED")
		}
		return
	}

	h.logger.Info("job cancelled", slog.String("job_id", jobID))
	w.WriteHeader(http.StatusAccepted)
}

// CacheOverview handles GET /cache requests.
func (h *Handlers) CacheOverview(w http.ResponseWriter, r *http.Request) {
	resp := CacheOverviewResponse{}
	for _, ns := range h.pipeline.CacheNamespaces() {
		stats, err := h.pipeline.CacheStats(r.Context(), ns)
		if err != nil {
			h.writeFailure(w, err)
			return
		}
		resp.Namespaces = append(resp.Namespaces, stats)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCache handles GET /cache/{ns} requests.
func (h *Handlers) GetCache(w http.ResponseWriter, r *http.Request) {
	ns := r.PathValue("ns")
	entries, err := h.pipeline.CacheList(r.Context(), ns)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	stats, err := h.pipeline.CacheStats(r.Context(), ns)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CacheResponse{Stats: stats, Entries: entries})
}

// ClearCache handles DELETE /cache/{ns} requests.
func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	ns := r.PathValue("ns")
	removed, err := h.pipeline.CacheClear(r.Context(), ns)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RemovedResponse{Namespace: ns, Removed: removed})
}

// PruneCache handles POST /cache/{ns}/prune requests.
func (h *Handlers) PruneCache(w http.ResponseWriter, r *http.Request) {
	ns := r.PathValue("ns")
	removed, err := h.pipeline.CachePrune(r.Context(), ns)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RemovedResponse{Namespace: ns, Removed: removed})
}

// EvictCacheEntry handles DELETE /cache/{ns}/{key} requests.
func (h *Handlers) EvictCacheEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.CacheEvict(r.Context(), r.PathValue("ns"), r.PathValue("key")); err != nil {
		h.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPresets handles GET /presets requests.
func (h *Handlers) ListPresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PresetsResponse{
		Default: h.pipeline.DefaultPreset(),
		Presets: h.pipeline.Presets().All(),
	})
}

// Events handles GET /events requests as a server-sent event stream of
// chapter changes. It returns 404 when no broadcaster is configured.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotFound, "event stream is not enabled", "EVENTS_DISABLED")
		return
	}

	events, unsubscribe := h.events.Subscribe(16)
	defer unsubscribe()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("event stream not supported", slog.String("error", err.Error()))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("failed to encode event", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: chapter.changed\ndata: %s\n\n", data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// submit starts fn as a job and answers 202 with its id. It reports whether
// the job was accepted.
func (h *Handlers) submit(w http.ResponseWriter, r *http.Request, kind job.Kind, fn job.RunFunc) bool {
	created, err := h.jobs.Submit(r.Context(), kind, fn)
	if err != nil {
		if errors.Is(err, job.ErrShuttingDown) {
			writeError(w, http.StatusServiceUnavailable, "server is shutting down", "SHUTTING_DOWN")
			return false
		}
		h.logger.Error("failed to create job",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return false
	}

	h.logger.Info("job created",
		slog.String("job_id", created.ID),
		slog.String("kind", string(kind)),
	)
	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     created.ID,
		Kind:   string(created.Kind),
		Status: string(created.Status),
	})
	return true
}

// decode reads and validates a JSON body, writing the error response itself.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

func (h *Handlers) validChain(w http.ResponseWriter, c dsp.Chain) bool {
	if err := c.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_CHAIN")
		return false
	}
	return true
}

// writeFailure maps a pipeline failure to a status code.
func (h *Handlers) writeFailure(w http.ResponseWriter, err error) {
	kind := failure.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case failure.KindValidation:
		status = http.StatusBadRequest
	case failure.KindConfiguration:
		status = http.StatusUnprocessableEntity
	case failure.KindProvider:
		status = http.StatusBadGateway
	case failure.KindEnvironment:
		status = http.StatusServiceUnavailable
	case failure.KindCancelled:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeError(w, status, err.Error(), strings.ToUpper(string(kind))+"_ERROR")
}

// forward adapts job progress to the pipeline's progress callback.
func forward(progress job.ProgressFunc) pipeline.ProgressFunc {
	return func(p pipeline.Progress) {
		progress(p.Percent, p.Stage)
	}
}

func toJobResponse(j *job.Job) JobResponse {
	return JobResponse{
		ID:          j.ID,
		Kind:        string(j.Kind),
		Status:      string(j.Status),
		Progress:    j.Progress,
		Stage:       j.Stage,
		Error:       j.Error,
		ErrorKind:   j.ErrorKind,
		Result:      j.Result,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		CompletedAt: j.CompletedAt,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
