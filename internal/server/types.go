// Package server provides the HTTP API for audiobook-forge.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"encoding/json"
	"time"

	"github.com/maauso/audiobook-forge/internal/audio"
	"github.com/maauso/audiobook-forge/internal/cache"
	"github.com/maauso/audiobook-forge/internal/dsp"
	"github.com/maauso/audiobook-forge/internal/synth"
)

// SegmentAudioRequest is the HTTP request body for producing one segment's audio.
type SegmentAudioRequest struct {
	// Segment is the speech segment to render.
	Segment audio.Segment `json:"segment"`
	// Voice overrides the segment's voice and the project casting.
	Voice *synth.Voice `json:"voice,omitempty"`
	// Chain overrides Preset.
	Chain *dsp.Chain `json:"chain,omitempty"`
	// Preset names a registered processing preset.
	Preset string `json:"preset,omitempty"`
}

// ProcessingRequest is the HTTP request body for processing a waveform.
// Exactly one of WaveformPath and WaveformBase64 must be set.
type ProcessingRequest struct {
	WaveformPath   string     `json:"waveformPath,omitempty"`
	WaveformBase64 string     `json:"waveformBase64,omitempty" validate:"omitempty,base64"`
	Chain          *dsp.Chain `json:"chain,omitempty"`
	Preset         string     `json:"preset,omitempty"`
}

// AssembleChapterRequest is the HTTP request body for rebuilding a chapter.
type AssembleChapterRequest struct {
	Segments []audio.Segment `json:"segments" validate:"required,min=1,dive"`
}

// CreateJobResponse is the HTTP response after submitting a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Kind is the pipeline operation the job runs.
	Kind string `json:"kind"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int    `json:"progress"`
	Stage    string `json:"stage,omitempty"`
	// Error contains the error message if the job failed.
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
	// Result is the operation's result once the job completed.
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	CompletedAt time.Time       `json:"completedAt,omitzero"`
}

// JobListResponse wraps the job list.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// CacheResponse describes one cache namespace.
type CacheResponse struct {
	Stats   cache.Stats   `json:"stats"`
	Entries []cache.Entry `json:"entries,omitempty"`
}

// CacheOverviewResponse summarises every namespace.
type CacheOverviewResponse struct {
	Namespaces []cache.Stats `json:"namespaces"`
}

// RemovedResponse reports how many cache entries were removed.
type RemovedResponse struct {
	Namespace string `json:"namespace"`
	Removed   int    `json:"removed"`
}

// PresetsResponse lists the registered processing presets.
type PresetsResponse struct {
	Default string               `json:"default,omitempty"`
	Presets map[string]dsp.Chain `json:"presets"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is "ok", or "degraded" when an optional link is down.
	Status string `json:"status"`
	// Checks reports each optional link, e.g. "nats".
	Checks map[string]string `json:"checks,omitempty"`
}
