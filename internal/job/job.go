// Package job provides the Job aggregate that tracks asynchronous pipeline
// operations (segment synthesis, processing and chapter assembly), the
// repositories that persist it, and the service that runs jobs.
package job

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/maauso/audiobook-forge/internal/job/id"
)

// Kind names the pipeline operation a job runs.
type Kind string

const (
	// KindSegment produces audio for one segment.
	KindSegment Kind = "segment"
	// KindProcess applies a processing chain to a waveform.
	KindProcess Kind = "process"
	// KindChapter assembles a chapter file.
	KindChapter Kind = "chapter"
)

// IsValid returns true if the kind is known.
func (k Kind) IsValid() bool {
	return k == KindSegment || k == KindProcess || k == KindChapter
}

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job was accepted and has not started.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the job is executing.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job ended with an error.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled by the caller.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates the job exceeded its deadline.
	StatusTimedOut Status = "TIMED_OUT"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled, StatusTimedOut},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is one asynchronous pipeline operation.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Kind is the pipeline operation being run.
	Kind Kind
	// Status is the current job state.
	Status Status
	// Progress is the percentage of completion (0-100).
	Progress int
	// Stage is the coarse label reported with the last progress update.
	Stage string
	// Error contains the error message if the job failed.
	Error string
	// ErrorKind is the failure kind of Error, e.g. "provider" or "validation".
	ErrorKind string
	// Result is the JSON-encoded operation result once completed.
	Result json.RawMessage
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a new Job of the given kind with a generated ID in IN_QUEUE status.
func New(kind Kind) *Job {
	return NewWithID(id.Generate(), kind)
}

// NewWithID creates a new Job with the specified ID in IN_QUEUE status.
func NewWithID(jobID string, kind Kind) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Kind:      kind,
		Status:    StatusInQueue,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete records the result and transitions the job to COMPLETED.
func (j *Job) Complete(result json.RawMessage) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.Result = result
	j.Progress = 100
	return nil
}

// Fail records the error and transitions the job to FAILED.
func (j *Job) Fail(kind, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	j.ErrorKind = kind
	return nil
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// Timeout transitions the job to TIMED_OUT state.
func (j *Job) Timeout() error {
	return j.TransitionTo(StatusTimedOut)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress sets the progress percentage (0-100) and stage label.
// Progress never moves backwards.
func (j *Job) UpdateProgress(progress int, stage string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	progress = min(max(progress, 0), 100)
	if progress < j.Progress {
		progress = j.Progress
	}
	j.Progress = progress
	if stage != "" {
		j.Stage = stage
	}
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled ||
		j.Status == StatusTimedOut
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var result json.RawMessage
	if j.Result != nil {
		result = append(json.RawMessage(nil), j.Result...)
	}

	return &Job{
		ID:          j.ID,
		Kind:        j.Kind,
		Status:      j.Status,
		Progress:    j.Progress,
		Stage:       j.Stage,
		Error:       j.Error,
		ErrorKind:   j.ErrorKind,
		Result:      result,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
