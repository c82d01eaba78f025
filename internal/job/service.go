package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/audiobook-forge/internal/failure"
)

var (
	// ErrJobFinished is returned when cancelling a job that already ended.
	ErrJobFinished = errors.New("job already finished")
	// ErrInvalidKind is returned when submitting a job of an unknown kind.
	ErrInvalidKind = errors.New("invalid job kind")
	// ErrShuttingDown is returned by Submit after Shutdown was called.
	ErrShuttingDown = errors.New("job service is shutting down")
)

// ProgressFunc reports coarse progress from a running job.
type ProgressFunc func(percent int, stage string)

// RunFunc is the work a job performs. Its result is stored JSON-encoded.
type RunFunc func(ctx context.Context, progress ProgressFunc) (any, error)

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithJobTimeout bounds how long a single job may run. Zero means no limit.
func WithJobTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.timeout = d
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service runs pipeline operations as background jobs and records their
// progress and outcome in a Repository.
type Service struct {
	repo    Repository
	timeout time.Duration
	logger  *slog.Logger

	base     context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	stopping bool
}

// NewService creates a job Service backed by repo.
func NewService(repo Repository, opts ...ServiceOption) *Service {
	base, stop := context.WithCancel(context.Background())
	s := &Service{
		repo:    repo,
		logger:  slog.Default(),
		base:    base,
		stop:    stop,
		cancels: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "job"))
	return s
}

// Submit creates a job of the given kind and runs fn in the background.
// The returned job is a snapshot in IN_QUEUE state. ctx only bounds the
// initial save; the job itself runs until it finishes or is cancelled.
func (s *Service) Submit(ctx context.Context, kind Kind, fn RunFunc) (*Job, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	job := New(kind)
	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if s.timeout > 0 {
		runCtx, cancel = context.WithTimeout(s.base, s.timeout)
	} else {
		runCtx, cancel = context.WithCancel(s.base)
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		cancel()
		return nil, ErrShuttingDown
	}
	s.cancels[job.ID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("job submitted", slog.String("job_id", job.ID), slog.String("kind", string(kind)))

	snapshot := job.Clone()
	go s.run(runCtx, cancel, job, fn)
	return snapshot, nil
}

// JobID returns the id of the job running fn from inside fn's context.
func JobID(ctx context.Context) string {
	v, _ := ctx.Value(jobIDKey{}).(string)
	return v
}

type jobIDKey struct{}

func (s *Service) run(ctx context.Context, cancel context.CancelFunc, job *Job, fn RunFunc) {
	defer s.wg.Done()

	logger := s.logger.With(slog.String("job_id", job.ID), slog.String("kind", string(job.Kind)))
	ctx = context.WithValue(ctx, jobIDKey{}, job.ID)

	if err := job.Start(); err != nil {
		s.unregister(job.ID)
		cancel()
		logger.Error("failed to start job", slog.String("error", err.Error()))
		return
	}
	s.save(job, logger)

	progress := func(percent int, stage string) {
		job.UpdateProgress(percent, stage)
		s.save(job, logger)
	}

	start := time.Now()
	result, err := fn(ctx, progress)

	// Unregister before the final save so a terminal job is never cancellable.
	ctxErr := ctx.Err()
	s.unregister(job.ID)
	cancel()

	switch {
	case err == nil:
		s.complete(job, result, logger)
	case errors.Is(ctxErr, context.DeadlineExceeded):
		_ = job.Timeout()
		logger.Warn("job timed out", slog.Duration("elapsed", time.Since(start)))
	case failure.Is(err, failure.KindCancelled) || ctxErr != nil:
		_ = job.Cancel()
		logger.Info("job cancelled")
	default:
		_ = job.Fail(string(failure.KindOf(err)), err.Error())
		logger.Error("job failed",
			slog.String("error_kind", string(failure.KindOf(err))),
			slog.String("error", err.Error()),
		)
	}
	s.save(job, logger)
}

func (s *Service) unregister(id string) {
	s.mu.Lock()
	delete(s.cancels, id)
	s.mu.Unlock()
}

func (s *Service) complete(job *Job, result any, logger *slog.Logger) {
	data, err := json.Marshal(result)
	if err != nil {
		_ = job.Fail(string(failure.KindUnknown), fmt.Sprintf("encode result: %v", err))
		logger.Error("failed to encode job result", slog.String("error", err.Error()))
		return
	}
	_ = job.Complete(data)
	logger.Info("job completed")
}

func (s *Service) save(job *Job, logger *slog.Logger) {
	if err := s.repo.Save(context.Background(), job); err != nil {
		logger.Error("failed to save job", slog.String("error", err.Error()))
	}
}

// Get returns the job with the given id.
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns all jobs.
func (s *Service) List(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// Cancel cancels a queued or running job.
func (s *Service) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		cancel()
		s.logger.Info("job cancellation requested", slog.String("job_id", id))
		return nil
	}

	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return ErrJobFinished
	}
	// Persisted as active but not running here, e.g. left over from a previous process.
	if err := job.Cancel(); err != nil {
		return err
	}
	return s.repo.Save(ctx, job)
}

// Shutdown cancels running jobs and waits for them to record their outcome.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
