package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/audiobook-forge/internal/failure"
)

func waitTerminal(t *testing.T, svc *Service, id string) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		var err error
		job, err = svc.Get(context.Background(), id)
		return err == nil && job.IsTerminal()
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestService_SubmitCompletes(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	defer func() { _ = svc.Shutdown(context.Background()) }()

	var seenID string
	submitted, err := svc.Submit(context.Background(), KindProcess, func(ctx context.Context, progress ProgressFunc) (any, error) {
		seenID = JobID(ctx)
		progress(50, "processing")
		return map[string]string{"key": "dsp-v3_abc"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusInQueue, submitted.Status)

	job := waitTerminal(t, svc, submitted.ID)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, "processing", job.Stage)
	assert.JSONEq(t, `{"key":"dsp-v3_abc"}`, string(job.Result))
	assert.Equal(t, submitted.ID, seenID)
}

func TestService_FailureRecordsKind(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	defer func() { _ = svc.Shutdown(context.Background()) }()

	submitted, err := svc.Submit(context.Background(), KindSegment, func(context.Context, ProgressFunc) (any, error) {
		return nil, failure.Provider("synth.synthesize", 503, errors.New("unavailable"))
	})
	require.NoError(t, err)

	job := waitTerminal(t, svc, submitted.ID)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "provider", job.ErrorKind)
	assert.Contains(t, job.Error, "status 503")
}

func TestService_Cancel(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	defer func() { _ = svc.Shutdown(context.Background()) }()

	started := make(chan struct{})
	submitted, err := svc.Submit(context.Background(), KindChapter, func(ctx context.Context, _ ProgressFunc) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, failure.Cancelled("audio.assemble", ctx.Err())
	})
	require.NoError(t, err)
	<-started

	require.NoError(t, svc.Cancel(context.Background(), submitted.ID))

	job := waitTerminal(t, svc, submitted.ID)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.ErrorIs(t, svc.Cancel(context.Background(), submitted.ID), ErrJobFinished)
	assert.ErrorIs(t, svc.Cancel(context.Background(), "job-unknown"), ErrJobNotFound)
}

func TestService_CancelOrphanedJob(t *testing.T) {
	repo := NewMemoryRepository()
	orphan := New(KindChapter)
	_ = orphan.Start()
	require.NoError(t, repo.Save(context.Background(), orphan))

	svc := NewService(repo)
	require.NoError(t, svc.Cancel(context.Background(), orphan.ID))

	job, err := svc.Get(context.Background(), orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, job.Status)
}

func TestService_Timeout(t *testing.T) {
	svc := NewService(NewMemoryRepository(), WithJobTimeout(20*time.Millisecond))
	defer func() { _ = svc.Shutdown(context.Background()) }()

	submitted, err := svc.Submit(context.Background(), KindSegment, func(ctx context.Context, _ ProgressFunc) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	job := waitTerminal(t, svc, submitted.ID)
	assert.Equal(t, StatusTimedOut, job.Status)
}

func TestService_InvalidKind(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	_, err := svc.Submit(context.Background(), Kind("export"), func(context.Context, ProgressFunc) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestService_Shutdown(t *testing.T) {
	svc := NewService(NewMemoryRepository())

	submitted, err := svc.Submit(context.Background(), KindChapter, func(ctx context.Context, _ ProgressFunc) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	job, err := svc.Get(context.Background(), submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, job.Status)

	_, err = svc.Submit(context.Background(), KindChapter, func(context.Context, ProgressFunc) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrShuttingDown)
}
