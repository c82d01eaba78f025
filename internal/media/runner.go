package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/maauso/audiobook-forge/internal/failure"
)

// StderrTailBytes bounds how much of a tool's error stream is kept for diagnostics.
const StderrTailBytes = 2048

// waitDelay bounds how long Wait blocks on I/O after the process is killed.
const waitDelay = 2 * time.Second

// ToolError represents a failed tool run, including the tail of its stderr output.
type ToolError struct {
	Tool   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s error: %v\nargs: %v\nstderr: %s", e.Tool, e.Err, e.Args, e.Stderr)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Runner executes a resolved tool.
type Runner struct {
	tool   Tool
	logger *slog.Logger
}

// NewRunner creates a Runner for tool.
func NewRunner(tool Tool, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{tool: tool, logger: logger}
}

// Tool returns the tool this runner executes.
func (r *Runner) Tool() Tool {
	return r.tool
}

// Run executes the tool with args and discards stdout.
func (r *Runner) Run(ctx context.Context, op string, args []string) error {
	_, err := r.run(ctx, op, args, false)
	return err
}

// Output executes the tool with args and returns its stdout.
func (r *Runner) Output(ctx context.Context, op string, args []string) ([]byte, error) {
	return r.run(ctx, op, args, true)
}

func (r *Runner) run(ctx context.Context, op string, args []string, captureStdout bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, failure.Cancelled(op, err)
	}

	// #nosec G204 - tool path is resolved by the application, args are built internally
	cmd := exec.CommandContext(ctx, r.tool.Path, args...)
	cmd.WaitDelay = waitDelay

	stderr := &tailBuffer{max: StderrTailBytes}
	cmd.Stderr = stderr
	var stdout bytes.Buffer
	if captureStdout {
		cmd.Stdout = &stdout
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, failure.Environment(op, fmt.Errorf("start %s: %w", r.tool.Name, err))
	}

	err := cmd.Wait()
	r.logger.Debug("tool finished",
		slog.String("tool", r.tool.Name),
		slog.String("op", op),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("ok", err == nil),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, failure.Cancelled(op, fmt.Errorf("%s cancelled: %w", r.tool.Name, ctx.Err()))
		}
		tail := stderr.String()
		toolErr := &ToolError{Tool: r.tool.Name, Args: args, Stderr: tail, Err: err}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, failure.Environment(op, toolErr)
		}
		return nil, failure.Processing(op, tail, toolErr)
	}

	return stdout.Bytes(), nil
}

// tailBuffer keeps only the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(string(t.buf))
}
