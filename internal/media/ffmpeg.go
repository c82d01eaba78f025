package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/maauso/audiobook-forge/internal/failure"
)

var (
	// ErrNoInputs is returned when a playlist is requested for zero files.
	ErrNoInputs = errors.New("media: no input paths provided")
	// ErrBadConcatPath is returned for paths a playlist line cannot carry.
	ErrBadConcatPath = errors.New("media: path cannot be listed in a concat playlist")
)

// Prober reads media metadata with ffprobe.
type Prober struct {
	runner *Runner
}

// NewProber creates a Prober for the given ffprobe tool.
func NewProber(tool Tool, logger *slog.Logger) *Prober {
	return &Prober{runner: NewRunner(tool, logger)}
}

// Duration returns the duration in seconds of a media file.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	out, err := p.runner.Output(ctx, "media.probe", []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	})
	if err != nil {
		return 0, err
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, failure.Integrity("media.probe", fmt.Errorf("parse duration %q: %w", strings.TrimSpace(string(out)), err))
	}
	return duration, nil
}

// WriteConcatList writes an ffconcat playlist listing paths in order and
// returns the playlist path. The caller removes the file on success; on
// error nothing is left behind.
func WriteConcatList(dir string, paths []string) (_ string, err error) {
	if len(paths) == 0 {
		return "", ErrNoInputs
	}

	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, path := range paths {
		if strings.ContainsAny(path, "\r\n") {
			return "", fmt.Errorf("%w: %q", ErrBadConcatPath, path)
		}
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("get absolute path for %s: %w", path, err)
		}
		_, _ = fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(absPath))
	}

	f, err := os.CreateTemp(dir, "concat-*.ffconcat")
	if err != nil {
		return "", fmt.Errorf("create concat list: %w", err)
	}
	name := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(name)
		}
	}()

	if _, err = f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write concat list: %w", err)
	}
	if err = f.Close(); err != nil {
		return "", fmt.Errorf("close concat list: %w", err)
	}
	return name, nil
}

func escapeConcatPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}
