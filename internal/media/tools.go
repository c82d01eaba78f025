// Package media wraps the external audio tools used by the pipeline (ffmpeg, ffprobe)
// and the small amount of in-process WAV inspection the pipeline needs.
package media

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/maauso/audiobook-forge/internal/failure"
)

// ErrToolNotFound is returned when neither a bundled nor a system binary exists.
var ErrToolNotFound = errors.New("media: tool not found")

// Tool is a resolved external binary.
type Tool struct {
	// Name is the logical tool name, e.g. "ffmpeg".
	Name string
	// Path is the absolute or PATH-resolved location of the binary.
	Path string
	// Bundled is true when the binary was found in the bundled tools directory.
	Bundled bool
}

// Resolve locates a tool by name. A binary inside bundledDir is preferred;
// otherwise the system PATH is searched. A missing tool is an environment failure.
func Resolve(name, bundledDir string) (Tool, error) {
	if bundledDir != "" {
		for _, candidate := range bundledCandidates(name, bundledDir) {
			if isExecutable(candidate) {
				return Tool{Name: name, Path: candidate, Bundled: true}, nil
			}
		}
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return Tool{}, failure.Environment("media.resolve", fmt.Errorf("%w: %s: %w", ErrToolNotFound, name, err))
	}
	return Tool{Name: name, Path: path}, nil
}

func bundledCandidates(name, dir string) []string {
	candidates := []string{filepath.Join(dir, name)}
	if runtime.GOOS == "windows" {
		candidates = append([]string{filepath.Join(dir, name+".exe")}, candidates...)
	}
	return candidates
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
