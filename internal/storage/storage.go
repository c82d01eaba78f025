// Package storage provides scratch file handling for the pipeline and
// publishing of finished chapter artifacts to object storage.
package storage

import (
	"context"
	"io"
)

// Scratch stages intermediate files (waveforms handed to external tools,
// normalized assembly inputs) outside the cache.
type Scratch interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// WorkDir creates a fresh scratch directory.
	WorkDir(ctx context.Context, name string) (path string, err error)

	// CleanupTemp removes the specified temporary files or directories.
	// It continues cleanup even if some paths fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error
}

// Publisher uploads a finished artifact file and returns where it can be fetched.
type Publisher interface {
	PublishFile(ctx context.Context, key, path string) (url string, err error)
}
