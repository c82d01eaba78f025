// Package cache implements the content-addressed on-disk artifact cache.
//
// Each namespace is a directory holding one binary payload (<key>.wav) and one
// JSON metadata sidecar (<key>.json) per entry. A payload without its sidecar,
// or a sidecar without its payload, is treated as absent.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/maauso/audiobook-forge/internal/failure"
	"github.com/maauso/audiobook-forge/internal/media"
)

// DefaultRetention is the absolute lifetime of an entry, measured from creation.
const DefaultRetention = 7 * 24 * time.Hour

// Namespaces used by the pipeline.
const (
	NamespaceSynthesis  = "tts"
	NamespaceProcessing = "processed"
)

const (
	payloadExt = ".wav"
	metaExt    = ".json"
	tmpPrefix  = ".tmp-"
)

// Static errors for cache operations.
var (
	// ErrMiss is returned by Get when no valid entry exists for the key.
	ErrMiss = errors.New("cache: miss")
	// ErrInvalidKey is returned for keys that are empty or not file-safe.
	ErrInvalidKey = errors.New("cache: invalid key")
	// ErrInvalidNamespace is returned for namespaces that are empty or not file-safe.
	ErrInvalidNamespace = errors.New("cache: invalid namespace")
)

var safeName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Meta is the sidecar metadata stored next to each payload.
type Meta struct {
	Key        string            `json:"key"`
	CreatedAt  time.Time         `json:"createdAt"`
	AccessedAt time.Time         `json:"accessedAt"`
	ExpiresAt  time.Time         `json:"expiresAt"`
	SizeBytes  int64             `json:"sizeBytes"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// Entry is a cache hit: the payload location plus its metadata.
type Entry struct {
	Key  string `json:"key"`
	Path string `json:"path"`
	Meta Meta   `json:"meta"`
}

// Stats summarises a namespace.
type Stats struct {
	Namespace  string `json:"namespace"`
	Entries    int    `json:"entries"`
	TotalBytes int64  `json:"totalBytes"`
}

// Store is a single cache namespace rooted in its own directory.
// It is safe for concurrent use: writers publish through atomic renames.
type Store struct {
	namespace string
	dir       string
	retention time.Duration
	now       func() time.Time
	validate  func(path string) error
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithRetention overrides DefaultRetention.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithClock sets the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithValidator replaces the payload validator. The default checks for a WAV header.
func WithValidator(fn func(path string) error) Option {
	return func(s *Store) {
		if fn != nil {
			s.validate = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore opens (creating if needed) the namespace directory under root.
func NewStore(root, namespace string, opts ...Option) (*Store, error) {
	if !safeName.MatchString(namespace) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNamespace, namespace)
	}

	s := &Store{
		namespace: namespace,
		dir:       filepath.Join(root, namespace),
		retention: DefaultRetention,
		now:       time.Now,
		validate:  media.ValidateWAVFile,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "cache"), slog.String("namespace", namespace))

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, failure.Environment("cache.open", fmt.Errorf("create cache dir: %w", err))
	}
	return s, nil
}

// Namespace returns the namespace name.
func (s *Store) Namespace() string { return s.namespace }

// Dir returns the namespace directory.
func (s *Store) Dir() string { return s.dir }

// Get returns the entry for key, or ErrMiss. Expired or corrupt entries are
// deleted and reported as a miss. A hit refreshes the access time only; the
// expiry is never extended.
func (s *Store) Get(ctx context.Context, key string) (Entry, error) {
	if err := checkKey(key); err != nil {
		return Entry{}, err
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, failure.Cancelled("cache.get", err)
	}

	meta, err := s.readMeta(key)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("discarding unreadable cache metadata", slog.String("key", key), slog.String("error", err.Error()))
			s.remove(key)
		}
		return Entry{}, ErrMiss
	}

	path := s.payloadPath(key)
	info, err := os.Stat(path)
	if err != nil {
		s.logger.Warn("discarding cache metadata without payload", slog.String("key", key))
		s.remove(key)
		return Entry{}, ErrMiss
	}

	now := s.now()
	if now.After(meta.ExpiresAt) {
		s.logger.Debug("cache entry expired", slog.String("key", key), slog.Time("expiresAt", meta.ExpiresAt))
		s.remove(key)
		return Entry{}, ErrMiss
	}

	if err := s.validate(path); err != nil {
		s.logger.Warn("discarding corrupt cache payload", slog.String("key", key), slog.String("error", err.Error()))
		s.remove(key)
		return Entry{}, ErrMiss
	}

	meta.AccessedAt = now
	meta.SizeBytes = info.Size()
	if err := s.writeMeta(key, meta); err != nil {
		s.logger.Warn("failed to refresh cache access time", slog.String("key", key), slog.String("error", err.Error()))
	}

	return Entry{Key: key, Path: path, Meta: meta}, nil
}

// Put stores the payload read from r under key, replacing any existing entry.
// The payload is validated before it becomes visible.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, fields map[string]string) (Entry, error) {
	if err := checkKey(key); err != nil {
		return Entry{}, err
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, failure.Cancelled("cache.put", err)
	}

	tmp, err := os.CreateTemp(s.dir, tmpPrefix+key+"-*")
	if err != nil {
		return Entry{}, failure.Environment("cache.put", fmt.Errorf("create temp payload: %w", err))
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	size, err := io.Copy(tmp, &contextReader{ctx: ctx, r: r})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if ctx.Err() != nil {
			return Entry{}, failure.Cancelled("cache.put", ctx.Err())
		}
		return Entry{}, failure.Environment("cache.put", fmt.Errorf("write payload: %w", err))
	}

	if err := s.validate(tmpPath); err != nil {
		return Entry{}, failure.Validation("cache.put", err)
	}

	path := s.payloadPath(key)
	if err := os.Rename(tmpPath, path); err != nil {
		return Entry{}, failure.Environment("cache.put", fmt.Errorf("commit payload: %w", err))
	}
	committed = true

	now := s.now()
	meta := Meta{
		Key:        key,
		CreatedAt:  now,
		AccessedAt: now,
		ExpiresAt:  now.Add(s.retention),
		SizeBytes:  size,
		Fields:     fields,
	}
	if err := s.writeMeta(key, meta); err != nil {
		_ = os.Remove(path)
		return Entry{}, failure.Environment("cache.put", fmt.Errorf("write metadata: %w", err))
	}

	s.logger.Debug("cache entry stored", slog.String("key", key), slog.Int64("bytes", size))
	return Entry{Key: key, Path: path, Meta: meta}, nil
}

// PutFile stores a copy of the file at src under key.
func (s *Store) PutFile(ctx context.Context, key, src string, fields map[string]string) (Entry, error) {
	f, err := os.Open(src) // #nosec G304 - src is produced by the pipeline
	if err != nil {
		return Entry{}, failure.Integrity("cache.put", fmt.Errorf("open source: %w", err))
	}
	defer func() { _ = f.Close() }()
	return s.Put(ctx, key, f, fields)
}

// Delete removes the entry for key. Deleting a missing key is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	var errs []error
	for _, p := range []string{s.metaPath(key), s.payloadPath(key)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return failure.Environment("cache.delete", errors.Join(errs...))
	}
	return nil
}

// Clear removes every entry in the namespace and returns how many were removed.
// The namespace directory is left empty and usable.
func (s *Store) Clear(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, failure.Cancelled("cache.clear", err)
	}

	keys, err := s.keys()
	if err != nil {
		return 0, err
	}

	if err := os.RemoveAll(s.dir); err != nil {
		return 0, failure.Environment("cache.clear", fmt.Errorf("remove cache dir: %w", err))
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return 0, failure.Environment("cache.clear", fmt.Errorf("recreate cache dir: %w", err))
	}

	s.logger.Info("cache cleared", slog.Int("entries", len(keys)))
	return len(keys), nil
}

// List returns all live entries sorted by creation time. Expired entries are
// pruned along the way; access times are left untouched.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	keys, err := s.keys()
	if err != nil {
		return nil, err
	}

	now := s.now()
	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, failure.Cancelled("cache.list", err)
		}
		meta, err := s.readMeta(key)
		if err != nil {
			continue
		}
		if now.After(meta.ExpiresAt) {
			s.remove(key)
			continue
		}
		path := s.payloadPath(key)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		entries = append(entries, Entry{Key: key, Path: path, Meta: meta})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Meta.CreatedAt.Equal(entries[j].Meta.CreatedAt) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].Meta.CreatedAt.Before(entries[j].Meta.CreatedAt)
	})
	return entries, nil
}

// Stats returns the number of live entries and their total payload size.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Namespace: s.namespace, Entries: len(entries)}
	for _, e := range entries {
		st.TotalBytes += e.Meta.SizeBytes
	}
	return st, nil
}

// Prune removes expired entries, orphaned payloads or sidecars, and leftover
// temp files. It returns the number of files removed.
func (s *Store) Prune(ctx context.Context) (int, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, failure.Environment("cache.prune", fmt.Errorf("read cache dir: %w", err))
	}

	present := make(map[string]bool, len(dirEntries))
	for _, de := range dirEntries {
		present[de.Name()] = true
	}

	now := s.now()
	removed := 0
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return removed, failure.Cancelled("cache.prune", err)
		}
		name := de.Name()
		path := filepath.Join(s.dir, name)
		switch {
		case strings.HasPrefix(name, tmpPrefix):
			if isStale(de, now) && os.Remove(path) == nil {
				removed++
			}
		case strings.HasSuffix(name, metaExt):
			key := strings.TrimSuffix(name, metaExt)
			meta, err := s.readMeta(key)
			if err != nil || !present[key+payloadExt] || now.After(meta.ExpiresAt) {
				removed += s.remove(key)
			}
		case strings.HasSuffix(name, payloadExt):
			key := strings.TrimSuffix(name, payloadExt)
			// Put commits the payload before its sidecar; leave recent orphans alone.
			if !present[key+metaExt] && isStale(de, now) && os.Remove(path) == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		s.logger.Info("cache pruned", slog.Int("files", removed))
	}
	return removed, nil
}

func (s *Store) keys() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, failure.Environment("cache.list", fmt.Errorf("read cache dir: %w", err))
	}
	var keys []string
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, tmpPrefix) || !strings.HasSuffix(name, metaExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, metaExt))
	}
	return keys, nil
}

func (s *Store) payloadPath(key string) string { return filepath.Join(s.dir, key+payloadExt) }
func (s *Store) metaPath(key string) string    { return filepath.Join(s.dir, key+metaExt) }

func (s *Store) readMeta(key string) (Meta, error) {
	data, err := os.ReadFile(s.metaPath(key))
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("decode metadata: %w", err)
	}
	if meta.ExpiresAt.IsZero() {
		return Meta{}, errors.New("metadata missing expiresAt")
	}
	return meta, nil
}

func (s *Store) writeMeta(key string, meta Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, tmpPrefix+key+"-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.metaPath(key)); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

// remove deletes both files of an entry and returns how many were removed.
func (s *Store) remove(key string) int {
	n := 0
	for _, p := range []string{s.metaPath(key), s.payloadPath(key)} {
		if os.Remove(p) == nil {
			n++
		}
	}
	return n
}

// staleAfter is how old a temp file or orphaned payload must be before Prune removes it.
const staleAfter = time.Hour

func isStale(de os.DirEntry, now time.Time) bool {
	info, err := de.Info()
	return err == nil && now.Sub(info.ModTime()) > staleAfter
}

func checkKey(key string) error {
	if !safeName.MatchString(key) || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
