package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/maauso/audiobook-forge/internal/cache"
	"github.com/maauso/audiobook-forge/internal/failure"
)

// CacheNamespaces returns the cache namespaces the pipeline owns.
func (s *Service) CacheNamespaces() []string {
	names := []string{s.ttsCache.Namespace(), s.procCache.Namespace()}
	sort.Strings(names)
	return names
}

func (s *Service) store(ns string) (*cache.Store, error) {
	switch ns {
	case s.ttsCache.Namespace():
		return s.ttsCache, nil
	case s.procCache.Namespace():
		return s.procCache, nil
	default:
		return nil, failure.Validation("pipeline.cache", fmt.Errorf("%w: %q", ErrUnknownNamespace, ns))
	}
}

// CacheList returns the live entries of a namespace.
func (s *Service) CacheList(ctx context.Context, ns string) ([]cache.Entry, error) {
	st, err := s.store(ns)
	if err != nil {
		return nil, err
	}
	return st.List(ctx)
}

// CacheStats summarises a namespace.
func (s *Service) CacheStats(ctx context.Context, ns string) (cache.Stats, error) {
	st, err := s.store(ns)
	if err != nil {
		return cache.Stats{}, err
	}
	return st.Stats(ctx)
}

// CacheClear removes every entry of a namespace and returns how many were removed.
func (s *Service) CacheClear(ctx context.Context, ns string) (int, error) {
	st, err := s.store(ns)
	if err != nil {
		return 0, err
	}
	return st.Clear(ctx)
}

// CacheEvict removes one entry.
func (s *Service) CacheEvict(ctx context.Context, ns, key string) error {
	st, err := s.store(ns)
	if err != nil {
		return err
	}
	return st.Delete(ctx, key)
}

// CachePrune removes expired entries and leftovers from interrupted writes.
func (s *Service) CachePrune(ctx context.Context, ns string) (int, error) {
	st, err := s.store(ns)
	if err != nil {
		return 0, err
	}
	return st.Prune(ctx)
}
