package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /events", h.Events)

	// Pipeline operations run as jobs
	mux.HandleFunc("POST /segments/audio", h.ProduceSegmentAudio)
	mux.HandleFunc("POST /processing", h.ApplyProcessing)
	mux.HandleFunc("POST /chapters/{id}/assemble", h.AssembleChapter)

	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("DELETE /jobs/{id}", h.CancelJob)

	mux.HandleFunc("GET /cache", h.CacheOverview)
	mux.HandleFunc("GET /cache/{ns}", h.GetCache)
	mux.HandleFunc("DELETE /cache/{ns}", h.ClearCache)
	mux.HandleFunc("POST /cache/{ns}/prune", h.PruneCache)
	mux.HandleFunc("DELETE /cache/{ns}/{key}", h.EvictCacheEntry)

	mux.HandleFunc("GET /presets", h.ListPresets)

	// Apply middleware chain
	chain := ChainMiddleware(
		RequestIDMiddleware(),
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
