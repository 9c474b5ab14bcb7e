// Package server provides HTTP server construction for social-sync.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/social-sync/internal/auth"
)

// HealthFunc reports the state shown on /healthz.
type HealthFunc func() any

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Keys       *auth.KeyStore
	MCPHandler http.Handler
	Logger     *slog.Logger
	Health     HealthFunc
}

// NewMux builds the HTTP mux with the MCP endpoint, protected by API key
// middleware, and an unauthenticated health check.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		var body any = map[string]string{"status": "ok"}
		if cfg.Health != nil {
			body = cfg.Health()
		}

		if err := json.NewEncoder(w).Encode(body); err != nil {
			cfg.Logger.Debug("healthz: write failed", slog.String("error", err.Error()))
		}
	})

	authMiddleware := auth.Middleware(cfg.Keys, cfg.Logger)
	mux.Handle("/mcp", authMiddleware(cfg.MCPHandler))

	return mux
}
