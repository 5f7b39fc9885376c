package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ConfigHandler exposes the public client configuration and a health probe.
type ConfigHandler struct {
	supabaseURL     string
	supabaseAnonKey string
	db              Pinger
	logger          *slog.Logger
}

// NewConfigHandler creates a ConfigHandler. Browsers receive the anon key;
// the service-role key must never be passed here.
func NewConfigHandler(supabaseURL, supabaseAnonKey string, db Pinger, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{
		supabaseURL:     supabaseURL,
		supabaseAnonKey: supabaseAnonKey,
		db:              db,
		logger:          logger,
	}
}

type clientConfig struct {
	SupabaseURL     string `json:"supabaseUrl"`
	SupabaseAnonKey string `json:"supabaseAnonKey"`
}

// HandleConfig lets the browser build its own Supabase client.
//
// HTTP: GET /api/config
func (h *ConfigHandler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, clientConfig{
		SupabaseURL:     h.supabaseURL,
		SupabaseAnonKey: h.supabaseAnonKey,
	})
}

// HandleHealth answers 200 when the directory is reachable, 503 otherwise.
//
// HTTP: GET /healthz
func (h *ConfigHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		h.logger.Warn("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
