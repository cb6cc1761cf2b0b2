package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/marcogenualdo/sso-child/internal/backend"
	"github.com/marcogenualdo/sso-child/internal/cache"
	"github.com/marcogenualdo/sso-child/internal/config"
)

type HealthHandler struct {
	cfg       *config.Config
	cache     cache.Cache
	backend   *backend.Client
	logger    *slog.Logger
	startTime time.Time
}

func NewHealthHandler(cfg *config.Config, cache cache.Cache, b *backend.Client, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		cfg:       cfg,
		cache:     cache,
		backend:   b,
		logger:    logger,
		startTime: time.Now(),
	}
}

type HealthResponse struct {
	Status   string         `json:"status"`
	Uptime   string         `json:"uptime"`
	Cache    CacheHealth    `json:"cache"`
	Backend  BackendHealth  `json:"backend"`
	Provider ProviderHealth `json:"provider"`
}

type CacheHealth struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type BackendHealth struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

type ProviderHealth struct {
	URL      string `json:"url"`
	ClientID string `json:"client_id"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status: "healthy",
		Uptime: time.Since(h.startTime).String(),
		Provider: ProviderHealth{
			URL:      h.cfg.Provider.BaseURL,
			ClientID: h.cfg.Provider.ClientID,
		},
	}

	response.Cache.Type = h.cfg.Cache.Type
	if err := h.cache.Set(ctx, "health:check", []byte("ok"), 1*time.Minute); err != nil {
		response.Cache.Status = "error: " + err.Error()
		response.Status = "degraded"
	} else {
		response.Cache.Status = "connected"
		if err := h.cache.Delete(ctx, "health:check"); err != nil {
			h.logger.Debug("failed to delete health check key", "error", err)
		}
	}

	response.Backend.URL = h.cfg.Backend.URL
	if err := h.backend.Ping(ctx); err != nil {
		h.logger.Warn("backend unreachable", "error", err)
		response.Backend.Status = "unreachable"
		response.Status = "degraded"
	} else {
		response.Backend.Status = "reachable"
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Debug("failed to write health response", "error", err)
	}
}
