package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HealthHandler serves GET /health and GET /. It touches no gateway state.
type HealthHandler struct {
	logger  *slog.Logger
	version string
}

func NewHealthHandler(logger *slog.Logger, version string) *HealthHandler {
	return &HealthHandler{logger: logger, version: version}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body := map[string]string{
		"status":  "ok",
		"service": "aiapiproxy",
		"version": h.version,
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("write health response failed", "error", err)
	}
}
