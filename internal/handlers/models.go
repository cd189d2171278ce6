package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"

	"github.com/rexl2018/aiapiproxy/internal/providers"
)

// ModelsHandler serves GET /v1/models, listing every client-facing name
// the router resolves.
type ModelsHandler struct {
	logger *slog.Logger
	router *providers.Router
}

func NewModelsHandler(logger *slog.Logger, router *providers.Router) *ModelsHandler {
	return &ModelsHandler{logger: logger, router: router}
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	names := h.router.ClientModels()
	sort.Strings(names)

	list := modelList{Object: "list", Data: make([]modelEntry, 0, len(names))}
	for _, name := range names {
		list.Data = append(list.Data, modelEntry{ID: name, Object: "model", OwnedBy: "aiapiproxy"})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(list); err != nil {
		h.logger.Error("write response failed", "error", err)
	}
}
