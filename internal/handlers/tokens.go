package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pkoukk/tiktoken-go"

	"github.com/rexl2018/aiapiproxy/internal/apierror"
	"github.com/rexl2018/aiapiproxy/internal/schema"
)

// CountTokensHandler serves POST /v1/messages/count_tokens with a local
// tiktoken estimate; no upstream call is made. Counts are approximate for
// non-OpenAI tokenisers but close enough for budget checks.
type CountTokensHandler struct {
	logger *slog.Logger
}

func NewCountTokensHandler(logger *slog.Logger) *CountTokensHandler {
	return &CountTokensHandler{logger: logger}
}

func (h *CountTokensHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req schema.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, apierror.InvalidRequest("invalid request body: %v", err))
		return
	}

	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		writeError(w, h.logger, apierror.API("load tokenizer: %v", err))
		return
	}

	tokens := 0
	count := func(text string) {
		if text != "" {
			tokens += len(encoding.Encode(text, nil, nil))
		}
	}

	count(req.System.Resolve())
	for i := range req.Messages {
		count(req.Messages[i].Content.ExtractText())
	}
	for _, tool := range req.Tools {
		count(tool.Name)
		count(tool.Description)
		if tool.InputSchema != nil {
			if raw, err := json.Marshal(tool.InputSchema); err == nil {
				count(string(raw))
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]int{"input_tokens": tokens}); err != nil {
		h.logger.Error("write response failed", "error", err)
	}
}
