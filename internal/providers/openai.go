package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rexl2018/aiapiproxy/internal/config"
	"github.com/rexl2018/aiapiproxy/internal/schema"
)

const openaiKeyEnv = "OPENAI_API_KEY"

// OpenAIAdapter speaks the OpenAI Chat Completions dialect. The canonical
// form is this dialect, so translation is limited to model-name and
// default substitution.
type OpenAIAdapter struct {
	httpClient
	logger *slog.Logger
}

func NewOpenAIAdapter(logger *slog.Logger) *OpenAIAdapter {
	return &OpenAIAdapter{httpClient: newHTTPClient(), logger: logger}
}

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) ChatComplete(ctx context.Context, req *schema.ChatRequest, prov *config.Provider, model *config.Model) (*schema.ChatResponse, error) {
	native := a.nativeRequest(req, model)
	native.Stream = false

	body, err := a.postJSON(ctx, chatURL(prov), a.headers(prov), native)
	if err != nil {
		return nil, err
	}

	var resp schema.ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse upstream response: %w", err)
	}
	return &resp, nil
}

func (a *OpenAIAdapter) ChatStream(ctx context.Context, req *schema.ChatRequest, prov *config.Provider, model *config.Model) (<-chan StreamResult, error) {
	native := a.nativeRequest(req, model)
	native.Stream = true

	body, err := a.postStream(ctx, chatURL(prov), a.headers(prov), native)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamResult)
	go func() {
		defer close(ch)
		defer body.Close()
		err := sseLines(body, func(data []byte) bool {
			var chunk schema.ChatStreamChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				a.logger.Warn("skipping malformed stream chunk", "error", err)
				return true
			}
			return emit(ctx, ch, StreamResult{Chunk: &chunk})
		})
		if err != nil {
			emit(ctx, ch, StreamResult{Err: fmt.Errorf("read upstream stream: %w", err)})
		}
	}()
	return ch, nil
}

// nativeRequest copies the canonical request, substituting the upstream
// model name and the model descriptor's defaults.
func (a *OpenAIAdapter) nativeRequest(req *schema.ChatRequest, model *config.Model) *schema.ChatRequest {
	native := *req
	if model.Name != "" {
		native.Model = model.Name
	}
	if native.MaxTokens == 0 && model.MaxTokens > 0 {
		native.MaxTokens = model.MaxTokens
	}
	if native.Temperature == nil && model.Temperature != nil {
		native.Temperature = model.Temperature
	}
	return &native
}

func (a *OpenAIAdapter) headers(prov *config.Provider) map[string]string {
	return bearerHeaders(prov.ResolveAPIKey(openaiKeyEnv), prov.Options.Headers)
}

func chatURL(prov *config.Provider) string {
	return strings.TrimSuffix(prov.BaseURL, "/") + "/chat/completions"
}

// emit sends a result unless the consumer or the request context is gone.
func emit(ctx context.Context, ch chan<- StreamResult, res StreamResult) bool {
	select {
	case ch <- res:
		return true
	case <-ctx.Done():
		return false
	}
}
