package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/rexl2018/aiapiproxy/internal/config"
	"github.com/rexl2018/aiapiproxy/internal/schema"
	"github.com/rexl2018/aiapiproxy/internal/signature"
	"github.com/rexl2018/aiapiproxy/internal/toolschema"
)

const geminiKeyEnv = "MODELHUB_API_KEY"

// GeminiModeAdapter targets an upstream that accepts OpenAI-Chat on the
// wire but enforces Gemini semantics: a strict JSON-Schema subset for tool
// parameters and a thought-signature side channel that must be echoed back
// to keep the model's cached reasoning.
type GeminiModeAdapter struct {
	httpClient
	logger *slog.Logger
	sigs   *signature.Cache
}

func NewGeminiModeAdapter(logger *slog.Logger, sigs *signature.Cache) *GeminiModeAdapter {
	return &GeminiModeAdapter{httpClient: newHTTPClient(), logger: logger, sigs: sigs}
}

func (a *GeminiModeAdapter) Name() string { return "gemini-mode" }

func (a *GeminiModeAdapter) ChatComplete(ctx context.Context, req *schema.ChatRequest, prov *config.Provider, model *config.Model) (*schema.ChatResponse, error) {
	native := a.nativeRequest(req, model)
	native.Stream = false

	endpoint, headers := a.auth(prov, native.SessionID)
	body, err := a.postJSON(ctx, endpoint, headers, native)
	if err != nil {
		return nil, err
	}

	var resp schema.ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse upstream response: %w", err)
	}
	a.captureSignatures(&resp)
	return &resp, nil
}

func (a *GeminiModeAdapter) ChatStream(ctx context.Context, req *schema.ChatRequest, prov *config.Provider, model *config.Model) (<-chan StreamResult, error) {
	native := a.nativeRequest(req, model)
	native.Stream = true

	endpoint, headers := a.auth(prov, native.SessionID)
	body, err := a.postStream(ctx, endpoint, headers, native)
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

// nativeRequest copies the canonical request with the upstream model name,
// sanitised tool schemas, re-injected thought signatures, and the
// max-output defence applied.
func (a *GeminiModeAdapter) nativeRequest(req *schema.ChatRequest, model *config.Model) *schema.ChatRequest {
	native := *req
	if model.Name != "" {
		native.Model = model.Name
	}
	native.MaxTokens = effectiveMaxOutputTokens(req.MaxTokens, model.MaxTokens)
	if native.Temperature == nil && model.Temperature != nil {
		native.Temperature = model.Temperature
	}
	if !model.SupportsTemperature() {
		native.Temperature = nil
	}

	if len(req.Tools) > 0 {
		native.Tools = make([]schema.ChatTool, len(req.Tools))
		for i, tool := range req.Tools {
			tool.Function.Parameters = toolschema.Sanitize(tool.Function.Parameters)
			native.Tools[i] = tool
		}
	}

	native.Messages = a.injectSignatures(req.Messages)
	return &native
}

// injectSignatures restores cached thought signatures on assistant tool
// calls the client re-presented without one.
func (a *GeminiModeAdapter) injectSignatures(messages []schema.ChatMessage) []schema.ChatMessage {
	out := make([]schema.ChatMessage, len(messages))
	copy(out, messages)
	for i := range out {
		if out[i].Role != "assistant" || len(out[i].ToolCalls) == 0 {
			continue
		}
		calls := make([]schema.ToolCall, len(out[i].ToolCalls))
		copy(calls, out[i].ToolCalls)
		for j := range calls {
			if calls[j].ThoughtSignature() != "" || calls[j].ID == "" {
				continue
			}
			if sig, ok := a.sigs.Lookup(calls[j].ID); ok {
				calls[j].SetThoughtSignature(sig)
				a.logger.Debug("restored thought signature", "tool_call_id", calls[j].ID)
			}
		}
		out[i].ToolCalls = calls
	}
	return out
}

// captureSignatures stores every signature the upstream surfaced so later
// turns can have it restored.
func (a *GeminiModeAdapter) captureSignatures(resp *schema.ChatResponse) {
	for _, choice := range resp.Choices {
		for _, call := range choice.Message.ToolCalls {
			if sig := call.ThoughtSignature(); sig != "" && call.ID != "" {
				a.sigs.Store(call.ID, sig)
			}
		}
	}
}

// auth builds the endpoint URL with query-parameter auth and the session
// header enabling upstream context caching.
func (a *GeminiModeAdapter) auth(prov *config.Provider, sessionID string) (string, map[string]string) {
	endpoint := strings.TrimSuffix(prov.BaseURL, "/") + "/v2/crawl"
	key := prov.ResolveAPIKey(geminiKeyEnv)

	headers := map[string]string{}
	if prov.Options.APIKeyParam != "" {
		endpoint += "?" + prov.Options.APIKeyParam + "=" + url.QueryEscape(key)
	} else if key != "" {
		headers["Authorization"] = "Bearer " + key
	}
	for k, v := range prov.Options.Headers {
		headers[k] = v
	}
	if sessionID != "" {
		headers["extra"] = fmt.Sprintf(`{"session_id": %q}`, sessionID)
	}
	return endpoint, headers
}
