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
)

const (
	responsesKeyEnv         = "ARK_API_KEY"
	fallbackMaxOutputTokens = 8192
)

// ResponsesAdapter speaks the OpenAI-Responses dialect: a flat input item
// list with instructions hoisted out, and per-item tool call/output pairs
// the upstream insists are matched.
type ResponsesAdapter struct {
	httpClient
	logger *slog.Logger
}

func NewResponsesAdapter(logger *slog.Logger) *ResponsesAdapter {
	return &ResponsesAdapter{httpClient: newHTTPClient(), logger: logger}
}

func (a *ResponsesAdapter) Name() string { return "openai-responses" }

func (a *ResponsesAdapter) ChatComplete(ctx context.Context, req *schema.ChatRequest, prov *config.Provider, model *config.Model) (*schema.ChatResponse, error) {
	native := buildResponsesRequest(req, model)
	native.Stream = false

	endpoint, headers := responsesAuth(prov, responsesURL(prov))
	body, err := a.postJSON(ctx, endpoint, headers, native)
	if err != nil {
		return nil, err
	}

	var resp responsesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse upstream response: %w", err)
	}
	return resp.toCanonical(native.Model), nil
}

func (a *ResponsesAdapter) ChatStream(ctx context.Context, req *schema.ChatRequest, prov *config.Provider, model *config.Model) (<-chan StreamResult, error) {
	native := buildResponsesRequest(req, model)
	native.Stream = true

	endpoint, headers := responsesAuth(prov, responsesURL(prov))
	body, err := a.postStream(ctx, endpoint, headers, native)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamResult)
	go func() {
		defer close(ch)
		defer body.Close()
		err := sseLines(body, func(data []byte) bool {
			var event responsesStreamEvent
			if err := json.Unmarshal(data, &event); err != nil {
				a.logger.Warn("skipping malformed stream event", "error", err)
				return true
			}
			chunk := event.toChunk()
			if chunk == nil {
				return true
			}
			return emit(ctx, ch, StreamResult{Chunk: chunk})
		})
		if err != nil {
			emit(ctx, ch, StreamResult{Err: fmt.Errorf("read upstream stream: %w", err)})
		}
	}()
	return ch, nil
}

func responsesURL(prov *config.Provider) string {
	return strings.TrimSuffix(prov.BaseURL, "/") + "/responses"
}

// responsesAuth applies the provider's auth scheme: query-parameter when
// apiKeyParam is configured, Bearer otherwise.
func responsesAuth(prov *config.Provider, endpoint string) (string, map[string]string) {
	key := prov.ResolveAPIKey(responsesKeyEnv)
	if prov.Options.APIKeyParam != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + prov.Options.APIKeyParam + "=" + url.QueryEscape(key)
		return endpoint, bearerHeaders("", prov.Options.Headers)
	}
	return endpoint, bearerHeaders(key, prov.Options.Headers)
}

// Native wire types.

type responsesRequest struct {
	Model           string          `json:"model"`
	Input           []responsesItem `json:"input"`
	Instructions    string          `json:"instructions,omitempty"`
	MaxOutputTokens int             `json:"max_output_tokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"top_p,omitempty"`
	Stream          bool            `json:"stream,omitempty"`
	Tools           []responsesTool `json:"tools,omitempty"`
}

type responsesItem struct {
	Type    string          `json:"type"`
	Role    string          `json:"role,omitempty"`
	Content []responsesPart `json:"content,omitempty"`

	// function_call / function_call_output
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

type responsesPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type responsesTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type responsesResponse struct {
	ID     string            `json:"id,omitempty"`
	Model  string            `json:"model,omitempty"`
	Status string            `json:"status,omitempty"`
	Output []responsesOutput `json:"output,omitempty"`
	Usage  *responsesUsage   `json:"usage,omitempty"`
}

type responsesOutput struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	Content   []responsesPart `json:"content,omitempty"`
}

type responsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type responsesStreamEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta,omitempty"`
}

// buildResponsesRequest translates the canonical request into the flat
// Responses shape.
func buildResponsesRequest(req *schema.ChatRequest, model *config.Model) *responsesRequest {
	native := &responsesRequest{
		Model:           upstreamModel(req.Model, model),
		Input:           buildResponsesInput(req.Messages),
		Instructions:    collectInstructions(req.Messages),
		MaxOutputTokens: effectiveMaxOutputTokens(req.MaxTokens, model.MaxTokens),
		TopP:            req.TopP,
	}
	if model.SupportsTemperature() {
		native.Temperature = req.Temperature
		if native.Temperature == nil {
			native.Temperature = model.Temperature
		}
	}
	for _, tool := range req.Tools {
		native.Tools = append(native.Tools, responsesTool{
			Type:        "function",
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  tool.Function.Parameters,
		})
	}
	return native
}

func upstreamModel(requested string, model *config.Model) string {
	if model.Name != "" {
		return model.Name
	}
	return requested
}

func collectInstructions(messages []schema.ChatMessage) string {
	var parts []string
	for i := range messages {
		if messages[i].Role == "system" {
			if text := messages[i].TextContent(); text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.Join(parts, " ")
}

// buildResponsesInput flattens the message list into input items. Tool
// calls whose result never arrived are dropped (the upstream rejects
// unpaired calls); orphan outputs are kept as-is. Assistant text alongside
// tool calls is not emitted, preserving call/output adjacency.
func buildResponsesInput(messages []schema.ChatMessage) []responsesItem {
	answered := map[string]struct{}{}
	for i := range messages {
		if messages[i].Role == "tool" && messages[i].ToolCallID != "" {
			answered[messages[i].ToolCallID] = struct{}{}
		}
	}

	items := []responsesItem{}
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case "system":
			// Hoisted into instructions.
		case "user":
			items = append(items, responsesItem{
				Type:    "message",
				Role:    "user",
				Content: userParts(msg.Content),
			})
		case "tool":
			items = append(items, responsesItem{
				Type:   "function_call_output",
				CallID: msg.ToolCallID,
				Output: msg.TextContent(),
			})
		case "assistant":
			if len(msg.ToolCalls) == 0 {
				if text := msg.TextContent(); text != "" {
					items = append(items, responsesItem{
						Type:    "message",
						Role:    "assistant",
						Content: []responsesPart{{Type: "output_text", Text: text}},
					})
				}
				continue
			}
			for _, call := range msg.ToolCalls {
				if _, ok := answered[call.ID]; !ok {
					continue
				}
				items = append(items, responsesItem{
					Type:      "function_call",
					CallID:    call.ID,
					Name:      call.Function.Name,
					Arguments: call.Function.Arguments,
				})
			}
		}
	}
	return items
}

func userParts(content *schema.ChatContent) []responsesPart {
	if content == nil {
		return nil
	}
	if content.Plain != nil {
		return []responsesPart{{Type: "input_text", Text: *content.Plain}}
	}
	var parts []responsesPart
	for _, p := range content.Parts {
		switch p.Type {
		case "text":
			parts = append(parts, responsesPart{Type: "input_text", Text: p.Text})
		case "image_url":
			if p.ImageURL != nil {
				parts = append(parts, responsesPart{Type: "input_image", ImageURL: p.ImageURL.URL})
			}
		}
	}
	return parts
}

// effectiveMaxOutputTokens takes the larger of the request and descriptor
// values. Clients probing with a nominal value like 1 would otherwise get
// an immediately-truncated reply.
func effectiveMaxOutputTokens(requested, configured int) int {
	switch {
	case requested > 0 && configured > 0:
		return max(requested, configured)
	case requested > 0:
		return max(requested, fallbackMaxOutputTokens)
	case configured > 0:
		return configured
	default:
		return fallbackMaxOutputTokens
	}
}

// toCanonical folds the output array into a canonical response. Reasoning
// outputs are provider-internal and ignored.
func (r *responsesResponse) toCanonical(model string) *schema.ChatResponse {
	var (
		text      strings.Builder
		toolCalls []schema.ToolCall
	)
	for _, out := range r.Output {
		switch out.Type {
		case "message":
			for _, part := range out.Content {
				if part.Type == "output_text" {
					text.WriteString(part.Text)
				}
			}
		case "function_call", "tool_use":
			id := out.CallID
			if id == "" {
				id = out.ID
			}
			toolCalls = append(toolCalls, schema.ToolCall{
				ID:   id,
				Type: "function",
				Function: schema.FunctionCall{
					Name:      out.Name,
					Arguments: out.Arguments,
				},
			})
		}
	}

	finish := "stop"
	if len(toolCalls) > 0 {
		finish = "tool_calls"
	}

	msg := schema.ChatMessage{Role: "assistant", ToolCalls: toolCalls}
	if text.Len() > 0 {
		msg.Content = schema.TextChatContent(text.String())
	}

	resp := &schema.ChatResponse{
		ID:      r.ID,
		Object:  "chat.completion",
		Model:   model,
		Choices: []schema.ChatChoice{{Message: msg, FinishReason: finish}},
	}
	if r.Usage != nil {
		resp.Usage = &schema.ChatUsage{
			PromptTokens:     r.Usage.InputTokens,
			CompletionTokens: r.Usage.OutputTokens,
			TotalTokens:      r.Usage.TotalTokens,
		}
	}
	return resp
}

// toChunk maps one Responses stream event to a canonical chunk; nil means
// the event carries nothing the translation needs.
func (e *responsesStreamEvent) toChunk() *schema.ChatStreamChunk {
	switch e.Type {
	case "response.created", "response.in_progress":
		return &schema.ChatStreamChunk{
			Choices: []schema.StreamChoice{{Delta: schema.StreamDelta{Role: "assistant"}}},
		}
	case "response.output_text.delta":
		return &schema.ChatStreamChunk{
			Choices: []schema.StreamChoice{{Delta: schema.StreamDelta{Content: e.Delta}}},
		}
	case "response.completed", "response.done":
		return &schema.ChatStreamChunk{
			Choices: []schema.StreamChoice{{FinishReason: "stop"}},
		}
	default:
		return nil
	}
}
