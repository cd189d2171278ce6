// Package translate implements the bidirectional mapping between the
// Anthropic Messages dialect and the canonical OpenAI-Chat form, including
// the incremental stream-event reconstruction.
package translate

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/rexl2018/aiapiproxy/internal/apierror"
	"github.com/rexl2018/aiapiproxy/internal/schema"
	"github.com/rexl2018/aiapiproxy/internal/signature"
)

const (
	// DefaultMaxTokens replaces an absent or zero max_tokens.
	DefaultMaxTokens = 4096
	// MaxMaxTokens is the upper validation bound.
	MaxMaxTokens = 100000

	sessionMarker = "_session_"
)

// Translator converts between the Anthropic and canonical dialects. It
// writes thought signatures surfaced by responses into the shared cache so
// later requests can have them re-injected.
type Translator struct {
	logger *slog.Logger
	sigs   *signature.Cache
}

func New(logger *slog.Logger, sigs *signature.Cache) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{logger: logger, sigs: sigs}
}

// Validate checks an Anthropic request before any upstream work. A zero
// max_tokens is tolerated here; TranslateRequest normalises it.
func Validate(req *schema.MessagesRequest) *apierror.Error {
	if req.Model == "" {
		return apierror.InvalidRequest("model is required")
	}
	if req.MaxTokens < 0 || req.MaxTokens > MaxMaxTokens {
		return apierror.InvalidRequest("max_tokens must be between 1 and %d", MaxMaxTokens)
	}
	if len(req.Messages) == 0 {
		return apierror.InvalidRequest("messages must not be empty")
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return apierror.InvalidRequest("temperature must be between 0 and 2")
	}
	if req.TopP != nil && (*req.TopP < 0 || *req.TopP > 1) {
		return apierror.InvalidRequest("top_p must be between 0 and 1")
	}
	if req.TopK != nil && *req.TopK <= 0 {
		return apierror.InvalidRequest("top_k must be positive")
	}
	for i, msg := range req.Messages {
		switch msg.Role {
		case "user", "assistant", "system":
		default:
			return apierror.InvalidRequest("messages[%d]: invalid role %q", i, msg.Role)
		}
		if msg.Role == "user" && isEmptyContent(&msg.Content) {
			return apierror.InvalidRequest("messages[%d]: user message content is empty", i)
		}
	}
	return nil
}

// isEmptyContent reports content empty of text, images, tool calls, tool
// results, and the verbatim escape hatch. Assistant turns may be empty
// (tool-only turns); user turns may not.
func isEmptyContent(c *schema.MessageContent) bool {
	return !c.HasText() && !c.HasImages() && !c.HasToolCalls() && !c.HasToolResults() && !c.IsOther()
}

// TranslateRequest converts a validated Anthropic request into the
// canonical form. One Anthropic message may yield several canonical
// messages: tool-result blocks split off into role=tool messages that
// follow the message that carried them.
func (t *Translator) TranslateRequest(req *schema.MessagesRequest) (*schema.ChatRequest, error) {
	out := &schema.ChatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
		ToolChoice:  req.ToolChoice,
		N:           1,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = DefaultMaxTokens
	}

	if sys := req.System.Resolve(); sys != "" {
		out.Messages = append(out.Messages, schema.ChatMessage{
			Role:    "system",
			Content: schema.TextChatContent(sys),
		})
	}

	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, t.translateMessage(&msg)...)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, schema.ChatTool{
			Type: "function",
			Function: schema.ToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	if userID, ok := req.Metadata["user_id"].(string); ok && userID != "" {
		out.User = userID
		if i := strings.Index(userID, sessionMarker); i >= 0 {
			out.SessionID = userID[i+len(sessionMarker):]
		}
	}

	return out, nil
}

// translateMessage converts one Anthropic message into one or more
// canonical messages, preserving block order.
func (t *Translator) translateMessage(msg *schema.Message) []schema.ChatMessage {
	if msg.Content.Text != nil {
		return []schema.ChatMessage{{
			Role:    msg.Role,
			Content: schema.TextChatContent(*msg.Content.Text),
		}}
	}
	if msg.Content.Other != nil {
		// Verbatim escape hatch: forward nothing usable, keep the turn.
		return []schema.ChatMessage{{Role: msg.Role, Content: schema.TextChatContent("")}}
	}

	var (
		parts     []schema.ContentPart
		toolCalls []schema.ToolCall
		toolMsgs  []schema.ChatMessage
	)
	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case schema.BlockText:
			parts = append(parts, schema.ContentPart{Type: "text", Text: block.Text})
		case schema.BlockImage:
			if block.Source == nil || block.Source.Type != "base64" {
				t.logger.Warn("dropping image block with unsupported source",
					"source_type", sourceType(block.Source))
				continue
			}
			parts = append(parts, schema.ContentPart{
				Type: "image_url",
				ImageURL: &schema.ImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", block.Source.MediaType, block.Source.Data),
				},
			})
		case schema.BlockToolUse:
			call := schema.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: schema.FunctionCall{
					Name:      block.Name,
					Arguments: argumentsString(block.Input),
				},
			}
			if block.ThoughtSignature != "" {
				call.SetThoughtSignature(block.ThoughtSignature)
			}
			toolCalls = append(toolCalls, call)
		case schema.BlockToolResult:
			toolMsgs = append(toolMsgs, schema.ChatMessage{
				Role:       "tool",
				ToolCallID: block.ToolUseID,
				Content:    schema.TextChatContent(block.Content.Resolve()),
			})
		default:
			// Unknown blocks carry nothing an upstream understands.
		}
	}

	var out []schema.ChatMessage
	if len(parts) > 0 || len(toolCalls) > 0 {
		main := schema.ChatMessage{Role: msg.Role, ToolCalls: toolCalls}
		if len(parts) == 1 && parts[0].Type == "text" {
			main.Content = schema.TextChatContent(parts[0].Text)
		} else if len(parts) > 0 {
			main.Content = schema.PartsChatContent(parts)
		}
		out = append(out, main)
	}
	return append(out, toolMsgs...)
}

func argumentsString(input []byte) string {
	if len(input) == 0 {
		return "{}"
	}
	return string(input)
}

func sourceType(src *schema.ImageSource) string {
	if src == nil {
		return ""
	}
	return src.Type
}
