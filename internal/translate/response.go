package translate

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"github.com/rexl2018/aiapiproxy/internal/apierror"
	"github.com/rexl2018/aiapiproxy/internal/schema"
)

// MapStopReason maps a canonical finish reason to the Anthropic stop
// reason. The mapping is total; unknown and absent values yield end_turn.
func MapStopReason(finishReason string) string {
	switch finishReason {
	case "stop":
		return schema.StopEndTurn
	case "length":
		return schema.StopMaxTokens
	case "content_filter":
		return schema.StopStopSequence
	case "tool_calls":
		return schema.StopToolUse
	default:
		return schema.StopEndTurn
	}
}

// NewMessageID returns a fresh Anthropic-style message id.
func NewMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newToolUseID() string {
	return "toolu_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// TranslateResponse converts a canonical response into an Anthropic one.
// The model field echoes the client-supplied name, never the upstream's.
func (t *Translator) TranslateResponse(resp *schema.ChatResponse, clientModel string) (*schema.MessagesResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, apierror.API("upstream response has no choices")
	}
	choice := resp.Choices[0]

	var content []schema.ContentBlock
	if text := choice.Message.TextContent(); text != "" {
		content = append(content, schema.NewTextBlock(text))
	}
	for _, call := range choice.Message.ToolCalls {
		if call.Type != "" && call.Type != "function" {
			continue
		}
		content = append(content, t.toolUseBlock(&call))
	}

	out := &schema.MessagesResponse{
		ID:         NewMessageID(),
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      clientModel,
		StopReason: MapStopReason(choice.FinishReason),
	}
	if resp.Usage != nil {
		out.Usage = schema.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out, nil
}

// toolUseBlock builds a tool_use block from a canonical tool call,
// generating an id when the upstream omitted one and persisting any
// thought signature for later re-injection.
func (t *Translator) toolUseBlock(call *schema.ToolCall) schema.ContentBlock {
	id := call.ID
	if id == "" {
		id = newToolUseID()
	}
	block := schema.ContentBlock{
		Type:  schema.BlockToolUse,
		ID:    id,
		Name:  call.Function.Name,
		Input: parseArguments(call.Function.Arguments),
	}
	if sig := call.ThoughtSignature(); sig != "" {
		block.ThoughtSignature = sig
		if t.sigs != nil {
			t.sigs.Store(id, sig)
		}
	}
	return block
}

// parseArguments turns the stringified-JSON arguments into a raw object.
// Empty strings yield {}; malformed payloads go through jsonrepair before
// falling back to {}.
func parseArguments(args string) json.RawMessage {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" || trimmed == `""` {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	if repaired, err := jsonrepair.JSONRepair(trimmed); err == nil && json.Valid([]byte(repaired)) {
		return json.RawMessage(repaired)
	}
	return json.RawMessage(`{}`)
}
