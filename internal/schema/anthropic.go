// Package schema defines the wire types the gateway translates between:
// Anthropic Messages on the client side and the OpenAI-Chat shape used as
// the internal pivot. Deserialisation is tolerant: unrecognised content
// block types are preserved rather than rejected, and optional upstream
// fields default when absent.
package schema

import (
	"encoding/json"
	"strings"
)

// Content block type tags.
const (
	BlockText       = "text"
	BlockImage      = "image"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// MessagesRequest is an Anthropic Messages API request.
type MessagesRequest struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens"`
	Messages      []Message       `json:"messages"`
	System        *SystemPrompt   `json:"system,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

// Message is a single conversation turn.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// SystemPrompt accepts the two wire shapes of the `system` field: a plain
// string or an array of content blocks.
type SystemPrompt struct {
	Text   string
	Blocks []ContentBlock
	isText bool
}

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		s.Text = text
		s.isText = true
		return nil
	}
	s.isText = false
	return json.Unmarshal(data, &s.Blocks)
}

func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	if s.isText {
		return json.Marshal(s.Text)
	}
	return json.Marshal(s.Blocks)
}

// Resolve flattens the prompt to a single string. Block arrays contribute
// their text blocks joined by newlines.
func (s *SystemPrompt) Resolve() string {
	if s == nil {
		return ""
	}
	if s.isText {
		return s.Text
	}
	var parts []string
	for _, b := range s.Blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// MessageContent is the content value of a message: a plain string, an
// ordered block list, or - as an escape hatch - a value the deserialiser
// cannot place, stored verbatim.
type MessageContent struct {
	Text   *string
	Blocks []ContentBlock
	Other  json.RawMessage
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = &text
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err == nil {
		c.Blocks = blocks
		return nil
	}
	c.Other = append(json.RawMessage(nil), data...)
	return nil
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	switch {
	case c.Text != nil:
		return json.Marshal(*c.Text)
	case c.Blocks != nil:
		return json.Marshal(c.Blocks)
	case c.Other != nil:
		return append(json.RawMessage(nil), c.Other...), nil
	default:
		return []byte("null"), nil
	}
}

// ExtractText concatenates the textual content in order. For block content
// only text blocks contribute; no separator is inserted.
func (c *MessageContent) ExtractText() string {
	if c.Text != nil {
		return *c.Text
	}
	var sb strings.Builder
	for _, b := range c.Blocks {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// HasText reports whether any non-empty textual content is present.
func (c *MessageContent) HasText() bool { return c.ExtractText() != "" }

func (c *MessageContent) HasImages() bool {
	for _, b := range c.Blocks {
		if b.Type == BlockImage {
			return true
		}
	}
	return false
}

func (c *MessageContent) HasToolCalls() bool {
	for _, b := range c.Blocks {
		if b.Type == BlockToolUse {
			return true
		}
	}
	return false
}

func (c *MessageContent) HasToolResults() bool {
	for _, b := range c.Blocks {
		if b.Type == BlockToolResult {
			return true
		}
	}
	return false
}

// IsOther reports whether the content landed in the verbatim escape hatch.
func (c *MessageContent) IsOther() bool { return c.Other != nil }

// ContentBlock is one element of a block-list content value. The Type tag
// selects which fields are meaningful. Blocks with an unrecognised tag keep
// their raw bytes and re-emit them unchanged on marshal.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// tool_use
	ID               string          `json:"id,omitempty"`
	Name             string          `json:"name,omitempty"`
	Input            json.RawMessage `json:"input,omitempty"`
	ThoughtSignature string          `json:"thought_signature,omitempty"`

	// tool_result
	ToolUseID string             `json:"tool_use_id,omitempty"`
	Content   *ToolResultContent `json:"content,omitempty"`
	IsError   bool               `json:"is_error,omitempty"`

	raw json.RawMessage
}

// NewTextBlock returns a text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// IsKnown reports whether the block's type tag is one the gateway
// understands.
func (b *ContentBlock) IsKnown() bool {
	switch b.Type {
	case BlockText, BlockImage, BlockToolUse, BlockToolResult:
		return true
	}
	return false
}

func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	type alias ContentBlock
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		// Malformed block shape: keep the bytes, absorb as unknown.
		var tag struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(data, &tag)
		*b = ContentBlock{Type: tag.Type, raw: append(json.RawMessage(nil), data...)}
		return nil
	}
	*b = ContentBlock(a)
	if !b.IsKnown() {
		b.raw = append(json.RawMessage(nil), data...)
	}
	return nil
}

func (b ContentBlock) MarshalJSON() ([]byte, error) {
	if b.raw != nil {
		return append(json.RawMessage(nil), b.raw...), nil
	}
	type alias ContentBlock
	return json.Marshal(alias(b))
}

// ImageSource carries a base64 image payload.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

// ToolResultContent accepts the two wire shapes of a tool_result content:
// a plain string or an array of content blocks.
type ToolResultContent struct {
	Text   *string
	Blocks []ContentBlock
}

func (c *ToolResultContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = &text
		return nil
	}
	return json.Unmarshal(data, &c.Blocks)
}

func (c ToolResultContent) MarshalJSON() ([]byte, error) {
	if c.Text != nil {
		return json.Marshal(*c.Text)
	}
	return json.Marshal(c.Blocks)
}

// Resolve flattens the result to the text the upstream should see.
func (c *ToolResultContent) Resolve() string {
	if c == nil {
		return ""
	}
	if c.Text != nil {
		return *c.Text
	}
	var sb strings.Builder
	for _, b := range c.Blocks {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// Tool is an Anthropic tool definition.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// MessagesResponse is an Anthropic Messages API response.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence *string        `json:"stop_sequence,omitempty"`
	Usage        Usage          `json:"usage"`
}

// Usage is the Anthropic token accounting pair.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Anthropic stop reasons.
const (
	StopEndTurn      = "end_turn"
	StopMaxTokens    = "max_tokens"
	StopStopSequence = "stop_sequence"
	StopToolUse      = "tool_use"
)
