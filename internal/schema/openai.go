package schema

import "encoding/json"

// ChatRequest is the canonical OpenAI-Chat request, the pivot form between
// the Anthropic client dialect and the provider dialects.
type ChatRequest struct {
	Model       string          `json:"model"`
	Messages    []ChatMessage   `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	N           int             `json:"n,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []ChatTool      `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
	User        string          `json:"user,omitempty"`

	// SessionID is derived from the client metadata and travels out of
	// band (a request header, never the JSON body).
	SessionID string `json:"-"`
}

// ChatMessage is one canonical message. Role is one of system, user,
// assistant, tool; ToolCallID is set for role=tool only.
type ChatMessage struct {
	Role       string       `json:"role"`
	Content    *ChatContent `json:"content,omitempty"`
	ToolCalls  []ToolCall   `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
}

// TextContent returns the message's flattened text.
func (m *ChatMessage) TextContent() string {
	if m.Content == nil {
		return ""
	}
	return m.Content.Text()
}

// ChatContent is a string-or-parts content value.
type ChatContent struct {
	Plain *string
	Parts []ContentPart
}

// TextChatContent wraps a plain string content value.
func TextChatContent(s string) *ChatContent { return &ChatContent{Plain: &s} }

// PartsChatContent wraps a multi-part content value.
func PartsChatContent(parts []ContentPart) *ChatContent { return &ChatContent{Parts: parts} }

func (c *ChatContent) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		c.Plain = &plain
		return nil
	}
	return json.Unmarshal(data, &c.Parts)
}

func (c ChatContent) MarshalJSON() ([]byte, error) {
	if c.Plain != nil {
		return json.Marshal(*c.Plain)
	}
	return json.Marshal(c.Parts)
}

// Text flattens the content to a string, concatenating text parts in order.
func (c *ChatContent) Text() string {
	if c == nil {
		return ""
	}
	if c.Plain != nil {
		return *c.Plain
	}
	var out string
	for _, p := range c.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

// ContentPart is one element of a multi-part content array.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image reference, typically a data: URL.
type ImageURL struct {
	URL string `json:"url"`
}

// ToolCall is a canonical tool invocation. Signature and ExtraContent are
// optional side channels carrying an opaque thought signature for thinking
// models; Gemini-style upstreams read it from
// extra_content.google.thought_signature.
type ToolCall struct {
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type,omitempty"`
	Index        *int          `json:"index,omitempty"`
	Function     FunctionCall  `json:"function"`
	Signature    string        `json:"signature,omitempty"`
	ExtraContent *ExtraContent `json:"extra_content,omitempty"`
}

// ThoughtSignature returns the signature from whichever side channel
// carries it, preferring the scalar.
func (t *ToolCall) ThoughtSignature() string {
	if t.Signature != "" {
		return t.Signature
	}
	if t.ExtraContent != nil && t.ExtraContent.Google != nil {
		return t.ExtraContent.Google.ThoughtSignature
	}
	return ""
}

// SetThoughtSignature writes the signature into both side channels.
func (t *ToolCall) SetThoughtSignature(sig string) {
	t.Signature = sig
	t.ExtraContent = &ExtraContent{Google: &GoogleExtra{ThoughtSignature: sig}}
}

// FunctionCall carries the tool name and its stringified-JSON arguments.
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ExtraContent is the structured side-channel object on a tool call.
type ExtraContent struct {
	Google *GoogleExtra `json:"google,omitempty"`
}

// GoogleExtra holds Gemini-specific tool-call metadata.
type GoogleExtra struct {
	ThoughtSignature string `json:"thought_signature,omitempty"`
}

// ChatTool is a canonical (nested) tool definition.
type ChatTool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the function body of a canonical tool definition.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ChatResponse is the canonical non-stream response.
type ChatResponse struct {
	ID                string       `json:"id,omitempty"`
	Object            string       `json:"object,omitempty"`
	Created           int64        `json:"created,omitempty"`
	Model             string       `json:"model,omitempty"`
	Choices           []ChatChoice `json:"choices"`
	Usage             *ChatUsage   `json:"usage,omitempty"`
	SystemFingerprint string       `json:"system_fingerprint,omitempty"`
}

// ChatChoice is one response alternative; the gateway forces n=1 so there
// is exactly one.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// ChatUsage is the upstream token accounting. Absent usage decodes to nil
// and is reported downstream as zeroes.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatStreamChunk is one canonical SSE chunk. Every field is optional on
// the wire.
type ChatStreamChunk struct {
	ID      string         `json:"id,omitempty"`
	Object  string         `json:"object,omitempty"`
	Created int64          `json:"created,omitempty"`
	Model   string         `json:"model,omitempty"`
	Choices []StreamChoice `json:"choices,omitempty"`
	Usage   *ChatUsage     `json:"usage,omitempty"`
}

// FinishReason returns the first choice's finish reason, if any.
func (c *ChatStreamChunk) FinishReason() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].FinishReason
}

// StreamChoice is one choice of a stream chunk.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// StreamDelta is the incremental payload of a stream chunk.
type StreamDelta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}
