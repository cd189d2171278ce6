package schema

// StreamEvent is one Anthropic SSE event. EventType doubles as the SSE
// event name and the JSON "type" discriminator.
type StreamEvent interface {
	EventType() string
}

// Anthropic stream event names.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventError             = "error"
)

type MessageStartEvent struct {
	Type    string           `json:"type"`
	Message MessagesResponse `json:"message"`
}

func NewMessageStart(msg MessagesResponse) MessageStartEvent {
	return MessageStartEvent{Type: EventMessageStart, Message: msg}
}

func (MessageStartEvent) EventType() string { return EventMessageStart }

type ContentBlockStartEvent struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

func NewContentBlockStart(index int, block ContentBlock) ContentBlockStartEvent {
	return ContentBlockStartEvent{Type: EventContentBlockStart, Index: index, ContentBlock: block}
}

func (ContentBlockStartEvent) EventType() string { return EventContentBlockStart }

// BlockDelta is the delta payload of a content_block_delta event: a
// text_delta for text blocks or an input_json_delta for tool_use blocks.
type BlockDelta struct {
	Type        string  `json:"type"`
	Text        string  `json:"text,omitempty"`
	PartialJSON *string `json:"partial_json,omitempty"`
}

type ContentBlockDeltaEvent struct {
	Type  string     `json:"type"`
	Index int        `json:"index"`
	Delta BlockDelta `json:"delta"`
}

func NewTextDelta(index int, text string) ContentBlockDeltaEvent {
	return ContentBlockDeltaEvent{
		Type:  EventContentBlockDelta,
		Index: index,
		Delta: BlockDelta{Type: "text_delta", Text: text},
	}
}

func NewInputJSONDelta(index int, partial string) ContentBlockDeltaEvent {
	return ContentBlockDeltaEvent{
		Type:  EventContentBlockDelta,
		Index: index,
		Delta: BlockDelta{Type: "input_json_delta", PartialJSON: &partial},
	}
}

func (ContentBlockDeltaEvent) EventType() string { return EventContentBlockDelta }

type ContentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

func NewContentBlockStop(index int) ContentBlockStopEvent {
	return ContentBlockStopEvent{Type: EventContentBlockStop, Index: index}
}

func (ContentBlockStopEvent) EventType() string { return EventContentBlockStop }

// MessageDeltaBody carries the final stop reason of a message.
type MessageDeltaBody struct {
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

// DeltaUsage is the usage snapshot attached to a message_delta event.
type DeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

type MessageDeltaEvent struct {
	Type  string           `json:"type"`
	Delta MessageDeltaBody `json:"delta"`
	Usage DeltaUsage       `json:"usage"`
}

func NewMessageDelta(stopReason string, outputTokens int) MessageDeltaEvent {
	return MessageDeltaEvent{
		Type:  EventMessageDelta,
		Delta: MessageDeltaBody{StopReason: stopReason},
		Usage: DeltaUsage{OutputTokens: outputTokens},
	}
}

func (MessageDeltaEvent) EventType() string { return EventMessageDelta }

type MessageStopEvent struct {
	Type string `json:"type"`
}

func NewMessageStop() MessageStopEvent { return MessageStopEvent{Type: EventMessageStop} }

func (MessageStopEvent) EventType() string { return EventMessageStop }

// ErrorDetail is the body of a stream error event and of the HTTP error
// envelope.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ErrorEvent struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

func NewErrorEvent(kind, message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Error: ErrorDetail{Type: kind, Message: message}}
}

func (ErrorEvent) EventType() string { return EventError }
