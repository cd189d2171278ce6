package translate

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rexl2018/aiapiproxy/internal/schema"
)

// Stream reconstructs the Anthropic event protocol from a sequence of
// canonical stream chunks. It is strictly sequential: chunks must be fed
// in upstream order and each chunk expands into zero or more events
// without reordering.
type Stream struct {
	translator *Translator
	model      string
	messageID  string

	started  bool
	finished bool

	// nextIndex is the next free content-block index; index 0 is the
	// text block opened alongside message_start.
	nextIndex int
	// toolByKey maps a tool call (by id, falling back to stream
	// position) to its content-block index.
	toolByKey map[string]int
	// keyByPos lets argument fragments that arrive without an id find
	// their block again.
	keyByPos map[int]string

	outputTokens int
}

// NewStream starts stream translation for one request. model is the
// client-facing name echoed in message_start.
func (t *Translator) NewStream(clientModel string) *Stream {
	return &Stream{
		translator: t,
		model:      clientModel,
		messageID:  NewMessageID(),
		toolByKey:  map[string]int{},
		keyByPos:   map[int]string{},
	}
}

// Translate expands one canonical chunk into Anthropic events.
func (s *Stream) Translate(chunk *schema.ChatStreamChunk) []schema.StreamEvent {
	if s.finished || len(chunk.Choices) == 0 {
		return nil
	}
	choice := &chunk.Choices[0]
	if chunk.Usage != nil {
		s.outputTokens = chunk.Usage.CompletionTokens
	}

	var events []schema.StreamEvent
	if !s.started && (choice.Delta.Role != "" || choice.Delta.Content != "" || len(choice.Delta.ToolCalls) > 0) {
		events = append(events, s.startEvents()...)
	}

	if s.started && choice.Delta.Content != "" {
		events = append(events, schema.NewTextDelta(0, choice.Delta.Content))
	}

	for i := range choice.Delta.ToolCalls {
		events = append(events, s.toolCallEvents(&choice.Delta.ToolCalls[i], i)...)
	}

	if choice.FinishReason != "" {
		// An upstream may reject the prompt and finish before emitting any
		// delta; the envelope still has to open before it closes.
		if !s.started {
			events = append(events, s.startEvents()...)
		}
		events = append(events, s.terminalEvents(MapStopReason(choice.FinishReason))...)
	}
	return events
}

// Finish closes a stream whose upstream ended without a finish-reason
// chunk, emitting the terminal sequence with stop reason end_turn. It is a
// no-op on an already-finished stream.
func (s *Stream) Finish() []schema.StreamEvent {
	if s.finished {
		return nil
	}
	var events []schema.StreamEvent
	if !s.started {
		events = append(events, s.startEvents()...)
	}
	return append(events, s.terminalEvents(schema.StopEndTurn)...)
}

// Finished reports whether the terminal sequence has been emitted.
func (s *Stream) Finished() bool { return s.finished }

func (s *Stream) startEvents() []schema.StreamEvent {
	s.started = true
	s.nextIndex = 1
	envelope := schema.MessagesResponse{
		ID:      s.messageID,
		Type:    "message",
		Role:    "assistant",
		Content: []schema.ContentBlock{},
		Model:   s.model,
	}
	return []schema.StreamEvent{
		schema.NewMessageStart(envelope),
		schema.NewContentBlockStart(0, schema.NewTextBlock("")),
	}
}

// toolCallEvents opens a block for a newly-seen tool call and forwards its
// argument fragments verbatim; no mid-stream JSON parsing is attempted.
func (s *Stream) toolCallEvents(call *schema.ToolCall, pos int) []schema.StreamEvent {
	if call.Index != nil {
		pos = *call.Index
	}

	key, known := s.keyByPos[pos]
	if call.ID != "" {
		key = call.ID
		_, known = s.toolByKey[key]
	} else if !known {
		key = fmt.Sprintf("pos-%d", pos)
		_, known = s.toolByKey[key]
	}

	var events []schema.StreamEvent
	if !known {
		index := s.nextIndex
		s.nextIndex++
		s.toolByKey[key] = index
		s.keyByPos[pos] = key
		events = append(events, schema.NewContentBlockStart(index, schema.ContentBlock{
			Type:  schema.BlockToolUse,
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: json.RawMessage(`{}`),
		}))
	} else {
		s.keyByPos[pos] = key
	}

	index := s.toolByKey[key]
	if call.Function.Arguments != "" {
		events = append(events, schema.NewInputJSONDelta(index, call.Function.Arguments))
	}

	if sig := call.ThoughtSignature(); sig != "" && call.ID != "" && s.translator.sigs != nil {
		s.translator.sigs.Store(call.ID, sig)
	}
	return events
}

// terminalEvents closes the text block, every open tool block in ascending
// index order, then emits message_delta and message_stop.
func (s *Stream) terminalEvents(stopReason string) []schema.StreamEvent {
	s.finished = true

	events := []schema.StreamEvent{schema.NewContentBlockStop(0)}
	indexes := make([]int, 0, len(s.toolByKey))
	for _, idx := range s.toolByKey {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		events = append(events, schema.NewContentBlockStop(idx))
	}
	return append(events,
		schema.NewMessageDelta(stopReason, s.outputTokens),
		schema.NewMessageStop(),
	)
}
