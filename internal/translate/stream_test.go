package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexl2018/aiapiproxy/internal/schema"
	"github.com/rexl2018/aiapiproxy/internal/signature"
)

func roleChunk() *schema.ChatStreamChunk {
	return &schema.ChatStreamChunk{
		Choices: []schema.StreamChoice{{Delta: schema.StreamDelta{Role: "assistant"}}},
	}
}

func textChunk(text string) *schema.ChatStreamChunk {
	return &schema.ChatStreamChunk{
		Choices: []schema.StreamChoice{{Delta: schema.StreamDelta{Content: text}}},
	}
}

func finishChunk(reason string) *schema.ChatStreamChunk {
	return &schema.ChatStreamChunk{
		Choices: []schema.StreamChoice{{FinishReason: reason}},
	}
}

func eventTypes(events []schema.StreamEvent) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.EventType()
	}
	return types
}

func TestStream_SimpleTextSequence(t *testing.T) {
	s := newTestTranslator().NewStream("claude-3-sonnet")

	var events []schema.StreamEvent
	for _, chunk := range []*schema.ChatStreamChunk{
		roleChunk(), textChunk("Hel"), textChunk("lo"), finishChunk("stop"),
	} {
		events = append(events, s.Translate(chunk)...)
	}

	assert.Equal(t, []string{
		schema.EventMessageStart,
		schema.EventContentBlockStart,
		schema.EventContentBlockDelta,
		schema.EventContentBlockDelta,
		schema.EventContentBlockStop,
		schema.EventMessageDelta,
		schema.EventMessageStop,
	}, eventTypes(events))

	start := events[0].(schema.MessageStartEvent)
	assert.Equal(t, "claude-3-sonnet", start.Message.Model)
	assert.Equal(t, "assistant", start.Message.Role)

	blockStart := events[1].(schema.ContentBlockStartEvent)
	assert.Equal(t, 0, blockStart.Index)
	assert.Equal(t, schema.BlockText, blockStart.ContentBlock.Type)

	first := events[2].(schema.ContentBlockDeltaEvent)
	assert.Equal(t, "Hel", first.Delta.Text)
	second := events[3].(schema.ContentBlockDeltaEvent)
	assert.Equal(t, "lo", second.Delta.Text)

	delta := events[5].(schema.MessageDeltaEvent)
	assert.Equal(t, schema.StopEndTurn, delta.Delta.StopReason)

	assert.True(t, s.Finished())
	assert.Empty(t, s.Translate(textChunk("late")), "chunks after terminal are ignored")
}

func TestStream_ToolCallIndexing(t *testing.T) {
	s := newTestTranslator().NewStream("m")

	idx := func(i int) *int { return &i }

	chunks := []*schema.ChatStreamChunk{
		roleChunk(),
		{Choices: []schema.StreamChoice{{Delta: schema.StreamDelta{ToolCalls: []schema.ToolCall{{
			ID:       "t1",
			Index:    idx(0),
			Function: schema.FunctionCall{Name: "search", Arguments: `{"q":`},
		}}}}}},
		{Choices: []schema.StreamChoice{{Delta: schema.StreamDelta{ToolCalls: []schema.ToolCall{{
			Index:    idx(0),
			Function: schema.FunctionCall{Arguments: `"x"}`},
		}}}}}},
		{Choices: []schema.StreamChoice{{Delta: schema.StreamDelta{ToolCalls: []schema.ToolCall{{
			ID:       "t2",
			Index:    idx(1),
			Function: schema.FunctionCall{Name: "lookup", Arguments: `{}`},
		}}}}}},
		finishChunk("tool_calls"),
	}

	var events []schema.StreamEvent
	for _, chunk := range chunks {
		events = append(events, s.Translate(chunk)...)
	}

	assert.Equal(t, []string{
		schema.EventMessageStart,
		schema.EventContentBlockStart, // text, index 0
		schema.EventContentBlockStart, // t1, index 1
		schema.EventContentBlockDelta, // t1 args fragment
		schema.EventContentBlockDelta, // t1 args fragment (no id)
		schema.EventContentBlockStart, // t2, index 2
		schema.EventContentBlockDelta, // t2 args
		schema.EventContentBlockStop,  // index 0
		schema.EventContentBlockStop,  // index 1
		schema.EventContentBlockStop,  // index 2
		schema.EventMessageDelta,
		schema.EventMessageStop,
	}, eventTypes(events))

	t1Start := events[2].(schema.ContentBlockStartEvent)
	assert.Equal(t, 1, t1Start.Index)
	assert.Equal(t, "t1", t1Start.ContentBlock.ID)
	assert.Equal(t, "search", t1Start.ContentBlock.Name)

	// The id-less fragment found its block by position.
	frag := events[4].(schema.ContentBlockDeltaEvent)
	assert.Equal(t, 1, frag.Index)
	require.NotNil(t, frag.Delta.PartialJSON)
	assert.Equal(t, `"x"}`, *frag.Delta.PartialJSON)

	t2Start := events[5].(schema.ContentBlockStartEvent)
	assert.Equal(t, 2, t2Start.Index)

	// Stops ascend: 0, 1, 2.
	stops := []int{
		events[7].(schema.ContentBlockStopEvent).Index,
		events[8].(schema.ContentBlockStopEvent).Index,
		events[9].(schema.ContentBlockStopEvent).Index,
	}
	assert.Equal(t, []int{0, 1, 2}, stops)

	delta := events[10].(schema.MessageDeltaEvent)
	assert.Equal(t, schema.StopToolUse, delta.Delta.StopReason)
}

func TestStream_TruncatedStreamFinish(t *testing.T) {
	s := newTestTranslator().NewStream("m")

	events := s.Translate(roleChunk())
	events = append(events, s.Translate(textChunk("partial"))...)
	events = append(events, s.Finish()...)

	types := eventTypes(events)
	assert.Equal(t, schema.EventMessageStart, types[0])
	assert.Equal(t, schema.EventMessageStop, types[len(types)-1])

	var sawDelta bool
	for _, ev := range events {
		if d, ok := ev.(schema.MessageDeltaEvent); ok {
			sawDelta = true
			assert.Equal(t, schema.StopEndTurn, d.Delta.StopReason)
		}
	}
	assert.True(t, sawDelta)

	assert.Empty(t, s.Finish(), "finish is idempotent")
}

func TestStream_FinishReasonOnlyStream(t *testing.T) {
	// A content-filter refusal can arrive as a single chunk carrying only
	// the finish reason. The envelope must still open before it closes.
	s := newTestTranslator().NewStream("m")

	events := s.Translate(finishChunk("content_filter"))

	assert.Equal(t, []string{
		schema.EventMessageStart,
		schema.EventContentBlockStart,
		schema.EventContentBlockStop,
		schema.EventMessageDelta,
		schema.EventMessageStop,
	}, eventTypes(events))

	delta := events[3].(schema.MessageDeltaEvent)
	assert.Equal(t, schema.StopStopSequence, delta.Delta.StopReason)
	assert.True(t, s.Finished())
}

func TestStream_FinishBeforeAnyChunk(t *testing.T) {
	s := newTestTranslator().NewStream("m")

	events := s.Finish()
	assert.Equal(t, []string{
		schema.EventMessageStart,
		schema.EventContentBlockStart,
		schema.EventContentBlockStop,
		schema.EventMessageDelta,
		schema.EventMessageStop,
	}, eventTypes(events))
}

func TestStream_FirstChunkCarriesContent(t *testing.T) {
	// Some upstreams put role and text in one chunk; starts still precede
	// the delta.
	s := newTestTranslator().NewStream("m")

	chunk := &schema.ChatStreamChunk{
		Choices: []schema.StreamChoice{{Delta: schema.StreamDelta{Role: "assistant", Content: "hi"}}},
	}
	events := s.Translate(chunk)

	assert.Equal(t, []string{
		schema.EventMessageStart,
		schema.EventContentBlockStart,
		schema.EventContentBlockDelta,
	}, eventTypes(events))
}

func TestStream_UsageSnapshotInMessageDelta(t *testing.T) {
	s := newTestTranslator().NewStream("m")
	s.Translate(roleChunk())

	terminal := &schema.ChatStreamChunk{
		Choices: []schema.StreamChoice{{FinishReason: "stop"}},
		Usage:   &schema.ChatUsage{CompletionTokens: 42},
	}
	events := s.Translate(terminal)

	for _, ev := range events {
		if d, ok := ev.(schema.MessageDeltaEvent); ok {
			assert.Equal(t, 42, d.Usage.OutputTokens)
			return
		}
	}
	t.Fatal("no message_delta event emitted")
}

func TestStream_SignatureCaptured(t *testing.T) {
	sigs := signature.NewCache()
	s := New(nil, sigs).NewStream("m")

	idx := 0
	s.Translate(roleChunk())
	s.Translate(&schema.ChatStreamChunk{
		Choices: []schema.StreamChoice{{Delta: schema.StreamDelta{ToolCalls: []schema.ToolCall{{
			ID:        "t1",
			Index:     &idx,
			Function:  schema.FunctionCall{Name: "think"},
			Signature: "stream-sig",
		}}}}},
	})

	got, ok := sigs.Lookup("t1")
	require.True(t, ok)
	assert.Equal(t, "stream-sig", got)
}
