package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexl2018/aiapiproxy/internal/config"
	"github.com/rexl2018/aiapiproxy/internal/providers"
	"github.com/rexl2018/aiapiproxy/internal/schema"
	"github.com/rexl2018/aiapiproxy/internal/signature"
	"github.com/rexl2018/aiapiproxy/internal/translate"
)

func newHandler(t *testing.T, upstreamURL string) *MessagesHandler {
	t.Helper()
	cfg := &config.Config{
		Providers: map[string]config.Provider{
			"openai": {
				Type:    config.TypeOpenAI,
				BaseURL: upstreamURL,
				APIKey:  "sk-test",
				Models: map[string]config.Model{
					"gpt-4o": {Name: "gpt-4o"},
				},
			},
		},
		ModelMapping: map[string]string{"claude-3-5-sonnet": "openai/gpt-4o"},
	}
	mgr := config.NewManager(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, mgr.Save(cfg))

	logger := slog.Default()
	sigs := signature.NewCache()
	router := providers.NewRouter(mgr, logger, sigs)
	return NewMessagesHandler(logger, router, translate.New(logger, sigs))
}

func postMessages(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMessages_Complete(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var chatReq schema.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&chatReq))
		assert.Equal(t, "gpt-4o", chatReq.Model, "upstream sees the native model name")
		assert.False(t, chatReq.Stream)

		resp := schema.ChatResponse{
			ID:    "chatcmpl-1",
			Model: "gpt-4o",
			Choices: []schema.ChatChoice{{
				Message:      schema.ChatMessage{Role: "assistant", Content: schema.TextChatContent("Hello!")},
				FinishReason: "stop",
			}},
			Usage: &schema.ChatUsage{PromptTokens: 10, CompletionTokens: 5},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer upstream.Close()

	h := newHandler(t, upstream.URL)
	rec := postMessages(h, `{
		"model": "claude-3-5-sonnet",
		"max_tokens": 100,
		"messages": [{"role": "user", "content": "Hi"}]
	}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp schema.MessagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.ID, "msg_"))
	assert.Equal(t, "message", resp.Type)
	assert.Equal(t, "assistant", resp.Role)
	assert.Equal(t, "claude-3-5-sonnet", resp.Model, "client model name is echoed")
	require.Len(t, resp.Content, 1)
	assert.Equal(t, schema.BlockText, resp.Content[0].Type)
	assert.Equal(t, "Hello!", resp.Content[0].Text)
	assert.Equal(t, schema.StopEndTurn, resp.StopReason)
	assert.Equal(t, 10, resp.Usage.InputTokens)
	assert.Equal(t, 5, resp.Usage.OutputTokens)
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var (
		events  []sseEvent
		current sseEvent
	)
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "" && current.name != "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	return events
}

func TestMessages_Stream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var chatReq schema.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&chatReq))
		assert.True(t, chatReq.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, data := range []string{
			`{"choices":[{"delta":{"role":"assistant"}}]}`,
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"completion_tokens":2}}`,
			"[DONE]",
		} {
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}))
	defer upstream.Close()

	h := newHandler(t, upstream.URL)
	rec := postMessages(h, `{
		"model": "claude-3-5-sonnet",
		"max_tokens": 100,
		"stream": true,
		"messages": [{"role": "user", "content": "Hi"}]
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.name
	}
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
		"done",
	}, names)

	var start schema.MessageStartEvent
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &start))
	assert.Equal(t, "claude-3-5-sonnet", start.Message.Model)

	var delta schema.ContentBlockDeltaEvent
	require.NoError(t, json.Unmarshal([]byte(events[2].data), &delta))
	assert.Equal(t, "Hel", delta.Delta.Text)

	var md schema.MessageDeltaEvent
	require.NoError(t, json.Unmarshal([]byte(events[5].data), &md))
	assert.Equal(t, schema.StopEndTurn, md.Delta.StopReason)
	assert.Equal(t, 2, md.Usage.OutputTokens)

	assert.Equal(t, "{}", events[7].data)
}

func TestMessages_StreamTruncatedUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"cut \"}}]}\n\n")
		// Connection drops without finish_reason or [DONE].
	}))
	defer upstream.Close()

	h := newHandler(t, upstream.URL)
	rec := postMessages(h, `{
		"model": "claude-3-5-sonnet",
		"max_tokens": 100,
		"stream": true,
		"messages": [{"role": "user", "content": "Hi"}]
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	events := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "done", last.name)
	prev := events[len(events)-2]
	assert.Equal(t, "message_stop", prev.name, "terminal sequence is synthesised")
}

func TestMessages_ValidationErrorEnvelope(t *testing.T) {
	h := newHandler(t, "http://unused.invalid")

	rec := postMessages(h, `{
		"model": "claude-3-5-sonnet",
		"max_tokens": 100,
		"temperature": 3.5,
		"messages": [{"role": "user", "content": "Hi"}]
	}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "error", envelope["type"])
	detail := envelope["error"].(map[string]any)
	assert.Equal(t, "invalid_request_error", detail["type"])
	assert.Equal(t, []any{}, envelope["content"])
	assert.Equal(t, "assistant", envelope["role"])
}

func TestMessages_UnknownModel(t *testing.T) {
	h := newHandler(t, "http://unused.invalid")

	rec := postMessages(h, `{
		"model": "totally-unknown",
		"max_tokens": 100,
		"messages": [{"role": "user", "content": "Hi"}]
	}`)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	detail := envelope["error"].(map[string]any)
	assert.Equal(t, "not_found_error", detail["type"])
}

func TestMessages_UpstreamErrorClassified(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "Rate limit reached"}}`)
	}))
	defer upstream.Close()

	h := newHandler(t, upstream.URL)
	rec := postMessages(h, `{
		"model": "claude-3-5-sonnet",
		"max_tokens": 100,
		"messages": [{"role": "user", "content": "Hi"}]
	}`)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	detail := envelope["error"].(map[string]any)
	assert.Equal(t, "rate_limit_error", detail["type"])
}

func TestMessages_MalformedBody(t *testing.T) {
	h := newHandler(t, "http://unused.invalid")

	rec := postMessages(h, `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
