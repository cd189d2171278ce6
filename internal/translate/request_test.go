package translate

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexl2018/aiapiproxy/internal/apierror"
	"github.com/rexl2018/aiapiproxy/internal/schema"
	"github.com/rexl2018/aiapiproxy/internal/signature"
)

func newTestTranslator() *Translator {
	return New(slog.Default(), signature.NewCache())
}

func parseRequest(t *testing.T, body string) *schema.MessagesRequest {
	t.Helper()
	var req schema.MessagesRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	return &req
}

func TestValidate_Boundaries(t *testing.T) {
	base := func() *schema.MessagesRequest {
		return parseRequest(t, `{
			"model": "claude-3-sonnet",
			"max_tokens": 100,
			"messages": [{"role": "user", "content": "Hello"}]
		}`)
	}

	f := func(v float64) *float64 { return &v }
	n := func(v int) *int { return &v }

	tests := []struct {
		name    string
		mutate  func(*schema.MessagesRequest)
		wantErr bool
	}{
		{"valid baseline", func(r *schema.MessagesRequest) {}, false},
		{"empty model", func(r *schema.MessagesRequest) { r.Model = "" }, true},
		{"no messages", func(r *schema.MessagesRequest) { r.Messages = nil }, true},
		{"max_tokens zero is tolerated", func(r *schema.MessagesRequest) { r.MaxTokens = 0 }, false},
		{"max_tokens upper bound", func(r *schema.MessagesRequest) { r.MaxTokens = 100000 }, false},
		{"max_tokens above bound", func(r *schema.MessagesRequest) { r.MaxTokens = 100001 }, true},
		{"temperature 2.0 accepted", func(r *schema.MessagesRequest) { r.Temperature = f(2.0) }, false},
		{"temperature 2.01 rejected", func(r *schema.MessagesRequest) { r.Temperature = f(2.01) }, true},
		{"top_p 0.0 accepted", func(r *schema.MessagesRequest) { r.TopP = f(0.0) }, false},
		{"top_p negative rejected", func(r *schema.MessagesRequest) { r.TopP = f(-0.001) }, true},
		{"top_k zero rejected", func(r *schema.MessagesRequest) { r.TopK = n(0) }, true},
		{"top_k positive accepted", func(r *schema.MessagesRequest) { r.TopK = n(5) }, false},
		{"bad role", func(r *schema.MessagesRequest) { r.Messages[0].Role = "tool" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base()
			tt.mutate(req)
			err := Validate(req)
			if tt.wantErr {
				require.NotNil(t, err)
				assert.Equal(t, apierror.KindInvalidRequest, err.Kind)
			} else {
				assert.Nil(t, err)
			}
		})
	}
}

func TestValidate_EmptyContent(t *testing.T) {
	t.Run("empty user content rejected", func(t *testing.T) {
		req := parseRequest(t, `{
			"model": "m", "max_tokens": 10,
			"messages": [{"role": "user", "content": ""}]
		}`)
		err := Validate(req)
		require.NotNil(t, err)
		assert.Equal(t, apierror.KindInvalidRequest, err.Kind)
	})

	t.Run("empty assistant content permitted", func(t *testing.T) {
		req := parseRequest(t, `{
			"model": "m", "max_tokens": 10,
			"messages": [
				{"role": "user", "content": "hi"},
				{"role": "assistant", "content": ""}
			]
		}`)
		assert.Nil(t, Validate(req))
	})
}

func TestTranslateRequest_SimpleText(t *testing.T) {
	req := parseRequest(t, `{
		"model": "claude-3-sonnet",
		"max_tokens": 100,
		"messages": [{"role": "user", "content": "Hello"}]
	}`)

	out, err := newTestTranslator().TranslateRequest(req)
	require.NoError(t, err)

	assert.Equal(t, "claude-3-sonnet", out.Model)
	assert.Equal(t, 100, out.MaxTokens)
	assert.Equal(t, 1, out.N)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "user", out.Messages[0].Role)
	assert.Equal(t, "Hello", out.Messages[0].TextContent())
}

func TestTranslateRequest_SystemPrompt(t *testing.T) {
	req := parseRequest(t, `{
		"model": "m", "max_tokens": 10,
		"system": [{"type":"text","text":"one"},{"type":"text","text":"two"}],
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	out, err := newTestTranslator().TranslateRequest(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "system", out.Messages[0].Role)
	assert.Equal(t, "one\ntwo", out.Messages[0].TextContent())
}

func TestTranslateRequest_MaxTokensDefault(t *testing.T) {
	req := parseRequest(t, `{
		"model": "m", "max_tokens": 0,
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	out, err := newTestTranslator().TranslateRequest(req)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTokens, out.MaxTokens)
}

func TestTranslateRequest_ImageBlock(t *testing.T) {
	req := parseRequest(t, `{
		"model": "m", "max_tokens": 10,
		"messages": [{"role": "user", "content": [
			{"type":"text","text":"what is this"},
			{"type":"image","source":{"type":"base64","media_type":"image/png","data":"aGVsbG8="}}
		]}]
	}`)

	out, err := newTestTranslator().TranslateRequest(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)

	parts := out.Messages[0].Content.Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].Type)
	require.NotNil(t, parts[1].ImageURL)
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", parts[1].ImageURL.URL)
}

func TestTranslateRequest_NonBase64ImageDropped(t *testing.T) {
	req := parseRequest(t, `{
		"model": "m", "max_tokens": 10,
		"messages": [{"role": "user", "content": [
			{"type":"text","text":"look"},
			{"type":"image","source":{"type":"url","data":"http://example.com/x.png"}}
		]}]
	}`)

	out, err := newTestTranslator().TranslateRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "look", out.Messages[0].TextContent())
}

func TestTranslateRequest_ToolUseAndResult(t *testing.T) {
	req := parseRequest(t, `{
		"model": "m", "max_tokens": 10,
		"messages": [
			{"role": "user", "content": "search something"},
			{"role": "assistant", "content": [
				{"type":"tool_use","id":"t1","name":"search","input":{"q":"x"},"thought_signature":"sig1"}
			]},
			{"role": "user", "content": [
				{"type":"tool_result","tool_use_id":"t1","content":"ok"}
			]}
		]
	}`)

	out, err := newTestTranslator().TranslateRequest(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 3)

	assistant := out.Messages[1]
	require.Len(t, assistant.ToolCalls, 1)
	call := assistant.ToolCalls[0]
	assert.Equal(t, "t1", call.ID)
	assert.Equal(t, "search", call.Function.Name)
	assert.JSONEq(t, `{"q":"x"}`, call.Function.Arguments)
	assert.Equal(t, "sig1", call.Signature)
	require.NotNil(t, call.ExtraContent)
	assert.Equal(t, "sig1", call.ExtraContent.Google.ThoughtSignature)

	toolMsg := out.Messages[2]
	assert.Equal(t, "tool", toolMsg.Role)
	assert.Equal(t, "t1", toolMsg.ToolCallID)
	assert.Equal(t, "ok", toolMsg.TextContent())
}

func TestTranslateRequest_MixedBlocksSplitOrder(t *testing.T) {
	// Text and tool_result in one message: the text-bearing message comes
	// first, the split-off tool message follows.
	req := parseRequest(t, `{
		"model": "m", "max_tokens": 10,
		"messages": [{"role": "user", "content": [
			{"type":"tool_result","tool_use_id":"t1","content":"res"},
			{"type":"text","text":"and now?"}
		]}]
	}`)

	out, err := newTestTranslator().TranslateRequest(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "user", out.Messages[0].Role)
	assert.Equal(t, "and now?", out.Messages[0].TextContent())
	assert.Equal(t, "tool", out.Messages[1].Role)
}

func TestTranslateRequest_Tools(t *testing.T) {
	req := parseRequest(t, `{
		"model": "m", "max_tokens": 10,
		"messages": [{"role": "user", "content": "hi"}],
		"tools": [{
			"name": "get_weather",
			"description": "Get weather",
			"input_schema": {"type":"object","properties":{"city":{"type":"string"}}}
		}]
	}`)

	out, err := newTestTranslator().TranslateRequest(req)
	require.NoError(t, err)
	require.Len(t, out.Tools, 1)
	assert.Equal(t, "function", out.Tools[0].Type)
	assert.Equal(t, "get_weather", out.Tools[0].Function.Name)
	assert.Contains(t, out.Tools[0].Function.Parameters, "properties")
}

func TestTranslateRequest_SessionExtraction(t *testing.T) {
	tests := []struct {
		name        string
		userID      string
		wantUser    string
		wantSession string
	}{
		{"with session marker", "acct-42_session_abc123", "acct-42_session_abc123", "abc123"},
		{"without marker", "acct-42", "acct-42", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := parseRequest(t, `{
				"model": "m", "max_tokens": 10,
				"messages": [{"role": "user", "content": "hi"}]
			}`)
			req.Metadata = map[string]any{"user_id": tt.userID}

			out, err := newTestTranslator().TranslateRequest(req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, out.User)
			assert.Equal(t, tt.wantSession, out.SessionID)
		})
	}
}
