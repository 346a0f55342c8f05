package ai

import (
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/arin/xx-chat/internal/chat"
)

func history(withImage bool) []chat.Message {
	user := chat.Message{Role: chat.RoleUser, Content: "what is this?"}
	if withImage {
		user.Attachment = &chat.Attachment{URL: "https://cdn.example.com/cat.png", ContentType: "image/png"}
	}
	return []chat.Message{
		{Role: chat.RoleUser, Content: "Hello"},
		{Role: chat.RoleAssistant, Content: "Hi there!"},
		user,
	}
}

func decodeBody(t *testing.T, req *Request) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	return body
}

// --- OpenAI ---

func TestOpenAI_BuildRequest(t *testing.T) {
	ad := &OpenAI{BaseURL: "https://api.openai.com/"}
	req, err := ad.BuildRequest("gpt-4o-mini", "sk-test", history(false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.URL != "https://api.openai.com/v1/chat/completions" {
		t.Errorf("unexpected URL: %s", req.URL)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("expected bearer auth, got %q", got)
	}
	body := decodeBody(t, req)
	if body["model"] != "gpt-4o-mini" || body["stream"] != true {
		t.Errorf("unexpected body: %v", body)
	}
	msgs := body["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[1].(map[string]any)["role"] != "assistant" {
		t.Errorf("history order not preserved: %v", msgs)
	}
}

func TestOpenAI_BuildRequest_ImageOnUserTurn(t *testing.T) {
	ad := &OpenAI{BaseURL: defaultOpenAIURL}
	req, err := ad.BuildRequest("gpt-4o", "sk", history(true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgs := decodeBody(t, req)["messages"].([]any)
	parts, ok := msgs[2].(map[string]any)["content"].([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("expected multi-part content, got %v", msgs[2])
	}
	img := parts[1].(map[string]any)
	if img["type"] != "image_url" || img["image_url"].(map[string]any)["url"] != "https://cdn.example.com/cat.png" {
		t.Errorf("unexpected image part: %v", img)
	}
	if _, isString := msgs[0].(map[string]any)["content"].(string); !isString {
		t.Error("turns without images should keep plain string content")
	}
}

func TestOpenAI_BuildRequest_ImageOnly(t *testing.T) {
	ad := &OpenAI{BaseURL: defaultOpenAIURL}
	turn := chat.NewMessage(chat.RoleUser, "", &chat.Attachment{URL: "https://cdn.example.com/cat.png", ContentType: "image/png"})
	req, err := ad.BuildRequest("gpt-4o", "sk", []chat.Message{turn})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgs := decodeBody(t, req)["messages"].([]any)
	parts, ok := msgs[0].(map[string]any)["content"].([]any)
	if !ok || len(parts) != 1 {
		t.Fatalf("expected a single image part, got %v", msgs[0])
	}
	if parts[0].(map[string]any)["type"] != "image_url" {
		t.Errorf("expected image_url part, got %v", parts[0])
	}
}

func TestOpenAI_ExtractDelta(t *testing.T) {
	ad := &OpenAI{}
	tok, ok := ad.ExtractDelta([]byte(`{"choices":[{"delta":{"content":"Hi"}}]}`))
	if !ok || tok != "Hi" {
		t.Errorf("expected 'Hi', got %q ok=%v", tok, ok)
	}
}

func TestOpenAI_NonContentEvents(t *testing.T) {
	ad := &OpenAI{}
	for _, ev := range []string{
		`{"choices":[{"delta":{"role":"assistant"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`{"choices":[]}`,
		`{"usage":{"prompt_tokens":3}}`,
		`{"choices":[{"delta":{"content":""}}]}`,
		`{"choices":"nope"}`,
		`[]`,
		`null`,
	} {
		if tok, ok := ad.ExtractDelta([]byte(ev)); ok {
			t.Errorf("%s: expected no delta, got %q", ev, tok)
		}
	}
}

func TestOpenAI_IsFinalAndError(t *testing.T) {
	ad := &OpenAI{}
	if !ad.IsFinal([]byte(`{"choices":[{"delta":{},"finish_reason":"stop"}]}`)) {
		t.Error("finish_reason should be final")
	}
	if ad.IsFinal([]byte(`{"choices":[{"delta":{"content":"x"},"finish_reason":null}]}`)) {
		t.Error("null finish_reason is not final")
	}
	if err := ad.ExtractError([]byte(`{"error":{"message":"quota exceeded"}}`)); err == nil || err.Error() != "quota exceeded" {
		t.Errorf("expected quota error, got %v", err)
	}
	if err := ad.ExtractError([]byte(`{"choices":[]}`)); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

// --- Claude ---

func TestClaude_BuildRequest(t *testing.T) {
	ad := &Claude{BaseURL: defaultClaudeURL, MaxTokens: 1024}
	req, err := ad.BuildRequest("claude-3-5-sonnet-20240620", "ant-key", history(false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.URL != "https://api.anthropic.com/v1/messages" {
		t.Errorf("unexpected URL: %s", req.URL)
	}
	if req.Header.Get("x-api-key") != "ant-key" {
		t.Error("expected x-api-key header")
	}
	if req.Header.Get("anthropic-version") != anthropicVersion {
		t.Error("expected anthropic-version header")
	}
	if req.Header.Get("Authorization") != "" {
		t.Error("Claude must not send a bearer header")
	}
	body := decodeBody(t, req)
	if body["max_tokens"] != float64(1024) {
		t.Errorf("expected max_tokens 1024, got %v", body["max_tokens"])
	}
}

func TestClaude_BuildRequest_DefaultMaxTokens(t *testing.T) {
	ad := &Claude{BaseURL: defaultClaudeURL}
	req, _ := ad.BuildRequest("claude-3-sonnet-20240229", "k", history(false))
	if decodeBody(t, req)["max_tokens"] != float64(defaultMaxTokens) {
		t.Error("expected default max_tokens")
	}
}

func TestClaude_BuildRequest_Image(t *testing.T) {
	ad := &Claude{BaseURL: defaultClaudeURL}
	req, _ := ad.BuildRequest("claude-3-5-sonnet-20240620", "k", history(true))
	msgs := decodeBody(t, req)["messages"].([]any)
	blocks := msgs[2].(map[string]any)["content"].([]any)
	src := blocks[0].(map[string]any)["source"].(map[string]any)
	if src["type"] != "url" || src["url"] != "https://cdn.example.com/cat.png" {
		t.Errorf("unexpected image block: %v", blocks[0])
	}
}

func TestClaude_ExtractDelta(t *testing.T) {
	ad := &Claude{}
	tok, ok := ad.ExtractDelta([]byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" there"}}`))
	if !ok || tok != " there" {
		t.Errorf("expected ' there', got %q", tok)
	}
}

func TestClaude_NonContentEvents(t *testing.T) {
	ad := &Claude{}
	for _, ev := range []string{
		`{"type":"message_start","message":{"id":"msg_1","content":[]}}`,
		`{"type":"ping"}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
		`{"type":"message_stop"}`,
		`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{"}}`,
		`"string"`,
	} {
		if tok, ok := ad.ExtractDelta([]byte(ev)); ok {
			t.Errorf("%s: expected no delta, got %q", ev, tok)
		}
	}
}

func TestClaude_FinalAndError(t *testing.T) {
	ad := &Claude{}
	if !ad.IsFinal([]byte(`{"type":"message_stop"}`)) {
		t.Error("message_stop should be final")
	}
	if ad.IsFinal([]byte(`{"type":"content_block_stop"}`)) {
		t.Error("content_block_stop is not final")
	}
	err := ad.ExtractError([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	if err == nil || !strings.Contains(err.Error(), "Overloaded") {
		t.Errorf("expected overloaded error, got %v", err)
	}
}

// --- Gemini ---

func TestGemini_BuildRequest(t *testing.T) {
	ad := &Gemini{BaseURL: defaultGeminiURL, MaxTokens: 2048}
	req, err := ad.BuildRequest("gemini-1.5-flash", "g-key", history(false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		t.Fatalf("bad URL: %v", err)
	}
	if u.Path != "/v1beta/models/gemini-1.5-flash:streamGenerateContent" {
		t.Errorf("unexpected path: %s", u.Path)
	}
	if u.Query().Get("key") != "g-key" || u.Query().Get("alt") != "sse" {
		t.Errorf("expected key and alt=sse in query, got %s", u.RawQuery)
	}
	if req.Header.Get("Authorization") != "" || req.Header.Get("x-api-key") != "" {
		t.Error("Gemini must not send auth headers")
	}

	body := decodeBody(t, req)
	contents := body["contents"].([]any)
	if contents[1].(map[string]any)["role"] != "model" {
		t.Errorf("assistant role should map to model, got %v", contents[1])
	}
	cfg := body["generationConfig"].(map[string]any)
	if cfg["maxOutputTokens"] != float64(2048) {
		t.Errorf("unexpected generationConfig: %v", cfg)
	}
}

func TestGemini_ExtractDelta(t *testing.T) {
	ad := &Gemini{}
	tok, ok := ad.ExtractDelta([]byte(`{"candidates":[{"content":{"parts":[{"text":"!"}],"role":"model"}}]}`))
	if !ok || tok != "!" {
		t.Errorf("expected '!', got %q", tok)
	}
}

func TestGemini_NonContentEvents(t *testing.T) {
	ad := &Gemini{}
	for _, ev := range []string{
		`{"candidates":[]}`,
		`{"candidates":[{"content":{"parts":[]},"finishReason":"STOP"}]}`,
		`{"usageMetadata":{"promptTokenCount":4}}`,
		`{"candidates":[{"content":{}}]}`,
		`42`,
	} {
		if tok, ok := ad.ExtractDelta([]byte(ev)); ok {
			t.Errorf("%s: expected no delta, got %q", ev, tok)
		}
	}
}

func TestGemini_FinalAndError(t *testing.T) {
	ad := &Gemini{}
	if !ad.IsFinal([]byte(`{"candidates":[{"content":{"parts":[{"text":"x"}]},"finishReason":"STOP"}]}`)) {
		t.Error("finishReason should be final")
	}
	err := ad.ExtractError([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	if err == nil || err.Error() != "API key not valid" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAdapters_For(t *testing.T) {
	ads := NewAdapters(Options{})
	for _, p := range chat.Providers {
		ad, err := ads.For(p)
		if err != nil {
			t.Fatalf("For(%s): %v", p, err)
		}
		if ad.Provider() != p {
			t.Errorf("For(%s) returned %s adapter", p, ad.Provider())
		}
	}
	if _, err := ads.For("ollama"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestAdapters_NeverPanicOnGarbage(t *testing.T) {
	ads := NewAdapters(Options{})
	inputs := [][]byte{nil, {}, []byte("{"), []byte(`{"choices":[null]}`), []byte(`{"candidates":[null]}`), []byte(`{"type":null}`)}
	for _, p := range chat.Providers {
		ad, _ := ads.For(p)
		for _, in := range inputs {
			ad.ExtractDelta(in)
			ad.IsFinal(in)
			ad.ExtractError(in)
		}
	}
}
