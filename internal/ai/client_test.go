package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arin/xx-chat/internal/chat"
	"github.com/arin/xx-chat/internal/observability"
)

func sseServer(t *testing.T, status int, lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, `{"error":{"message":"invalid api key"}}`, status)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n\n", l)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect(t *testing.T, s *Stream) (string, StreamDelta) {
	t.Helper()
	var sb strings.Builder
	var last StreamDelta
	for d := range s.Deltas() {
		if d.Token != "" {
			sb.WriteString(d.Token)
			continue
		}
		last = d
	}
	return sb.String(), last
}

func openStream(t *testing.T, c *Client, ad Adapter) (*Stream, error) {
	t.Helper()
	req, err := ad.BuildRequest("m", "key", []chat.Message{{Role: chat.RoleUser, Content: "Hello"}})
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	return c.Open(context.Background(), ad, req)
}

func TestClient_OpenAIStreamWithSentinel(t *testing.T) {
	srv := sseServer(t, http.StatusOK,
		`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
		`data: {"choices":[{"delta":{"content":"Hi"}}]}`,
		`data: {"choices":[{"delta":{"content":" there"}}]}`,
		`data: {"choices":[{"delta":{"content":"!"}}]}`,
		`data: [DONE]`,
	)
	c := NewClient(WithLogger(observability.Discard()))
	s, err := openStream(t, c, &OpenAI{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	text, last := collect(t, s)
	if text != "Hi there!" {
		t.Errorf("expected 'Hi there!', got %q", text)
	}
	if !last.Done || last.Err != nil {
		t.Errorf("expected graceful end, got %+v", last)
	}
}

func TestClient_ClaudeEndsOnMessageStop(t *testing.T) {
	srv := sseServer(t, http.StatusOK,
		`data: {"type":"message_start","message":{}}`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}`,
		`data: {"type":"message_stop"}`,
	)
	c := NewClient(WithLogger(observability.Discard()))
	s, err := openStream(t, c, &Claude{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	text, last := collect(t, s)
	if text != "Hi" || !last.Done {
		t.Errorf("got %q %+v", text, last)
	}
}

func TestClient_ClaudeErrorEvent(t *testing.T) {
	srv := sseServer(t, http.StatusOK,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}`,
		`data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
	)
	c := NewClient(WithLogger(observability.Discard()))
	s, _ := openStream(t, c, &Claude{BaseURL: srv.URL})
	_, last := collect(t, s)
	if !errors.Is(last.Err, chat.ErrNetwork) {
		t.Fatalf("expected network error, got %v", last.Err)
	}
	if !strings.Contains(last.Err.Error(), "Overloaded") {
		t.Errorf("expected provider message in error, got %v", last.Err)
	}
}

func TestClient_GeminiEndsOnFinishReason(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hello\"}]}}]}\r\n\r\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"!\"}]},\"finishReason\":\"STOP\"}]}\r\n\r\n")
	}))
	defer srv.Close()

	c := NewClient(WithLogger(observability.Discard()))
	s, err := openStream(t, c, &Gemini{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	text, last := collect(t, s)
	if text != "Hello!" || !last.Done {
		t.Errorf("got %q %+v", text, last)
	}
	if gotKey != "key" {
		t.Errorf("expected key in query, got %q", gotKey)
	}
}

func TestClient_Non2xxFailsBeforeStreaming(t *testing.T) {
	srv := sseServer(t, http.StatusUnauthorized)
	c := NewClient()
	_, err := openStream(t, c, &OpenAI{BaseURL: srv.URL})
	if !errors.Is(err, chat.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	var cerr *chat.Error
	if !errors.As(err, &cerr) || cerr.Status != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %+v", err)
	}
	if !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("expected body in error, got %v", err)
	}
}

func TestClient_UnreachableHostRedactsKey(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewClient()
	_, err := openStream(t, c, &Gemini{BaseURL: base})
	if !errors.Is(err, chat.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if strings.Contains(err.Error(), "key=") {
		t.Errorf("error leaks query string: %v", err)
	}
}

func TestClient_InterruptedStream(t *testing.T) {
	// OpenAI without [DONE] means the connection dropped mid-answer.
	srv := sseServer(t, http.StatusOK,
		`data: {"choices":[{"delta":{"content":"Hi"}}]}`,
	)
	c := NewClient(WithLogger(observability.Discard()))
	s, _ := openStream(t, c, &OpenAI{BaseURL: srv.URL})
	text, last := collect(t, s)
	if text != "Hi" {
		t.Errorf("expected partial 'Hi', got %q", text)
	}
	if !errors.Is(last.Err, chat.ErrNetwork) {
		t.Errorf("expected network error, got %+v", last)
	}
}

func TestClient_IdleTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(WithIdleTimeout(50*time.Millisecond), WithLogger(observability.Discard()))
	s, err := openStream(t, c, &OpenAI{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, last := collect(t, s)
	if !errors.Is(last.Err, chat.ErrNetwork) || !strings.Contains(last.Err.Error(), "no data received") {
		t.Errorf("expected idle timeout error, got %+v", last)
	}
}

func TestClient_SlowConsumerIsNotIdle(t *testing.T) {
	srv := sseServer(t, http.StatusOK,
		`data: {"choices":[{"delta":{"content":"one "}}]}`,
		`data: {"choices":[{"delta":{"content":"two "}}]}`,
		`data: {"choices":[{"delta":{"content":"three"}}]}`,
		`data: [DONE]`,
	)

	c := NewClient(WithIdleTimeout(50*time.Millisecond), WithLogger(observability.Discard()))
	s, err := openStream(t, c, &OpenAI{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var sb strings.Builder
	var last StreamDelta
	for d := range s.Deltas() {
		// The consumer takes longer than the idle timeout per token.
		time.Sleep(150 * time.Millisecond)
		if d.Token != "" {
			sb.WriteString(d.Token)
			continue
		}
		last = d
	}
	if sb.String() != "one two three" {
		t.Errorf("unexpected text %q", sb.String())
	}
	if !last.Done || last.Err != nil {
		t.Errorf("expected clean completion, got %+v", last)
	}
}

func TestClient_CallerCancelClosesChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ad := &OpenAI{BaseURL: srv.URL}
	req, _ := ad.BuildRequest("m", "k", []chat.Message{{Role: chat.RoleUser, Content: "x"}})
	s, err := NewClient(WithLogger(observability.Discard())).Open(ctx, ad, req)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	deltas := s.Deltas()
	if d := <-deltas; d.Token != "Hi" {
		t.Fatalf("expected first token, got %+v", d)
	}
	cancel()

	select {
	case d, ok := <-deltas:
		if ok && d.Err == nil && !d.Done {
			t.Errorf("unexpected delta after cancel: %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
