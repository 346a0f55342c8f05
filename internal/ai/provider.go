// Package ai translates the engine's uniform message model into each LLM
// vendor's streaming HTTP protocol and back.
package ai

import (
	"fmt"
	"net/http"

	"github.com/arin/xx-chat/internal/chat"
)

// Request is a fully built outbound HTTP call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Adapter is the interface every provider wire protocol implements.
// The parsing methods must never panic: malformed or irrelevant events
// yield ok=false, false, or nil.
type Adapter interface {
	Provider() chat.Provider

	// BuildRequest builds the streaming request for model over history.
	BuildRequest(model, apiKey string, history []chat.Message) (*Request, error)

	// ExtractDelta returns the text fragment carried by one event payload.
	ExtractDelta(event []byte) (delta string, ok bool)

	// IsFinal reports whether event confirms the provider finished the
	// answer on purpose.
	IsFinal(event []byte) bool

	// ExtractError returns the provider error carried by an in-band error
	// event, or nil.
	ExtractError(event []byte) error

	// EndSentinel is the `data:` payload that terminates the stream, or ""
	// when the provider simply closes the connection.
	EndSentinel() string
}

// Endpoints holds provider base URLs. Empty fields fall back to the
// public APIs.
type Endpoints struct {
	OpenAI string
	Claude string
	Gemini string
}

// Options tunes request bodies.
type Options struct {
	Endpoints Endpoints
	// MaxTokens is sent to providers that require or accept a cap.
	MaxTokens int
}

const (
	defaultOpenAIURL = "https://api.openai.com"
	defaultClaudeURL = "https://api.anthropic.com"
	defaultGeminiURL = "https://generativelanguage.googleapis.com"
	defaultMaxTokens = 4096
)

// Adapters selects adapters by provider. Built once, shared by engines.
type Adapters struct {
	byProvider map[chat.Provider]Adapter
}

// NewAdapters builds the three provider adapters.
func NewAdapters(opts Options) *Adapters {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Adapters{byProvider: map[chat.Provider]Adapter{
		chat.ProviderOpenAI: &OpenAI{BaseURL: orDefault(opts.Endpoints.OpenAI, defaultOpenAIURL)},
		chat.ProviderClaude: &Claude{BaseURL: orDefault(opts.Endpoints.Claude, defaultClaudeURL), MaxTokens: maxTokens},
		chat.ProviderGemini: &Gemini{BaseURL: orDefault(opts.Endpoints.Gemini, defaultGeminiURL), MaxTokens: maxTokens},
	}}
}

// For returns the adapter for p.
func (a *Adapters) For(p chat.Provider) (Adapter, error) {
	ad, ok := a.byProvider[p]
	if !ok {
		return nil, fmt.Errorf("unsupported provider %q", p)
	}
	return ad, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func jsonHeader() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "text/event-stream")
	return h
}
