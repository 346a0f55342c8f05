package ai

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/arin/xx-chat/internal/chat"
)

const anthropicVersion = "2023-06-01"

// Claude speaks the Anthropic messages streaming protocol.
type Claude struct {
	BaseURL   string
	MaxTokens int
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []claudeMessage `json:"messages"`
	Stream    bool            `json:"stream"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type claudeBlock struct {
	Type   string             `json:"type"`
	Text   string             `json:"text,omitempty"`
	Source *claudeImageSource `json:"source,omitempty"`
}

type claudeImageSource struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type claudeEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Claude) Provider() chat.Provider { return chat.ProviderClaude }

// EndSentinel is empty: Claude ends with a message_stop event.
func (c *Claude) EndSentinel() string { return "" }

func (c *Claude) BuildRequest(model, apiKey string, history []chat.Message) (*Request, error) {
	msgs := make([]claudeMessage, 0, len(history))
	for _, m := range history {
		msg := claudeMessage{Role: string(m.Role), Content: m.Content}
		if m.Role == chat.RoleUser && m.Attachment != nil {
			blocks := []claudeBlock{{Type: "image", Source: &claudeImageSource{Type: "url", URL: m.Attachment.URL}}}
			if m.Content != "" {
				blocks = append(blocks, claudeBlock{Type: "text", Text: m.Content})
			}
			msg.Content = blocks
		}
		msgs = append(msgs, msg)
	}

	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	body, err := json.Marshal(claudeRequest{Model: model, MaxTokens: maxTokens, Messages: msgs, Stream: true})
	if err != nil {
		return nil, err
	}

	h := jsonHeader()
	h.Set("x-api-key", apiKey)
	h.Set("anthropic-version", anthropicVersion)
	return &Request{
		Method: http.MethodPost,
		URL:    strings.TrimRight(c.BaseURL, "/") + "/v1/messages",
		Header: h,
		Body:   body,
	}, nil
}

// ExtractDelta only accepts content_block_delta events. message_start,
// ping, content_block_start/stop, message_delta and message_stop carry
// no text.
func (c *Claude) ExtractDelta(event []byte) (string, bool) {
	var ev claudeEvent
	if err := json.Unmarshal(event, &ev); err != nil {
		return "", false
	}
	if ev.Type != "content_block_delta" || ev.Delta.Text == "" {
		return "", false
	}
	return ev.Delta.Text, true
}

func (c *Claude) IsFinal(event []byte) bool {
	var ev claudeEvent
	if err := json.Unmarshal(event, &ev); err != nil {
		return false
	}
	return ev.Type == "message_stop"
}

func (c *Claude) ExtractError(event []byte) error {
	var ev claudeEvent
	if err := json.Unmarshal(event, &ev); err != nil || ev.Type != "error" {
		return nil
	}
	if ev.Error == nil {
		return errors.New("provider reported an error")
	}
	if ev.Error.Message == "" {
		return errors.New(ev.Error.Type)
	}
	return errors.New(ev.Error.Type + ": " + ev.Error.Message)
}
