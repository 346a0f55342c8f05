package ai

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/arin/xx-chat/internal/chat"
	"github.com/arin/xx-chat/internal/sse"
)

// OpenAI speaks the chat-completions streaming protocol.
type OpenAI struct {
	BaseURL string
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

// openAIMessage.Content is either a string or a list of parts.
type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (o *OpenAI) Provider() chat.Provider { return chat.ProviderOpenAI }

func (o *OpenAI) EndSentinel() string { return sse.DoneSentinel }

func (o *OpenAI) BuildRequest(model, apiKey string, history []chat.Message) (*Request, error) {
	msgs := make([]openAIMessage, 0, len(history))
	for _, m := range history {
		msg := openAIMessage{Role: string(m.Role), Content: m.Content}
		// Images only ride on the user's turn.
		if m.Role == chat.RoleUser && m.Attachment != nil {
			var parts []openAIPart
			// An empty text part is rejected, so image-only turns send just the image.
			if m.Content != "" {
				parts = append(parts, openAIPart{Type: "text", Text: m.Content})
			}
			msg.Content = append(parts, openAIPart{Type: "image_url", ImageURL: &openAIImageURL{URL: m.Attachment.URL}})
		}
		msgs = append(msgs, msg)
	}

	body, err := json.Marshal(openAIRequest{Model: model, Messages: msgs, Stream: true})
	if err != nil {
		return nil, err
	}

	h := jsonHeader()
	h.Set("Authorization", "Bearer "+apiKey)
	return &Request{
		Method: http.MethodPost,
		URL:    strings.TrimRight(o.BaseURL, "/") + "/v1/chat/completions",
		Header: h,
		Body:   body,
	}, nil
}

func (o *OpenAI) ExtractDelta(event []byte) (string, bool) {
	var c openAIChunk
	if err := json.Unmarshal(event, &c); err != nil {
		return "", false
	}
	if len(c.Choices) == 0 || c.Choices[0].Delta.Content == nil {
		return "", false
	}
	text := *c.Choices[0].Delta.Content
	return text, text != ""
}

func (o *OpenAI) IsFinal(event []byte) bool {
	var c openAIChunk
	if err := json.Unmarshal(event, &c); err != nil {
		return false
	}
	return len(c.Choices) > 0 && c.Choices[0].FinishReason != nil && *c.Choices[0].FinishReason != ""
}

func (o *OpenAI) ExtractError(event []byte) error {
	var c openAIChunk
	if err := json.Unmarshal(event, &c); err != nil || c.Error == nil {
		return nil
	}
	if c.Error.Message == "" {
		return errors.New(c.Error.Type)
	}
	return errors.New(c.Error.Message)
}
