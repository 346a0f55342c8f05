package ai

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/arin/xx-chat/internal/chat"
)

// Gemini speaks the generativelanguage streamGenerateContent protocol.
// The key travels in the query string, never in a header.
type Gemini struct {
	BaseURL   string
	MaxTokens int
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text     string          `json:"text,omitempty"`
	FileData *geminiFileData `json:"fileData,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *Gemini) Provider() chat.Provider { return chat.ProviderGemini }

func (g *Gemini) EndSentinel() string { return "" }

func (g *Gemini) BuildRequest(model, apiKey string, history []chat.Message) (*Request, error) {
	contents := make([]geminiContent, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.Role == chat.RoleAssistant {
			role = "model"
		}
		var parts []geminiPart
		if m.Content != "" {
			parts = append(parts, geminiPart{Text: m.Content})
		}
		if m.Role == chat.RoleUser && m.Attachment != nil {
			parts = append(parts, geminiPart{FileData: &geminiFileData{
				MimeType: m.Attachment.ContentType,
				FileURI:  m.Attachment.URL,
			}})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, geminiContent{Role: role, Parts: parts})
	}

	body, err := json.Marshal(geminiRequest{
		Contents:         contents,
		GenerationConfig: geminiGenerationConfig{MaxOutputTokens: g.MaxTokens},
	})
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("alt", "sse")
	q.Set("key", apiKey)
	endpoint := strings.TrimRight(g.BaseURL, "/") + "/v1beta/models/" + url.PathEscape(model) +
		":streamGenerateContent?" + q.Encode()

	return &Request{
		Method: http.MethodPost,
		URL:    endpoint,
		Header: jsonHeader(),
		Body:   body,
	}, nil
}

func (g *Gemini) ExtractDelta(event []byte) (string, bool) {
	var c geminiChunk
	if err := json.Unmarshal(event, &c); err != nil {
		return "", false
	}
	if len(c.Candidates) == 0 || len(c.Candidates[0].Content.Parts) == 0 {
		return "", false
	}
	text := c.Candidates[0].Content.Parts[0].Text
	return text, text != ""
}

// IsFinal is true once a candidate carries a finishReason; Gemini has no
// sentinel and closes the connection right after.
func (g *Gemini) IsFinal(event []byte) bool {
	var c geminiChunk
	if err := json.Unmarshal(event, &c); err != nil {
		return false
	}
	return len(c.Candidates) > 0 && c.Candidates[0].FinishReason != ""
}

func (g *Gemini) ExtractError(event []byte) error {
	var c geminiChunk
	if err := json.Unmarshal(event, &c); err != nil || c.Error == nil {
		return nil
	}
	if c.Error.Message == "" {
		return errors.New(c.Error.Status)
	}
	return errors.New(c.Error.Message)
}
