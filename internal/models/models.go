// Package models is the catalog of selectable chat models.
package models

import (
	"fmt"
	"slices"

	"github.com/arin/xx-chat/internal/chat"
)

// Defaults is the built-in catalog, enabled unless the user disables them.
var Defaults = []chat.ModelDescriptor{
	{ModelID: "gpt-4o-mini", Provider: chat.ProviderOpenAI, DisplayName: "GPT-4o-mini"},
	{ModelID: "gpt-4o", Provider: chat.ProviderOpenAI, DisplayName: "GPT-4o"},
	{ModelID: "gpt-4", Provider: chat.ProviderOpenAI, DisplayName: "GPT-4"},
	{ModelID: "gpt-3.5-turbo", Provider: chat.ProviderOpenAI, DisplayName: "GPT-3.5 Turbo"},
	{ModelID: "claude-3-5-sonnet-20240620", Provider: chat.ProviderClaude, DisplayName: "Claude 3.5 Sonnet"},
	{ModelID: "claude-3-sonnet-20240229", Provider: chat.ProviderClaude, DisplayName: "Claude 3 Sonnet"},
	{ModelID: "gemini-1.5-flash", Provider: chat.ProviderGemini, DisplayName: "Gemini 1.5 Flash"},
	{ModelID: "gemini-1.5-pro", Provider: chat.ProviderGemini, DisplayName: "Gemini 1.5 Pro"},
}

// Catalog is an immutable list of descriptors with their enabled flags
// resolved.
type Catalog struct {
	models []chat.ModelDescriptor
}

// New builds a catalog from Defaults. disabled lists model ids the user
// turned off.
func New(disabled []string) *Catalog {
	return NewFrom(Defaults, disabled)
}

// NewFrom builds a catalog from an explicit descriptor list.
func NewFrom(descs []chat.ModelDescriptor, disabled []string) *Catalog {
	models := make([]chat.ModelDescriptor, len(descs))
	for i, d := range descs {
		d.Enabled = !slices.Contains(disabled, d.ModelID)
		models[i] = d
	}
	// Stable so the display order within a provider is kept.
	slices.SortStableFunc(models, func(a, b chat.ModelDescriptor) int {
		return providerRank(a.Provider) - providerRank(b.Provider)
	})
	return &Catalog{models: models}
}

func providerRank(p chat.Provider) int {
	if i := slices.Index(chat.Providers, p); i >= 0 {
		return i
	}
	return len(chat.Providers)
}

// All returns every descriptor ordered by provider.
func (c *Catalog) All() []chat.ModelDescriptor {
	return slices.Clone(c.models)
}

// Enabled returns the enabled descriptors ordered by provider.
func (c *Catalog) Enabled() []chat.ModelDescriptor {
	var out []chat.ModelDescriptor
	for _, m := range c.models {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// Lookup finds a descriptor by model id.
func (c *Catalog) Lookup(modelID string) (chat.ModelDescriptor, bool) {
	for _, m := range c.models {
		if m.ModelID == modelID {
			return m, true
		}
	}
	return chat.ModelDescriptor{}, false
}

// Select validates that modelID exists and is enabled.
func (c *Catalog) Select(modelID string) (chat.ModelDescriptor, error) {
	m, ok := c.Lookup(modelID)
	if !ok {
		return chat.ModelDescriptor{}, chat.ConfigError("select model", "", fmt.Errorf("unknown model %q", modelID))
	}
	if !m.Enabled {
		return chat.ModelDescriptor{}, chat.ConfigError("select model", m.Provider, fmt.Errorf("model %q is disabled", modelID))
	}
	return m, nil
}

// Default returns preferred when it is selectable, otherwise the first
// enabled model.
func (c *Catalog) Default(preferred string) (chat.ModelDescriptor, error) {
	if m, err := c.Select(preferred); err == nil {
		return m, nil
	}
	enabled := c.Enabled()
	if len(enabled) == 0 {
		return chat.ModelDescriptor{}, chat.ConfigError("select model", "", fmt.Errorf("no enabled models"))
	}
	return enabled[0], nil
}
