// Package credentials resolves provider API keys.
package credentials

import (
	"context"
	"fmt"

	"github.com/arin/xx-chat/internal/chat"
	"github.com/arin/xx-chat/internal/config"
)

// Source returns the API key for a provider, or chat.ErrMissingCredential.
type Source interface {
	APIKey(ctx context.Context, p chat.Provider) (string, error)
}

// ConfigSource reads keys from the user's config on every call, so keys set
// with `xx-chat config set-key` apply to running sessions.
type ConfigSource struct {
	load func() (*config.Config, error)
}

func NewConfigSource() *ConfigSource {
	return &ConfigSource{load: config.Load}
}

func (s *ConfigSource) APIKey(ctx context.Context, p chat.Provider) (string, error) {
	cfg, err := s.load()
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	key := cfg.APIKey(string(p))
	if key == "" {
		return "", fmt.Errorf("%s: %w", p, chat.ErrMissingCredential)
	}
	return key, nil
}

// Static is a fixed provider->key map.
type Static map[chat.Provider]string

func (s Static) APIKey(ctx context.Context, p chat.Provider) (string, error) {
	if key := s[p]; key != "" {
		return key, nil
	}
	return "", fmt.Errorf("%s: %w", p, chat.ErrMissingCredential)
}
