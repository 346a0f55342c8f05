// Package config handles loading and persisting user configuration
// for xx-chat. Configuration is stored in ~/.xx-chat/config.json and can be
// overridden with XX_CHAT_* environment variables or a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	dirName      = ".xx-chat"
	fileName     = "config.json"
	envPrefix    = "XX_CHAT"
	defaultModel = "gpt-4o-mini"

	defaultMaxTokens   = 4096
	defaultIdleTimeout = 60 * time.Second
)

// providerEnv lists the conventional vendor variables consulted when no key
// is configured for a provider.
var providerEnv = map[string]string{
	"openai": "OPENAI_API_KEY",
	"claude": "ANTHROPIC_API_KEY",
	"gemini": "GEMINI_API_KEY",
}

// Config holds the user's configuration.
type Config struct {
	Model             string            `mapstructure:"model"`
	APIKeys           map[string]string `mapstructure:"api_keys"`
	Endpoints         Endpoints         `mapstructure:"endpoints"`
	MaxTokens         int               `mapstructure:"max_tokens"`
	StreamIdleTimeout time.Duration     `mapstructure:"stream_idle_timeout"`
	DisabledModels    []string          `mapstructure:"disabled_models"`
	Store             Store             `mapstructure:"store"`
	Blob              Blob              `mapstructure:"blob"`
	Server            Server            `mapstructure:"server"`
	Log               Log               `mapstructure:"log"`
}

// Endpoints overrides provider base URLs, mostly for proxies and tests.
type Endpoints struct {
	OpenAI string `mapstructure:"openai"`
	Claude string `mapstructure:"claude"`
	Gemini string `mapstructure:"gemini"`
}

// Store selects the conversation store driver.
type Store struct {
	// Driver is one of file, memory, sqlite, postgres, mysql.
	Driver    string        `mapstructure:"driver"`
	DSN       string        `mapstructure:"dsn"`
	RedisAddr string        `mapstructure:"redis_addr"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// Blob selects where image attachments are uploaded.
type Blob struct {
	// Driver is local or s3.
	Driver    string `mapstructure:"driver"`
	Dir       string `mapstructure:"dir"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PublicURL string `mapstructure:"public_url"`
	Prefix    string `mapstructure:"prefix"`
}

type Server struct {
	Addr string `mapstructure:"addr"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Dir returns the configuration directory path.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, dirName)
}

// Path returns the configuration file path.
func Path() string {
	return filepath.Join(Dir(), fileName)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model", defaultModel)
	for p := range providerEnv {
		v.SetDefault("api_keys."+p, "")
	}
	v.SetDefault("endpoints.openai", "")
	v.SetDefault("endpoints.claude", "")
	v.SetDefault("endpoints.gemini", "")
	v.SetDefault("max_tokens", defaultMaxTokens)
	v.SetDefault("stream_idle_timeout", defaultIdleTimeout)
	v.SetDefault("disabled_models", []string{})
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.cache_ttl", 10*time.Minute)
	v.SetDefault("blob.driver", "local")
	v.SetDefault("blob.dir", filepath.Join(Dir(), "blobs"))
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.region", "")
	v.SetDefault("blob.endpoint", "")
	v.SetDefault("blob.public_url", "")
	v.SetDefault("blob.prefix", "chat_images")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
}

// Load reads the configuration from disk, .env files and the environment.
// A missing config file is not an error.
func Load() (*Config, error) {
	// godotenv never overrides variables that are already set.
	_ = godotenv.Load(filepath.Join(Dir(), ".env"))
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readFile(v); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.APIKeys == nil {
		cfg.APIKeys = map[string]string{}
	}
	for p, env := range providerEnv {
		if cfg.APIKeys[p] == "" {
			cfg.APIKeys[p] = os.Getenv(env)
		}
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return cfg, nil
}

// APIKey returns the configured key for provider, or "".
func (c *Config) APIKey(provider string) string {
	return c.APIKeys[provider]
}

// ModelEnabled reports whether modelID was not disabled by the user.
func (c *Config) ModelEnabled(modelID string) bool {
	return !slices.Contains(c.DisabledModels, modelID)
}

func readFile(v *viper.Viper) error {
	v.SetConfigFile(Path())
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// update applies fn to the values stored in the config file only, so
// defaults and environment overrides never end up on disk.
func update(fn func(v *viper.Viper) error) error {
	v := viper.New()
	if err := readFile(v); err != nil {
		return err
	}
	if err := fn(v); err != nil {
		return err
	}
	if err := os.MkdirAll(Dir(), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := v.WriteConfigAs(Path()); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return os.Chmod(Path(), 0o600)
}

// SetAPIKey saves the API key for provider to the config file.
func SetAPIKey(provider, key string) error {
	if _, ok := providerEnv[provider]; !ok {
		return fmt.Errorf("unknown provider %q", provider)
	}
	return update(func(v *viper.Viper) error {
		v.Set("api_keys."+provider, key)
		return nil
	})
}

// SetModel saves the model preference to the config file.
func SetModel(model string) error {
	return update(func(v *viper.Viper) error {
		v.Set("model", model)
		return nil
	})
}

// SetModelEnabled adds or removes modelID from the disabled list.
func SetModelEnabled(modelID string, enabled bool) error {
	return update(func(v *viper.Viper) error {
		disabled := v.GetStringSlice("disabled_models")
		disabled = slices.DeleteFunc(disabled, func(id string) bool { return id == modelID })
		if !enabled {
			disabled = append(disabled, modelID)
		}
		slices.Sort(disabled)
		v.Set("disabled_models", disabled)
		return nil
	})
}

// Set stores an arbitrary dotted key, e.g. "store.driver".
func Set(key string, value any) error {
	return update(func(v *viper.Viper) error {
		v.Set(key, value)
		return nil
	})
}
