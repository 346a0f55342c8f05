package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arin/xx-chat/internal/app"
	"github.com/arin/xx-chat/internal/config"
	"github.com/arin/xx-chat/internal/observability"
)

var (
	modelFlag    string
	storeFlag    string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "xx-chat",
	Short: "Chat with OpenAI, Claude and Gemini models from your terminal",
	Long: `xx-chat streams answers from OpenAI, Anthropic Claude and Google Gemini
models and keeps your conversations locally.

Examples:
  xx-chat                       start a chat session
  xx-chat config set-key openai sk-...
  xx-chat --model claude-3-5-sonnet-20240620 chat
  xx-chat conversations list
  xx-chat serve`,
	RunE:                       runChat,
	SilenceUsage:               true,
	SilenceErrors:              true,
	SuggestionsMinimumDistance: 1,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "Model to use for this run (overrides config)")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "Conversation store driver: file, memory, sqlite, postgres, mysql")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(serveCmd)
}

// SetVersion sets the version reported by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the entry point called from main.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the config and applies the persistent flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if storeFlag != "" {
		cfg.Store.Driver = storeFlag
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	return cfg, nil
}

// setup loads the config, installs the logger and opens the stores.
func setup(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return setupWith(ctx, cfg)
}

func setupWith(ctx context.Context, cfg *config.Config) (*app.App, error) {
	log := observability.Setup(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise: %w", err)
	}
	return a, nil
}
