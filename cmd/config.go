package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arin/xx-chat/internal/chat"
	"github.com/arin/xx-chat/internal/config"
	"github.com/arin/xx-chat/internal/models"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage xx-chat configuration",
}

var setKeyCmd = &cobra.Command{
	Use:   "set-key <provider> <api-key>",
	Short: "Set the API key for openai, claude or gemini",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, ok := chat.ParseProvider(strings.ToLower(args[0]))
		if !ok {
			return fmt.Errorf("unknown provider %q (use openai, claude or gemini)", args[0])
		}
		if err := config.SetAPIKey(string(p), args[1]); err != nil {
			return fmt.Errorf("failed to save API key: %w", err)
		}
		fmt.Printf("API key for %s saved successfully.\n", p)
		return nil
	},
}

var setModelCmd = &cobra.Command{
	Use:   "set-model <model-id>",
	Short: "Set the default model (see: xx-chat models list)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if _, err := models.New(cfg.DisabledModels).Select(args[0]); err != nil {
			return err
		}
		if err := config.SetModel(args[0]); err != nil {
			return fmt.Errorf("failed to save model: %w", err)
		}
		fmt.Printf("Model set to %s.\n", args[0])
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set any config value, e.g. store.driver sqlite",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Set(args[0], args[1]); err != nil {
			return fmt.Errorf("failed to save %s: %w", args[0], err)
		}
		fmt.Printf("%s set to %s.\n", args[0], args[1])
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		fmt.Printf("Model:      %s\n", cfg.Model)
		for _, p := range chat.Providers {
			fmt.Printf("%-11s %s\n", string(p)+":", maskKey(cfg.APIKey(string(p))))
		}
		fmt.Printf("Store:      %s\n", cfg.Store.Driver)
		if cfg.Store.RedisAddr != "" {
			fmt.Printf("Cache:      redis %s (ttl %s)\n", cfg.Store.RedisAddr, cfg.Store.CacheTTL)
		}
		fmt.Printf("Blobs:      %s\n", cfg.Blob.Driver)
		fmt.Printf("Server:     %s\n", cfg.Server.Addr)
		fmt.Printf("Config Dir: %s\n", config.Dir())
		return nil
	},
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 8:
		return strings.Repeat("*", len(key))
	default:
		return key[:4] + "..." + key[len(key)-4:]
	}
}

func init() {
	configCmd.AddCommand(setKeyCmd)
	configCmd.AddCommand(setModelCmd)
	configCmd.AddCommand(setCmd)
	configCmd.AddCommand(showCmd)
}
