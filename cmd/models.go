package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arin/xx-chat/internal/config"
	"github.com/arin/xx-chat/internal/models"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List, enable and disable models",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all known models",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen)
		dim := color.New(color.FgHiBlack)

		for _, m := range models.New(cfg.DisabledModels).All() {
			marker := " "
			if m.ModelID == cfg.Model {
				marker = "*"
			}
			fmt.Printf("%s %-28s %-8s ", marker, m.ModelID, m.Provider)
			if m.Enabled {
				green.Println("enabled")
			} else {
				dim.Println("disabled")
			}
		}
		return nil
	},
}

func toggleModel(enabled bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if _, ok := models.New(nil).Lookup(args[0]); !ok {
			return fmt.Errorf("unknown model %q", args[0])
		}
		if err := config.SetModelEnabled(args[0], enabled); err != nil {
			return fmt.Errorf("failed to save model settings: %w", err)
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		fmt.Printf("%s %s.\n", args[0], state)
		return nil
	}
}

var modelsEnableCmd = &cobra.Command{
	Use:   "enable <model-id>",
	Short: "Enable a model",
	Args:  cobra.ExactArgs(1),
	RunE:  toggleModel(true),
}

var modelsDisableCmd = &cobra.Command{
	Use:   "disable <model-id>",
	Short: "Disable a model",
	Args:  cobra.ExactArgs(1),
	RunE:  toggleModel(false),
}

func init() {
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsEnableCmd)
	modelsCmd.AddCommand(modelsDisableCmd)
}
