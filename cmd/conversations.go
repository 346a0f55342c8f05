package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var conversationsLimit int

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"history"},
	Short:   "List, show and delete saved conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		convs, err := a.Store.ListConversations(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to load conversations: %w", err)
		}
		if len(convs) == 0 {
			fmt.Println("No conversations yet.")
			return nil
		}
		if conversationsLimit > 0 && len(convs) > conversationsLimit {
			convs = convs[:conversationsLimit]
		}

		dim := color.New(color.FgHiBlack)
		cyan := color.New(color.FgCyan)
		for _, c := range convs {
			dim.Printf("[%s] ", c.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
			cyan.Printf("%s ", c.ID)
			fmt.Println(c.Title)
		}
		return nil
	},
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Print a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		conv, err := a.Store.GetConversation(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to load conversation: %w", err)
		}
		msgs, err := a.Store.ListMessages(cmd.Context(), conv.ID)
		if err != nil {
			return fmt.Errorf("failed to load messages: %w", err)
		}

		color.New(color.FgCyan, color.Bold).Printf("\n  %s\n\n", conv.Title)
		for _, m := range msgs {
			printMessage(m)
		}
		fmt.Println()
		return nil
	},
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a conversation and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.Store.GetConversation(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to load conversation: %w", err)
		}
		if err := a.Store.DeleteConversation(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		fmt.Printf("Deleted %s.\n", args[0])
		return nil
	},
}

func init() {
	conversationsListCmd.Flags().IntVarP(&conversationsLimit, "limit", "n", 20, "Number of conversations to show")
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)
}
