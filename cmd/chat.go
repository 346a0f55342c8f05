package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arin/xx-chat/internal/chat"
	"github.com/arin/xx-chat/internal/models"
	"github.com/arin/xx-chat/internal/session"
	"github.com/arin/xx-chat/internal/stats"
	"github.com/arin/xx-chat/internal/ui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start a conversational session. Answers stream as they are generated
and every exchange is saved to the conversation store.

Commands inside the session:
  /models          list available models
  /model <id>      switch model
  /new             start a new conversation
  /open <id>       continue a saved conversation
  /image <path>    attach an image to the next message
  /quit            leave (also: exit, quit, bye)

Press Ctrl+C while an answer streams to stop it.`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.NewEngine()
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	printer := ui.NewStreamPrinter(os.Stdout, os.Stderr, "", ui.NewSpinner("Thinking..."))
	engine.Subscribe(printer.Observe)
	engine.Subscribe(stats.Recorder("chat"))

	fmt.Fprintln(os.Stderr)
	cyan.Fprintln(os.Stderr, "  xx-chat")
	dim.Fprintf(os.Stderr, "  Model: %s. Type /models, /model <id>, /new, /open <id>, /image <path> or /quit.\n\n", engine.Model().DisplayName)

	scanner := bufio.NewScanner(os.Stdin)
	var pending *session.Image

	for {
		green.Fprint(os.Stderr, "  you → ")
		if pending != nil {
			dim.Fprint(os.Stderr, "[image] ")
		}
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" || input == "bye" || input == "/quit" {
			dim.Fprintf(os.Stderr, "\n  Later! 👋\n\n")
			break
		}

		if strings.HasPrefix(input, "/") {
			img, err := handleSlash(ctx, engine, a.Catalog, input)
			if err != nil {
				red.Fprintf(os.Stderr, "  ✗ %v\n\n", err)
			}
			if img != nil {
				pending = img
			}
			continue
		}

		cyan.Fprintf(os.Stderr, "  %s → ", engine.Model().DisplayName)
		submitCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		_, err := engine.Submit(submitCtx, session.Input{Text: input, Image: pending})
		stop()
		pending = nil
		if errors.Is(err, chat.ErrBusy) {
			red.Fprintf(os.Stderr, "  ✗ %v\n", err)
		}
		fmt.Fprintln(os.Stderr)
	}
	return scanner.Err()
}

// handleSlash runs a REPL command. A returned image is attached to the
// next message.
func handleSlash(ctx context.Context, e *session.Engine, catalog *models.Catalog, input string) (*session.Image, error) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	dim := color.New(color.FgHiBlack)

	switch name {
	case "/models":
		current := e.Model().ModelID
		for _, m := range catalog.Enabled() {
			marker := " "
			if m.ModelID == current {
				marker = "*"
			}
			fmt.Fprintf(os.Stderr, "  %s %-28s ", marker, m.ModelID)
			dim.Fprintf(os.Stderr, "%s\n", m.DisplayName)
		}
		fmt.Fprintln(os.Stderr)
	case "/model":
		if arg == "" {
			return nil, fmt.Errorf("usage: /model <id>")
		}
		m, err := catalog.Select(arg)
		if err != nil {
			return nil, err
		}
		if err := e.SelectModel(m); err != nil {
			return nil, err
		}
		dim.Fprintf(os.Stderr, "  Switched to %s.\n\n", m.DisplayName)
	case "/new":
		e.NewConversation()
		dim.Fprintf(os.Stderr, "  New conversation.\n\n")
	case "/open":
		if arg == "" {
			return nil, fmt.Errorf("usage: /open <conversation-id>")
		}
		if err := e.Open(ctx, arg); err != nil {
			return nil, err
		}
		msgs := e.Messages()
		for _, m := range msgs {
			printMessage(m)
		}
		dim.Fprintf(os.Stderr, "  Opened %s (%d messages).\n\n", arg, len(msgs))
	case "/image":
		if arg == "" {
			return nil, fmt.Errorf("usage: /image <path>")
		}
		img, err := readImage(arg)
		if err != nil {
			return nil, err
		}
		dim.Fprintf(os.Stderr, "  Attached %s to your next message.\n\n", filepath.Base(arg))
		return img, nil
	default:
		return nil, fmt.Errorf("unknown command %s", name)
	}
	return nil, nil
}

func readImage(path string) (*session.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return &session.Image{Data: data, ContentType: ct}, nil
}

func printMessage(m chat.Message) {
	who := color.New(color.FgGreen)
	label := "you"
	if m.Role == chat.RoleAssistant {
		who = color.New(color.FgCyan)
		label = "xx"
	}
	who.Fprintf(os.Stderr, "  %s → ", label)
	fmt.Fprintln(os.Stderr, m.Content)
	if m.Attachment != nil {
		color.New(color.FgHiBlack).Fprintf(os.Stderr, "    [image] %s\n", m.Attachment.URL)
	}
}
