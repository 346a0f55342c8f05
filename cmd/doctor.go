package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arin/xx-chat/internal/app"
	"github.com/arin/xx-chat/internal/chat"
	"github.com/arin/xx-chat/internal/config"
	"github.com/arin/xx-chat/internal/credentials"
	"github.com/arin/xx-chat/internal/models"
	"github.com/arin/xx-chat/internal/observability"
	"github.com/arin/xx-chat/internal/store/db"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, credentials and storage",
	Long: `Run a health check on your xx-chat setup.
Verifies the config directory, provider API keys, the selected model,
the conversation store and the attachment backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		green := color.New(color.FgGreen)
		red := color.New(color.FgRed)
		yellow := color.New(color.FgYellow)
		dim := color.New(color.FgHiBlack)
		cyan := color.New(color.FgCyan, color.Bold)

		cyan.Fprintf(os.Stderr, "\n  🩺 xx-chat doctor\n\n")

		pass, fail, warn := 0, 0, 0

		check := func(name string, fn func() (string, error)) {
			detail, err := fn()
			if err != nil {
				if strings.HasPrefix(err.Error(), "warn:") {
					yellow.Fprintf(os.Stderr, "  ⚠ %s\n", name)
					dim.Fprintf(os.Stderr, "    %s\n", strings.TrimPrefix(err.Error(), "warn:"))
					warn++
				} else {
					red.Fprintf(os.Stderr, "  ✗ %s\n", name)
					dim.Fprintf(os.Stderr, "    %s\n", err.Error())
					fail++
				}
			} else {
				green.Fprintf(os.Stderr, "  ✓ %s", name)
				if detail != "" {
					dim.Fprintf(os.Stderr, " (%s)", detail)
				}
				fmt.Fprintln(os.Stderr)
				pass++
			}
		}

		check("Config directory", func() (string, error) {
			info, err := os.Stat(config.Dir())
			if err != nil {
				return "", fmt.Errorf("warn:%s not found, it will be created on first use", config.Dir())
			}
			if !info.IsDir() {
				return "", fmt.Errorf("%s exists but is not a directory", config.Dir())
			}
			return config.Dir(), nil
		})

		cfg, err := loadConfig()
		if err != nil {
			check("Config file", func() (string, error) { return "", err })
			return nil
		}

		creds := credentials.NewConfigSource()
		for _, p := range chat.Providers {
			check(fmt.Sprintf("API key for %s", p), func() (string, error) {
				key, err := creds.APIKey(cmd.Context(), p)
				if errors.Is(err, chat.ErrMissingCredential) {
					return "", fmt.Errorf("warn:run: xx-chat config set-key %s <key>", p)
				}
				if err != nil {
					return "", err
				}
				return maskKey(key), nil
			})
		}

		check(fmt.Sprintf("Model (%s)", cfg.Model), func() (string, error) {
			m, err := models.New(cfg.DisabledModels).Select(cfg.Model)
			if err != nil {
				return "", err
			}
			if _, err := creds.APIKey(cmd.Context(), m.Provider); err != nil {
				return "", fmt.Errorf("no API key for %s", m.Provider)
			}
			return m.DisplayName, nil
		})

		check(fmt.Sprintf("Conversation store (%s)", cfg.Store.Driver), func() (string, error) {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			driver, err := db.NewDriver(ctx, cfg.Store, observability.Discard())
			if err != nil {
				return "", err
			}
			defer driver.Close()
			convs, err := driver.ListConversations(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d conversations", len(convs)), nil
		})

		check(fmt.Sprintf("Attachment storage (%s)", cfg.Blob.Driver), func() (string, error) {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if _, err := app.NewBlobBackend(ctx, cfg.Blob); err != nil {
				return "", err
			}
			if cfg.Blob.Driver == "s3" {
				return cfg.Blob.Bucket, nil
			}
			return cfg.Blob.Dir, nil
		})

		check("System info", func() (string, error) {
			return fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH), nil
		})

		fmt.Fprintln(os.Stderr)
		total := pass + fail + warn
		if fail == 0 && warn == 0 {
			green.Fprintf(os.Stderr, "  All %d checks passed. You're good to go.\n\n", total)
		} else if fail == 0 {
			yellow.Fprintf(os.Stderr, "  %d passed, %d warnings. Everything works, but some things could be better.\n\n", pass, warn)
		} else {
			red.Fprintf(os.Stderr, "  %d passed, %d failed, %d warnings. Fix the failures above.\n\n", pass, fail, warn)
		}
		return nil
	},
}
