package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arin/xx-chat/internal/server"
	"github.com/arin/xx-chat/internal/session"
	"github.com/arin/xx-chat/internal/stats"
)

var addrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API over HTTP",
	Long: `Serve the chat engine over HTTP. Each client sends an X-Session-ID
header and gets its own session; answers stream as server-sent events
from POST /api/chat.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if addrFlag != "" {
			cfg.Server.Addr = addrFlag
		}
		// Locally stored images are served by this process.
		var blobDir string
		if cfg.Blob.Driver == "" || cfg.Blob.Driver == "local" {
			blobDir = cfg.Blob.Dir
			if cfg.Blob.PublicURL == "" {
				cfg.Blob.PublicURL = localURL(cfg.Server.Addr) + "/blobs"
			}
		}

		a, err := setupWith(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := server.New(server.Options{
			Conversations: a.Store,
			Catalog:       a.Catalog,
			NewEngine:     a.NewEngine,
			Observers:     []session.Observer{stats.Recorder("serve")},
			BlobDir:       blobDir,
			Logger:        a.Log,
		})
		httpSrv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			a.Log.Info("listening", "addr", cfg.Server.Addr)
			fmt.Fprintf(os.Stderr, "  xx-chat serving on %s\n", localURL(cfg.Server.Addr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			srv.Shutdown()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

func localURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (default from config, :8080)")
}
