// Package app wires configuration into the stores, provider adapters and
// session engines shared by the CLI and the HTTP host.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arin/xx-chat/internal/ai"
	"github.com/arin/xx-chat/internal/blob"
	"github.com/arin/xx-chat/internal/chat"
	"github.com/arin/xx-chat/internal/config"
	"github.com/arin/xx-chat/internal/credentials"
	"github.com/arin/xx-chat/internal/models"
	"github.com/arin/xx-chat/internal/session"
	"github.com/arin/xx-chat/internal/store"
	"github.com/arin/xx-chat/internal/store/db"
)

// App holds the long-lived dependencies of a running process.
type App struct {
	Config      *config.Config
	Log         *slog.Logger
	Store       *store.Store
	Blobs       *blob.Store
	Credentials credentials.Source
	Adapters    *ai.Adapters
	Client      *ai.Client
	Catalog     *models.Catalog
}

// New opens the configured store and blob backend.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	driver, err := db.NewDriver(ctx, cfg.Store, log)
	if err != nil {
		return nil, err
	}

	backend, err := NewBlobBackend(ctx, cfg.Blob)
	if err != nil {
		driver.Close()
		return nil, err
	}

	return &App{
		Config:      cfg,
		Log:         log,
		Store:       store.New(driver),
		Blobs:       blob.New(backend, cfg.Blob.Prefix, log),
		Credentials: credentials.NewConfigSource(),
		Adapters: ai.NewAdapters(ai.Options{
			Endpoints: ai.Endpoints{
				OpenAI: cfg.Endpoints.OpenAI,
				Claude: cfg.Endpoints.Claude,
				Gemini: cfg.Endpoints.Gemini,
			},
			MaxTokens: cfg.MaxTokens,
		}),
		Client:  ai.NewClient(ai.WithIdleTimeout(cfg.StreamIdleTimeout), ai.WithLogger(log)),
		Catalog: models.New(cfg.DisabledModels),
	}, nil
}

// NewBlobBackend returns the attachment backend named by cfg.Driver.
func NewBlobBackend(ctx context.Context, cfg config.Blob) (blob.Backend, error) {
	switch cfg.Driver {
	case "", "local":
		return &blob.Local{Dir: cfg.Dir, PublicURL: cfg.PublicURL}, nil
	case "s3":
		return blob.NewS3(ctx, blob.S3Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PublicURL: cfg.PublicURL,
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// DefaultModel resolves the configured model against the catalog.
func (a *App) DefaultModel() (chat.ModelDescriptor, error) {
	return a.Catalog.Default(a.Config.Model)
}

// NewEngine returns an idle engine on the default model.
func (a *App) NewEngine() (*session.Engine, error) {
	m, err := a.DefaultModel()
	if err != nil {
		return nil, err
	}
	return session.New(session.Deps{
		Store:       a.Store,
		Blobs:       a.Blobs,
		Credentials: a.Credentials,
		Adapters:    a.Adapters,
		Client:      a.Client,
		Logger:      a.Log,
	}, m), nil
}

func (a *App) Close() error {
	return a.Store.Close()
}
