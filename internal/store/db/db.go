// Package db picks the conversation store driver named in the config.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-redis/redis/v8"

	"github.com/arin/xx-chat/internal/config"
	"github.com/arin/xx-chat/internal/store"
	"github.com/arin/xx-chat/internal/store/cache"
	"github.com/arin/xx-chat/internal/store/db/file"
	"github.com/arin/xx-chat/internal/store/db/memory"
	"github.com/arin/xx-chat/internal/store/db/mysql"
	"github.com/arin/xx-chat/internal/store/db/postgres"
	"github.com/arin/xx-chat/internal/store/db/sqlite"
)

// NewDriver opens the driver for cfg.Driver and, when a redis address is
// configured, wraps it with the cache.
func NewDriver(ctx context.Context, cfg config.Store, log *slog.Logger) (store.Driver, error) {
	var (
		driver store.Driver
		err    error
	)
	switch cfg.Driver {
	case "", "file":
		dir := cfg.DSN
		if dir == "" {
			dir = filepath.Join(config.Dir(), "conversations")
		}
		driver, err = file.NewDB(dir)
	case "memory":
		driver = memory.NewDB()
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			if err := os.MkdirAll(config.Dir(), 0o700); err != nil {
				return nil, fmt.Errorf("failed to create config dir: %w", err)
			}
			dsn = filepath.Join(config.Dir(), "xx-chat.db")
		}
		driver, err = sqlite.NewDB(ctx, dsn)
	case "postgres":
		driver, err = postgres.NewDB(ctx, cfg.DSN)
	case "mysql":
		driver, err = mysql.NewDB(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Driver, err)
	}

	if cfg.RedisAddr == "" {
		return driver, nil
	}
	cached, err := cache.New(ctx, driver, redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), cfg.CacheTTL, log)
	if err != nil {
		driver.Close()
		return nil, err
	}
	return cached, nil
}
