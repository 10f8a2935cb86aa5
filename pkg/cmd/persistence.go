package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/mangotango/pkg/config"
	"github.com/dukex/mangotango/pkg/storage"
)

func NewStore(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*storage.Store, error) {
	store, err := storage.Open(ctx, logger, cfg.DataDir, cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage at %s: %w", cfg.DataDir, err)
	}

	logger.DebugContext(ctx, "Opened storage", "data_dir", cfg.DataDir, "cache_dir", cfg.CacheDir)

	return store, nil
}
