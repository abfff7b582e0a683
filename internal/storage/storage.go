// Package storage selects the blob store that archives exported datasets.
package storage

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/storage/gcs"
	"github.com/JakeFAU/jobboard-crawler/internal/storage/local"
	"github.com/JakeFAU/jobboard-crawler/internal/storage/memory"
)

// Backend names.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config selects and configures a backend.
type Config struct {
	Backend string       `mapstructure:"backend"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
}

// NoopCloser is returned for backends without resources to release.
func NoopCloser() error { return nil }

// New builds the configured BlobStore. A nil store means archiving is off.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (crawler.BlobStore, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch backend {
	case "", BackendNone:
		logger.Info("dataset archive disabled")
		return nil, NoopCloser, nil
	case BackendMemory:
		logger.Info("dataset archive in memory")
		return memory.NewBlobStore(), NoopCloser, nil
	case BackendLocal:
		store, err := local.New(cfg.Local)
		if err != nil {
			return nil, nil, fmt.Errorf("local blob store: %w", err)
		}
		logger.Info("dataset archive on local disk", zap.String("base_dir", cfg.Local.BaseDir))
		return store, NoopCloser, nil
	case BackendGCS:
		store, err := gcs.Open(ctx, cfg.GCS)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs blob store: %w", err)
		}
		logger.Info("dataset archive in gcs", zap.String("bucket", cfg.GCS.Bucket))
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
