package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/agjmills/nimbus/internal/config"
	"github.com/agjmills/nimbus/internal/logger"
)

// Open builds the backend selected by cfg.StorageBackend and checks that it
// accepts a write, read and delete before any blob is stored in it.
func Open(ctx context.Context, cfg *config.Config) (StorageBackend, error) {
	backend, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	if err := backend.ValidateAccess(ctx); err != nil {
		if c, ok := backend.(io.Closer); ok {
			c.Close()
		}
		return nil, fmt.Errorf("storage backend %q is not usable: %w", backendName(cfg), err)
	}

	switch backendName(cfg) {
	case "disk":
		logger.Info("storage ready", "backend", "disk", "path", cfg.StoragePath)
	case "s3":
		logger.Info("storage ready", "backend", "s3", "bucket", cfg.S3Bucket, "endpoint", cfg.S3Endpoint)
	default:
		logger.Warn("storage ready", "backend", "memory", "note", "blobs are lost on restart")
	}
	return backend, nil
}

func backendName(cfg *config.Config) string {
	if cfg.StorageBackend == "" {
		return "disk"
	}
	return cfg.StorageBackend
}

func newBackend(cfg *config.Config) (StorageBackend, error) {
	switch backendName(cfg) {
	case "disk":
		return NewDiskBackend(cfg.StoragePath)
	case "memory":
		return NewMemoryBackend(), nil
	case "s3":
		return NewS3Backend(S3Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: disk, memory, s3)", cfg.StorageBackend)
	}
}
