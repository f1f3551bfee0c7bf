package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agjmills/nimbus/internal/config"
)

func TestNewBackend(t *testing.T) {
	tests := []struct {
		name        string
		backendType string
		expectError bool
		check       func(StorageBackend) bool
	}{
		{"disk backend", "disk", false, func(b StorageBackend) bool { _, ok := b.(*DiskBackend); return ok }},
		{"empty (default disk)", "", false, func(b StorageBackend) bool { _, ok := b.(*DiskBackend); return ok }},
		{"memory backend", "memory", false, func(b StorageBackend) bool { _, ok := b.(*MemoryBackend); return ok }},
		{"s3 backend", "s3", false, func(b StorageBackend) bool { _, ok := b.(*S3Backend); return ok }},
		{"unknown backend", "ftp", true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				StorageBackend: tt.backendType,
				StoragePath:    t.TempDir(),
				S3Bucket:       "test-bucket",
				S3Region:       "us-east-1",
				S3UsePathStyle: true,
			}

			backend, err := newBackend(cfg)
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if d, ok := backend.(*DiskBackend); ok {
				defer d.Close()
			}
			if !tt.check(backend) {
				t.Errorf("Unexpected backend type %T", backend)
			}
		})
	}
}

func TestNewBackend_S3WithoutBucket(t *testing.T) {
	if _, err := newBackend(&config.Config{StorageBackend: "s3"}); err == nil {
		t.Error("Expected error when S3 bucket is not configured")
	}
}

func TestOpen_ValidatesAccess(t *testing.T) {
	ctx := context.Background()

	for _, backendType := range []string{"disk", "memory"} {
		cfg := &config.Config{StorageBackend: backendType, StoragePath: t.TempDir()}
		backend, err := Open(ctx, cfg)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", backendType, err)
		}
		if d, ok := backend.(*DiskBackend); ok {
			d.Close()
		}
	}
}

func TestOpen_DiskPathIsFile(t *testing.T) {
	// A regular file where the storage directory should be.
	path := filepath.Join(t.TempDir(), "file")
	disk, err := NewDiskBackend(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	disk.root.WriteFile("file", []byte("x"), 0o644)
	disk.Close()

	cfg := &config.Config{StorageBackend: "disk", StoragePath: path}
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Error("Expected error when storage path is a regular file")
	}
}
