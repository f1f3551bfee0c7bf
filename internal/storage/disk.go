package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/google/uuid"
)

// DiskBackend implements StorageBackend using the local filesystem.
// It uses os.Root for sandboxed file operations, preventing path traversal attacks.
type DiskBackend struct {
	root     *os.Root
	basePath string
}

// NewDiskBackend creates a new disk-based storage backend.
// The basePath directory will be created if it doesn't exist.
func NewDiskBackend(basePath string) (*DiskBackend, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	root, err := os.OpenRoot(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage root: %w", err)
	}

	return &DiskBackend{
		root:     root,
		basePath: basePath,
	}, nil
}

// Save streams r to a new blob, hashing while writing.
func (d *DiskBackend) Save(ctx context.Context, r io.Reader, opts SaveOptions) (SaveResult, error) {
	filename := NewBlobName(opts.OriginalFilename)

	file, err := d.root.Create(filename)
	if err != nil {
		return SaveResult{}, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	hr := newHashingReader(r, opts.MaxSize)
	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(file, hr, buf); err != nil {
		file.Close()
		d.root.Remove(filename)
		return SaveResult{}, hr.copyErr(err)
	}

	return SaveResult{
		Path: filename,
		Hash: hr.Sum(),
		Size: hr.n,
	}, nil
}

// Open returns the *os.File, which supports seeking for Range requests.
func (d *DiskBackend) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	file, err := d.root.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes a file. Returns nil if file doesn't exist (idempotent).
func (d *DiskBackend) Delete(ctx context.Context, path string) error {
	if err := d.root.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Stat returns file metadata without opening it.
func (d *DiskBackend) Stat(ctx context.Context, path string) (FileInfo, error) {
	info, err := d.root.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileInfo{}, ErrNotFound
		}
		return FileInfo{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return FileInfo{}, ErrNotFound
	}

	return FileInfo{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Rename moves a blob to a new path inside the base directory.
func (d *DiskBackend) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := d.root.Rename(oldPath, newPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// HealthCheck verifies the base directory is reachable (cheap, safe for frequent polling).
func (d *DiskBackend) HealthCheck(ctx context.Context) error {
	if _, err := d.root.Stat("."); err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}
	return nil
}

// ValidateAccess performs a full read/write/delete test.
func (d *DiskBackend) ValidateAccess(ctx context.Context) error {
	testFilename := ".nimbus-access-test-" + uuid.New().String()
	testContent := []byte("nimbus-storage-test")

	if err := d.root.WriteFile(testFilename, testContent, 0o644); err != nil {
		return fmt.Errorf("storage write test failed (%s): %w", d.basePath, err)
	}
	defer d.root.Remove(testFilename)

	readContent, err := d.root.ReadFile(testFilename)
	if err != nil {
		return fmt.Errorf("storage read test failed (%s): %w", d.basePath, err)
	}
	if !bytes.Equal(readContent, testContent) {
		return fmt.Errorf("storage read test failed (%s): content mismatch", d.basePath)
	}

	if err := d.root.Remove(testFilename); err != nil {
		return fmt.Errorf("storage delete test failed (%s): %w", d.basePath, err)
	}
	return nil
}

// Close releases resources held by the backend.
func (d *DiskBackend) Close() error {
	return d.root.Close()
}
