package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/liamg/memoryfs"
)

// MemoryBackend implements StorageBackend using an in-memory filesystem.
// Used by tests and by STORAGE_BACKEND=memory for throwaway instances.
type MemoryBackend struct {
	fs *memoryfs.FS
	mu sync.RWMutex
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		fs: memoryfs.New(),
	}
}

// memoryFile lets callers seek over an in-memory blob.
type memoryFile struct {
	*bytes.Reader
}

func (memoryFile) Close() error { return nil }

// Save stores content under a generated name and returns its path, hash and size.
func (m *MemoryBackend) Save(ctx context.Context, r io.Reader, opts SaveOptions) (SaveResult, error) {
	filename := NewBlobName(opts.OriginalFilename)

	// memoryfs.WriteFile needs the complete content, so buffer it first.
	hr := newHashingReader(r, opts.MaxSize)
	var buf bytes.Buffer
	if _, err := io.CopyBuffer(&buf, hr, make([]byte, 32*1024)); err != nil {
		return SaveResult{}, hr.copyErr(err)
	}

	m.mu.Lock()
	err := m.fs.WriteFile(filename, buf.Bytes(), 0o644)
	m.mu.Unlock()
	if err != nil {
		return SaveResult{}, fmt.Errorf("failed to write file: %w", err)
	}

	return SaveResult{
		Path: filename,
		Hash: hr.Sum(),
		Size: hr.n,
	}, nil
}

// Put writes content at an exact path. Tests use it to plant blobs under legacy names.
func (m *MemoryBackend) Put(p string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dir := path.Dir(p); dir != "." {
		if err := m.fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return m.fs.WriteFile(p, content, 0o644)
}

// Open returns a seekable reader for the blob at path.
func (m *MemoryBackend) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	content, err := m.fs.ReadFile(path)
	m.mu.RUnlock()
	if err != nil {
		if isNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return memoryFile{bytes.NewReader(content)}, nil
}

// Delete removes a blob. Missing blobs are not an error.
func (m *MemoryBackend) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	err := m.fs.Remove(path)
	m.mu.Unlock()
	if err != nil && !isNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Stat returns blob metadata without opening it.
func (m *MemoryBackend) Stat(ctx context.Context, path string) (FileInfo, error) {
	m.mu.RLock()
	info, err := m.fs.Stat(path)
	m.mu.RUnlock()
	if err != nil {
		if isNotExist(err) {
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

// Rename moves a blob to a new path.
func (m *MemoryBackend) Rename(ctx context.Context, oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	content, err := m.fs.ReadFile(oldPath)
	if err != nil {
		if isNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to rename file: %w", err)
	}
	if err := m.fs.WriteFile(newPath, content, 0o644); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	if err := m.fs.Remove(oldPath); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// HealthCheck always succeeds for the memory backend.
func (m *MemoryBackend) HealthCheck(ctx context.Context) error {
	return nil
}

// ValidateAccess always succeeds for the memory backend.
func (m *MemoryBackend) ValidateAccess(ctx context.Context) error {
	return nil
}

// Clear removes all files from the memory backend.
func (m *MemoryBackend) Clear() {
	m.mu.Lock()
	m.fs = memoryfs.New()
	m.mu.Unlock()
}

// FileCount returns the number of blobs currently stored.
func (m *MemoryBackend) FileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := m.fs.ReadDir(".")
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			count++
		}
	}
	return count
}

// isNotExist checks if an error indicates the file doesn't exist.
func isNotExist(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	// memoryfs does not always wrap fs.ErrNotExist
	errStr := err.Error()
	return strings.Contains(errStr, "file does not exist") ||
		strings.Contains(errStr, "no such file")
}
