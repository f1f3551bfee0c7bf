package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no blob exists at the requested path.
	ErrNotFound = errors.New("blob not found")
	// ErrFileTooLarge is returned when an upload exceeds the maximum allowed size
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
)

// copyBufferSize is the buffer size used for file copies (8MB aligns with S3 multipart upload parts)
const copyBufferSize = 8 * 1024 * 1024

// StorageBackend defines the behavior required by the application for storing blobs.
// Blobs live flat under generated names; the logical folder hierarchy exists only in the database.
type StorageBackend interface {
	// Save stores content under a newly generated name and returns it with the content hash and size.
	Save(ctx context.Context, r io.Reader, opts SaveOptions) (SaveResult, error)
	// Open returns a reader for the blob. Disk and memory readers also implement io.Seeker.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, path string) error
	Stat(ctx context.Context, path string) (FileInfo, error)
	// Rename moves a blob to a new name within the same store.
	Rename(ctx context.Context, oldPath, newPath string) error
	// HealthCheck verifies the backend is reachable (cheap, safe for frequent polling).
	HealthCheck(ctx context.Context) error
	// ValidateAccess performs a full write/read/delete round trip. Run once at startup.
	ValidateAccess(ctx context.Context) error
}

type SaveOptions struct {
	OriginalFilename string
	ContentType      string
	MaxSize          int64 // 0 = unlimited
}

type SaveResult struct {
	Path string
	Hash string
	Size int64
}

type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// NewBlobName generates a unique physical name that keeps the lower-cased extension of
// originalFilename.
func NewBlobName(originalFilename string) string {
	return uuid.New().String() + strings.ToLower(filepath.Ext(originalFilename))
}

// hashingReader computes a sha256 of everything read through it and enforces an
// optional size limit.
type hashingReader struct {
	reader    io.Reader
	hasher    hash.Hash
	remaining int64
	limited   bool
	exceeded  bool
	n         int64
}

func newHashingReader(r io.Reader, maxSize int64) *hashingReader {
	return &hashingReader{
		reader:    r,
		hasher:    sha256.New(),
		remaining: maxSize,
		limited:   maxSize > 0,
	}
}

func (hr *hashingReader) Read(p []byte) (int, error) {
	if hr.limited && hr.remaining <= 0 {
		// Read one more byte to tell "exactly at the limit" from "over it".
		var extra [1]byte
		n, err := hr.reader.Read(extra[:])
		if n > 0 {
			hr.exceeded = true
			return 0, ErrFileTooLarge
		}
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}
	if hr.limited && int64(len(p)) > hr.remaining {
		p = p[:hr.remaining]
	}

	n, err := hr.reader.Read(p)
	if n > 0 {
		hr.hasher.Write(p[:n])
		hr.n += int64(n)
		hr.remaining -= int64(n)
	}
	return n, err
}

func (hr *hashingReader) Sum() string {
	return hex.EncodeToString(hr.hasher.Sum(nil))
}

// copyErr translates a copy failure, preferring ErrFileTooLarge when the limit tripped.
func (hr *hashingReader) copyErr(err error) error {
	if hr.exceeded || errors.Is(err, ErrFileTooLarge) {
		return ErrFileTooLarge
	}
	return fmt.Errorf("failed to write file: %w", err)
}
