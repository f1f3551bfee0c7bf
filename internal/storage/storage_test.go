package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

func sha(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// failingReader returns data for the first read and an error afterwards.
type failingReader struct {
	data []byte
	read bool
}

func (fr *failingReader) Read(p []byte) (int, error) {
	if !fr.read {
		fr.read = true
		return copy(p, fr.data), nil
	}
	return 0, errors.New("simulated read error")
}

func TestNewBlobName(t *testing.T) {
	tests := []struct {
		input string
		ext   string
	}{
		{"report.pdf", ".pdf"},
		{"Photo.JPG", ".jpg"},
		{"archive.tar.gz", ".gz"},
		{"README", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			name := NewBlobName(tt.input)
			if !strings.HasSuffix(name, tt.ext) {
				t.Errorf("NewBlobName(%q) = %q, want suffix %q", tt.input, name, tt.ext)
			}
			if len(name) != 36+len(tt.ext) {
				t.Errorf("NewBlobName(%q) = %q, want uuid prefix", tt.input, name)
			}
		})
	}

	if NewBlobName("a.txt") == NewBlobName("a.txt") {
		t.Error("NewBlobName should generate unique names")
	}
}

func TestHashingReader(t *testing.T) {
	content := []byte("The quick brown fox jumps over the lazy dog")
	hr := newHashingReader(bytes.NewReader(content), 0)

	got, err := io.ReadAll(hr)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("hashingReader altered content")
	}
	if hr.Sum() != sha(content) {
		t.Errorf("Sum() = %s, want %s", hr.Sum(), sha(content))
	}
	if hr.n != int64(len(content)) {
		t.Errorf("n = %d, want %d", hr.n, len(content))
	}
}

func TestHashingReader_Limit(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		limit   int64
		wantErr bool
	}{
		{"under limit", 10, 20, false},
		{"exactly at limit", 20, 20, false},
		{"one over limit", 21, 20, true},
		{"far over limit", 1 << 16, 100, true},
		{"unlimited", 1 << 16, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hr := newHashingReader(bytes.NewReader(make([]byte, tt.size)), tt.limit)
			_, err := io.Copy(io.Discard, hr)
			if tt.wantErr {
				if !errors.Is(hr.copyErr(err), ErrFileTooLarge) || err == nil {
					t.Fatalf("expected ErrFileTooLarge, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

// testBackend runs the behaviour every StorageBackend must share.
func testBackend(t *testing.T, newBackend func(t *testing.T) StorageBackend) {
	ctx := context.Background()

	t.Run("save and open", func(t *testing.T) {
		backend := newBackend(t)
		content := []byte("Hello, Nimbus!")

		result, err := backend.Save(ctx, bytes.NewReader(content), SaveOptions{OriginalFilename: "hello.txt"})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if !strings.HasSuffix(result.Path, ".txt") {
			t.Errorf("expected .txt path, got %s", result.Path)
		}
		if result.Size != int64(len(content)) {
			t.Errorf("expected size %d, got %d", len(content), result.Size)
		}
		if result.Hash != sha(content) {
			t.Errorf("hash mismatch")
		}

		rc, err := backend.Open(ctx, result.Path)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer rc.Close()
		got, _ := io.ReadAll(rc)
		if !bytes.Equal(got, content) {
			t.Errorf("expected %q, got %q", content, got)
		}
		if _, ok := rc.(io.Seeker); !ok {
			t.Error("reader should support seeking")
		}
	})

	t.Run("empty file", func(t *testing.T) {
		backend := newBackend(t)
		result, err := backend.Save(ctx, bytes.NewReader(nil), SaveOptions{OriginalFilename: "empty.txt"})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if result.Size != 0 || result.Hash != sha(nil) {
			t.Errorf("unexpected result for empty file: %+v", result)
		}
	})

	t.Run("size limit", func(t *testing.T) {
		backend := newBackend(t)
		_, err := backend.Save(ctx, bytes.NewReader(make([]byte, 2048)), SaveOptions{
			OriginalFilename: "big.bin",
			MaxSize:          1024,
		})
		if !errors.Is(err, ErrFileTooLarge) {
			t.Fatalf("expected ErrFileTooLarge, got %v", err)
		}
	})

	t.Run("streaming error", func(t *testing.T) {
		backend := newBackend(t)
		_, err := backend.Save(ctx, &failingReader{data: []byte("partial")}, SaveOptions{OriginalFilename: "fail.txt"})
		if err == nil {
			t.Fatal("expected error from failing reader")
		}
	})

	t.Run("stat", func(t *testing.T) {
		backend := newBackend(t)
		result, err := backend.Save(ctx, strings.NewReader("12345"), SaveOptions{OriginalFilename: "n.txt"})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		info, err := backend.Stat(ctx, result.Path)
		if err != nil {
			t.Fatalf("Stat failed: %v", err)
		}
		if info.Size != 5 || info.Path != result.Path {
			t.Errorf("unexpected info: %+v", info)
		}
		if _, err := backend.Stat(ctx, "missing.txt"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		backend := newBackend(t)
		result, err := backend.Save(ctx, strings.NewReader("bye"), SaveOptions{OriginalFilename: "bye.txt"})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if err := backend.Delete(ctx, result.Path); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := backend.Open(ctx, result.Path); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := backend.Delete(ctx, result.Path); err != nil {
			t.Errorf("second Delete should succeed, got %v", err)
		}
	})

	t.Run("rename", func(t *testing.T) {
		backend := newBackend(t)
		result, err := backend.Save(ctx, strings.NewReader("notes"), SaveOptions{OriginalFilename: "notes.txt"})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		newPath := NewBlobName("notes.md")
		if err := backend.Rename(ctx, result.Path, newPath); err != nil {
			t.Fatalf("Rename failed: %v", err)
		}
		if _, err := backend.Stat(ctx, result.Path); !errors.Is(err, ErrNotFound) {
			t.Errorf("old path should be gone, got %v", err)
		}
		rc, err := backend.Open(ctx, newPath)
		if err != nil {
			t.Fatalf("Open renamed blob failed: %v", err)
		}
		defer rc.Close()
		got, _ := io.ReadAll(rc)
		if string(got) != "notes" {
			t.Errorf("renamed content = %q", got)
		}
		if err := backend.Rename(ctx, "missing.txt", "other.txt"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound renaming missing blob, got %v", err)
		}
	})

	t.Run("concurrent saves", func(t *testing.T) {
		backend := newBackend(t)
		var wg sync.WaitGroup
		paths := make([]string, 10)
		errs := make([]error, 10)
		for i := range paths {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				result, err := backend.Save(ctx, strings.NewReader("same content"), SaveOptions{OriginalFilename: "c.txt"})
				paths[i], errs[i] = result.Path, err
			}(i)
		}
		wg.Wait()

		seen := make(map[string]bool)
		for i, p := range paths {
			if errs[i] != nil {
				t.Fatalf("save %d failed: %v", i, errs[i])
			}
			if seen[p] {
				t.Errorf("duplicate path %s", p)
			}
			seen[p] = true
		}
	})

	t.Run("health", func(t *testing.T) {
		backend := newBackend(t)
		if err := backend.HealthCheck(ctx); err != nil {
			t.Errorf("HealthCheck failed: %v", err)
		}
		if err := backend.ValidateAccess(ctx); err != nil {
			t.Errorf("ValidateAccess failed: %v", err)
		}
	})
}
