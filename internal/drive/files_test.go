package drive

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/agjmills/nimbus/internal/database/models"
	"github.com/agjmills/nimbus/internal/storage"
	"github.com/stretchr/testify/require"
)

func TestSplitRelativePath(t *testing.T) {
	tests := []struct {
		rel      string
		wantDirs []string
		wantName string
	}{
		{"", nil, "fallback.txt"},
		{"a.txt", []string{}, "a.txt"},
		{"docs/2024/a.txt", []string{"docs", "2024"}, "a.txt"},
		{`docs\win\a.txt`, []string{"docs", "win"}, "a.txt"},
		{"../../etc/passwd", []string{"etc"}, "passwd"},
	}
	for _, tt := range tests {
		dirs, name := splitRelativePath(tt.rel, "fallback.txt")
		require.Equal(t, tt.wantDirs, dirs, tt.rel)
		require.Equal(t, tt.wantName, name, tt.rel)
	}
}

func TestUpload_RelativePathCreatesFolders(t *testing.T) {
	env := newTestEnv(t, Options{})
	u := env.user(t, "alice", 1<<20)
	ctx := context.Background()

	for _, rel := range []string{"album/2024/a.jpg", "album/2024/b.jpg", "album/c.jpg"} {
		_, err := env.svc.Upload(ctx, u.ID, UploadInput{
			RelativePath: rel,
			Filename:     "ignored",
			Reader:       strings.NewReader(rel),
		})
		require.NoError(t, err)
	}

	roots, err := env.svc.List(ctx, u.ID, ListFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"album"}, names(roots))

	entries, err := env.svc.Descendants(ctx, &roots[0])
	require.NoError(t, err)
	var paths []string
	for _, e := range entries {
		paths = append(paths, e.RelPath)
	}
	require.Equal(t, []string{"album/2024", "album/2024/a.jpg", "album/2024/b.jpg", "album/c.jpg"}, paths)
	require.Equal(t, models.TypeImage, entries[1].File.Type)
	require.Equal(t, "/album/2024", entries[1].File.Path)
}

func TestUpload_Validation(t *testing.T) {
	env := newTestEnv(t, Options{MaxUploadSize: 4})
	u := env.user(t, "alice", 1<<20)
	ctx := context.Background()

	_, err := env.svc.Upload(ctx, u.ID, UploadInput{Filename: "..", Reader: strings.NewReader("x")})
	require.ErrorIs(t, err, ErrInvalidName)

	missing := uint(9999)
	_, err = env.svc.Upload(ctx, u.ID, UploadInput{ParentID: &missing, Filename: "a.txt", Reader: strings.NewReader("x")})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = env.svc.Upload(ctx, u.ID, UploadInput{Filename: "big.txt", Reader: strings.NewReader("too large")})
	require.True(t, errors.Is(err, storage.ErrFileTooLarge))
	require.Zero(t, env.store.FileCount())
	require.Zero(t, env.used(t, u.ID))
}

func TestList(t *testing.T) {
	env := newTestEnv(t, Options{})
	u := env.user(t, "alice", 1<<20)
	ctx := context.Background()

	docs := env.folder(t, u.ID, nil, "docs")
	env.upload(t, u.ID, nil, "file10.txt", "x")
	env.upload(t, u.ID, nil, "file2.txt", "x")
	env.upload(t, u.ID, nil, "Photo.png", "x")
	env.upload(t, u.ID, docs, "nested.png", "x")
	env.folder(t, u.ID, nil, "Archive")

	root, err := env.svc.List(ctx, u.ID, ListFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"Archive", "docs", "file2.txt", "file10.txt", "Photo.png"}, names(root))

	inDocs, err := env.svc.List(ctx, u.ID, ListFilter{FolderID: &docs.ID})
	require.NoError(t, err)
	require.Equal(t, []string{"nested.png"}, names(inDocs))

	images, err := env.svc.List(ctx, u.ID, ListFilter{Type: models.TypeImage})
	require.NoError(t, err)
	require.Equal(t, []string{"nested.png", "Photo.png"}, names(images))

	_, err = env.svc.List(ctx, u.ID, ListFilter{Type: "spreadsheet"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, Options{})
	u := env.user(t, "alice", 1<<20)
	ctx := context.Background()

	docs := env.folder(t, u.ID, nil, "docs")
	env.upload(t, u.ID, docs, "Q1 Report.pdf", "x")
	env.upload(t, u.ID, nil, "report_final.txt", "x")
	env.upload(t, u.ID, nil, "100% done.txt", "x")
	env.upload(t, u.ID, nil, "other.txt", "x")

	results, err := env.svc.Search(ctx, u.ID, "report", "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	locations := map[string]string{}
	for _, r := range results {
		locations[r.Name] = r.Location
	}
	require.Equal(t, map[string]string{"Q1 Report.pdf": "/docs", "report_final.txt": "/"}, locations)

	// LIKE wildcards in the query are literal.
	results, err = env.svc.Search(ctx, u.ID, "0%", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "100% done.txt", results[0].Name)

	results, err = env.svc.Search(ctx, u.ID, "t_x", "")
	require.NoError(t, err)
	require.Empty(t, results)

	_, err = env.svc.Search(ctx, u.ID, "  ", "")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestOpen(t *testing.T) {
	env := newTestEnv(t, Options{})
	u := env.user(t, "alice", 1<<20)
	ctx := context.Background()

	f := env.upload(t, u.ID, nil, "a.txt", "hello")
	got, rc, err := env.svc.Open(ctx, u.ID, f.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
	require.Equal(t, f.ID, got.ID)

	_, ok := rc.(io.ReadSeeker)
	require.True(t, ok, "memory blobs support Range requests")

	folder := env.folder(t, u.ID, nil, "dir")
	_, _, err = env.svc.Open(ctx, u.ID, folder.ID)
	require.ErrorIs(t, err, ErrIsFolder)

	require.NoError(t, env.store.Delete(ctx, f.Filename))
	_, _, err = env.svc.Open(ctx, u.ID, f.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNormalizeTags(t *testing.T) {
	require.Equal(t, []string{}, normalizeTags(nil))
	require.Equal(t, []string{"a", "b"}, normalizeTags([]string{" a", "", "b", "a "}))
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		mime, name, want string
	}{
		{"image/png", "x.png", models.TypeImage},
		{"video/mp4", "x.mp4", models.TypeVideo},
		{"audio/mpeg", "x.mp3", models.TypeAudio},
		{"application/zip", "x.zip", models.TypeArchive},
		{"application/pdf", "x.pdf", models.TypeDocument},
		{"text/x-go", "main.go", models.TypeDocument},
		{"application/octet-stream", "x.bin", models.TypeOther},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, categorize(tt.mime, tt.name), tt.name)
	}
	require.Equal(t, "text/plain", detectMime("text/plain; charset=utf-8", "a.bin"))
	require.Equal(t, "image/png", detectMime("application/octet-stream", "a.PNG"))
	require.Equal(t, "application/octet-stream", detectMime("", "noext"))
}
