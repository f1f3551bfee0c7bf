package drive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/agjmills/nimbus/internal/database/models"
	"github.com/agjmills/nimbus/internal/storage"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	svc   *Service
	db    *gorm.DB
	store *storage.MemoryBackend
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))

	store := storage.NewMemoryBackend()
	svc := NewService(db, store, opts)
	t.Cleanup(svc.Shutdown)
	return &testEnv{svc: svc, db: db, store: store}
}

func (e *testEnv) user(t *testing.T, name string, quota int64) *models.User {
	t.Helper()
	u := &models.User{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "hash",
		StorageQuota: quota,
	}
	require.NoError(t, e.db.Create(u).Error)
	return u
}

func (e *testEnv) upload(t *testing.T, owner uint, parent *models.File, name, content string) *models.File {
	t.Helper()
	f, err := e.svc.Upload(context.Background(), owner, UploadInput{
		ParentID: idOf(parent),
		Filename: name,
		Reader:   strings.NewReader(content),
	})
	require.NoError(t, err)
	return f
}

func (e *testEnv) folder(t *testing.T, owner uint, parent *models.File, name string) *models.File {
	t.Helper()
	f, err := e.svc.CreateFolder(context.Background(), owner, idOf(parent), name)
	require.NoError(t, err)
	return f
}

func (e *testEnv) reload(t *testing.T, id uint) *models.File {
	t.Helper()
	var f models.File
	require.NoError(t, e.db.First(&f, id).Error)
	return &f
}

func (e *testEnv) used(t *testing.T, userID uint) int64 {
	t.Helper()
	var u models.User
	require.NoError(t, e.db.First(&u, userID).Error)
	return u.StorageUsed
}

// zipContents returns entry name -> content.
func zipContents(t *testing.T, a *Archive) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(a.Data), int64(len(a.Data)))
	require.NoError(t, err)

	out := make(map[string]string, len(zr.File))
	for _, zf := range zr.File {
		rc, err := zf.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[zf.Name] = string(data)
	}
	return out
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func names(files []models.File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return out
}

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(nil, nil, Options{CompressionLevel: 42})
	require.Equal(t, 64, svc.opts.MaxTreeDepth)
	require.Equal(t, 1000, svc.opts.NameSuffixLimit)
	require.Equal(t, 1, svc.opts.CompressionLevel)
}

func TestGet_NotOwned(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice := env.user(t, "alice", 1000)
	bob := env.user(t, "bob", 1000)
	f := env.upload(t, alice.ID, nil, "a.txt", "x")

	_, err := env.svc.Get(context.Background(), bob.ID, f.ID)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := env.svc.Get(context.Background(), alice.ID, f.ID)
	require.NoError(t, err)
	require.Equal(t, "a.txt", got.Name)
}
