// Package drive implements the cloud drive: the file/folder hierarchy, quotas,
// naming, archives and code-gated sharing.
package drive

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/agjmills/nimbus/internal/config"
	"github.com/agjmills/nimbus/internal/database/models"
	"github.com/agjmills/nimbus/internal/storage"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Options tunes a Service. Zero values fall back to the defaults applied by
// NewService.
type Options struct {
	MaxTreeDepth     int
	NameSuffixLimit  int
	CompressionLevel int
	MaxUploadSize    int64
	TempDir          string        // parent of resumable upload chunk directories, system temp when empty
	UploadSessionTTL time.Duration // how long a resumable upload may stay incomplete
}

// OptionsFromConfig copies the drive settings out of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxTreeDepth:     cfg.MaxTreeDepth,
		NameSuffixLimit:  cfg.NameSuffixLimit,
		CompressionLevel: cfg.ArchiveCompressionLevel,
		MaxUploadSize:    cfg.MaxUploadSize,
		TempDir:          cfg.TempDir,
		UploadSessionTTL: cfg.UploadSessionTimeout,
	}
}

// Service implements the drive operations for files, folders, shares, trash and
// resumable uploads. Metadata lives in the database and content in the storage
// backend. A Service is safe for concurrent use.
type Service struct {
	db      *gorm.DB
	store   storage.StorageBackend
	opts    Options
	folders singleflight.Group

	stopChan chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// NewService creates a Service, filling unset options with defaults. Call Shutdown
// to stop its background workers.
func NewService(db *gorm.DB, store storage.StorageBackend, opts Options) *Service {
	if opts.MaxTreeDepth < 1 {
		opts.MaxTreeDepth = 64
	}
	if opts.NameSuffixLimit < 1 {
		opts.NameSuffixLimit = 1000
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.UploadSessionTTL <= 0 {
		opts.UploadSessionTTL = 24 * time.Hour
	}
	if opts.CompressionLevel < 1 || opts.CompressionLevel > 9 {
		opts.CompressionLevel = 1
	}
	return &Service{
		db:       db,
		store:    store,
		opts:     opts,
		stopChan: make(chan struct{}),
	}
}

func parentKey(parentID *uint) uint {
	if parentID == nil {
		return 0
	}
	return *parentID
}

// getOwned loads a live entity owned by ownerID.
func getOwned(tx *gorm.DB, ownerID, id uint) (*models.File, error) {
	var f models.File
	err := tx.Where("id = ? AND uploader_id = ? AND is_deleted = ?", id, ownerID, false).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// getFolder resolves a target folder. A nil id is the root and yields nil.
func getFolder(tx *gorm.DB, ownerID uint, id *uint) (*models.File, error) {
	if id == nil {
		return nil, nil
	}
	f, err := getOwned(tx, ownerID, *id)
	if err != nil {
		return nil, err
	}
	if !f.IsFolder {
		return nil, ErrNotFolder
	}
	return f, nil
}

// Get returns a live entity owned by ownerID.
func (s *Service) Get(ctx context.Context, ownerID, id uint) (*models.File, error) {
	return getOwned(s.db.WithContext(ctx), ownerID, id)
}
