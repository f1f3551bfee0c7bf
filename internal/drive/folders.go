package drive

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agjmills/nimbus/internal/database/models"
	"github.com/agjmills/nimbus/internal/logger"
	"github.com/agjmills/nimbus/internal/storage"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func idOf(f *models.File) *uint {
	if f == nil {
		return nil
	}
	id := f.ID
	return &id
}

// childPath is the Path value for entities created inside parent.
func childPath(parent *models.File) string {
	if parent == nil {
		return "/"
	}
	return FullPath(parent.Path, parent.Name)
}

// CreateFolder returns the live folder called name under parentID, creating it when
// missing. Concurrent calls for the same folder in this process share one database
// round trip; across processes the sibling unique index picks the winner.
func (s *Service) CreateFolder(ctx context.Context, ownerID uint, parentID *uint, name string) (*models.File, error) {
	name, err := ValidateName(name)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%d/%d/%s", ownerID, parentKey(parentID), name)
	// The shared call outlives any single caller, so one disconnecting client does
	// not fail the others waiting on it.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.folders.Do(key, func() (any, error) {
		var folder *models.File
		err := s.db.WithContext(shared).Transaction(func(tx *gorm.DB) error {
			parent, err := getFolder(tx, ownerID, parentID)
			if err != nil {
				return err
			}
			folder, err = s.findOrCreateFolder(tx, ownerID, parent, name)
			return err
		})
		if err != nil {
			return nil, err
		}
		return *folder, nil
	})
	if err != nil {
		return nil, err
	}

	folder := v.(models.File)
	return &folder, nil
}

func (s *Service) findOrCreateFolder(tx *gorm.DB, ownerID uint, parent *models.File, name string) (*models.File, error) {
	find := func() (*models.File, error) {
		var existing models.File
		res := tx.Where("uploader_id = ? AND parent_key = ? AND is_folder = ? AND name = ? AND is_deleted = ?",
			ownerID, parentKey(idOf(parent)), true, name, false).Limit(1).Find(&existing)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, nil
		}
		return &existing, nil
	}

	if existing, err := find(); err != nil || existing != nil {
		return existing, err
	}

	folder := &models.File{
		UploaderID: ownerID,
		ParentID:   idOf(parent),
		ParentKey:  parentKey(idOf(parent)),
		IsFolder:   true,
		Name:       name,
		Path:       childPath(parent),
		Type:       models.TypeFolder,
		Tags:       datatypes.NewJSONType([]string{}),
	}
	// The nested transaction is a savepoint, so a lost race leaves the outer one usable.
	err := tx.Transaction(func(sp *gorm.DB) error {
		return sp.Create(folder).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		existing, ferr := find()
		if ferr != nil {
			return nil, ferr
		}
		if existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create folder %q: %w", name, err)
	}
	return folder, nil
}

// ensureFolderChain creates (or reuses) each folder of segments below parent and
// returns the deepest one.
func (s *Service) ensureFolderChain(tx *gorm.DB, ownerID uint, parent *models.File, segments []string) (*models.File, error) {
	for _, segment := range segments {
		name, err := ValidateName(segment)
		if err != nil {
			return nil, err
		}
		parent, err = s.findOrCreateFolder(tx, ownerID, parent, name)
		if err != nil {
			return nil, err
		}
	}
	return parent, nil
}

// refreshPaths rewrites the cached Path of everything below root.
func (s *Service) refreshPaths(tx *gorm.DB, root *models.File) error {
	entries, err := s.walk(tx, root, false)
	if err != nil {
		return err
	}

	update := func(folderID uint, folderPath string) error {
		return tx.Model(&models.File{}).Where("parent_id = ?", folderID).UpdateColumn("path", folderPath).Error
	}
	if err := update(root.ID, FullPath(root.Path, root.Name)); err != nil {
		return err
	}
	for _, e := range entries {
		if !e.File.IsFolder {
			continue
		}
		if err := update(e.File.ID, FullPath(root.Path, e.RelPath)); err != nil {
			return err
		}
	}
	return nil
}

// blobShared reports whether any other row points at f's blob.
func blobShared(tx *gorm.DB, f *models.File) (bool, error) {
	var count int64
	err := tx.Model(&models.File{}).Where("filename = ? AND id <> ?", f.Filename, f.ID).Count(&count).Error
	return count > 0, err
}

// Rename changes the display name of an entity and, when tags is non-nil, replaces its
// tags. A file whose extension changes gets a blob name with the new extension unless
// another row shares the blob.
func (s *Service) Rename(ctx context.Context, ownerID, id uint, newName string, tags *[]string) (*models.File, error) {
	newName, err := ValidateName(newName)
	if err != nil {
		return nil, err
	}

	var renamed *models.File
	var oldBlob, newBlob string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		f, err := getOwned(tx, ownerID, id)
		if err != nil {
			return err
		}
		if err := ensureAvailable(tx, ownerID, f.ParentID, f.IsFolder, newName, f.ID); err != nil {
			return err
		}

		updates := map[string]any{"name": newName}
		if tags != nil {
			updates["tags"] = datatypes.NewJSONType(normalizeTags(*tags))
		}

		if !f.IsFolder && f.Filename != "" && !strings.EqualFold(filepath.Ext(f.Name), filepath.Ext(newName)) {
			shared, err := blobShared(tx, f)
			if err != nil {
				return err
			}
			if !shared {
				target := storage.NewBlobName(newName)
				switch err := s.store.Rename(ctx, f.Filename, target); {
				case err == nil:
					oldBlob, newBlob = f.Filename, target
					updates["filename"] = target
				case errors.Is(err, storage.ErrNotFound):
					logger.Warn("blob missing during rename, keeping locator", "file_id", f.ID, "filename", f.Filename)
				default:
					return err
				}
			}
		}

		if err := tx.Model(f).Updates(updates).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %q", ErrConflict, newName)
			}
			return err
		}
		if err := tx.First(f, f.ID).Error; err != nil {
			return err
		}
		if f.IsFolder {
			if err := s.refreshPaths(tx, f); err != nil {
				return err
			}
		}
		renamed = f
		return nil
	})
	if err != nil {
		if newBlob != "" {
			if rerr := s.store.Rename(ctx, newBlob, oldBlob); rerr != nil {
				logger.Error("failed to restore blob after rename rollback", "from", newBlob, "to", oldBlob, "error", rerr)
			}
		}
		return nil, err
	}
	return renamed, nil
}

// Move reparents an entity. parentID nil moves it to the root.
func (s *Service) Move(ctx context.Context, ownerID, id uint, parentID *uint) (*models.File, error) {
	var moved *models.File
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		f, err := getOwned(tx, ownerID, id)
		if err != nil {
			return err
		}
		target, err := getFolder(tx, ownerID, parentID)
		if err != nil {
			return err
		}
		if err := s.checkNotInside(tx, f, target); err != nil {
			return err
		}
		if parentKey(f.ParentID) == parentKey(idOf(target)) {
			moved = f
			return nil
		}
		if err := ensureAvailable(tx, ownerID, idOf(target), f.IsFolder, f.Name, f.ID); err != nil {
			return err
		}

		err = tx.Model(f).Updates(map[string]any{
			"parent_id":  idOf(target),
			"parent_key": parentKey(idOf(target)),
			"path":       childPath(target),
		}).Error
		if err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %q", ErrConflict, f.Name)
			}
			return err
		}
		if err := tx.First(f, f.ID).Error; err != nil {
			return err
		}
		if f.IsFolder {
			if err := s.refreshPaths(tx, f); err != nil {
				return err
			}
		}
		moved = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// checkNotInside rejects placing folder f into itself or one of its descendants.
func (s *Service) checkNotInside(tx *gorm.DB, f, target *models.File) error {
	if target == nil || !f.IsFolder {
		return nil
	}
	inside, err := s.isWithin(tx, target, []uint{f.ID})
	if err != nil {
		return err
	}
	if inside {
		return ErrInvalidMove
	}
	return nil
}
