package drive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agjmills/nimbus/internal/database/models"
	"github.com/agjmills/nimbus/internal/logger"
	"github.com/agjmills/nimbus/internal/metrics"
	"gorm.io/gorm"
)

// trashedRoots selects trashed rows whose parent is not itself in the trash.
const trashedRoots = "is_deleted = ? AND (parent_id IS NULL OR parent_id NOT IN (SELECT id FROM files WHERE is_deleted = ?))"

// Delete moves an entity and its live subtree to the trash. Their quota stays
// reserved until they are purged.
func (s *Service) Delete(ctx context.Context, ownerID, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		f, err := getOwned(tx, ownerID, id)
		if err != nil {
			return err
		}
		descendants, err := s.walk(tx, f, false)
		if err != nil {
			return err
		}

		ids := []uint{f.ID}
		for _, e := range descendants {
			ids = append(ids, e.File.ID)
		}
		// delete_token takes the row id so trashed rows drop out of the sibling unique index.
		return tx.Model(&models.File{}).Where("id IN ?", ids).Updates(map[string]any{
			"is_deleted":   true,
			"trashed_at":   time.Now(),
			"delete_token": gorm.Expr("id"),
		}).Error
	})
}

func getTrashed(tx *gorm.DB, ownerID, id uint) (*models.File, error) {
	var f models.File
	err := tx.Where("id = ? AND uploader_id = ? AND is_deleted = ?", id, ownerID, true).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListTrash returns the owner's trashed items, most recently deleted first. Contents of
// a trashed folder are not listed separately.
func (s *Service) ListTrash(ctx context.Context, ownerID uint) ([]models.File, error) {
	var files []models.File
	err := s.db.WithContext(ctx).
		Where("uploader_id = ?", ownerID).
		Where(trashedRoots, true, true).
		Order("trashed_at DESC").
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list trash: %w", err)
	}
	return files, nil
}

// Restore brings a trashed entity and its subtree back. It returns to its old folder
// when that folder is still live and to the root otherwise; names that have since
// been taken get a suffix.
func (s *Service) Restore(ctx context.Context, ownerID, id uint) (*models.File, error) {
	var restored *models.File
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		f, err := getTrashed(tx, ownerID, id)
		if err != nil {
			return err
		}
		descendants, err := s.walk(tx, f, true)
		if err != nil {
			return err
		}

		var parent *models.File
		if f.ParentID != nil {
			if parent, err = dbFolderLookup(tx, ownerID)(*f.ParentID); err != nil {
				return err
			}
		}

		undelete := func(row *models.File, parent *models.File) error {
			name, err := s.uniqueName(tx, ownerID, idOf(parent), row.IsFolder, row.Name)
			if err != nil {
				return err
			}
			return tx.Model(row).Updates(map[string]any{
				"name":         name,
				"parent_id":    idOf(parent),
				"parent_key":   parentKey(idOf(parent)),
				"path":         childPath(parent),
				"is_deleted":   false,
				"trashed_at":   nil,
				"delete_token": 0,
			}).Error
		}

		if err := undelete(f, parent); err != nil {
			return err
		}
		if err := tx.First(f, f.ID).Error; err != nil {
			return err
		}

		live := map[uint]*models.File{f.ID: f}
		for i := range descendants {
			row := &descendants[i].File
			if !row.IsDeleted {
				live[row.ID] = row
				continue
			}
			p := live[*row.ParentID]
			if err := undelete(row, p); err != nil {
				return err
			}
			if err := tx.First(row, row.ID).Error; err != nil {
				return err
			}
			live[row.ID] = row
		}
		restored = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return restored, nil
}

// Purge permanently removes a trashed entity and its subtree.
func (s *Service) Purge(ctx context.Context, ownerID, id uint) error {
	f, err := getTrashed(s.db.WithContext(ctx), ownerID, id)
	if err != nil {
		return err
	}
	_, err = s.purge(ctx, f)
	return err
}

// purge hard-deletes root and everything below it, releases their quota and then
// removes blobs no remaining row points at.
func (s *Service) purge(ctx context.Context, root *models.File) (int, error) {
	var blobs []string
	var purged int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		descendants, err := s.walk(tx, root, true)
		if err != nil {
			return err
		}

		ids := []uint{root.ID}
		rows := []models.File{*root}
		for _, e := range descendants {
			ids = append(ids, e.File.ID)
			rows = append(rows, e.File)
		}

		var size int64
		for _, row := range rows {
			if row.IsFolder {
				continue
			}
			size += row.Size
			if row.Filename != "" {
				blobs = append(blobs, row.Filename)
			}
		}

		if err := tx.Exec("DELETE FROM share_files WHERE file_id IN ?", ids).Error; err != nil {
			return fmt.Errorf("failed to unlink shares: %w", err)
		}
		if err := tx.Where("id IN ?", ids).Delete(&models.File{}).Error; err != nil {
			return fmt.Errorf("failed to delete file records: %w", err)
		}
		if err := release(tx, root.UploaderID, size); err != nil {
			return err
		}
		purged = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, blob := range blobs {
		var refs int64
		if err := s.db.WithContext(ctx).Model(&models.File{}).Where("filename = ?", blob).Count(&refs).Error; err != nil {
			logger.Warn("failed to count blob references", "path", blob, "error", err)
			continue
		}
		if refs > 0 {
			continue
		}
		if err := s.store.Delete(ctx, blob); err != nil {
			logger.Warn("failed to delete blob from storage", "path", blob, "error", err)
		}
	}

	metrics.FilesPurged.Add(float64(purged))
	return purged, nil
}

// PurgeExpired purges every trashed item deleted more than retention ago and returns
// the number of rows removed.
func (s *Service) PurgeExpired(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)

	var roots []models.File
	err := s.db.WithContext(ctx).
		Where(trashedRoots, true, true).
		Where("trashed_at < ?", cutoff).
		Order("id").Limit(500).
		Find(&roots).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find expired trash: %w", err)
	}

	total := 0
	for i := range roots {
		n, err := s.purge(ctx, &roots[i])
		if err != nil {
			logger.Error("failed to purge trashed item", "file_id", roots[i].ID, "user_id", roots[i].UploaderID, "error", err)
			continue
		}
		total += n
	}
	return total, nil
}

// StartCleanupWorker purges expired trash and stale upload sessions every interval
// until Shutdown is called. A retention of zero disables automatic trash purging.
func (s *Service) StartCleanupWorker(interval, retention time.Duration) {
	if retention <= 0 {
		logger.Info("trash auto-purge disabled")
	}
	if interval < time.Minute {
		interval = time.Minute
	}
	s.wg.Add(1)
	go s.cleanupWorker(interval, retention)
}

// Shutdown stops the background cleanup worker
func (s *Service) Shutdown() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

func (s *Service) cleanupWorker(interval, retention time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			logger.Info("trash cleanup worker stopping")
			return
		case <-ticker.C:
			s.runCleanup(retention)
		}
	}
}

func (s *Service) runCleanup(retention time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := s.CleanupUploads(ctx); err != nil {
		logger.Error("upload session cleanup failed", "error", err)
	}

	if retention <= 0 {
		return
	}
	logger.Debug("running trash cleanup")
	n, err := s.PurgeExpired(ctx, retention)
	if err != nil {
		logger.Error("trash cleanup failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("trash cleanup completed", "purged", n)
	}
}
