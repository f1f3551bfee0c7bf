package drive

import (
	"context"
	"fmt"

	"github.com/agjmills/nimbus/internal/database/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (s *Service) cloneFile(ctx context.Context, src *models.File, ownerID uint, parent *models.File) *models.File {
	clone := &models.File{
		UploaderID: ownerID,
		ParentID:   idOf(parent),
		ParentKey:  parentKey(idOf(parent)),
		IsFolder:   src.IsFolder,
		Name:       src.Name,
		Filename:   src.Filename,
		Path:       childPath(parent),
		Type:       src.Type,
		MimeType:   src.MimeType,
		Size:       src.Size,
		Hash:       src.Hash,
		Tags:       datatypes.NewJSONType(src.TagList()),
	}
	// Copies always point at the canonical locator, even when the source row is legacy.
	if !src.IsFolder && clone.Filename == "" {
		if locator, ok := s.locateBlob(ctx, src); ok {
			clone.Filename = locator
		}
	}
	return clone
}

// copyTree duplicates src and its descendants under parent for ownerID and charges
// their total size to ownerID. Blobs are shared with the source rows. Only the top-level
// name can collide, so only it is suffixed.
func (s *Service) copyTree(ctx context.Context, tx *gorm.DB, ownerID uint, src *models.File, descendants []Entry, parent *models.File, operation string) (*models.File, error) {
	var total int64
	if !src.IsFolder {
		total = src.Size
	}
	for _, e := range descendants {
		if !e.File.IsFolder {
			total += e.File.Size
		}
	}
	if err := reserve(tx, ownerID, total, operation); err != nil {
		return nil, err
	}

	root := s.cloneFile(ctx, src, ownerID, parent)
	name, err := s.uniqueName(tx, ownerID, root.ParentID, src.IsFolder, src.Name)
	if err != nil {
		return nil, err
	}
	root.Name = name
	if err := tx.Create(root).Error; err != nil {
		return nil, fmt.Errorf("failed to copy %q: %w", src.Name, err)
	}

	// walk sorts by relative path, so every folder precedes its contents.
	copies := map[uint]*models.File{src.ID: root}
	for _, e := range descendants {
		newParent, ok := copies[*e.File.ParentID]
		if !ok {
			return nil, fmt.Errorf("copy of %q: parent %d not copied yet", e.RelPath, *e.File.ParentID)
		}
		clone := s.cloneFile(ctx, &e.File, ownerID, newParent)
		if err := tx.Create(clone).Error; err != nil {
			return nil, fmt.Errorf("failed to copy %q: %w", e.RelPath, err)
		}
		copies[e.File.ID] = clone
	}
	return root, nil
}

// Copy duplicates an entity (with its subtree for folders) into parentID.
func (s *Service) Copy(ctx context.Context, ownerID, id uint, parentID *uint) (*models.File, error) {
	var copied *models.File
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		src, err := getOwned(tx, ownerID, id)
		if err != nil {
			return err
		}
		target, err := getFolder(tx, ownerID, parentID)
		if err != nil {
			return err
		}
		if err := s.checkNotInside(tx, src, target); err != nil {
			return err
		}

		var descendants []Entry
		if src.IsFolder {
			if descendants, err = s.walk(tx, src, false); err != nil {
				return err
			}
		}
		copied, err = s.copyTree(ctx, tx, ownerID, src, descendants, target, "copy")
		return err
	})
	if err != nil {
		return nil, err
	}
	return copied, nil
}
