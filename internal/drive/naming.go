package drive

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/agjmills/nimbus/internal/database/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxNameBytes = 255

// ValidateName trims name and rejects values that cannot be a single path segment.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "", name == ".", name == "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	case len(name) > maxNameBytes:
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, maxNameBytes)
	case strings.ContainsAny(name, `/\`), strings.ContainsRune(name, 0):
		return "", fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case !utf8.ValidString(name):
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidName)
	}
	return name, nil
}

// splitExt separates the extension of a file name. Folders and dotfiles such as
// ".env" have no extension.
func splitExt(name string, isFolder bool) (base, ext string) {
	if isFolder {
		return name, ""
	}
	ext = filepath.Ext(name)
	if ext == name {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

// withSuffix returns "base (suffix).ext".
func withSuffix(name, suffix string, isFolder bool) string {
	base, ext := splitExt(name, isFolder)
	return fmt.Sprintf("%s (%s)%s", base, suffix, ext)
}

func nameTaken(tx *gorm.DB, ownerID uint, parentID *uint, isFolder bool, name string, excludeID uint) (bool, error) {
	var count int64
	q := tx.Model(&models.File{}).
		Where("uploader_id = ? AND parent_key = ? AND is_folder = ? AND name = ? AND is_deleted = ?",
			ownerID, parentKey(parentID), isFolder, name, false)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// uniqueName returns name, or the first free "name (n)" variant among its siblings.
// After NameSuffixLimit attempts it falls back to a random suffix.
func (s *Service) uniqueName(tx *gorm.DB, ownerID uint, parentID *uint, isFolder bool, name string) (string, error) {
	taken, err := nameTaken(tx, ownerID, parentID, isFolder, name, 0)
	if err != nil || !taken {
		return name, err
	}

	for n := 1; n <= s.opts.NameSuffixLimit; n++ {
		candidate := withSuffix(name, fmt.Sprint(n), isFolder)
		taken, err := nameTaken(tx, ownerID, parentID, isFolder, candidate, 0)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}

	return withSuffix(name, uuid.New().String()[:8], isFolder), nil
}

// ensureAvailable rejects an explicit rename or move onto an existing sibling name.
func ensureAvailable(tx *gorm.DB, ownerID uint, parentID *uint, isFolder bool, name string, excludeID uint) error {
	taken, err := nameTaken(tx, ownerID, parentID, isFolder, name, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: %q", ErrConflict, name)
	}
	return nil
}
