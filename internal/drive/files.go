package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/agjmills/nimbus/internal/database/models"
	"github.com/agjmills/nimbus/internal/logger"
	"github.com/agjmills/nimbus/internal/metrics"
	"github.com/agjmills/nimbus/internal/storage"
	"github.com/maruel/natural"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const searchLimit = 200

type UploadInput struct {
	ParentID     *uint
	RelativePath string // "a/b/name.ext" from folder uploads; intermediate folders are created
	Filename     string
	ContentType  string
	Tags         []string
	Size         int64 // declared size if known, used to reject over-quota uploads before storing
	Reader       io.Reader
}

type ListFilter struct {
	FolderID *uint
	Type     string
}

// SearchResult is a matching entity with its resolved location.
type SearchResult struct {
	models.File
	Location    string  `json:"location"`
	Breadcrumbs []Crumb `json:"breadcrumbs"`
}

// splitRelativePath returns the folder segments of rel and the file name. When rel is
// empty the name is fallback.
func splitRelativePath(rel, fallback string) ([]string, string) {
	rel = strings.ReplaceAll(strings.TrimSpace(rel), `\`, "/")
	if rel == "" {
		return nil, fallback
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+rel), "/")
	if cleaned == "" {
		return nil, fallback
	}
	parts := strings.Split(cleaned, "/")
	return parts[:len(parts)-1], parts[len(parts)-1]
}

// Upload stores the blob first and then records it in one transaction: folder chain,
// unique name, quota reservation and row insert. Any failure removes the blob again.
func (s *Service) Upload(ctx context.Context, ownerID uint, in UploadInput) (*models.File, error) {
	dirs, name := splitRelativePath(in.RelativePath, in.Filename)
	name, err := ValidateName(name)
	if err != nil {
		return nil, err
	}

	if _, err := getFolder(s.db.WithContext(ctx), ownerID, in.ParentID); err != nil {
		return nil, err
	}
	if in.Size > 0 {
		usage, err := s.Usage(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if usage.Used+in.Size > usage.Limit {
			metrics.QuotaRejections.WithLabelValues("upload").Inc()
			return nil, ErrQuotaExceeded
		}
	}

	mimeType := detectMime(in.ContentType, name)
	saved, err := s.store.Save(ctx, in.Reader, storage.SaveOptions{
		OriginalFilename: name,
		ContentType:      mimeType,
		MaxSize:          s.opts.MaxUploadSize,
	})
	if err != nil {
		return nil, err
	}

	file := &models.File{
		UploaderID: ownerID,
		Filename:   saved.Path,
		Type:       categorize(mimeType, name),
		MimeType:   mimeType,
		Size:       saved.Size,
		Hash:       saved.Hash,
		Tags:       datatypes.NewJSONType(normalizeTags(in.Tags)),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		parent, err := getFolder(tx, ownerID, in.ParentID)
		if err != nil {
			return err
		}
		if parent, err = s.ensureFolderChain(tx, ownerID, parent, dirs); err != nil {
			return err
		}

		file.ParentID = idOf(parent)
		file.ParentKey = parentKey(file.ParentID)
		file.Path = childPath(parent)
		if file.Name, err = s.uniqueName(tx, ownerID, file.ParentID, false, name); err != nil {
			return err
		}
		if err := reserve(tx, ownerID, saved.Size, "upload"); err != nil {
			return err
		}
		return tx.Create(file).Error
	})
	if err != nil {
		if derr := s.store.Delete(ctx, saved.Path); derr != nil {
			logger.Warn("failed to remove blob of rejected upload", "path", saved.Path, "error", derr)
		}
		return nil, err
	}

	metrics.FilesUploaded.Inc()
	logger.Info("file uploaded", "user_id", ownerID, "file_id", file.ID, "size", file.Size)
	return file, nil
}

func sortEntities(files []models.File) {
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].IsFolder != files[j].IsFolder {
			return files[i].IsFolder
		}
		return natural.Less(strings.ToLower(files[i].Name), strings.ToLower(files[j].Name))
	})
}

// List returns the children of a folder (the root when FolderID is nil). With a Type
// and no folder it returns every live entity of that category instead.
func (s *Service) List(ctx context.Context, ownerID uint, filter ListFilter) ([]models.File, error) {
	db := s.db.WithContext(ctx)
	if filter.Type != "" && !ValidType(filter.Type) {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidInput, filter.Type)
	}

	q := db.Where("uploader_id = ? AND is_deleted = ?", ownerID, false)
	switch {
	case filter.FolderID != nil:
		if _, err := getFolder(db, ownerID, filter.FolderID); err != nil {
			return nil, err
		}
		q = q.Where("parent_key = ?", *filter.FolderID)
	case filter.Type == "":
		q = q.Where("parent_key = ?", 0)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}

	var files []models.File
	if err := q.Find(&files).Error; err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	sortEntities(files)
	return files, nil
}

func escapeSQLLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}

// Search matches names case-insensitively and resolves every hit's location from one
// folder query.
func (s *Service) Search(ctx context.Context, ownerID uint, query, typ string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", ErrInvalidInput)
	}
	if typ != "" && !ValidType(typ) {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidInput, typ)
	}

	q := s.db.WithContext(ctx).
		Where("uploader_id = ? AND is_deleted = ?", ownerID, false).
		Where(`LOWER(name) LIKE ? ESCAPE '\'`, "%"+escapeSQLLike(strings.ToLower(query))+"%")
	if typ != "" {
		q = q.Where("type = ?", typ)
	}

	var files []models.File
	if err := q.Order("name").Limit(searchLimit).Find(&files).Error; err != nil {
		return nil, fmt.Errorf("failed to search files: %w", err)
	}
	sortEntities(files)

	idx, err := s.NewPathIndex(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, len(files))
	for i := range files {
		results[i] = SearchResult{
			File:        files[i],
			Location:    idx.PathOf(&files[i]),
			Breadcrumbs: idx.Breadcrumbs(&files[i]),
		}
	}
	return results, nil
}

// Open returns a reader for a file's blob.
func (s *Service) Open(ctx context.Context, ownerID, id uint) (*models.File, io.ReadCloser, error) {
	f, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.openBlob(ctx, f)
	if err != nil {
		return nil, nil, err
	}
	return f, rc, nil
}

func (s *Service) openBlob(ctx context.Context, f *models.File) (io.ReadCloser, error) {
	if f.IsFolder {
		return nil, ErrIsFolder
	}
	locator, ok := s.locateBlob(ctx, f)
	if !ok {
		logger.Warn("blob not found for file", "file_id", f.ID, "filename", f.Filename)
		return nil, ErrNotFound
	}
	rc, err := s.store.Open(ctx, locator)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return rc, err
}
