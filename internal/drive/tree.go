package drive

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/agjmills/nimbus/internal/database/models"
	"gorm.io/gorm"
)

// Entry is one member of an enumerated subtree.
type Entry struct {
	File    models.File
	RelPath string // root name followed by the names down to this entity, "/"-joined
	Depth   int    // 1 for direct children of the root
}

// Crumb is one step of a breadcrumb trail.
type Crumb struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// folderLookup returns the live folder with the given id, or nil when there is none.
type folderLookup func(id uint) (*models.File, error)

func dbFolderLookup(tx *gorm.DB, ownerID uint) folderLookup {
	return func(id uint) (*models.File, error) {
		var f models.File
		res := tx.Where("id = ? AND uploader_id = ? AND is_folder = ? AND is_deleted = ?", id, ownerID, true, false).
			Limit(1).Find(&f)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, nil
		}
		return &f, nil
	}
}

// ancestorChain follows parent pointers starting at start, nearest ancestor first.
// A missing or deleted parent, a repeated id or running past maxDepth ends the
// chain early without error.
func ancestorChain(start *uint, maxDepth int, lookup folderLookup) ([]models.File, error) {
	var chain []models.File
	seen := make(map[uint]bool)
	for id := start; id != nil && len(chain) < maxDepth; {
		if seen[*id] {
			break
		}
		seen[*id] = true

		parent, err := lookup(*id)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			break
		}
		chain = append(chain, *parent)
		id = parent.ParentID
	}
	return chain, nil
}

func chainPath(chain []models.File) string {
	if len(chain) == 0 {
		return "/"
	}
	names := make([]string, len(chain))
	for i, f := range chain {
		names[len(chain)-1-i] = f.Name
	}
	return "/" + strings.Join(names, "/")
}

func chainCrumbs(chain []models.File) []Crumb {
	crumbs := make([]Crumb, len(chain))
	for i, f := range chain {
		crumbs[len(chain)-1-i] = Crumb{ID: f.ID, Name: f.Name}
	}
	return crumbs
}

// FullPath joins a containing folder path and an entity name.
func FullPath(folderPath, name string) string {
	return path.Join("/", folderPath, name)
}

// walk enumerates the subtree below root with an explicit stack. Every entity may be
// reached once; reaching one twice means the parent pointers form a cycle.
func (s *Service) walk(tx *gorm.DB, root *models.File, includeDeleted bool) ([]Entry, error) {
	type frame struct {
		id    uint
		rel   string
		depth int
	}

	stack := []frame{{id: root.ID, rel: root.Name}}
	visited := map[uint]bool{root.ID: true}
	var out []Entry

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		q := tx.Where("parent_id = ? AND uploader_id = ?", cur.id, root.UploaderID)
		if !includeDeleted {
			q = q.Where("is_deleted = ?", false)
		}
		var children []models.File
		if err := q.Order("id").Find(&children).Error; err != nil {
			return nil, fmt.Errorf("failed to list children of %d: %w", cur.id, err)
		}

		for _, child := range children {
			if visited[child.ID] {
				return nil, fmt.Errorf("%w: entity %d reached twice", ErrCycle, child.ID)
			}
			depth := cur.depth + 1
			if depth > s.opts.MaxTreeDepth {
				return nil, fmt.Errorf("%w (%d)", ErrTreeTooDeep, s.opts.MaxTreeDepth)
			}
			visited[child.ID] = true

			rel := cur.rel + "/" + child.Name
			out = append(out, Entry{File: child, RelPath: rel, Depth: depth})
			if child.IsFolder {
				stack = append(stack, frame{id: child.ID, rel: rel, depth: depth})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out, nil
}

// Descendants lists every live entity below root.
func (s *Service) Descendants(ctx context.Context, root *models.File) ([]Entry, error) {
	return s.walk(s.db.WithContext(ctx), root, false)
}

// PathOf returns the logical path of the folder containing f, "/" at the root.
func (s *Service) PathOf(ctx context.Context, f *models.File) (string, error) {
	chain, err := ancestorChain(f.ParentID, s.opts.MaxTreeDepth, dbFolderLookup(s.db.WithContext(ctx), f.UploaderID))
	if err != nil {
		return "", err
	}
	return chainPath(chain), nil
}

// Breadcrumbs returns the ancestors of f, root first.
func (s *Service) Breadcrumbs(ctx context.Context, f *models.File) ([]Crumb, error) {
	chain, err := ancestorChain(f.ParentID, s.opts.MaxTreeDepth, dbFolderLookup(s.db.WithContext(ctx), f.UploaderID))
	if err != nil {
		return nil, err
	}
	return chainCrumbs(chain), nil
}

// IsWithin reports whether f is one of rootIDs or lies below one of them.
func (s *Service) IsWithin(ctx context.Context, f *models.File, rootIDs []uint) (bool, error) {
	return s.isWithin(s.db.WithContext(ctx), f, rootIDs)
}

func (s *Service) isWithin(tx *gorm.DB, f *models.File, rootIDs []uint) (bool, error) {
	roots := make(map[uint]bool, len(rootIDs))
	for _, id := range rootIDs {
		roots[id] = true
	}
	if roots[f.ID] {
		return true, nil
	}

	chain, err := ancestorChain(f.ParentID, s.opts.MaxTreeDepth, dbFolderLookup(tx, f.UploaderID))
	if err != nil {
		return false, err
	}
	for _, ancestor := range chain {
		if roots[ancestor.ID] {
			return true, nil
		}
	}
	return false, nil
}

// PathIndex resolves paths for many entities of one owner from a single folder query.
type PathIndex struct {
	folders  map[uint]*models.File
	maxDepth int
}

// NewPathIndex loads every live folder of ownerID.
func (s *Service) NewPathIndex(ctx context.Context, ownerID uint) (*PathIndex, error) {
	var folders []models.File
	if err := s.db.WithContext(ctx).
		Where("uploader_id = ? AND is_folder = ? AND is_deleted = ?", ownerID, true, false).
		Find(&folders).Error; err != nil {
		return nil, fmt.Errorf("failed to load folders: %w", err)
	}

	idx := &PathIndex{
		folders:  make(map[uint]*models.File, len(folders)),
		maxDepth: s.opts.MaxTreeDepth,
	}
	for i := range folders {
		idx.folders[folders[i].ID] = &folders[i]
	}
	return idx, nil
}

func (p *PathIndex) lookup(id uint) (*models.File, error) {
	return p.folders[id], nil
}

// PathOf returns the logical path of the folder containing f, "/" at the root.
func (p *PathIndex) PathOf(f *models.File) string {
	chain, _ := ancestorChain(f.ParentID, p.maxDepth, p.lookup)
	return chainPath(chain)
}

// Breadcrumbs returns the ancestors of f, root first.
func (p *PathIndex) Breadcrumbs(f *models.File) []Crumb {
	chain, _ := ancestorChain(f.ParentID, p.maxDepth, p.lookup)
	return chainCrumbs(chain)
}
