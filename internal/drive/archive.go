package drive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/agjmills/nimbus/internal/database/models"
	"github.com/agjmills/nimbus/internal/logger"
	"github.com/agjmills/nimbus/internal/metrics"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"gorm.io/gorm"
)

// EmptyMarker is the zero-byte entry written for folders without contents.
const EmptyMarker = ".empty"

// Archive is a fully built ZIP held in memory.
type Archive struct {
	Filename string
	Data     []byte
	Entries  int
	Skipped  int // files whose blob could not be located
}

func (a *Archive) ContentDisposition() string {
	return ContentDisposition(a.Filename)
}

// ContentDisposition returns an attachment header carrying the name twice: a
// percent-encoded filename for old clients and an RFC 5987 UTF-8 filename* for
// everyone else. Both use the attr-char encoding, so any name yields a header
// that parses.
func ContentDisposition(name string) string {
	encoded := encodeAttrValue(name)
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, encoded, encoded)
}

// encodeAttrValue percent-encodes every byte of s outside the RFC 5987 attr-char set.
func encodeAttrValue(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}

// blobCandidates lists the places a file's content may live, canonical locator first.
// Rows written before filename became canonical may only be reachable through the id,
// the legacy url column or their logical path.
func blobCandidates(f *models.File) []string {
	var out []string
	add := func(c string) {
		c = strings.TrimPrefix(c, "/")
		if c != "" && c != "." && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}

	add(f.Filename)
	add(strconv.FormatUint(uint64(f.ID), 10))
	if f.URL != "" {
		if u, err := url.Parse(f.URL); err == nil {
			add(path.Base(u.Path))
		}
	}
	add(path.Join("/", f.Path, f.Name))
	return out
}

// locateBlob returns the first candidate locator that exists in the store.
func (s *Service) locateBlob(ctx context.Context, f *models.File) (string, bool) {
	for _, candidate := range blobCandidates(f) {
		if _, err := s.store.Stat(ctx, candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

func (s *Service) readBlob(ctx context.Context, f *models.File) ([]byte, error) {
	rc, err := s.openBlob(ctx, f)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// buildArchive packs entries into a ZIP. Entries must list every folder before its
// descendants. A file and a folder that would land on the same archive path get a
// "(n)" suffix, and everything below a renamed folder follows it. Folders that end
// up with nothing written inside become "<folder>/.empty" markers; files whose blob
// is missing are skipped.
func (s *Service) buildArchive(ctx context.Context, filename string, entries []Entry, source string) (*Archive, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	level := s.opts.CompressionLevel
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})

	archive := &Archive{Filename: filename}
	write := func(name string, data []byte, modified time.Time) error {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		archive.Entries++
		return nil
	}

	paths := newArchivePaths()
	var folders []Entry
	filled := make(map[uint]bool) // folders holding a written file or a subfolder

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if e.File.IsFolder {
			paths.claim(e)
			folders = append(folders, e)
			if e.Depth > 0 && e.File.ParentID != nil {
				filled[*e.File.ParentID] = true
			}
			continue
		}

		data, err := s.readBlob(ctx, &e.File)
		if err != nil {
			logger.Warn("skipping file in archive", "file_id", e.File.ID, "path", e.RelPath, "error", err)
			archive.Skipped++
			continue
		}
		if err := write(paths.claim(e), data, e.File.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to write archive entry: %w", err)
		}
		if e.Depth > 0 && e.File.ParentID != nil {
			filled[*e.File.ParentID] = true
		}
	}

	for _, f := range folders {
		if filled[f.File.ID] {
			continue
		}
		if err := write(paths.folders[f.File.ID]+"/"+EmptyMarker, nil, f.File.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to write archive entry: %w", err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	archive.Data = buf.Bytes()
	metrics.RecordArchive(source, len(archive.Data), archive.Skipped)
	return archive, nil
}

// archivePaths hands out entry names inside one archive, case-insensitively unique.
type archivePaths struct {
	taken   map[string]bool
	folders map[uint]string // folder id -> its name in the archive
}

func newArchivePaths() *archivePaths {
	return &archivePaths{taken: make(map[string]bool), folders: make(map[uint]string)}
}

// claim reserves the archive name of e. Descendants are placed under the name their
// parent folder received; top-level entries keep their RelPath.
func (p *archivePaths) claim(e Entry) string {
	dir, name := "", sanitizeEntryName(e.RelPath)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		dir, name = name[:i+1], name[i+1:]
	}
	if e.Depth > 0 && e.File.ParentID != nil {
		if parent, ok := p.folders[*e.File.ParentID]; ok {
			dir = parent + "/"
		}
	}

	candidate := dir + name
	for n := 1; p.taken[strings.ToLower(candidate)]; n++ {
		candidate = dir + withSuffix(name, strconv.Itoa(n), e.File.IsFolder)
	}
	p.taken[strings.ToLower(candidate)] = true
	if e.File.IsFolder {
		p.folders[e.File.ID] = candidate
	}
	return candidate
}

func sanitizeEntryName(name string) string {
	name = strings.ReplaceAll(name, `\`, "_")
	return strings.TrimLeft(name, "/")
}

// archiveFolder zips a folder under its own name.
func (s *Service) archiveFolder(ctx context.Context, tx *gorm.DB, folder *models.File, rejectEmpty bool, source string) (*Archive, error) {
	if !folder.IsFolder {
		return nil, ErrNotFolder
	}
	descendants, err := s.walk(tx, folder, false)
	if err != nil {
		return nil, err
	}
	if rejectEmpty && len(descendants) == 0 {
		return nil, ErrEmptyFolder
	}

	entries := append([]Entry{{File: *folder, RelPath: folder.Name}}, descendants...)
	return s.buildArchive(ctx, folder.Name+".zip", entries, source)
}

// ArchiveFolder zips one of the owner's folders. With rejectEmpty a folder without
// contents fails with ErrEmptyFolder instead of producing a marker-only archive.
func (s *Service) ArchiveFolder(ctx context.Context, ownerID, id uint, rejectEmpty bool) (*Archive, error) {
	db := s.db.WithContext(ctx)
	folder, err := getOwned(db, ownerID, id)
	if err != nil {
		return nil, err
	}
	return s.archiveFolder(ctx, db, folder, rejectEmpty, "folder")
}

// ArchiveSelection zips an ad hoc list of files and folders. Items that share a
// name get "(n)" suffixes inside the archive.
func (s *Service) ArchiveSelection(ctx context.Context, ownerID uint, ids []uint) (*Archive, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: nothing selected", ErrInvalidInput)
	}
	db := s.db.WithContext(ctx)

	var entries []Entry
	used := make(map[string]bool)
	var first *models.File
	for _, id := range ids {
		f, err := getOwned(db, ownerID, id)
		if err != nil {
			return nil, err
		}
		if first == nil {
			first = f
		}

		top := f.Name
		for n := 1; used[strings.ToLower(top)]; n++ {
			top = withSuffix(f.Name, strconv.Itoa(n), f.IsFolder)
		}
		used[strings.ToLower(top)] = true

		entries = append(entries, Entry{File: *f, RelPath: top})
		if !f.IsFolder {
			continue
		}
		descendants, err := s.walk(db, f, false)
		if err != nil {
			return nil, err
		}
		for _, d := range descendants {
			d.RelPath = top + strings.TrimPrefix(d.RelPath, f.Name)
			entries = append(entries, d)
		}
	}

	filename := "download.zip"
	if len(ids) == 1 {
		base, _ := splitExt(first.Name, first.IsFolder)
		filename = base + ".zip"
	}
	return s.buildArchive(ctx, filename, entries, "selection")
}
