package drive

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/agjmills/nimbus/internal/database/models"
)

var archiveExts = map[string]bool{
	".zip": true, ".rar": true, ".7z": true, ".tar": true, ".gz": true, ".tgz": true, ".bz2": true, ".xz": true,
}

var documentExts = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true,
	".odt": true, ".ods": true, ".odp": true, ".txt": true, ".md": true, ".rtf": true, ".csv": true,
}

// detectMime prefers the client-supplied type unless it is missing or generic.
func detectMime(contentType, filename string) string {
	if contentType != "" && contentType != "application/octet-stream" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			return mediaType
		}
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType
		}
	}
	return "application/octet-stream"
}

// categorize maps a MIME type and filename to one of the coarse File.Type values.
func categorize(mimeType, filename string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return models.TypeImage
	case strings.HasPrefix(mimeType, "video/"):
		return models.TypeVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return models.TypeAudio
	}

	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case archiveExts[ext]:
		return models.TypeArchive
	case documentExts[ext], strings.HasPrefix(mimeType, "text/"):
		return models.TypeDocument
	}
	return models.TypeOther
}

// ValidType reports whether t is a category accepted by type filters.
func ValidType(t string) bool {
	switch t {
	case models.TypeImage, models.TypeVideo, models.TypeAudio, models.TypeDocument,
		models.TypeArchive, models.TypeFolder, models.TypeOther:
		return true
	}
	return false
}

// normalizeTags trims tags and drops empty and repeated values, keeping first-seen order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
