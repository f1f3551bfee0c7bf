package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agjmills/nimbus/internal/auth"
	"github.com/agjmills/nimbus/internal/config"
	"github.com/agjmills/nimbus/internal/database/models"
	"github.com/agjmills/nimbus/internal/drive"
	"github.com/agjmills/nimbus/internal/logger"
)

// maxFormField bounds the small text parts that precede the file in an upload.
const maxFormField = 4096

type FileHandler struct {
	cfg   *config.Config
	drive *drive.Service
}

// NewFileHandler creates a handler for the owner-facing file and folder endpoints.
func NewFileHandler(cfg *config.Config, svc *drive.Service) *FileHandler {
	return &FileHandler{cfg: cfg, drive: svc}
}

type CreateFolderRequest struct {
	Name     string `json:"name"`
	ParentID *uint  `json:"parentId"`
}

type RenameRequest struct {
	NewName string    `json:"newName"`
	Tags    *[]string `json:"tags"`
}

type ParentRequest struct {
	ParentID *uint `json:"parentId"`
}

type ArchiveRequest struct {
	FileIDs []uint `json:"fileIds"`
}

type PathResponse struct {
	Path        string        `json:"path"`
	Breadcrumbs []drive.Crumb `json:"breadcrumbs"`
}

func readField(part io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFormField))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Upload streams a multipart upload straight into the blob store. The text fields
// parentId, relativePath and tags must precede the file part; the first file part
// is stored and anything after it is ignored.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)

	if h.cfg.MaxUploadSize > 0 {
		if r.ContentLength > h.cfg.MaxUploadSize {
			writeError(w, r, &http.MaxBytesError{Limit: h.cfg.MaxUploadSize})
			return
		}
		// Allow some slack for multipart framing; the store enforces the exact limit.
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize+maxFormField*4)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: expected multipart/form-data", drive.ErrInvalidInput))
		return
	}

	var in drive.UploadInput
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: %w", drive.ErrInvalidInput, err))
			return
		}

		switch part.FormName() {
		case "parentId":
			raw, err := readField(part)
			if err == nil {
				in.ParentID, err = optionalID(raw)
			}
			if err != nil {
				writeError(w, r, err)
				return
			}
		case "relativePath":
			if in.RelativePath, err = readField(part); err != nil {
				writeError(w, r, err)
				return
			}
		case "tags":
			raw, err := readField(part)
			if err != nil {
				writeError(w, r, err)
				return
			}
			in.Tags = append(in.Tags, strings.Split(raw, ",")...)
		case "file":
			if part.FileName() == "" {
				part.Close()
				continue
			}
			in.Filename = part.FileName()
			in.ContentType = part.Header.Get("Content-Type")
			in.Reader = part

			f, err := h.drive.Upload(r.Context(), user.ID, in)
			part.Close()
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, f)
			return
		default:
			part.Close()
		}
	}

	writeError(w, r, fmt.Errorf("%w: no file in upload", drive.ErrInvalidInput))
}

func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	folderID, err := optionalID(r.URL.Query().Get("folderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	files, err := h.drive.List(r.Context(), user.ID, drive.ListFilter{
		FolderID: folderID,
		Type:     r.URL.Query().Get("type"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *FileHandler) Search(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	results, err := h.drive.Search(r.Context(), user.ID, r.URL.Query().Get("q"), r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// CreateFolder returns the existing folder when one with the same name is already there.
func (h *FileHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	var req CreateFolderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	folder, err := h.drive.CreateFolder(r.Context(), user.ID, rootIfZero(req.ParentID), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

func (h *FileHandler) Rename(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req RenameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	f, err := h.drive.Rename(r.Context(), user.ID, id, req.NewName, req.Tags)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *FileHandler) Move(w http.ResponseWriter, r *http.Request) {
	h.relocate(w, r, h.drive.Move, http.StatusOK)
}

func (h *FileHandler) Copy(w http.ResponseWriter, r *http.Request) {
	h.relocate(w, r, h.drive.Copy, http.StatusCreated)
}

type relocateFunc func(ctx context.Context, ownerID, id uint, parentID *uint) (*models.File, error)

func (h *FileHandler) relocate(w http.ResponseWriter, r *http.Request, op relocateFunc, status int) {
	user := auth.GetUser(r)
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ParentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	f, err := op(r.Context(), user.ID, id, rootIfZero(req.ParentID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, f)
}

// Delete moves an item to the trash.
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.drive.Delete(r.Context(), user.ID, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FileHandler) Path(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	f, err := h.drive.Get(r.Context(), user.ID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.drive.PathOf(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	crumbs, err := h.drive.Breadcrumbs(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PathResponse{Path: p, Breadcrumbs: crumbs})
}

// Content serves a file inline with Range support.
func (h *FileHandler) Content(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	f, rc, err := h.drive.Open(r.Context(), user.ID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()
	serveBlob(w, r, f, rc, false)
}

// Download sends a file as an attachment, or a folder as a ZIP archive.
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	f, err := h.drive.Get(r.Context(), user.ID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if f.IsFolder {
		archive, err := h.drive.ArchiveFolder(r.Context(), user.ID, f.ID, false)
		if err != nil {
			writeError(w, r, err)
			return
		}
		serveArchive(w, r, archive)
		return
	}

	f, rc, err := h.drive.Open(r.Context(), user.ID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()
	serveBlob(w, r, f, rc, true)
}

// Archive zips a selection of files and folders into one download.
func (h *FileHandler) Archive(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	var req ArchiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	archive, err := h.drive.ArchiveSelection(r.Context(), user.ID, req.FileIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	serveArchive(w, r, archive)
}

func serveBlob(w http.ResponseWriter, r *http.Request, f *models.File, rc io.ReadCloser, attachment bool) {
	contentType := f.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if attachment {
		w.Header().Set("Content-Disposition", drive.ContentDisposition(f.Name))
	} else {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": f.Name}))
	}

	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, f.Name, f.UpdatedAt, rs)
		return
	}

	// Streams that cannot seek are served whole.
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	w.Header().Set("Last-Modified", f.UpdatedAt.UTC().Format(http.TimeFormat))
	if _, err := io.Copy(w, rc); err != nil {
		logger.Debug("blob copy interrupted", "file_id", f.ID, "error", err)
	}
}

func serveArchive(w http.ResponseWriter, r *http.Request, a *drive.Archive) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", a.ContentDisposition())
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(a.Data); err != nil {
		logger.Debug("archive write interrupted", "filename", a.Filename, "error", err)
	}
}
