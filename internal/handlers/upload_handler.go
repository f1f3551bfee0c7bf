package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/agjmills/nimbus/internal/auth"
	"github.com/agjmills/nimbus/internal/config"
	"github.com/agjmills/nimbus/internal/drive"
	"github.com/go-chi/chi/v5"
)

// UploadHandler serves resumable chunked uploads for large files.
type UploadHandler struct {
	cfg   *config.Config
	drive *drive.Service
}

// NewUploadHandler creates a handler for resumable chunked uploads.
func NewUploadHandler(cfg *config.Config, svc *drive.Service) *UploadHandler {
	return &UploadHandler{cfg: cfg, drive: svc}
}

// InitUploadRequest represents the request to initialize a chunked upload
type InitUploadRequest struct {
	Filename     string   `json:"filename"`
	RelativePath string   `json:"relativePath"`
	ParentID     *uint    `json:"parentId"`
	MimeType     string   `json:"mimeType"`
	Tags         []string `json:"tags"`
	TotalSize    int64    `json:"totalSize"`
	TotalChunks  int      `json:"totalChunks"`
	Hash         string   `json:"hash,omitempty"` // Optional client-side SHA-256 for verification
}

func (h *UploadHandler) Init(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	var req InitUploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.drive.InitUpload(r.Context(), user.ID, drive.InitUploadInput{
		ParentID:     rootIfZero(req.ParentID),
		RelativePath: req.RelativePath,
		Filename:     req.Filename,
		ContentType:  req.MimeType,
		Tags:         req.Tags,
		TotalSize:    req.TotalSize,
		TotalChunks:  req.TotalChunks,
		Hash:         req.Hash,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// Chunk stores the request body as chunk ?chunk=N of the upload.
func (h *UploadHandler) Chunk(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	index, err := strconv.Atoi(r.URL.Query().Get("chunk"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid chunk number", drive.ErrInvalidInput))
		return
	}
	if h.cfg.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize)
	}

	session, err := h.drive.PutChunk(r.Context(), user.ID, chi.URLParam(r, "id"), index, r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *UploadHandler) Complete(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	f, err := h.drive.CompleteUpload(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *UploadHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	if err := h.drive.CancelUpload(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	session, err := h.drive.UploadStatus(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}
