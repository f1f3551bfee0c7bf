package handlers

import (
	"net/http"
	"net/url"
	"time"

	"github.com/agjmills/nimbus/internal/auth"
	"github.com/agjmills/nimbus/internal/config"
	"github.com/agjmills/nimbus/internal/database/models"
	"github.com/agjmills/nimbus/internal/drive"
	"github.com/agjmills/nimbus/internal/logger"
)

type ShareHandler struct {
	cfg   *config.Config
	drive *drive.Service
}

// NewShareHandler creates a handler for share management and public share access.
func NewShareHandler(cfg *config.Config, svc *drive.Service) *ShareHandler {
	return &ShareHandler{cfg: cfg, drive: svc}
}

type CreateShareRequest struct {
	FileIDs         []uint `json:"fileIds"`
	ExpiryDays      int    `json:"expiryDays"`
	ExtractCode     string `json:"extractCode"`
	AccessLimit     *int   `json:"accessLimit"`
	AutoRefreshCode bool   `json:"autoRefreshCode"`
	AutoFillCode    bool   `json:"autoFillCode"`
}

// ShareCredentials identify a share on every public request.
type ShareCredentials struct {
	ShareCode   string `json:"shareCode"`
	ExtractCode string `json:"extractCode"`
}

type ShareItemRequest struct {
	ShareCredentials
	FileID   uint `json:"fileId"`
	FolderID uint `json:"folderId"`
}

type SaveSharedRequest struct {
	ShareCredentials
	FileIDs  []uint `json:"fileIds"`
	ParentID *uint  `json:"parentId"`
}

type ShareResponse struct {
	models.Share
	ShareLink string `json:"shareLink"`
}

// sharedEntity is what anonymous visitors see of an entity. Storage locators and
// owner details stay private.
type sharedEntity struct {
	ID        uint      `json:"id"`
	ParentID  *uint     `json:"parent_id"`
	Name      string    `json:"name"`
	IsFolder  bool      `json:"is_folder"`
	Type      string    `json:"type"`
	MimeType  string    `json:"mime_type,omitempty"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

type publicShare struct {
	ShareCode   string         `json:"shareCode"`
	ExpiresAt   *time.Time     `json:"expiresAt"`
	AccessLimit *int           `json:"accessLimit"`
	AccessCount int            `json:"accessCount"`
	CreatedAt   time.Time      `json:"createdAt"`
	Files       []sharedEntity `json:"files"`
}

func toSharedEntities(files []models.File) []sharedEntity {
	out := make([]sharedEntity, len(files))
	for i, f := range files {
		out[i] = sharedEntity{
			ID:        f.ID,
			ParentID:  f.ParentID,
			Name:      f.Name,
			IsFolder:  f.IsFolder,
			Type:      f.Type,
			MimeType:  f.MimeType,
			Size:      f.Size,
			UpdatedAt: f.UpdatedAt,
		}
	}
	return out
}

// shareLink is the public URL of a share. Auto-fill shares carry their code so
// the visitor never sees a prompt.
func (h *ShareHandler) shareLink(s *models.Share) string {
	link := h.cfg.BaseURL + "/s/" + url.PathEscape(s.ShareCode)
	if s.AutoFillCode {
		link += "?code=" + url.QueryEscape(s.ExtractCode)
	}
	return link
}

func (h *ShareHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	var req CreateShareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	share, err := h.drive.CreateShare(r.Context(), user.ID, drive.ShareInput{
		FileIDs:         req.FileIDs,
		ExpiryDays:      req.ExpiryDays,
		ExtractCode:     req.ExtractCode,
		AccessLimit:     req.AccessLimit,
		AutoFillCode:    req.AutoFillCode,
		AutoRefreshCode: req.AutoRefreshCode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.Info("share created", "user_id", user.ID, "share_id", share.ID, "roots", len(share.Files))
	writeJSON(w, http.StatusCreated, ShareResponse{Share: *share, ShareLink: h.shareLink(share)})
}

// Verify checks the codes and returns the share's metadata with its root entities.
func (h *ShareHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req ShareCredentials
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	view, err := h.drive.Verify(r.Context(), req.ShareCode, req.ExtractCode, visitor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publicShare{
		ShareCode:   view.Share.ShareCode,
		ExpiresAt:   view.Share.ExpiresAt,
		AccessLimit: view.Share.AccessLimit,
		AccessCount: view.Share.AccessCount,
		CreatedAt:   view.Share.CreatedAt,
		Files:       toSharedEntities(view.Files),
	})
}

// List returns the children of a shared folder, or the share roots for folderId 0.
func (h *ShareHandler) List(w http.ResponseWriter, r *http.Request) {
	var req ShareItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	files, err := h.drive.ListShared(r.Context(), req.ShareCode, req.ExtractCode, visitor(r), req.FolderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSharedEntities(files))
}

func (h *ShareHandler) Download(w http.ResponseWriter, r *http.Request) {
	var req ShareItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	f, rc, err := h.drive.OpenShared(r.Context(), req.ShareCode, req.ExtractCode, visitor(r), req.FileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()
	serveBlob(w, r, f, rc, true)
}

func (h *ShareHandler) DownloadFolder(w http.ResponseWriter, r *http.Request) {
	var req ShareItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	archive, err := h.drive.ArchiveShared(r.Context(), req.ShareCode, req.ExtractCode, visitor(r), req.FolderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	serveArchive(w, r, archive)
}

// Save copies shared entities into the signed-in user's drive.
func (h *ShareHandler) Save(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	var req SaveSharedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := h.drive.SaveShared(r.Context(), user.ID, req.ShareCode, req.ExtractCode, visitor(r), req.FileIDs, rootIfZero(req.ParentID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *ShareHandler) ListShares(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	shares, err := h.drive.ListShares(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]ShareResponse, len(shares))
	for i := range shares {
		resp[i] = ShareResponse{Share: shares[i], ShareLink: h.shareLink(&shares[i])}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ShareHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.drive.RevokeShare(r.Context(), user.ID, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ShareHandler) RefreshCode(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	share, err := h.drive.RefreshCode(r.Context(), user.ID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ShareResponse{Share: *share, ShareLink: h.shareLink(share)})
}
