package handlers

import (
	"net/http"

	"github.com/agjmills/nimbus/internal/auth"
	"github.com/agjmills/nimbus/internal/drive"
	"github.com/agjmills/nimbus/internal/logger"
)

// TrashHandler serves the soft-deleted items of the signed-in user.
type TrashHandler struct {
	drive *drive.Service
}

// NewTrashHandler creates a handler for the recycle bin endpoints.
func NewTrashHandler(svc *drive.Service) *TrashHandler {
	return &TrashHandler{drive: svc}
}

func (h *TrashHandler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	items, err := h.drive.ListTrash(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *TrashHandler) Restore(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	f, err := h.drive.Restore(r.Context(), user.ID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// Purge permanently deletes one trashed item and everything below it.
func (h *TrashHandler) Purge(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.drive.Purge(r.Context(), user.ID, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Empty purges every trashed item of the user.
func (h *TrashHandler) Empty(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	items, err := h.drive.ListTrash(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	purged := 0
	for _, item := range items {
		if err := h.drive.Purge(r.Context(), user.ID, item.ID); err != nil {
			writeError(w, r, err)
			return
		}
		purged++
	}
	logger.Info("trash emptied", "user_id", user.ID, "items", purged)
	writeJSON(w, http.StatusOK, map[string]int{"purged": purged})
}
