package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/agjmills/nimbus/internal/database/models"
)

func TestTrashLifecycle(t *testing.T) {
	app := newTestApp(t)
	app.createUser(t, "alice", "password123", 1024)
	c := app.login(t, "alice", "password123")

	docs := c.createFolder(t, "docs", nil)
	c.uploadFile(t, "a.txt", "12345", docs.ID)
	loose := c.uploadFile(t, "loose.txt", "123", 0)

	expectStatus(t, c.send(t, http.MethodDelete, fmt.Sprintf("/api/files/%d", docs.ID), nil), http.StatusNoContent)
	expectStatus(t, c.send(t, http.MethodDelete, fmt.Sprintf("/api/files/%d", loose.ID), nil), http.StatusNoContent)

	trash := decode[[]models.File](t, c.get(t, "/api/trash"))
	if len(trash) != 2 {
		t.Fatalf("Expected 2 trashed roots, got %d", len(trash))
	}

	rec := c.postJSON(t, fmt.Sprintf("/api/trash/%d/restore", docs.ID), nil)
	expectStatus(t, rec, http.StatusOK)
	if restored := decode[models.File](t, rec); restored.Name != "docs" || restored.IsDeleted {
		t.Errorf("Unexpected restored entity %+v", restored)
	}

	expectStatus(t, c.send(t, http.MethodDelete, fmt.Sprintf("/api/trash/%d", docs.ID), nil), http.StatusNotFound)
	expectStatus(t, c.send(t, http.MethodDelete, fmt.Sprintf("/api/trash/%d", loose.ID), nil), http.StatusNoContent)

	me := decode[userResponse](t, c.get(t, "/api/me"))
	if me.Usage.Used != 5 {
		t.Errorf("Expected purge to release quota, used=%d", me.Usage.Used)
	}
}

func TestEmptyTrash(t *testing.T) {
	app := newTestApp(t)
	app.createUser(t, "alice", "password123", 1024)
	c := app.login(t, "alice", "password123")

	for _, name := range []string{"a.txt", "b.txt"} {
		f := c.uploadFile(t, name, "x", 0)
		expectStatus(t, c.send(t, http.MethodDelete, fmt.Sprintf("/api/files/%d", f.ID), nil), http.StatusNoContent)
	}

	rec := c.send(t, http.MethodDelete, "/api/trash", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[map[string]int](t, rec); got["purged"] != 2 {
		t.Errorf("Expected 2 purged, got %v", got)
	}
	if n := app.store.FileCount(); n != 0 {
		t.Errorf("Expected blobs removed, %d remain", n)
	}
}
