package handlers

import (
	"net/http"
	"testing"
)

func TestRegister(t *testing.T) {
	app := newTestApp(t)
	c := app.anonymous()

	tests := []struct {
		name       string
		body       map[string]string
		wantStatus int
	}{
		{"valid", map[string]string{"username": "alice", "email": "alice@example.com", "password": "password123"}, http.StatusCreated},
		{"duplicate username", map[string]string{"username": "alice", "email": "other@example.com", "password": "password123"}, http.StatusConflict},
		{"short password", map[string]string{"username": "bob", "email": "bob@example.com", "password": "short"}, http.StatusBadRequest},
		{"bad email", map[string]string{"username": "bob", "email": "nope", "password": "password123"}, http.StatusBadRequest},
		{"short username", map[string]string{"username": "b", "email": "b@example.com", "password": "password123"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := c.postJSON(t, "/api/auth/register", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRegister_Disabled(t *testing.T) {
	app := newTestApp(t)
	app.cfg.EnableRegistration = false

	rec := app.anonymous().postJSON(t, "/api/auth/register", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "password123",
	})
	expectStatus(t, rec, http.StatusForbidden)
}

func TestRegister_StartsSessionWithDefaultQuota(t *testing.T) {
	app := newTestApp(t)
	c := app.anonymous()

	rec := c.postJSON(t, "/api/auth/register", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "password123",
	})
	expectStatus(t, rec, http.StatusCreated)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == app.sessionManager.Cookie.Name {
			c.cookie = ck
		}
	}

	me := decode[userResponse](t, c.get(t, "/api/me"))
	if me.Username != "alice" || me.Usage.Limit != app.cfg.DefaultUserQuota {
		t.Errorf("Unexpected profile %+v", me)
	}
}

func TestLoginLogout(t *testing.T) {
	app := newTestApp(t)
	app.createUser(t, "alice", "password123", 1024)

	rec := app.anonymous().postJSON(t, "/api/auth/login", map[string]string{"username": "alice", "password": "wrong"})
	expectStatus(t, rec, http.StatusUnauthorized)
	rec = app.anonymous().postJSON(t, "/api/auth/login", map[string]string{"username": "nobody", "password": "password123"})
	expectStatus(t, rec, http.StatusUnauthorized)

	c := app.login(t, "alice", "password123")
	expectStatus(t, c.get(t, "/api/me"), http.StatusOK)

	expectStatus(t, c.postJSON(t, "/api/auth/logout", nil), http.StatusOK)
	expectStatus(t, c.get(t, "/api/me"), http.StatusUnauthorized)
}

func TestMe_ReportsUsage(t *testing.T) {
	app := newTestApp(t)
	app.createUser(t, "alice", "password123", 1024)
	c := app.login(t, "alice", "password123")
	c.uploadFile(t, "a.txt", "hello", 0)

	me := decode[userResponse](t, c.get(t, "/api/me"))
	if me.Usage.Used != 5 || me.Usage.Limit != 1024 {
		t.Errorf("Expected usage 5/1024, got %d/%d", me.Usage.Used, me.Usage.Limit)
	}
}

func TestChangePassword(t *testing.T) {
	app := newTestApp(t)
	app.createUser(t, "alice", "password123", 1024)
	c := app.login(t, "alice", "password123")

	rec := c.postJSON(t, "/api/auth/password", map[string]string{"currentPassword": "wrong", "newPassword": "newpassword1"})
	expectStatus(t, rec, http.StatusUnauthorized)
	rec = c.postJSON(t, "/api/auth/password", map[string]string{"currentPassword": "password123", "newPassword": "short"})
	expectStatus(t, rec, http.StatusBadRequest)
	rec = c.postJSON(t, "/api/auth/password", map[string]string{"currentPassword": "password123", "newPassword": "newpassword1"})
	expectStatus(t, rec, http.StatusOK)

	app.login(t, "alice", "newpassword1")
	rec = app.anonymous().postJSON(t, "/api/auth/login", map[string]string{"username": "alice", "password": "password123"})
	expectStatus(t, rec, http.StatusUnauthorized)
}
