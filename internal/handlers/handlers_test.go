package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agjmills/nimbus/internal/auth"
	"github.com/agjmills/nimbus/internal/config"
	"github.com/agjmills/nimbus/internal/database"
	"github.com/agjmills/nimbus/internal/database/models"
	"github.com/agjmills/nimbus/internal/drive"
	"github.com/agjmills/nimbus/internal/storage"
	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// testApp encapsulates all dependencies for handler tests
type testApp struct {
	db             *gorm.DB
	cfg            *config.Config
	store          *storage.MemoryBackend
	drive          *drive.Service
	sessionManager *scs.SessionManager
	router         *chi.Mux
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := database.Open(sqlite.Open(dsn), gormlogger.Silent)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}

	cfg := &config.Config{
		BaseURL:            "https://drive.example",
		EnableRegistration: true,
		BcryptCost:         4, // Low cost for faster tests
		DefaultUserQuota:   1024,
		MaxUploadSize:      1 << 20,
		TempDir:            t.TempDir(),
		Env:                "test",
	}

	store := storage.NewMemoryBackend()
	svc := drive.NewService(db, store, drive.OptionsFromConfig(cfg))
	t.Cleanup(svc.Shutdown)

	sessionManager := scs.New()

	app := &testApp{
		db:             db,
		cfg:            cfg,
		store:          store,
		drive:          svc,
		sessionManager: sessionManager,
	}
	app.router = app.routes()
	return app
}

func (app *testApp) routes() *chi.Mux {
	authHandler := NewAuthHandler(app.db, app.cfg, app.sessionManager, app.drive)
	fileHandler := NewFileHandler(app.cfg, app.drive)
	trashHandler := NewTrashHandler(app.drive)
	shareHandler := NewShareHandler(app.cfg, app.drive)
	uploadHandler := NewUploadHandler(app.cfg, app.drive)

	r := chi.NewRouter()
	r.Use(app.sessionManager.LoadAndSave)

	r.Post("/api/auth/register", authHandler.Register)
	r.Post("/api/auth/login", authHandler.Login)
	r.Post("/api/auth/logout", authHandler.Logout)
	r.Post("/share/verify", shareHandler.Verify)
	r.Post("/share/list", shareHandler.List)
	r.Post("/share/download", shareHandler.Download)
	r.Post("/share/download-folder", shareHandler.DownloadFolder)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(app.db, app.sessionManager))
		r.Get("/api/me", authHandler.Me)
		r.Post("/api/auth/password", authHandler.ChangePassword)
		r.Get("/api/files", fileHandler.List)
		r.Post("/api/files", fileHandler.Upload)
		r.Get("/api/files/search", fileHandler.Search)
		r.Post("/api/files/archive", fileHandler.Archive)
		r.Post("/api/files/{id}/rename", fileHandler.Rename)
		r.Post("/api/files/{id}/move", fileHandler.Move)
		r.Post("/api/files/{id}/copy", fileHandler.Copy)
		r.Delete("/api/files/{id}", fileHandler.Delete)
		r.Get("/api/files/{id}/path", fileHandler.Path)
		r.Get("/api/files/{id}/content", fileHandler.Content)
		r.Get("/api/files/{id}/download", fileHandler.Download)
		r.Post("/api/folders", fileHandler.CreateFolder)
		r.Get("/api/trash", trashHandler.List)
		r.Delete("/api/trash", trashHandler.Empty)
		r.Post("/api/trash/{id}/restore", trashHandler.Restore)
		r.Delete("/api/trash/{id}", trashHandler.Purge)
		r.Post("/share", shareHandler.Create)
		r.Post("/share/save", shareHandler.Save)
		r.Get("/api/shares", shareHandler.ListShares)
		r.Delete("/api/shares/{id}", shareHandler.Revoke)
		r.Post("/api/shares/{id}/refresh-code", shareHandler.RefreshCode)
		r.Post("/api/uploads", uploadHandler.Init)
		r.Put("/api/uploads/{id}/chunks", uploadHandler.Chunk)
		r.Post("/api/uploads/{id}/complete", uploadHandler.Complete)
		r.Get("/api/uploads/{id}", uploadHandler.Status)
		r.Delete("/api/uploads/{id}", uploadHandler.Cancel)
	})
	return r
}

// createUser inserts a user directly, bypassing registration.
func (app *testApp) createUser(t *testing.T, username, password string, quota int64) *models.User {
	t.Helper()
	hash, err := auth.HashPassword(password, app.cfg.BcryptCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	user := &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		StorageQuota: quota,
	}
	if err := app.db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	return user
}

// client carries a session cookie between requests.
type client struct {
	app    *testApp
	cookie *http.Cookie
	ip     string
	ua     string
}

func (app *testApp) anonymous() *client {
	return &client{app: app, ip: "192.0.2.10", ua: "test-agent"}
}

// login signs in through the API and returns a client holding the session cookie.
func (app *testApp) login(t *testing.T, username, password string) *client {
	t.Helper()
	c := app.anonymous()
	rec := c.postJSON(t, "/api/auth/login", map[string]string{"username": username, "password": password})
	if rec.Code != http.StatusOK {
		t.Fatalf("Login failed: %d %s", rec.Code, rec.Body.String())
	}
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == app.sessionManager.Cookie.Name {
			c.cookie = ck
		}
	}
	if c.cookie == nil {
		t.Fatal("Login did not set a session cookie")
	}
	return c
}

func (c *client) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	req.RemoteAddr = c.ip + ":4321"
	req.Header.Set("User-Agent", c.ua)
	rec := httptest.NewRecorder()
	c.app.router.ServeHTTP(rec, req)
	return rec
}

func (c *client) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	return c.do(t, httptest.NewRequest(http.MethodGet, path, nil))
}

func (c *client) send(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return c.do(t, req)
}

func (c *client) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return c.send(t, http.MethodPost, path, body)
}

// upload sends a multipart upload with the given text fields before the file part.
func (c *client) upload(t *testing.T, filename, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("Failed to write field: %v", err)
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	part.Write([]byte(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(t, req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

// uploadFile uploads content and returns the created entity.
func (c *client) uploadFile(t *testing.T, filename, content string, parentID uint) models.File {
	t.Helper()
	fields := map[string]string{}
	if parentID != 0 {
		fields["parentId"] = fmt.Sprint(parentID)
	}
	rec := c.upload(t, filename, content, fields)
	expectStatus(t, rec, http.StatusCreated)
	return decode[models.File](t, rec)
}

func (c *client) createFolder(t *testing.T, name string, parentID *uint) models.File {
	t.Helper()
	rec := c.postJSON(t, "/api/folders", map[string]any{"name": name, "parentId": parentID})
	expectStatus(t, rec, http.StatusOK)
	return decode[models.File](t, rec)
}
