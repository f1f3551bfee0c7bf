package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agjmills/nimbus/internal/database/models"
	"github.com/alexedwards/scs/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("Failed to migrate User model: %v", err)
	}
	return db
}

func createUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	user := &models.User{Username: "testuser", Email: "test@example.com", PasswordHash: "hash", StorageQuota: 1000}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

// serveWithSession runs h behind sm with the session user set to userID (0 for none).
func serveWithSession(sm *scs.SessionManager, userID int, h http.Handler) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	sm.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID != 0 {
			sm.Put(r.Context(), SessionUserKey, userID)
		}
		h.ServeHTTP(w, r)
	})).ServeHTTP(rec, req)
	return rec
}

func TestRequireAuth(t *testing.T) {
	db := setupTestDB(t)
	sm := scs.New()
	user := createUser(t, db)

	var seen *models.User
	handler := RequireAuth(db, sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUser(r)
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		userID     int
		wantStatus int
		wantUser   bool
	}{
		{"authenticated", int(user.ID), http.StatusOK, true},
		{"no session", 0, http.StatusUnauthorized, false},
		{"deleted user", 9999, http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			rec := serveWithSession(sm, tt.userID, handler)

			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantUser && (seen == nil || seen.ID != user.ID) {
				t.Errorf("Expected user %d in context, got %+v", user.ID, seen)
			}
			if !tt.wantUser && rec.Code == http.StatusUnauthorized {
				if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
					t.Errorf("Expected JSON error, got Content-Type %q", ct)
				}
				if !strings.Contains(rec.Body.String(), "authentication required") {
					t.Errorf("Unexpected body: %s", rec.Body.String())
				}
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	db := setupTestDB(t)
	sm := scs.New()
	user := createUser(t, db)

	for _, tt := range []struct {
		name     string
		userID   int
		wantUser bool
	}{
		{"with user", int(user.ID), true},
		{"without user", 0, false},
		{"unknown user", 4242, false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := OptionalAuth(db, sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				if got := GetUser(r) != nil; got != tt.wantUser {
					t.Errorf("GetUser() present = %v, want %v", got, tt.wantUser)
				}
			}))

			rec := serveWithSession(sm, tt.userID, handler)
			if !called {
				t.Error("Handler should always be called")
			}
			if rec.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d", rec.Code)
			}
		})
	}
}

func TestLoginLogout(t *testing.T) {
	sm := scs.New()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	sm.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := Login(r.Context(), sm, 7); err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		if got := sm.GetInt(r.Context(), SessionUserKey); got != 7 {
			t.Errorf("Expected user_id 7 in session, got %d", got)
		}
		if err := Logout(r.Context(), sm); err != nil {
			t.Fatalf("Logout() error = %v", err)
		}
		if got := sm.GetInt(r.Context(), SessionUserKey); got != 0 {
			t.Errorf("Expected empty session after logout, got %d", got)
		}
	})).ServeHTTP(rec, req)
}

func TestGetUser_NoUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if GetUser(req) != nil {
		t.Error("Expected nil user")
	}

	user := &models.User{ID: 3}
	req = req.WithContext(WithUser(context.Background(), user))
	if GetUser(req) != user {
		t.Error("Expected user from context")
	}
}
