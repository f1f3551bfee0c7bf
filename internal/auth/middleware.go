package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agjmills/nimbus/internal/database/models"
	"github.com/agjmills/nimbus/internal/logger"
	"github.com/alexedwards/scs/v2"
	"gorm.io/gorm"
)

type contextKey string

const UserContextKey contextKey = "user"

// SessionUserKey is the session key holding the logged-in user's ID.
const SessionUserKey = "user_id"

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

func GetUser(r *http.Request) *models.User {
	user, _ := r.Context().Value(UserContextKey).(*models.User)
	return user
}

// Login binds userID to the session, renewing the token to prevent fixation.
func Login(ctx context.Context, sm *scs.SessionManager, userID uint) error {
	if err := sm.RenewToken(ctx); err != nil {
		return err
	}
	sm.Put(ctx, SessionUserKey, int(userID))
	return nil
}

func Logout(ctx context.Context, sm *scs.SessionManager) error {
	return sm.Destroy(ctx)
}

// sessionUser loads the user referenced by the session, or nil.
func sessionUser(r *http.Request, db *gorm.DB, sm *scs.SessionManager) (*models.User, error) {
	userID := sm.GetInt(r.Context(), SessionUserKey)
	if userID <= 0 {
		return nil, nil
	}

	var user models.User
	err := db.WithContext(r.Context()).First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
}

// RequireAuth rejects requests without a valid session with 401 and stores the user
// in the request context otherwise.
func RequireAuth(db *gorm.DB, sm *scs.SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := sessionUser(r, db, sm)
			if err != nil {
				logger.Error("failed to load session user", "error", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			if user == nil {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// OptionalAuth attaches the session user when there is one and never rejects.
func OptionalAuth(db *gorm.DB, sm *scs.SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user, err := sessionUser(r, db, sm); err == nil && user != nil {
				r = r.WithContext(WithUser(r.Context(), user))
			}
			next.ServeHTTP(w, r)
		})
	}
}
