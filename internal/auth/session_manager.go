package auth

import (
	"net/http"
	"time"

	"github.com/agjmills/nimbus/internal/config"
	"github.com/alexedwards/scs/postgresstore"
	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"gorm.io/gorm"
)

const defaultSessionLifetime = 168 * time.Hour

// NewSessionManager creates and configures an scs session manager backed by the
// application database.
func NewSessionManager(db *gorm.DB, cfg *config.Config) (*scs.SessionManager, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	lifetime := cfg.SessionDuration
	if lifetime <= 0 {
		lifetime = defaultSessionLifetime
	}

	sessionManager := scs.New()
	sessionManager.Lifetime = lifetime
	sessionManager.Cookie.Name = "session_token"
	sessionManager.Cookie.HttpOnly = true
	sessionManager.Cookie.SameSite = http.SameSiteLaxMode // share links are opened from other sites
	sessionManager.Cookie.Secure = cfg.Env == "production"

	switch cfg.DBType {
	case "postgres":
		sessionManager.Store = postgresstore.New(sqlDB)
	case "sqlite":
		sessionManager.Store = sqlite3store.New(sqlDB)
	default:
		// scs.New() already installed the in-memory store
	}

	return sessionManager, nil
}
