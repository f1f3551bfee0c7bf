package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/agjmills/nimbus/internal/storage"
	"gorm.io/gorm"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	db      *gorm.DB
	store   storage.StorageBackend
	version string
}

// NewHealthHandler creates a health check handler reporting version.
func NewHealthHandler(db *gorm.DB, store storage.StorageBackend, version string) *HealthHandler {
	return &HealthHandler{
		db:      db,
		store:   store,
		version: version,
	}
}

type HealthResponse struct {
	Status  string           `json:"status"`
	Version string           `json:"version"`
	Checks  map[string]Check `json:"checks"`
	Uptime  string           `json:"uptime,omitempty"`
}

// Check represents an individual health check
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

var startTime = time.Now()

// Health reports database and blob store reachability. Any failing check answers 503.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]Check{
		"database": runCheck(func() error { return h.pingDatabase(ctx) }),
		"storage":  runCheck(func() error { return h.store.HealthCheck(ctx) }),
	}

	status, code := "healthy", http.StatusOK
	for _, c := range checks {
		if c.Status != "healthy" {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, HealthResponse{
		Status:  status,
		Version: h.version,
		Checks:  checks,
		Uptime:  time.Since(startTime).Round(time.Second).String(),
	})
}

func (h *HealthHandler) pingDatabase(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func runCheck(check func() error) Check {
	start := time.Now()
	if err := check(); err != nil {
		return Check{
			Status:  "unhealthy",
			Message: err.Error(),
			Latency: time.Since(start).String(),
		}
	}
	return Check{Status: "healthy", Latency: time.Since(start).String()}
}
