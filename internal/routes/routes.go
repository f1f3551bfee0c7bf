package routes

import (
	"net/http"

	"github.com/agjmills/nimbus/internal/auth"
	"github.com/agjmills/nimbus/internal/config"
	"github.com/agjmills/nimbus/internal/csrf"
	"github.com/agjmills/nimbus/internal/drive"
	"github.com/agjmills/nimbus/internal/handlers"
	"github.com/agjmills/nimbus/internal/middleware"
	"github.com/agjmills/nimbus/internal/storage"
	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Login, registration and password changes per client IP per minute.
const authRatePerMin = 10

// Setup registers every route of the drive API on r.
//
// All state-changing routes run behind the Fetch Metadata CSRF check, including
// uploads: unlike token-based protection it never reads the request body, so
// streaming multipart and chunk uploads are unaffected. Credential endpoints and
// the public share endpoints are rate limited per client IP; put
// middleware.RealIP in front of the router when running behind a proxy.
func Setup(r chi.Router, db *gorm.DB, cfg *config.Config, store storage.StorageBackend, sessionManager *scs.SessionManager, svc *drive.Service, version string) {
	authHandler := handlers.NewAuthHandler(db, cfg, sessionManager, svc)
	fileHandler := handlers.NewFileHandler(cfg, svc)
	trashHandler := handlers.NewTrashHandler(svc)
	shareHandler := handlers.NewShareHandler(cfg, svc)
	uploadHandler := handlers.NewUploadHandler(cfg, svc)
	healthHandler := handlers.NewHealthHandler(db, store, version)

	csrfMiddleware := csrf.Middleware(cfg.CSRFEnabled, []byte(cfg.SessionSecret))
	authLimit := middleware.RateLimit(authRatePerMin)
	shareLimit := middleware.RateLimit(cfg.ShareVerifyRatePerMin)
	requireAuth := auth.RequireAuth(db, sessionManager)

	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(middleware.NotFoundHandler)
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler)

	r.Group(func(r chi.Router) {
		r.Use(sessionManager.LoadAndSave)
		r.Use(csrfMiddleware)

		// Credentials
		r.Group(func(r chi.Router) {
			r.Use(authLimit)
			r.Post("/api/auth/register", authHandler.Register)
			r.Post("/api/auth/login", authHandler.Login)
		})
		r.Post("/api/auth/logout", authHandler.Logout)

		// Public share access. Extraction codes are guessable, so every call that
		// checks one counts against the same per-IP budget.
		r.Group(func(r chi.Router) {
			r.Use(shareLimit)
			r.Post("/share/verify", shareHandler.Verify)
			r.Post("/share/list", shareHandler.List)
			r.Post("/share/download", shareHandler.Download)
			r.Post("/share/download-folder", shareHandler.DownloadFolder)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/api/me", authHandler.Me)
			r.With(authLimit).Post("/api/auth/password", authHandler.ChangePassword)

			r.Route("/api/files", func(r chi.Router) {
				r.Get("/", fileHandler.List)
				r.Post("/", fileHandler.Upload)
				r.Get("/search", fileHandler.Search)
				r.Post("/archive", fileHandler.Archive)
				r.Route("/{id}", func(r chi.Router) {
					r.Delete("/", fileHandler.Delete)
					r.Post("/rename", fileHandler.Rename)
					r.Post("/move", fileHandler.Move)
					r.Post("/copy", fileHandler.Copy)
					r.Get("/path", fileHandler.Path)
					r.Get("/content", fileHandler.Content)
					r.Get("/download", fileHandler.Download)
				})
			})
			r.Post("/api/folders", fileHandler.CreateFolder)

			r.Route("/api/trash", func(r chi.Router) {
				r.Get("/", trashHandler.List)
				r.Delete("/", trashHandler.Empty)
				r.Post("/{id}/restore", trashHandler.Restore)
				r.Delete("/{id}", trashHandler.Purge)
			})

			r.Route("/api/uploads", func(r chi.Router) {
				r.Post("/", uploadHandler.Init)
				r.Get("/{id}", uploadHandler.Status)
				r.Delete("/{id}", uploadHandler.Cancel)
				r.Put("/{id}/chunks", uploadHandler.Chunk)
				r.Post("/{id}/complete", uploadHandler.Complete)
			})

			r.Post("/share", shareHandler.Create)
			r.With(shareLimit).Post("/share/save", shareHandler.Save)
			r.Route("/api/shares", func(r chi.Router) {
				r.Get("/", shareHandler.ListShares)
				r.Delete("/{id}", shareHandler.Revoke)
				r.Post("/{id}/refresh-code", shareHandler.RefreshCode)
			})
		})
	})
}

// Handler builds the complete HTTP handler: request-scoped middleware in front of
// the routes from Setup.
func Handler(db *gorm.DB, cfg *config.Config, store storage.StorageBackend, sessionManager *scs.SessionManager, svc *drive.Service, version string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RealIP(cfg.TrustedProxies))
	r.Use(middleware.LoggingMiddleware)
	r.Use(middleware.RecoverMiddleware)
	r.Use(middleware.SecurityHeaders)

	Setup(r, db, cfg, store, sessionManager, svc, version)
	return r
}
