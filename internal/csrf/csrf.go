// Package csrf guards state-changing requests using Fetch Metadata headers.
//
// Browsers send Sec-Fetch-Site (or at least Origin) on every request, so a
// cross-site form post or fetch carrying the session cookie can be rejected
// without issuing tokens. Requests with neither header come from non-browser
// clients, which never attach cookies on someone else's behalf, and pass
// through. Safe methods are never checked.
package csrf

import (
	"net/http"

	gcsrf "filippo.io/csrf/gorilla"
	"github.com/agjmills/nimbus/internal/logger"
	"github.com/agjmills/nimbus/internal/middleware"
)

// Middleware returns the protection middleware, or a pass-through when disabled.
// The key is accepted for API compatibility with token-based implementations.
func Middleware(enabled bool, key []byte) func(http.Handler) http.Handler {
	if !enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return gcsrf.Protect(key, gcsrf.ErrorHandler(http.HandlerFunc(rejected)))
}

func rejected(w http.ResponseWriter, r *http.Request) {
	logger.Warn("csrf validation failed",
		"reason", gcsrf.FailureReason(r),
		"method", r.Method,
		"path", r.URL.Path,
	)
	middleware.WriteJSONError(w, http.StatusForbidden, "cross-site request rejected")
}
