package middleware

import (
	"math"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
)

// RateLimit allows perMinute requests per client IP in any one-minute window,
// refilled continuously. Limited requests get a JSON 429. The client IP is the
// request's RemoteAddr, so run RealIP first when serving behind a proxy.
func RateLimit(perMinute float64) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		perMinute = 1
	}
	lmt := tollbooth.NewLimiter(perMinute/60.0, &limiter.ExpirableOptions{
		DefaultExpirationTTL: 15 * time.Minute,
	})
	lmt.SetBurst(int(math.Ceil(perMinute)))
	// RealIP has already resolved trusted proxies into RemoteAddr; forwarding
	// headers from the client are never consulted here.
	lmt.SetIPLookups([]string{"RemoteAddr"})
	lmt.SetMessage(`{"error":"too many requests, please try again later"}`)
	lmt.SetMessageContentType("application/json")

	return func(next http.Handler) http.Handler {
		return tollbooth.LimitHandler(lmt, next)
	}
}
