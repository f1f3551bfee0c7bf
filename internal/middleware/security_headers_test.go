package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name            string
		tls             bool
		expectedHeaders map[string]string
	}{
		{
			name: "plain http",
			expectedHeaders: map[string]string{
				"X-Frame-Options":           "DENY",
				"X-Content-Type-Options":    "nosniff",
				"Referrer-Policy":           "strict-origin-when-cross-origin",
				"Permissions-Policy":        "geolocation=(), microphone=(), camera=()",
				"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'; sandbox",
				"Strict-Transport-Security": "",
			},
		},
		{
			name: "tls adds hsts",
			tls:  true,
			expectedHeaders: map[string]string{
				"X-Frame-Options":           "DENY",
				"Strict-Transport-Security": "max-age=63072000; includeSubDomains",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
			if tt.tls {
				req.TLS = &tls.ConnectionState{}
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			for header, want := range tt.expectedHeaders {
				if got := rec.Header().Get(header); got != want {
					t.Errorf("Header %s: expected %q, got %q", header, want, got)
				}
			}
		})
	}
}
