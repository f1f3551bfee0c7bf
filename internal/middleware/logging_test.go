package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		path           string
		handler        http.HandlerFunc
		expectedStatus int
	}{
		{
			name:   "GET request",
			method: http.MethodGet,
			path:   "/api/files",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("[]"))
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "POST request",
			method: http.MethodPost,
			path:   "/api/folders",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
				w.Write([]byte("{}"))
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:   "internal error",
			method: http.MethodGet,
			path:   "/error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("boom"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("User-Agent", "test-agent")
			rec := httptest.NewRecorder()

			LoggingMiddleware(tt.handler).ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if rec.Body.Len() == 0 {
				t.Error("Handler did not write response")
			}
		})
	}
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusTeapot)
	n, _ := rw.Write([]byte("abc"))

	if rw.statusCode != http.StatusAccepted {
		t.Errorf("Expected status %d, got %d", http.StatusAccepted, rw.statusCode)
	}
	if n != 3 || rw.written != 3 {
		t.Errorf("Expected 3 bytes written, got n=%d written=%d", n, rw.written)
	}
	if _, ok := http.ResponseWriter(rw).(http.Flusher); !ok {
		t.Error("responseWriter should implement http.Flusher")
	}
}

func TestRoutePattern(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Get("/api/files/{id}", func(w http.ResponseWriter, req *http.Request) {
		got = routePattern(req)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/files/42", nil))

	if got != "/api/files/{id}" {
		t.Errorf("Expected route pattern, got %q", got)
	}
	if p := routePattern(httptest.NewRequest(http.MethodGet, "/nowhere", nil)); p != "unmatched" {
		t.Errorf("Expected unmatched, got %q", p)
	}
}
