package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/agjmills/nimbus/internal/drive"
	"github.com/agjmills/nimbus/internal/logger"
	"github.com/agjmills/nimbus/internal/middleware"
	"github.com/agjmills/nimbus/internal/storage"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to encode response", "error", err)
	}
}

// errorStatus maps service errors to HTTP statuses. Unknown errors are internal.
func errorStatus(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, drive.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, drive.ErrNotFound), errors.Is(err, drive.ErrShareNotFound):
		return http.StatusNotFound
	case errors.Is(err, drive.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, drive.ErrQuotaExceeded),
		errors.Is(err, drive.ErrShareExpired),
		errors.Is(err, drive.ErrShareLimitReached),
		errors.Is(err, drive.ErrBadExtractCode):
		return http.StatusForbidden
	case errors.Is(err, drive.ErrInvalidName),
		errors.Is(err, drive.ErrInvalidInput),
		errors.Is(err, drive.ErrNotFolder),
		errors.Is(err, drive.ErrIsFolder),
		errors.Is(err, drive.ErrInvalidMove),
		errors.Is(err, drive.ErrEmptyFolder):
		return http.StatusBadRequest
	case errors.Is(err, drive.ErrUploadExpired):
		return http.StatusGone
	case errors.Is(err, storage.ErrFileTooLarge), errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the mapped status. Internal errors are logged and
// replaced by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", chimw.GetReqID(r.Context()),
			"error", err,
		)
		msg = "internal server error"
	}
	middleware.WriteJSONError(w, status, msg)
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", drive.ErrInvalidInput)
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return err
		}
		return fmt.Errorf("%w: malformed JSON", drive.ErrInvalidInput)
	}
	return nil
}

func idParam(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid id", drive.ErrInvalidInput)
	}
	return uint(id), nil
}

// optionalID parses a query value into an ID pointer. Empty and "0" mean the root.
func optionalID(raw string) (*uint, error) {
	if raw == "" || raw == "0" {
		return nil, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid folder id", drive.ErrInvalidInput)
	}
	v := uint(id)
	return &v, nil
}

// rootIfZero treats an explicit 0 parent as the root.
func rootIfZero(id *uint) *uint {
	if id != nil && *id == 0 {
		return nil
	}
	return id
}

func visitor(r *http.Request) drive.Visitor {
	return drive.Visitor{IP: middleware.ClientIP(r), UserAgent: r.UserAgent()}
}
