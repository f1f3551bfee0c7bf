package drive

import "errors"

var (
	ErrUnauthorized  = errors.New("authentication required")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("an item with that name already exists")
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrInvalidName   = errors.New("invalid name")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFolder     = errors.New("target is not a folder")
	ErrIsFolder      = errors.New("item is a folder")
	ErrInvalidMove   = errors.New("cannot move or copy a folder into itself")
	ErrEmptyFolder   = errors.New("folder is empty")
	ErrUploadExpired = errors.New("upload session has expired")

	ErrShareNotFound     = errors.New("share not found")
	ErrShareExpired      = errors.New("share has expired")
	ErrBadExtractCode    = errors.New("incorrect extraction code")
	ErrShareLimitReached = errors.New("share access limit reached")

	// Tree walk failures. These indicate corrupt parent pointers and are not user errors.
	ErrTreeTooDeep = errors.New("folder tree exceeds maximum depth")
	ErrCycle       = errors.New("folder tree contains a cycle")
)
