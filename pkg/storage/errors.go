package storage

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound indicates no object exists for the requested hash.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidHash indicates a content hash that is not a sha256 digest.
	ErrInvalidHash = errors.New("invalid content hash")
	// ErrEmptyObject indicates an attempt to store zero bytes.
	ErrEmptyObject = errors.New("object must not be empty")
	// ErrUploadFailed wraps provider failures while writing an object.
	ErrUploadFailed = errors.New("object upload failed")
)

// MapHTTPStatus maps storage errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidHash), errors.Is(err, ErrEmptyObject):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
