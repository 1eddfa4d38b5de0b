package batches

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/herbtrace/internal/profiles"
)

// Domain errors for batch commands.
var (
	ErrValidation    = errors.New("invalid submission")
	ErrBatchNotFound = errors.New("batch not found")
	ErrFileTooLarge  = errors.New("file exceeds maximum upload size")
)

// MapHTTPStatus maps batch and profile errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrBatchNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	}
	return profiles.MapHTTPStatus(err)
}
