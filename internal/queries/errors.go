package queries

import (
	"errors"
	"net/http"
)

// ErrUnsupportedRole indicates a role with no pending-work list.
var ErrUnsupportedRole = errors.New("role has no pending work list")

// MapHTTPStatus maps query errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrUnsupportedRole) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
