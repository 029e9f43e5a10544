package common

import (
	"errors"
	"net/http"

	"github.com/jo-hoe/tumorcam/internal/core"
	"github.com/jo-hoe/tumorcam/internal/imaging"
)

// StatusFromError maps service errors to HTTP status codes.
func StatusFromError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingFile), errors.Is(err, imaging.ErrUnsupportedFormat), errors.Is(err, imaging.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrTooLarge), errors.Is(err, imaging.ErrTooManyPixels):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrScanNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNoPrediction):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// ClientMessage returns err's text for client errors and a generic message otherwise.
func ClientMessage(err error) string {
	if status := StatusFromError(err); status >= http.StatusInternalServerError {
		return http.StatusText(status)
	}
	return err.Error()
}
