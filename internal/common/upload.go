package common

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// ErrMissingFile is returned when a multipart request has no file under the expected field.
var ErrMissingFile = errors.New("missing uploaded file")

// multipartOverhead allows for part headers and boundaries around the file.
const multipartOverhead = 64 << 10

// ReadUpload reads the multipart file field, stopping one byte past maxBytes so the
// caller can tell an oversized file from one at the limit.
func ReadUpload(ctx echo.Context, field string, maxBytes int64) (string, []byte, error) {
	file, err := ctx.FormFile(field)
	if err != nil {
		return "", nil, fmt.Errorf("%w: field %q", ErrMissingFile, field)
	}
	src, err := file.Open()
	if err != nil {
		return "", nil, fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			slog.Error("ReadUpload: failed to close uploaded file reader", "error", cerr, "filename", file.Filename)
		}
	}()

	var r io.Reader = src
	if maxBytes > 0 {
		r = io.LimitReader(src, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}
	return file.Filename, data, nil
}

// BodyLimit rejects request bodies that cannot hold an upload of at most maxBytes
// with 413 before they are parsed. A non-positive maxBytes disables the limit.
func BodyLimit(maxBytes int64) echo.MiddlewareFunc {
	if maxBytes <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return middleware.BodyLimitWithConfig(middleware.BodyLimitConfig{
		Limit: fmt.Sprintf("%dK", bodyLimitKiB(maxBytes)),
	})
}

func bodyLimitKiB(maxBytes int64) int64 {
	return (maxBytes+multipartOverhead)/1024 + 1
}
