package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
)

var (
	// ErrUnsupportedFormat is returned for files whose extension or content format is not accepted.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrDecode is returned when an accepted file cannot be decoded.
	ErrDecode = errors.New("failed to decode image")
	// ErrTooManyPixels is returned when the declared dimensions exceed the pixel limit.
	ErrTooManyPixels = errors.New("image dimensions too large")
)

// DefaultMaxPixels bounds the decoded size of an upload (40 megapixels).
const DefaultMaxPixels int64 = 40_000_000

// DefaultAllowedExtensions are the upload extensions accepted when none are configured.
var DefaultAllowedExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// extensionFormats maps an upload extension to the decoder name reported by image.DecodeConfig.
var extensionFormats = map[string]string{
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".png":  "png",
	".bmp":  "bmp",
}

// UploadValidator rejects uploads that must never reach the classifier.
type UploadValidator struct {
	extensions map[string]bool
	formats    map[string]bool
	maxPixels  int64
}

// NewUploadValidator creates a validator accepting the given extensions and at most
// maxPixels pixels; zero selects DefaultMaxPixels.
// Every extension must be one the decoders registered in this package understand.
func NewUploadValidator(extensions []string, maxPixels int64) (*UploadValidator, error) {
	if len(extensions) == 0 {
		extensions = DefaultAllowedExtensions
	}
	if maxPixels < 0 {
		return nil, fmt.Errorf("pixel limit must not be negative")
	}
	if maxPixels == 0 {
		maxPixels = DefaultMaxPixels
	}

	v := &UploadValidator{
		extensions: make(map[string]bool, len(extensions)),
		formats:    make(map[string]bool, len(extensions)),
		maxPixels:  maxPixels,
	}
	for _, ext := range extensions {
		ext = normalizeExtension(ext)
		format, ok := extensionFormats[ext]
		if !ok {
			return nil, fmt.Errorf("extension %q has no registered decoder", ext)
		}
		v.extensions[ext] = true
		v.formats[format] = true
	}
	return v, nil
}

// Extensions returns the accepted extensions.
func (v *UploadValidator) Extensions() []string {
	out := make([]string, 0, len(v.extensions))
	for _, ext := range DefaultAllowedExtensions {
		if v.extensions[ext] {
			out = append(out, ext)
		}
	}
	return out
}

// Validate checks the file name and sniffs the content without decoding pixel data.
// The dimensions declared in the header are checked against the pixel limit, so
// Decode never allocates for a forged header. It returns the detected format name.
func (v *UploadValidator) Validate(filename string, data []byte) (string, error) {
	ext := normalizeExtension(filepath.Ext(filename))
	if !v.extensions[ext] {
		slog.Debug("UploadValidator: rejected extension", "filename", filename, "extension", ext)
		return "", fmt.Errorf("%w: extension %q is not allowed", ErrUnsupportedFormat, ext)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: file is empty", ErrDecode)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if !v.formats[format] {
		return "", fmt.Errorf("%w: content is %s", ErrUnsupportedFormat, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", fmt.Errorf("%w: invalid dimensions %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > v.maxPixels {
		slog.Debug("UploadValidator: rejected dimensions", "filename", filename, "width", cfg.Width, "height", cfg.Height)
		return "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooManyPixels, cfg.Width, cfg.Height, v.maxPixels)
	}
	return format, nil
}

// Decode decodes image bytes in any registered format.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", fmt.Errorf("%w: empty image", ErrDecode)
	}
	return img, format, nil
}

// CanonicalExtension returns the extension used when storing a file of the given format.
func CanonicalExtension(format string) string {
	switch format {
	case "jpeg":
		return ".jpg"
	case "png":
		return ".png"
	case "bmp":
		return ".bmp"
	}
	return ""
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
