// Package storage keeps uploaded scans and rendered overlays on the file system.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	UploadsDir  = "uploads"
	GradCAMDir  = "gradcam"
	defaultPerm = 0o644
)

// ErrInvalidPath is returned for paths that escape the media root.
var ErrInvalidPath = errors.New("invalid media path")

// MediaStore maps slash separated relative paths under a root directory to files and URLs.
type MediaStore struct {
	root      string
	urlPrefix string
}

// NewMediaStore creates root and its subdirectories if needed.
func NewMediaStore(root, urlPrefix string) (*MediaStore, error) {
	if root == "" {
		return nil, fmt.Errorf("media root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media root %s: %w", root, err)
	}
	for _, dir := range []string{UploadsDir, GradCAMDir} {
		if err := os.MkdirAll(filepath.Join(abs, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create media directory %s: %w", dir, err)
		}
	}
	if urlPrefix == "" {
		urlPrefix = "/media"
	}
	return &MediaStore{root: abs, urlPrefix: "/" + strings.Trim(urlPrefix, "/")}, nil
}

// Root returns the absolute media directory.
func (m *MediaStore) Root() string { return m.root }

// URLPrefix returns the URL path the media root is served under.
func (m *MediaStore) URLPrefix() string { return m.urlPrefix }

// UploadPath returns the relative path of an uploaded scan.
func UploadPath(id, ext string) string {
	return path.Join(UploadsDir, id+ext)
}

// VisualizationPath returns the relative path of a scan's Grad-CAM overlay.
func VisualizationPath(id string) string {
	return path.Join(GradCAMDir, "gradcam_"+id+".png")
}

// Path resolves a relative media path to a file path under the root.
func (m *MediaStore) Path(rel string) (string, error) {
	clean := path.Clean("/" + rel)
	if clean == "/" || strings.Contains(rel, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return filepath.Join(m.root, filepath.FromSlash(clean[1:])), nil
}

// URL returns the public URL of a relative media path.
func (m *MediaStore) URL(rel string) string {
	return m.urlPrefix + "/" + strings.TrimPrefix(path.Clean("/"+rel), "/")
}

// Write stores data at rel, replacing any existing file. Readers never observe a
// partially written file.
func (m *MediaStore) Write(rel string, data []byte) error {
	target, err := m.Path(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	if err := os.Chmod(tmpName, defaultPerm); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", rel, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", rel, err)
	}
	return nil
}

// Read returns the content of rel.
func (m *MediaStore) Read(rel string) ([]byte, error) {
	p, err := m.Path(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Exists reports whether rel is a regular file.
func (m *MediaStore) Exists(rel string) bool {
	p, err := m.Path(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Remove deletes rel. Removing a missing file is not an error.
func (m *MediaStore) Remove(rel string) error {
	p, err := m.Path(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", rel, err)
	}
	return nil
}
