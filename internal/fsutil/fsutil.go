// Package fsutil holds small filesystem helpers shared by the pipeline stages.
package fsutil

import (
	"os"
	"path/filepath"
	"strings"
)

// WriteFileAtomic writes data to a temp file next to path and renames it over
// path, so readers never see a half-written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// imageMIMETypes lists the screenshot formats the extractor accepts, keyed by
// lower-case extension.
var imageMIMETypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
}

// ImageMIMEType returns the MIME type for a supported screenshot path.
func ImageMIMEType(path string) (string, bool) {
	mime, ok := imageMIMETypes[strings.ToLower(filepath.Ext(path))]
	return mime, ok
}

// IsImage reports whether path has a supported screenshot extension.
func IsImage(path string) bool {
	_, ok := ImageMIMEType(path)
	return ok
}

// ExtensionForMIME returns the canonical extension for an accepted image
// content type.
func ExtensionForMIME(mime string) (string, bool) {
	switch strings.ToLower(mime) {
	case "image/png":
		return ".png", true
	case "image/jpeg", "image/jpg":
		return ".jpg", true
	case "image/webp":
		return ".webp", true
	}
	return "", false
}

// Stem returns the file name of path without directory and extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
