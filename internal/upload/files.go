package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FetchFunc streams a download to w and returns the suggested file name.
type FetchFunc func(w io.Writer) (string, error)

// SaveDownload writes a download into dir under its suggested name and
// returns the final path. Nothing is left behind on failure.
func SaveDownload(dir string, fetch FetchFunc) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".helium-download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create download file: %w", err)
	}
	defer os.Remove(tmp.Name())

	name, err := fetch(tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}

	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "download"
	}
	dest := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", dest, err)
	}
	return dest, nil
}

// FileName is the name given to a file exported from the console.
func FileName(name, ext string) string {
	name = strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(name)
	return fmt.Sprintf("helium_%s.%s", name, strings.TrimPrefix(ext, "."))
}

// LogFileName names the saved log of an analysis.
func LogFileName(collection, analyzer string) string {
	return FileName(collection+"_"+analyzer, "md")
}
