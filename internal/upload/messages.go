// Package upload holds the file transfer helpers of the console: upload
// confirmation and progress texts, downloads to disk and a drop folder watcher.
package upload

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// MismatchWarning is shown when the file to upload is not a zip archive.
const MismatchWarning = "Helium supports zip and your file extension is mismatching"

// IsZip reports whether name carries the .zip extension.
func IsZip(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".zip")
}

// ConfirmMessage returns the confirmation text of an upload and, for non-zip
// files, the extension warning.
func ConfirmMessage(name string) (message, warning string) {
	message = fmt.Sprintf("Confirm with %s upload ?", filepath.Base(name))
	if !IsZip(name) {
		warning = MismatchWarning
	}
	return message, warning
}

// Percent is the integer completion of an upload. An unknown total counts as 0%.
func Percent(loaded, total int64) int {
	if total <= 0 {
		return 0
	}
	if loaded >= total {
		return 100
	}
	return int(loaded * 100 / total)
}

// ProgressLabel is the upload status text. Once every byte is sent the server
// still has to process the archive.
func ProgressLabel(name string, loaded, total int64) string {
	p := Percent(loaded, total)
	if p == 100 {
		return "[100%] Processing file"
	}
	return fmt.Sprintf("[%d%%] %s", p, filepath.Base(name))
}

// SizeLabel renders "loaded / total" in human units.
func SizeLabel(loaded, total int64) string {
	if total <= 0 {
		return humanize.Bytes(uint64(max(loaded, 0)))
	}
	return fmt.Sprintf("%s / %s", humanize.Bytes(uint64(max(loaded, 0))), humanize.Bytes(uint64(total)))
}
