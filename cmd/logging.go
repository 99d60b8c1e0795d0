package cmd

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// newLogger returns a component logger writing to stderr. Debug loggers
// discard their output unless log.level is debug.
func newLogger(cfg Config, component string) *log.Logger {
	return log.New(os.Stderr, "["+component+"] ", log.LstdFlags)
}

func newDebugLogger(cfg Config, component string) *log.Logger {
	if !cfg.Log.Debug() {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "["+component+"] ", log.LstdFlags|log.Lmicroseconds)
}

// setupFileLogger opens the log file used while the TUI owns the terminal.
// It returns nil when the file cannot be created.
func setupFileLogger(cfg Config, name string) *os.File {
	dir := resolvePathRelativeToBase(getWorkingDir(), cfg.Log.Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil
	}
	return f
}

// tuiLogger builds the logger of a TUI session. Lines go to the log file;
// without one, only failures reach stderr once the screen is released.
func tuiLogger(cfg Config, component string, file *os.File) *log.Logger {
	flags := log.LstdFlags
	if cfg.Log.Debug() {
		flags |= log.Lmicroseconds
	}
	if file != nil {
		var w io.Writer = file
		if !cfg.Log.Debug() && cfg.Log.Level != "info" {
			w = &errorFilterWriter{writer: file}
		}
		return log.New(w, "["+component+"] ", flags)
	}
	return log.New(io.Discard, "", 0)
}

// errorFilterWriter only writes error messages to the underlying writer
type errorFilterWriter struct {
	writer io.Writer
}

func (w *errorFilterWriter) Write(p []byte) (n int, err error) {
	lc := strings.ToLower(string(p))

	// Cancelled requests are the normal way a view shuts down.
	if strings.Contains(lc, "context canceled") {
		return len(p), nil
	}
	if strings.Contains(lc, "error") ||
		strings.Contains(lc, "failed") ||
		strings.Contains(lc, "panic") {
		return w.writer.Write(p)
	}
	return len(p), nil
}

// getExecutableDir returns the directory of the running executable.
// Falls back to current directory on error.
func getExecutableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// getWorkingDir returns the current working directory.
// Falls back to executable directory if os.Getwd fails.
func getWorkingDir() string {
	if wd, err := os.Getwd(); err == nil && wd != "" {
		return wd
	}
	return getExecutableDir()
}

// resolvePathRelativeToBase resolves a possibly relative path against a base directory.
// Absolute paths are returned unchanged.
func resolvePathRelativeToBase(base, p string) string {
	if p == "" {
		return base
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
