package upload

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// UploadFunc uploads one archive found in the drop folder.
type UploadFunc func(ctx context.Context, path string) error

// WatchOptions controls the drop folder watcher.
type WatchOptions struct {
	Dir      string
	Patterns []string // e.g. []string{"*.zip"}
	// Existing uploads archives already in the folder on startup.
	Existing bool
	// Settle is how long a file must stay unchanged before it is uploaded.
	Settle time.Duration
	Logger *log.Logger
}

// DropWatcher uploads archives copied into a directory.
type DropWatcher struct {
	opts   WatchOptions
	upload UploadFunc

	mu      sync.Mutex
	pending map[string]time.Time // path -> last write
	done    map[string]int64     // path -> size uploaded

	uploaded int
	errors   int
}

// NewDropWatcher constructs a drop folder watcher.
func NewDropWatcher(upload UploadFunc, opts WatchOptions) *DropWatcher {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = []string{"*.zip"}
	}
	if opts.Settle <= 0 {
		opts.Settle = 2 * time.Second
	}
	return &DropWatcher{
		opts:    opts,
		upload:  upload,
		pending: make(map[string]time.Time),
		done:    make(map[string]int64),
	}
}

// Stats returns the number of uploaded and failed files.
func (dw *DropWatcher) Stats() (uploaded, failed int) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return dw.uploaded, dw.errors
}

// Run watches the directory until ctx is cancelled.
func (dw *DropWatcher) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer w.Close()

	if err := w.Add(dw.opts.Dir); err != nil {
		return fmt.Errorf("watch add: %w", err)
	}

	if err := dw.scanOnce(); err != nil {
		return err
	}

	dw.opts.Logger.Printf("Watching directory: %s (patterns: %s)", dw.opts.Dir, strings.Join(dw.opts.Patterns, ","))
	ticker := time.NewTicker(dw.opts.Settle / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			uploaded, failed := dw.Stats()
			dw.opts.Logger.Printf("Watch stopping: uploaded=%d errors=%d", uploaded, failed)
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !dw.matches(filepath.Base(ev.Name)) {
				continue
			}
			dw.mu.Lock()
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				dw.pending[ev.Name] = time.Now()
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				delete(dw.pending, ev.Name)
				delete(dw.done, ev.Name)
			}
			dw.mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				dw.opts.Logger.Printf("watch error: %v", err)
			}
		case now := <-ticker.C:
			dw.flush(ctx, now)
		}
	}
}

func (dw *DropWatcher) matches(name string) bool {
	lower := strings.ToLower(name)
	for _, pat := range dw.opts.Patterns {
		p := strings.TrimSpace(strings.ToLower(pat))
		if ok, _ := filepath.Match(p, lower); ok {
			return true
		}
	}
	return false
}

// scanOnce queues the archives already present, or marks them as seen.
func (dw *DropWatcher) scanOnce() error {
	entries, err := os.ReadDir(dw.opts.Dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	dw.mu.Lock()
	defer dw.mu.Unlock()
	for _, e := range entries {
		if e.IsDir() || !dw.matches(e.Name()) {
			continue
		}
		path := filepath.Join(dw.opts.Dir, e.Name())
		if dw.opts.Existing {
			dw.pending[path] = time.Time{}
			continue
		}
		if info, err := e.Info(); err == nil {
			dw.done[path] = info.Size()
		}
	}
	return nil
}

// flush uploads the pending files that have not changed for the settle delay.
func (dw *DropWatcher) flush(ctx context.Context, now time.Time) {
	var ready []string
	dw.mu.Lock()
	for path, last := range dw.pending {
		if now.Sub(last) >= dw.opts.Settle {
			ready = append(ready, path)
			delete(dw.pending, path)
		}
	}
	dw.mu.Unlock()

	for _, path := range ready {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		dw.mu.Lock()
		size, seen := dw.done[path]
		dw.mu.Unlock()
		if seen && size == info.Size() {
			continue
		}

		dw.opts.Logger.Printf("Uploading %s (%d bytes)", path, info.Size())
		err = dw.upload(ctx, path)
		dw.mu.Lock()
		if err != nil {
			dw.errors++
			dw.opts.Logger.Printf("error uploading %s: %v", path, err)
		} else {
			dw.uploaded++
			dw.done[path] = info.Size()
		}
		dw.mu.Unlock()
	}
}
