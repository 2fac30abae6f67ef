package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kalambet/contextmore/internal/extract"
)

const defaultWatchDebounce = 500 * time.Millisecond

// Watcher re-ingests supported files under a folder when they are created
// or written. Bursts of events for one file are coalesced.
type Watcher struct {
	ing      FileIngester
	root     string
	opts     FolderOptions
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a Watcher for root. A debounce <= 0 uses 500ms.
func NewWatcher(ing FileIngester, root string, opts FolderOptions, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		ing:      ing,
		root:     root,
		opts:     opts,
		debounce: debounce,
		logger:   logger.With("component", "watch", "dir", root),
	}
}

// Run watches until ctx is cancelled. onResult, if non-nil, is called after
// every ingestion attempt from the watch goroutine.
func (w *Watcher) Run(ctx context.Context, onResult func(FileResult)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addDirs(fw, w.root); err != nil {
		return err
	}
	w.logger.Info("watching folder", "recursive", w.opts.Recursive)

	pending := make(map[string]*time.Timer)
	ready := make(chan string, 64)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fw, ev, pending, ready)

		case path := <-ready:
			delete(pending, path)
			res := FileResult{Path: path, CallName: FolderCallName(w.root, path, w.opts.Prefix, w.opts.Recursive)}
			res.Result, res.Err = ingestPath(ctx, w.ing, path, res.CallName, w.opts.Metadata)
			if res.Err != nil {
				w.logger.Warn("re-ingest failed", "path", path, "error", res.Err)
			}
			if onResult != nil {
				onResult(res)
			}
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event, pending map[string]*time.Timer, ready chan<- string) {
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.logger.Debug("file removed; stored document kept", "path", ev.Name)
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Has(fsnotify.Create) && w.opts.Recursive {
			if err := w.addDirs(fw, ev.Name); err != nil {
				w.logger.Warn("watching new folder failed", "path", ev.Name, "error", err)
			}
		}
		return
	}
	if !w.inScope(ev.Name) || !extract.IsSupportedFile(ev.Name) {
		return
	}

	if t, ok := pending[ev.Name]; ok {
		t.Reset(w.debounce)
		return
	}
	path := ev.Name
	pending[path] = time.AfterFunc(w.debounce, func() {
		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
}

// inScope rejects files in subfolders of a non-recursive watch.
func (w *Watcher) inScope(path string) bool {
	return w.opts.Recursive || filepath.Clean(filepath.Dir(path)) == filepath.Clean(w.root)
}

func (w *Watcher) addDirs(fw *fsnotify.Watcher, dir string) error {
	if !w.opts.Recursive {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}
