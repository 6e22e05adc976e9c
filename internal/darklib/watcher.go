// Package darklib watches the configured dark-frame library directory for
// new or removed master-dark files and keeps the persisted profile store's
// dark_library metadata in step with what is actually on disk.
package darklib

import (
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event describes one change observed in the dark-frame library.
type Event struct {
	Path      string
	Operation string // "added", "removed", "modified"
	Time      time.Time
}

// Watcher monitors a single directory tree for dark-frame file changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	log     *slog.Logger

	Events chan Event
	done   chan struct{}
}

// New starts watching dir for dark-frame file changes. dir must already
// exist; callers should create it first if it is missing.
func New(dir string, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		watcher: fsw,
		log:     log,
		Events:  make(chan Event, 32),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Stop halts the watcher and releases its underlying inotify/kqueue handle.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isDarkFrame(ev.Name) {
				continue
			}
			var op string
			switch {
			case ev.Op&fsnotify.Create == fsnotify.Create:
				op = "added"
			case ev.Op&fsnotify.Write == fsnotify.Write:
				op = "modified"
			case ev.Op&fsnotify.Remove == fsnotify.Remove, ev.Op&fsnotify.Rename == fsnotify.Rename:
				op = "removed"
			default:
				continue
			}
			select {
			case w.Events <- Event{Path: ev.Name, Operation: op, Time: time.Now()}:
			default:
				w.log.Warn("darklib: event buffer full, dropping", "path", ev.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("darklib: watch error", "error", err)
		case <-w.done:
			return
		}
	}
}

// isDarkFrame reports whether path names a file this library cares about:
// FITS/TIFF master darks, keyed off the conventional "dark" naming used by
// calibration-frame libraries.
func isDarkFrame(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".fit", ".fits", ".fts", ".tif", ".tiff":
		return true
	default:
		return false
	}
}
