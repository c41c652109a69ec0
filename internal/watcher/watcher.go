// Package watcher turns filesystem notifications into file change events.
// It deduplicates spurious notifications by content hash so downstream
// consumers only see changes that actually altered file content.
package watcher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/twinindex/twinindex/pkg/types"
)

// DefaultEventBuffer bounds the outgoing event channel.
const DefaultEventBuffer = 256

// Watcher observes a directory tree and emits content-level changes.
type Watcher struct {
	root   string
	fs     *fsnotify.Watcher
	events chan types.FileChange
	logger *slog.Logger

	mu     sync.Mutex
	hashes map[string]string // relative path -> content hash

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a watcher rooted at the given directory. The tree is
// walked once to register watches and snapshot content hashes; changes
// are reported relative to that baseline.
func New(root string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch root: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	w := &Watcher{
		root:   abs,
		fs:     fsw,
		events: make(chan types.FileChange, DefaultEventBuffer),
		logger: logger.With("component", "watcher"),
		hashes: make(map[string]string),
		done:   make(chan struct{}),
	}

	if err := w.register(abs); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

// Events returns the channel of content-level file changes. The channel
// is closed when the watcher is closed.
func (w *Watcher) Events() <-chan types.FileChange {
	return w.events
}

// Close stops watching and closes the event channel.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fs.Close()
		<-w.done
		close(w.events)
	})
	return err
}

// register walks the tree under dir, adding directory watches and
// recording a content hash for every regular file.
func (w *Watcher) register(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDir(d.Name(), path != dir) {
				return filepath.SkipDir
			}
			if err := w.fs.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
			return nil
		}
		if hash, err := hashFile(path); err == nil {
			w.mu.Lock()
			w.hashes[w.rel(path)] = hash
			w.mu.Unlock()
		}
		return nil
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel := w.rel(ev.Name)

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.mu.Lock()
		_, known := w.hashes[rel]
		delete(w.hashes, rel)
		w.mu.Unlock()
		if known {
			w.emit(rel, types.ChangeDeleted)
		}

	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) && !skipDir(info.Name(), true) {
				if err := w.register(ev.Name); err != nil {
					w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
				}
			}
			return
		}

		hash, err := hashFile(ev.Name)
		if err != nil {
			return
		}
		w.mu.Lock()
		prev, known := w.hashes[rel]
		if prev == hash {
			w.mu.Unlock()
			return
		}
		w.hashes[rel] = hash
		w.mu.Unlock()

		if known {
			w.emit(rel, types.ChangeModified)
		} else {
			w.emit(rel, types.ChangeCreated)
		}
	}
}

func (w *Watcher) emit(rel string, kind types.ChangeKind) {
	change := types.FileChange{
		Path:      rel,
		Kind:      kind,
		Timestamp: time.Now(),
	}
	select {
	case w.events <- change:
	default:
		w.logger.Warn("event buffer full, dropping change", "path", rel, "kind", kind)
	}
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// skipDir reports whether a directory should be excluded from watching.
// The root itself is never skipped even when it is hidden.
func skipDir(name string, nested bool) bool {
	if !nested {
		return false
	}
	return strings.HasPrefix(name, ".") || name == "vendor" || name == "node_modules"
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
