package jsvm

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const watchDebounce = 100 * time.Millisecond

// watcher evicts cached modules whose source file changes on disk, so the
// next require loads the new version.
type watcher struct {
	sb     *Sandbox
	fw     *fsnotify.Watcher
	logger zerolog.Logger

	mu         sync.Mutex
	dirs       map[string]bool
	debounce   map[string]*time.Timer
	closed     bool
	loopExited chan struct{}
}

// Watch starts evicting cache entries of file-backed modules when their
// file is written, removed or renamed. Modules already loaded are watched
// as well as those loaded later.
func (sb *Sandbox) Watch() error {
	sb.mu.Lock()
	if sb.closed {
		sb.mu.Unlock()
		return errSandboxClosed
	}
	if sb.watcher != nil {
		sb.mu.Unlock()
		return nil
	}
	sb.mu.Unlock()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &watcher{
		sb:         sb,
		fw:         fw,
		logger:     sb.logger,
		dirs:       make(map[string]bool),
		debounce:   make(map[string]*time.Timer),
		loopExited: make(chan struct{}),
	}

	// Start watching in background
	go w.watchLoop()

	sb.mu.Lock()
	sb.watcher = w
	var paths []string
	for _, e := range sb.cache {
		if e.path != "" && e.state == stateLoaded {
			paths = append(paths, e.path)
		}
	}
	sb.mu.Unlock()

	for _, p := range paths {
		w.track(p)
	}
	return nil
}

// track adds the directory holding path to the watch list.
func (w *watcher) track(path string) {
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.dirs[dir] {
		return
	}

	if err := w.fw.Add(dir); err != nil {
		w.logger.Warn().Err(err).Str("dir", dir).Msg("failed to watch module directory")
		return
	}
	w.dirs[dir] = true
	w.logger.Debug().Str("dir", dir).Msg("watching module directory")
}

// watchLoop processes file system events.
func (w *watcher) watchLoop() {
	defer close(w.loopExited)

	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.debouncedEvict(event.Name)
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

// debouncedEvict evicts path's module after events settle for watchDebounce.
func (w *watcher) debouncedEvict(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	// Cancel existing timer
	if timer, ok := w.debounce[path]; ok {
		timer.Stop()
	}

	w.debounce[path] = time.AfterFunc(watchDebounce, func() {
		w.mu.Lock()
		delete(w.debounce, path)
		w.mu.Unlock()

		if n := w.sb.evictPath(path); n > 0 {
			w.logger.Info().Str("path", path).Int("modules", n).Msg("evicted changed module")
		}
	})
}

// close stops watching and cancels pending evictions.
func (w *watcher) close() error {
	w.mu.Lock()
	w.closed = true
	for _, timer := range w.debounce {
		timer.Stop()
	}
	w.debounce = make(map[string]*time.Timer)
	w.mu.Unlock()

	err := w.fw.Close()
	<-w.loopExited
	return err
}

// evictPath drops every loaded cache entry backed by path and returns how
// many were removed. Entries still loading are left alone.
func (sb *Sandbox) evictPath(path string) int {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	n := 0
	for id, e := range sb.cache {
		if e.path == path && e.state == stateLoaded {
			delete(sb.cache, id)
			n++
		}
	}
	return n
}
