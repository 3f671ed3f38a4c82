// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package inkwell

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG HOT-RELOAD
// =============================================================================

// watchDebounce is how long the file must be quiet before a reload fires.
// Editors and atomic saves produce bursts of events for one logical change.
const watchDebounce = 300 * time.Millisecond

// watchFlushInterval is how often pending changes are checked against the
// debounce window.
const watchFlushInterval = 100 * time.Millisecond

// ConfigWatcher reloads a config file when it changes on disk and hands each
// successfully loaded snapshot to a callback. Reloads that fail validation or
// decoding are skipped with a logged diagnostic; the previous config stays in
// effect.
type ConfigWatcher struct {
	path     string
	onChange func(*Config)
	watcher  *fsnotify.Watcher

	mu        sync.Mutex
	pendingAt time.Time // zero when no reload is pending

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// WatchConfig watches path and invokes onChange with each new config loaded
// after a change settles. The callback runs on the watcher goroutine.
func WatchConfig(path string, onChange func(*Config)) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: atomic saves replace the inode and a
	// watch on the old file goes quiet after the rename.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &ConfigWatcher{
		path:     abs,
		onChange: onChange,
		watcher:  watcher,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go w.run()

	return w, nil
}

// run processes file system events until the watcher is closed.
func (w *ConfigWatcher) run() {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("WARNING: config watcher stopped: %v", r)
		}
	}()

	ticker := time.NewTicker(watchFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.mu.Lock()
			w.pendingAt = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("WARNING: config watcher error: %v", err)

		case <-ticker.C:
			w.mu.Lock()
			fire := !w.pendingAt.IsZero() && time.Since(w.pendingAt) >= watchDebounce
			if fire {
				w.pendingAt = time.Time{}
			}
			w.mu.Unlock()

			if fire {
				w.reload()
			}
		}
	}
}

// reload loads the watched file and delivers the result.
func (w *ConfigWatcher) reload() {
	cfg, err := LoadFromPath(w.path)
	if err != nil {
		log.Printf("WARNING: config reload skipped: %v", err)
		return
	}
	w.onChange(cfg)
}

// Close stops watching and waits for the watcher goroutine to exit.
func (w *ConfigWatcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}
