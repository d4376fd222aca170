// Package watcher monitors the settings file for edits so the worker can
// react to configuration changes without a manual restart.
package watcher

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// debounceWindow collapses the bursts of events editors emit for one save.
const debounceWindow = 500 * time.Millisecond

// SettingsWatcher watches a single settings file and invokes a callback
// after edits settle.
type SettingsWatcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	path     string
	onChange func()
	lastSeen time.Time
	pending  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// NewSettingsWatcher creates a watcher for the settings file at path.
// onChange runs on the watcher goroutine after a settled edit.
func NewSettingsWatcher(path string, onChange func()) (*SettingsWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &SettingsWatcher{
		watcher:  fw,
		path:     path,
		onChange: onChange,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; events are handled on a goroutine.
// The parent directory is watched rather than the file itself, so atomic
// rename-style saves are seen too.
func (w *SettingsWatcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	log.Debug().Str("path", w.path).Msg("Watching settings file")
	go w.run()
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *SettingsWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	_ = w.watcher.Close()
}

func (w *SettingsWatcher) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Settings watcher error")

		case <-ticker.C:
			w.fireSettled()
		}
	}
}

func (w *SettingsWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	w.lastSeen = time.Now()
	w.pending = true
	w.mu.Unlock()
}

func (w *SettingsWatcher) fireSettled() {
	w.mu.Lock()
	ready := w.pending && time.Since(w.lastSeen) >= debounceWindow
	if ready {
		w.pending = false
	}
	w.mu.Unlock()

	if ready && w.onChange != nil {
		log.Info().Str("path", w.path).Msg("Settings file changed")
		w.onChange()
	}
}
