package catalog

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/harun/voxrelay/internal/observability"
	"github.com/rs/zerolog/log"
)

// ReloadFunc re-reads a watched file.
type ReloadFunc func(path string) error

// Watcher reloads catalog data files when they change on disk.
//
// Parent directories are watched rather than the files themselves so that
// editors which save by rename are still picked up.
type Watcher struct {
	watcher            *fsnotify.Watcher
	stabilityThreshold time.Duration
	files              map[string]watchedFile
	done               chan struct{}
	debounceTimers     map[string]*time.Timer
	debounceMu         sync.Mutex
	stopOnce           sync.Once
}

type watchedFile struct {
	source string
	reload ReloadFunc
}

// NewWatcher creates a watcher with the given debounce window.
func NewWatcher(stabilityThreshold time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if stabilityThreshold <= 0 {
		stabilityThreshold = 200 * time.Millisecond
	}

	return &Watcher{
		watcher:            fw,
		stabilityThreshold: stabilityThreshold,
		files:              make(map[string]watchedFile),
		done:               make(chan struct{}),
		debounceTimers:     make(map[string]*time.Timer),
	}, nil
}

// Add registers path under a source label ("catalog", "service_area").
// Must be called before Start.
func (w *Watcher) Add(source, path string, reload ReloadFunc) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := w.watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	w.files[abs] = watchedFile{source: source, reload: reload}
	return nil
}

// Start begins processing file system events.
func (w *Watcher) Start() {
	go w.eventLoop()

	log.Info().Int("files", len(w.files)).Msg("Catalog watcher started")
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.debounceMu.Lock()
	for _, timer := range w.debounceTimers {
		timer.Stop()
	}
	clear(w.debounceTimers)
	w.debounceMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	log.Info().Msg("Catalog watcher stopped")
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Catalog watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	name, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}
	file, ok := w.files[name]
	if !ok {
		return
	}

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.debounceTimers[name]; exists {
		timer.Stop()
	}
	w.debounceTimers[name] = time.AfterFunc(w.stabilityThreshold, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, name)
		w.debounceMu.Unlock()

		select {
		case <-w.done:
			return
		default:
			w.reload(name, file)
		}
	})
}

func (w *Watcher) reload(path string, file watchedFile) {
	err := file.reload(path)
	observability.RecordCatalogReload(file.source, err == nil)
	observability.RecordCatalogAudit(file.source, path, err == nil)
	if err != nil {
		log.Error().
			Err(err).
			Str("source", file.source).
			Str("path", path).
			Msg("Reload failed, keeping previous data")
		return
	}
	log.Info().
		Str("source", file.source).
		Str("path", path).
		Msg("Reloaded data file")
}
