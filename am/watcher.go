package am

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/teranos/zbulk/errors"
	"go.uber.org/zap"
)

// ReloadCallback is called when config is reloaded
type ReloadCallback func(*Config) error

// ConfigWatcher watches config (and related) files and calls the registered
// callbacks with a freshly loaded Config after a burst of writes settles.
type ConfigWatcher struct {
	paths          []string
	watcher        *fsnotify.Watcher
	load           func() (*Config, error)
	logger         *zap.SugaredLogger
	callbacks      []ReloadCallback
	mu             sync.Mutex
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	done           chan struct{}
	stopOnce       sync.Once
}

// WatcherOption customises a ConfigWatcher
type WatcherOption func(*ConfigWatcher)

// WithLoader replaces the default loader (Reset + Load)
func WithLoader(load func() (*Config, error)) WatcherOption {
	return func(cw *ConfigWatcher) { cw.load = load }
}

// WithDebounce sets how long writes must settle before reloading
func WithDebounce(d time.Duration) WatcherOption {
	return func(cw *ConfigWatcher) { cw.debouncePeriod = d }
}

// WithWatcherLogger sets the watcher's logger
func WithWatcherLogger(l *zap.SugaredLogger) WatcherOption {
	return func(cw *ConfigWatcher) { cw.logger = l }
}

// NewConfigWatcher creates a watcher over the given files
func NewConfigWatcher(paths []string, opts ...WatcherOption) (*ConfigWatcher, error) {
	if len(paths) == 0 {
		return nil, errors.New("config watcher needs at least one path")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}

	for _, p := range paths {
		if err := watcher.Add(p); err != nil {
			watcher.Close()
			return nil, errors.Wrapf(err, "failed to watch %s", p)
		}
	}

	cw := &ConfigWatcher{
		paths:          paths,
		watcher:        watcher,
		logger:         zap.NewNop().Sugar(),
		debouncePeriod: 500 * time.Millisecond,
		done:           make(chan struct{}),
		load: func() (*Config, error) {
			Reset()
			return Load()
		},
	}
	for _, opt := range opts {
		opt(cw)
	}
	return cw, nil
}

// OnReload registers a callback to be called when config is reloaded
func (cw *ConfigWatcher) OnReload(callback ReloadCallback) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// Start begins watching for file changes
func (cw *ConfigWatcher) Start() {
	go cw.watchLoop()
}

func (cw *ConfigWatcher) watchLoop() {
	for {
		select {
		case <-cw.done:
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			// Editors often replace files (rename + create) instead of writing in place
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				cw.logger.Debugw("Config watcher detected change",
					"file", event.Name,
					"op", event.Op.String())
				cw.scheduleReload()
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warnw("Config watcher error", "error", err)
		}
	}
}

// scheduleReload debounces rapid file changes and triggers reload
func (cw *ConfigWatcher) scheduleReload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}

	cw.debounceTimer = time.AfterFunc(cw.debouncePeriod, func() {
		if err := cw.reload(); err != nil {
			cw.logger.Errorw("Config reload failed", "error", err)
		}
	})
}

// reload loads the configuration and calls all callbacks
func (cw *ConfigWatcher) reload() error {
	newConfig, err := cw.load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	cw.logger.Infow("Config reloaded", "paths", cw.paths)

	cw.mu.Lock()
	callbacks := make([]ReloadCallback, len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.Unlock()

	for _, callback := range callbacks {
		if err := callback(newConfig); err != nil {
			// Keep going: one failing subscriber shouldn't starve the rest
			cw.logger.Warnw("Config reload callback error", "error", err)
		}
	}

	return nil
}

// Stop stops watching for changes
func (cw *ConfigWatcher) Stop() error {
	var err error
	cw.stopOnce.Do(func() {
		close(cw.done)
		cw.mu.Lock()
		if cw.debounceTimer != nil {
			cw.debounceTimer.Stop()
		}
		cw.mu.Unlock()
		err = cw.watcher.Close()
	})
	return err
}
