package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of write events most editors produce
// when saving a file.
const reloadDebounce = 300 * time.Millisecond

// ChangeHandler receives the freshly loaded config after the file on disk
// changes.
type ChangeHandler func(cfg *Config)

// Watcher reloads the config file whenever it is rewritten and fans the
// result out to registered handlers. A load failure keeps the previous
// config in effect.
type Watcher struct {
	path    string
	fsw     *fsnotify.Watcher
	stop    chan struct{}
	stopped sync.Once

	mu       sync.Mutex
	handlers []ChangeHandler
}

// NewWatcher creates a watcher for the config file at path. Call Start to
// begin watching.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path: path,
		fsw:  fsw,
		stop: make(chan struct{}),
	}, nil
}

// OnChange registers a handler. Handlers run sequentially on the watcher
// goroutine.
func (w *Watcher) OnChange(handler ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

func (w *Watcher) Start() error {
	if err := w.fsw.Add(w.path); err != nil {
		return err
	}
	go w.loop()
	slog.Info("watching config file", "path", w.path)
	return nil
}

func (w *Watcher) Stop() {
	w.stopped.Do(func() {
		close(w.stop)
		w.fsw.Close()
	})
}

func (w *Watcher) loop() {
	var pending *time.Timer

	for {
		select {
		case <-w.stop:
			if pending != nil {
				pending.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// Editors replace files with rename+create as often as they
			// write in place.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDebounce, w.reload)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		slog.Error("config reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	handlers := make([]ChangeHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}
	slog.Info("config reloaded", "path", w.path)
}
