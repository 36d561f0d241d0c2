package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file when it changes on disk.
//
// The parent directory is watched rather than the file, so saves that
// replace the file (rename over, remove and create) are seen as well as
// in-place writes. Bursts of events are collapsed: the file is loaded once
// it has been quiet for the settle time.
type Watcher struct {
	path   string
	settle time.Duration
	reload func(Config)
	failed func(error)
	logger *slog.Logger

	fsw  *fsnotify.Watcher
	stop chan struct{}
	done chan struct{}
}

// Watch starts watching path. reload receives every config that loads and
// validates; failed, if non-nil, receives load errors, after which the
// previous config stays in effect. Both run on the watcher's goroutine.
func Watch(path string, settle time.Duration, logger *slog.Logger, reload func(Config), failed func(error)) (*Watcher, error) {
	path = filepath.Clean(path)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:   path,
		settle: settle,
		reload: reload,
		failed: failed,
		logger: logger,
		fsw:    fsw,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.loop()
	logger.Info("watching config", "path", path, "settle", settle)
	return w, nil
}

// Stop ends the watch and waits for an in-flight reload to return.
func (w *Watcher) Stop() error {
	close(w.stop)
	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)

	quiet := time.NewTimer(w.settle)
	quiet.Stop()
	defer quiet.Stop()

	for {
		select {
		case <-w.stop:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op == fsnotify.Chmod {
				continue
			}
			w.logger.Debug("config file changed", "op", ev.Op.String())
			quiet.Reset(w.settle)

		case <-quiet.C:
			w.load()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) load() {
	cfg, err := Load(w.path)
	if err != nil {
		// a replace can leave the path missing for a moment; the create
		// that follows triggers another load
		if w.failed != nil && !os.IsNotExist(err) {
			w.failed(err)
		}
		return
	}
	w.reload(cfg)
}
