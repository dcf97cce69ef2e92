package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/gyaneshwarpardhi/nodegraph/internal/config"
)

// graphWatcher reloads the graph whenever the configured graph file changes.
// follow re-targets it when a config reload moves graph.path.
type graphWatcher struct {
	logger *slog.Logger
	reload func()

	mu   sync.Mutex
	path string
	stop func()
}

func newGraphWatcher(logger *slog.Logger, reload func()) *graphWatcher {
	return &graphWatcher{logger: logger, reload: reload}
}

// follow watches conf.Path when conf.Watch is set and stops watching otherwise.
func (w *graphWatcher) follow(conf config.GraphConf) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := ""
	if conf.Watch && conf.Path != "" {
		path = filepath.Clean(conf.Path)
	}
	if path == w.path {
		return nil
	}
	if w.stop != nil {
		w.stop()
		w.stop = nil
	}
	w.path = ""
	if path == "" {
		return nil
	}

	stop, err := watchFile(path, w.logger, w.reload)
	if err != nil {
		return err
	}
	w.path, w.stop = path, stop
	w.logger.Info("watching graph file", "path", path)
	return nil
}

// Close stops the current watch.
func (w *graphWatcher) Close() {
	_ = w.follow(config.GraphConf{})
}

// watchFile calls fn after every write to path. The parent directory is
// watched so editors that replace the file are still seen.
func watchFile(path string, logger *slog.Logger, fn func()) (func(), error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("graph watcher: %w", err)
	}
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("graph watcher add %s: %w", dir, err)
	}

	done := make(chan struct{})
	go func() {
		defer fw.Close()
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					fn()
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logger.Warn("graph watcher error", "path", path, "err", err)
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}
