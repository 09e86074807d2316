// Package configwatch hot-reloads the log level from the configuration
// file without restarting the process (SPEC_FULL §4.11). The
// debug.performance flag is reported in the reload log line but not
// applied to anything.
//
// Grounded on internal/driver/watcher.FileWatch's fsnotify usage,
// narrowed from watching a directory tree for new media files to
// watching a single config file path for writes.
package configwatch

import (
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/brightlinelabs/depthstream/internal/config"
	"github.com/brightlinelabs/depthstream/internal/servicelog"
)

// Watcher reloads path on every write and applies the debug on/off
// setting to logger, never touching structural settings (pool sizes,
// sensor enablement, ports) that require a restart.
type Watcher struct {
	path   string
	logger servicelog.Logger
	fsw    *fsnotify.Watcher
	done   chan struct{}
}

// New starts watching path immediately.
func New(path string, logger servicelog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("configwatch: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("configwatch: watch %s: %w", path, err)
	}
	w := &Watcher{path: path, logger: logger, fsw: fsw, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", servicelog.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous settings", servicelog.Error(err))
		return
	}
	w.logger.SetDebug(cfg.Debug.LogLevel == "debug")
	w.logger.Info("config reloaded",
		servicelog.String("logLevel", cfg.Debug.LogLevel),
		servicelog.Bool("performance", cfg.Debug.Performance))
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
