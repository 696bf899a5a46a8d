// Package watch runs the analyzer continuously over a drop directory: every
// new or rewritten batch file triggers an analysis run after a debounce
// window, so partially written files settle before being read.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Handler processes one batch file.
type Handler func(ctx context.Context, path string) error

// Watcher watches a directory for batch files.
type Watcher struct {
	dir      string
	debounce time.Duration
	handler  Handler
	log      *logrus.Entry

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a watcher over dir. Debounce <= 0 defaults to 2s.
func New(dir string, debounce time.Duration, handler Handler) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		handler:  handler,
		log:      logrus.WithField("component", "watch"),
		timers:   map[string]*time.Timer{},
	}
}

// Run blocks watching the directory until the context ends.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.log.Infof("watching %s for batch files (debounce %s)", w.dir, w.debounce)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			w.trigger(ctx, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warnf("watch error: %v", err)
		}
	}
}

// trigger (re)arms the per-file debounce timer.
func (w *Watcher) trigger(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.log.Infof("analyzing %s", filepath.Base(path))
		if err := w.handler(ctx, path); err != nil {
			w.log.Errorf("analyze %s: %v", filepath.Base(path), err)
		}
	})
}
