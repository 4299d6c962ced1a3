package runtime

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// specWatcher watches the spec file and fires a debounced callback on
// change. Editors replace files with rename-and-create sequences, so
// the watch covers the parent directory and filters by name.
type specWatcher struct {
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func watchSpec(ctx context.Context, path string, debounce time.Duration, logger *slog.Logger, onChange func()) (*specWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &specWatcher{watcher: watcher, cancel: cancel}
	w.wg.Add(1)
	go w.loop(watchCtx, abs, debounce, logger, onChange)
	return w, nil
}

func (w *specWatcher) loop(ctx context.Context, path string, debounce time.Duration, logger *slog.Logger, onChange func()) {
	defer w.wg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, onChange)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				logger.Debug("spec file changed", "op", event.Op.String())
				schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("spec watch error", "error", err)
		}
	}
}

// Close stops the watcher and waits for the loop to exit.
func (w *specWatcher) Close() {
	w.cancel()
	w.watcher.Close()
	w.wg.Wait()
}
