package sigma

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"vertex-audit/pkg/detection"
)

// reloadDebounce collapses bursts of writes (editors save in several steps).
const reloadDebounce = 200 * time.Millisecond

// Watch reloads the rule directory whenever a rule file changes and hands the result to
// onReload. It blocks until ctx is done.
func Watch(ctx context.Context, dir string, onReload func([]detection.Rule, error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sigma: create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("sigma: watch %s: %w", dir, err)
	}

	timer := time.NewTimer(reloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			onReload(nil, fmt.Errorf("sigma: watcher: %w", err))
		case <-timer.C:
			onReload(LoadDir(dir))
		}
	}
}
