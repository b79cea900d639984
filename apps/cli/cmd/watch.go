package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// WatchDebounceDelay is the debounce delay for file watch events
	WatchDebounceDelay = 300 * time.Millisecond
)

// watch re-runs the plan whenever the collection file changes, until ctx
// is done. Runs never overlap: a change during a run triggers one more
// run afterwards.
func watch(ctx context.Context, p *runPlan) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	path, err := filepath.Abs(p.stack.collection.Path())
	if err != nil {
		return err
	}
	// Watch the directory: editors often replace the file instead of
	// writing it in place.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	fmt.Fprintf(p.out, "\nWatching %s for changes... (press Ctrl+C to stop)\n\n", path)

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, _ := filepath.Abs(event.Name)
			if name == path && event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				debounce.Reset(WatchDebounceDelay)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.stack.logger.WithError(err).Warn("watcher error")

		case <-debounce.C:
			fmt.Fprintf(p.out, "\nFile changed: %s\nRe-running tests...\n\n", path)
			if err := p.stack.collection.Reload(); err != nil {
				fmt.Fprintf(p.errOut, "Reload failed, keeping previous version: %v\n", err)
				continue
			}
			if _, err := p.execute(ctx); err != nil {
				fmt.Fprintf(p.errOut, "Error: %v\n", err)
			}
			fmt.Fprintf(p.out, "\nWatching for changes... (press Ctrl+C to stop)\n")
		}
	}
}
