package shm

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WaitFor blocks until the named region exists or ctx is done.
func WaitFor(ctx context.Context, name string) error {
	if !validName(name) {
		return fmt.Errorf("invalid shared memory name %q", name)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(Dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", Dir, err)
	}

	// The object may have appeared before the watch was installed.
	if Exists(name) {
		return nil
	}

	want := objectName(name)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher for %s closed", Dir)
			}
			if event.Has(fsnotify.Create) && filepath.Base(event.Name) == want {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher for %s closed", Dir)
			}
			return fmt.Errorf("watching %s: %w", Dir, err)
		}
	}
}
