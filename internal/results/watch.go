package results

import (
	"context"

	"github.com/fsnotify/fsnotify"
)

// Watch invokes onChange with the path of every record created or written
// in the results directory until ctx is cancelled. It lets a long-running
// dashboard pick up outcomes written by agents it did not launch without
// polling the directory.
func (s *Store) Watch(ctx context.Context, onChange func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(s.dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
				onChange(event.Name)
			}
		case _, ok := <-watcher.Errors:
			// Watch errors are non-fatal; the periodic reconcile still
			// covers anything missed.
			if !ok {
				return nil
			}
		}
	}
}
