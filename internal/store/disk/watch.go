package disk

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Watch drops index entries whose value files are removed or renamed by
// something other than this store, such as an OS cache cleaner. The watcher
// is registered before Watch returns and runs until ctx is done.
func (s *Store[V]) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error creating fsnotify watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("error adding dir to fsnotify watcher: %w", err)
	}
	s.logger.Debug("watching cache dir", "dir", s.dir)

	go func() {
		defer watcher.Close() //nolint:errcheck
		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("cache dir unwatched", "dir", s.dir)
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				s.forget(event.Name)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Debug("fsnotify error", "dir", s.dir, "error", err)
			}
		}
	}()
	return nil
}

// forget removes the index entry backed by path, if any. A file that
// exists again by the time the event is handled was rewritten by Set.
func (s *Store[V]) forget(path string) {
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.index {
		if e.FilePath == path {
			delete(s.index, key)
			s.dirty = true
			s.logger.Debug("cache file removed externally", "key", key, "path", path)
			return
		}
	}
}
