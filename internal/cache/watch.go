package cache

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch starts evicting entries as soon as their files change on disk.
// Directories are added as their policy files are loaded. Fingerprint
// checks stay in place, so a missed event only costs a stale-check.
func (c *Cache) Watch(ctx context.Context) error {
	c.watchMu.Lock()
	if c.watcher != nil {
		c.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.watchMu.Unlock()
		return err
	}
	c.watcher = watcher
	c.watchDirs = make(map[string]struct{})
	watchCtx, cancel := context.WithCancel(ctx)
	c.watchCancel = cancel
	for _, path := range c.entries.Keys() {
		c.addWatchLocked(filepath.Dir(path))
	}
	c.watchMu.Unlock()

	c.watchWg.Add(1)
	go c.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the watcher, if any.
func (c *Cache) Close() error {
	c.watchMu.Lock()
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
	watcher := c.watcher
	c.watcher = nil
	c.watchMu.Unlock()

	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	c.watchWg.Wait()
	return err
}

func (c *Cache) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer c.watchWg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) != 0 {
				c.Invalidate(filepath.Clean(event.Name))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.watchError(err)
		}
	}
}

// watchError purges everything on overflow, since the dropped events
// may have named cached files.
func (c *Cache) watchError(err error) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		c.logger.Warn("policy watch overflowed, purging cache", "error", err)
		c.Purge()
		return
	}
	c.logger.Warn("policy watch error", "error", err)
}

func (c *Cache) watchFile(path string) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.watcher == nil {
		return
	}
	c.addWatchLocked(filepath.Dir(path))
}

func (c *Cache) addWatchLocked(dir string) {
	if _, ok := c.watchDirs[dir]; ok {
		return
	}
	if err := c.watcher.Add(dir); err != nil {
		c.logger.Debug("failed to watch policy directory", "path", dir, "error", err)
		return
	}
	c.watchDirs[dir] = struct{}{}
}
