package skills

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/jingkaihe/skillkit/pkg/logger"
	"github.com/pkg/errors"
)

// Cache holds the last DiscoveryResult and rescans only after Invalidate or,
// once Watch is running, after a change under one of the roots.
type Cache struct {
	discovery *Discovery

	mu      sync.Mutex
	result  *DiscoveryResult
	watcher *fsnotify.Watcher
}

// NewCache wraps a Discovery with a result cache.
func NewCache(d *Discovery) *Cache {
	return &Cache{discovery: d}
}

// Get returns the cached result, discovering first if needed.
func (c *Cache) Get(ctx context.Context) *DiscoveryResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.result == nil {
		c.result = c.discovery.Discover(ctx)
	}
	return c.result
}

// Invalidate drops the cached result.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.result = nil
	c.mu.Unlock()
}

// Watch starts watching the roots and their package directories, dropping
// the cached result on every change. It returns once the watcher is set up;
// events are processed until ctx is done or Close is called.
func (c *Cache) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}

	roots := make(map[string]bool)
	for _, root := range c.discovery.roots.All() {
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		roots[abs] = true
		if err := watcher.Add(abs); err != nil {
			logger.G(ctx).WithError(err).WithField("root", abs).Debug("not watching skills root")
			continue
		}
		entries, err := os.ReadDir(abs)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				_ = watcher.Add(filepath.Join(abs, entry.Name()))
			}
		}
	}

	c.mu.Lock()
	c.watcher = watcher
	c.mu.Unlock()

	go c.loop(ctx, watcher, roots)
	return nil
}

func (c *Cache) loop(ctx context.Context, watcher *fsnotify.Watcher, roots map[string]bool) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			logger.G(ctx).WithField("path", event.Name).WithField("op", event.Op.String()).Debug("skills changed")
			if event.Op&fsnotify.Create == fsnotify.Create && roots[filepath.Dir(event.Name)] {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			c.Invalidate()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.G(ctx).WithError(err).Warn("skills watcher error")
			c.Invalidate()
		case <-ctx.Done():
			_ = watcher.Close()
			return
		}
	}
}

// Close stops the watcher, if any.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watcher == nil {
		return nil
	}
	err := c.watcher.Close()
	c.watcher = nil
	return err
}
