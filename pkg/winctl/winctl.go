// Package winctl locates top-level desktop windows by title and caches
// the enumeration so repeated lookups stay cheap. A stale cache is never
// fatal: callers invalidate it and the next lookup re-enumerates.
package winctl

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrWindowNotFound is returned when no window title matches the query
var ErrWindowNotFound = errors.New("window not found")

// ErrUnsupported is returned on platforms without window enumeration support
var ErrUnsupported = errors.New("window enumeration is not supported on this platform")

// Window identifies one top-level window
type Window struct {
	Handle uintptr
	Title  string
}

// Enumerator lists the visible top-level windows of the desktop
type Enumerator func() ([]Window, error)

// Locator resolves window titles to handles
type Locator interface {
	// Resolve finds a window by title, enumerating only when the cache
	// is empty. Exact title matches win over substring matches.
	Resolve(title string) (Window, error)
	// ResolveFresh re-enumerates before searching.
	ResolveFresh(title string) (Window, error)
	// Invalidate drops the cached enumeration so the next Resolve
	// re-enumerates. Called after a send to a stale handle fails.
	Invalidate()
}

// Cache is a mutex-guarded window list fed by an Enumerator.
// It implements Locator.
type Cache struct {
	mu      sync.RWMutex
	enum    Enumerator
	windows []Window
}

// NewCache creates a window cache backed by the given enumerator.
// Passing nil uses the platform enumerator.
func NewCache(enum Enumerator) *Cache {
	if enum == nil {
		enum = enumWindows
	}
	return &Cache{enum: enum}
}

// Refresh clears the cache and re-enumerates
func (c *Cache) Refresh() error {
	windows, err := c.enum()
	if err != nil {
		return fmt.Errorf("failed to enumerate windows: %w", err)
	}

	c.mu.Lock()
	c.windows = windows
	c.mu.Unlock()
	return nil
}

// Invalidate drops all cached entries
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.windows = nil
	c.mu.Unlock()
}

// Windows returns a snapshot of the cached enumeration
func (c *Cache) Windows() []Window {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Window, len(c.windows))
	copy(out, c.windows)
	return out
}

// List re-enumerates and returns the current visible windows
func (c *Cache) List() ([]Window, error) {
	if err := c.Refresh(); err != nil {
		return nil, err
	}
	return c.Windows(), nil
}

// Resolve finds a window by title using the cache, enumerating only when
// the cache is empty
func (c *Cache) Resolve(title string) (Window, error) {
	c.mu.RLock()
	empty := len(c.windows) == 0
	c.mu.RUnlock()

	if empty {
		if err := c.Refresh(); err != nil {
			return Window{}, err
		}
	}

	return c.search(title)
}

// ResolveFresh re-enumerates and then finds a window by title
func (c *Cache) ResolveFresh(title string) (Window, error) {
	if err := c.Refresh(); err != nil {
		return Window{}, err
	}
	return c.search(title)
}

// search scans the cache for an exact title match first, then falls back
// to the first substring match
func (c *Cache) search(title string) (Window, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, w := range c.windows {
		if w.Title == title {
			return w, nil
		}
	}
	for _, w := range c.windows {
		if title != "" && strings.Contains(w.Title, title) {
			return w, nil
		}
	}

	return Window{}, fmt.Errorf("no window matching %q: %w", title, ErrWindowNotFound)
}
