package orchestrator

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Control file names recognized in the control directory.
const (
	cancelFile = "cancel"
	pauseFile  = "pause"
)

// Controller watches a control directory for cooperative run signals.
// Creating a file named "cancel" aborts the run; a file named "pause"
// suspends dispatch of new nodes until it is removed.
type Controller struct {
	dir string

	mu        sync.RWMutex
	cancelled bool
	paused    bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewController creates a controller over the given directory, creating the
// directory if needed. If the filesystem watcher cannot start, the
// controller still works via on-demand polling.
func NewController(dir string) (*Controller, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	c := &Controller{dir: dir, done: make(chan struct{})}
	c.poll()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[control] watcher unavailable, falling back to polling: %v", err)
		return c, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		log.Printf("[control] cannot watch %s, falling back to polling: %v", dir, err)
		return c, nil
	}
	c.watcher = watcher
	go c.watch()

	return c, nil
}

func (c *Controller) watch() {
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			switch filepath.Base(event.Name) {
			case cancelFile:
				if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					c.mu.Lock()
					c.cancelled = true
					c.mu.Unlock()
					log.Printf("[control] cancel requested")
				}
			case pauseFile:
				c.mu.Lock()
				if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					c.paused = true
					log.Printf("[control] paused")
				} else if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					c.paused = false
					log.Printf("[control] resumed")
				}
				c.mu.Unlock()
			}
		case <-c.watcher.Errors:
			// Keep watching.
		}
	}
}

// poll refreshes state from the filesystem directly. Used at startup and as
// the fallback when no watcher is running.
func (c *Controller) poll() {
	_, cancelErr := os.Stat(filepath.Join(c.dir, cancelFile))
	_, pauseErr := os.Stat(filepath.Join(c.dir, pauseFile))

	c.mu.Lock()
	if cancelErr == nil {
		c.cancelled = true
	}
	c.paused = pauseErr == nil
	c.mu.Unlock()
}

// Cancelled reports whether a cancel was requested. Cancel is sticky.
func (c *Controller) Cancelled() bool {
	if c.watcher == nil {
		c.poll()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cancelled
}

// Paused reports whether dispatch should be suspended.
func (c *Controller) Paused() bool {
	if c.watcher == nil {
		c.poll()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// Stop shuts down the watcher.
func (c *Controller) Stop() {
	close(c.done)
	if c.watcher != nil {
		c.watcher.Close()
	}
}
