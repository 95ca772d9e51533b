package source

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Handle is one cached open data file. Reads through a handle must hold its
// mutex: the underlying *os.File position is shared state. Distinct handles
// are read fully in parallel.
type Handle struct {
	path     string
	file     *os.File
	mu       sync.Mutex
	lastUsed time.Time
}

// ReadAll rewinds the file and returns its full contents, serialized against
// other readers of the same handle.
func (h *Handle) ReadAll() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.file.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("failed to rewind %s: %w", h.path, err)
	}

	info, err := h.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", h.path, err)
	}

	buf := make([]byte, info.Size())
	n, err := h.file.Read(buf)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("failed to read %s: %w", h.path, err)
	}
	return buf[:n], nil
}

// HandleCache keeps data files open across the many subscriptions that read
// the same file, bounding open-descriptor count with TTL eviction.
type HandleCache struct {
	handles map[string]*Handle
	mu      sync.Mutex
	ttl     time.Duration
	logger  *logrus.Entry

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewHandleCache creates a handle cache with the given idle TTL.
func NewHandleCache(ttl time.Duration, cleanupInterval time.Duration, logger *logrus.Logger) *HandleCache {
	c := &HandleCache{
		handles: make(map[string]*Handle),
		ttl:     ttl,
		logger:  logger.WithField("component", "handle-cache"),
		done:    make(chan struct{}),
	}

	c.wg.Add(1)
	go c.evictLoop(cleanupInterval)

	return c
}

// Acquire returns the cached handle for path, opening the file if needed.
// A missing file maps to ErrNotFound.
func (c *HandleCache) Acquire(path string) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.handles[path]; ok {
		h.lastUsed = time.Now()
		return h, nil
	}

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	h := &Handle{path: path, file: file, lastUsed: time.Now()}
	c.handles[path] = h
	return h, nil
}

// Len returns the number of open handles.
func (c *HandleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

// Close evicts every handle and stops the eviction loop.
func (c *HandleCache) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for path, h := range c.handles {
		h.file.Close()
		delete(c.handles, path)
	}
	return nil
}

func (c *HandleCache) evictLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictIdle()
		}
	}
}

func (c *HandleCache) evictIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.ttl)
	for path, h := range c.handles {
		if h.lastUsed.Before(cutoff) {
			h.file.Close()
			delete(c.handles, path)
			c.logger.WithField("path", path).Debug("Evicted idle handle")
		}
	}
}
