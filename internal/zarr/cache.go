package zarr

import (
	"path/filepath"
	"sync"

	"github.com/keejkrej/mupattern-engine/internal/logger"
)

// CacheManager owns one Context per root path. Contexts live for the
// process lifetime and are never evicted; a workspace's crop store and a
// masks store get separate contexts.
type CacheManager struct {
	mu       sync.Mutex
	contexts map[string]*Context
}

// NewCacheManager creates an empty manager.
func NewCacheManager() *CacheManager {
	return &CacheManager{contexts: make(map[string]*Context)}
}

// Context returns the cache context for a root path, creating it on first
// use.
func (m *CacheManager) Context(root string) *Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ctx, ok := m.contexts[root]; ok {
		return ctx
	}
	ctx := &Context{
		root:    root,
		entries: make(map[string]*entry),
		open:    OpenArray,
	}
	m.contexts[root] = ctx
	return ctx
}

// entry is the shared future for one open attempt. Callers wait on done;
// exactly one of arr/err is set before done is closed.
type entry struct {
	done chan struct{}
	arr  *Array
	err  error
}

// Context memoizes array handles under one root path. Concurrent requests
// for the same key coalesce onto a single open; a failed open removes its
// entry so a later request retries fresh.
type Context struct {
	root    string
	mu      sync.Mutex
	entries map[string]*entry

	// open is swapped in tests to count and fail opens.
	open func(dir string) (*Array, error)
}

func cacheKey(positionID, cropID string) string {
	return positionID + "/" + cropID
}

func (c *Context) arrayDir(positionID, cropID string) string {
	return filepath.Join(c.root, "pos", positionID, "crop", cropID)
}

// Get resolves the array handle for (positionID, cropID), opening it on
// first use. At most one open per key is ever in flight.
func (c *Context) Get(positionID, cropID string) (*Array, error) {
	key := cacheKey(positionID, cropID)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		<-e.done
		return e.arr, e.err
	}

	e := &entry{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	arr, err := c.open(c.arrayDir(positionID, cropID))
	if err != nil {
		c.mu.Lock()
		if c.entries[key] == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		e.err = err
	} else {
		e.arr = arr
	}
	close(e.done)

	return e.arr, e.err
}

// Evict drops the cached handle for (positionID, cropID) so the next Get
// opens it fresh.
func (c *Context) Evict(positionID, cropID string) {
	key := cacheKey(positionID, cropID)
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// GetChunk reads one chunk through the cache. A faulted read evicts the
// handle and retries exactly once with a fresh open; this tolerates the
// store's metadata changing underneath a cached handle, e.g. while another
// process is still writing crops. A second failure surfaces to the caller.
func (c *Context) GetChunk(positionID, cropID string, indices []uint64) ([]uint16, error) {
	arr, err := c.Get(positionID, cropID)
	if err != nil {
		return nil, err
	}

	data, err := arr.ReadChunkUint16(indices)
	if err == nil {
		return data, nil
	}

	logger.Debug("Chunk read failed for %s/%s, reopening: %v", positionID, cropID, err)
	c.Evict(positionID, cropID)

	arr, reopenErr := c.Get(positionID, cropID)
	if reopenErr != nil {
		return nil, reopenErr
	}
	return arr.ReadChunkUint16(indices)
}

// GetFrame reads the (H,W) plane at timepoint t, channel ch, slice z.
func (c *Context) GetFrame(positionID, cropID string, t, ch, z uint64) ([]uint16, error) {
	return c.GetChunk(positionID, cropID, []uint64{t, ch, z, 0, 0})
}
