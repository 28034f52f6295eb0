// Package cache provides the bounded, file-aware LRU cache shared by all
// lookup-heavy sutra components.
//
// Each entry may be associated with the source file its value was derived
// from. When such an entry is read, the file's modification time is compared
// with the time recorded at insertion; if the file changed (or can no longer
// be inspected) every entry tied to that file is purged and the read reports
// a miss. The cache therefore never serves a value derived from a stale file.
//
// Two ceilings are enforced on every insertion, in order: a maximum entry
// count and a maximum estimated memory footprint. Both evict from the
// least-recently-used end.
//
// All methods are safe for concurrent use.
package cache

import (
	"container/list"
	"os"
	"sync"
	"time"
)

// entryOverhead approximates the bookkeeping bytes of a single entry
// (list element, map slot, entry struct).
const entryOverhead = 96

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	Evictions      int64 `json:"evictions"`
	Invalidations  int64 `json:"invalidations"`
	Entries        int   `json:"entries"`
	EstimatedBytes int64 `json:"estimated_bytes"`
	MaxEntries     int   `json:"max_entries"`
	MaxBytes       int64 `json:"max_bytes"`
}

// HitRate returns Hits / (Hits + Misses), or 0 when nothing was looked up.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Config contains cache configuration options.
type Config struct {
	// MaxEntries is the maximum number of entries (0 = unlimited).
	MaxEntries int

	// MaxBytes is the maximum estimated memory footprint (0 = unlimited).
	MaxBytes int64

	// SizeOf estimates the byte size of a value. When nil only the key and
	// the fixed per-entry overhead are counted.
	SizeOf func(value any) int64

	// OnInvalidate is called, outside the cache lock, after all entries
	// tied to path have been purged because the file changed.
	OnInvalidate func(path string)
}

type entry[V any] struct {
	key      string
	value    V
	file     string
	mtime    time.Time
	inserted time.Time
	size     int64
}

// fileState tracks which keys were derived from a file.
type fileState struct {
	mtime time.Time
	keys  map[string]struct{}
}

// Cache is a thread-safe LRU cache keyed by string.
type Cache[V any] struct {
	cfg     Config
	modTime func(path string) (time.Time, error)

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
	files map[string]*fileState
	bytes int64
	stats Stats
}

// New creates an empty [Cache] with the given configuration.
func New[V any](cfg Config) *Cache[V] {
	if cfg.MaxEntries < 0 {
		cfg.MaxEntries = 0
	}
	if cfg.MaxBytes < 0 {
		cfg.MaxBytes = 0
	}
	return &Cache[V]{
		cfg:     cfg,
		modTime: statModTime,
		ll:      list.New(),
		items:   make(map[string]*list.Element),
		files:   make(map[string]*fileState),
	}
}

// statModTime returns the modification time of path.
func statModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Get retrieves the value stored under key.
//
// sourceFile optionally names a file the caller wants validated. When empty,
// the file recorded with the entry (if any) is validated instead. A changed or
// unreadable file purges every entry tied to it and the call reports a miss.
func (c *Cache[V]) Get(key, sourceFile string) (V, bool) {
	var zero V

	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		return zero, false
	}
	e := el.Value.(*entry[V])
	check := sourceFile
	if check == "" {
		check = e.file
	}
	if check == "" {
		c.ll.MoveToFront(el)
		c.stats.Hits++
		v := e.value
		c.mu.Unlock()
		return v, true
	}
	recorded := c.recordedLocked(e, check)
	c.mu.Unlock()

	// Stat outside the lock; the entry is re-resolved afterwards.
	mt, err := c.modTime(check)
	changed := err != nil || mt.After(recorded)

	c.mu.Lock()
	if changed {
		c.invalidateLocked(check)
		if el, ok := c.items[key]; ok {
			c.removeElement(el)
		}
		c.stats.Misses++
		c.mu.Unlock()
		if c.cfg.OnInvalidate != nil {
			c.cfg.OnInvalidate(check)
		}
		return zero, false
	}
	el, ok = c.items[key]
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		return zero, false
	}
	c.ll.MoveToFront(el)
	c.stats.Hits++
	v := el.Value.(*entry[V]).value
	c.mu.Unlock()
	return v, true
}

// recordedLocked returns the modification time to compare path against for e.
// Must be called with c.mu held.
func (c *Cache[V]) recordedLocked(e *entry[V], path string) time.Time {
	if e.file == path {
		return e.mtime
	}
	if fs, ok := c.files[path]; ok {
		return fs.mtime
	}
	return e.inserted
}

// Put inserts or overwrites the value stored under key. sourceFile, when
// non-empty, ties the entry to that file for modification tracking; its
// modification time is recorded now. A value tied to a file that cannot be
// inspected is not stored, and any previous value under key is dropped.
func (c *Cache[V]) Put(key string, value V, sourceFile string) {
	var mtime time.Time
	if sourceFile != "" {
		mt, err := c.modTime(sourceFile)
		if err != nil {
			c.mu.Lock()
			if el, ok := c.items[key]; ok {
				c.removeElement(el)
			}
			c.mu.Unlock()
			return
		}
		mtime = mt
	}
	size := int64(entryOverhead + len(key) + len(sourceFile))
	if c.cfg.SizeOf != nil {
		size += c.cfg.SizeOf(value)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		c.untrackLocked(e)
		c.bytes += size - e.size
		e.value = value
		e.file = sourceFile
		e.mtime = mtime
		e.inserted = time.Now()
		e.size = size
		c.trackLocked(e)
		c.ll.MoveToFront(el)
	} else {
		e := &entry[V]{
			key:      key,
			value:    value,
			file:     sourceFile,
			mtime:    mtime,
			inserted: time.Now(),
			size:     size,
		}
		c.items[key] = c.ll.PushFront(e)
		c.bytes += size
		c.trackLocked(e)
	}

	for c.cfg.MaxEntries > 0 && c.ll.Len() > c.cfg.MaxEntries {
		c.removeOldest()
	}
	for c.cfg.MaxBytes > 0 && c.bytes > c.cfg.MaxBytes && c.ll.Len() > 0 {
		c.removeOldest()
	}
}

// Remove deletes key from the cache. Missing keys are ignored.
func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Invalidate purges every entry tied to path and returns how many were removed.
func (c *Cache[V]) Invalidate(path string) int {
	c.mu.Lock()
	n := c.invalidateLocked(path)
	c.mu.Unlock()
	if n > 0 && c.cfg.OnInvalidate != nil {
		c.cfg.OnInvalidate(path)
	}
	return n
}

// Clear removes all entries. Hit, miss, eviction and invalidation counters
// are preserved.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll.Init()
	c.items = make(map[string]*list.Element)
	c.files = make(map[string]*fileState)
	c.bytes = 0
}

// Len returns the number of entries in the cache.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = c.ll.Len()
	s.EstimatedBytes = c.bytes
	s.MaxEntries = c.cfg.MaxEntries
	s.MaxBytes = c.cfg.MaxBytes
	return s
}

// invalidateLocked purges every entry tied to path. Must be called with c.mu held.
func (c *Cache[V]) invalidateLocked(path string) int {
	c.stats.Invalidations++
	fs, ok := c.files[path]
	if !ok {
		return 0
	}
	n := 0
	for key := range fs.keys {
		if el, ok := c.items[key]; ok {
			c.removeElement(el)
			n++
		}
	}
	delete(c.files, path)
	return n
}

// removeOldest evicts the least recently used entry. Must be called with c.mu held.
func (c *Cache[V]) removeOldest() {
	if el := c.ll.Back(); el != nil {
		c.removeElement(el)
		c.stats.Evictions++
	}
}

// removeElement unlinks el from every index. Must be called with c.mu held.
func (c *Cache[V]) removeElement(el *list.Element) {
	c.ll.Remove(el)
	e := el.Value.(*entry[V])
	delete(c.items, e.key)
	c.untrackLocked(e)
	c.bytes -= e.size
}

func (c *Cache[V]) trackLocked(e *entry[V]) {
	if e.file == "" {
		return
	}
	fs, ok := c.files[e.file]
	if !ok {
		fs = &fileState{keys: make(map[string]struct{})}
		c.files[e.file] = fs
	}
	fs.keys[e.key] = struct{}{}
	if e.mtime.After(fs.mtime) {
		fs.mtime = e.mtime
	}
}

func (c *Cache[V]) untrackLocked(e *entry[V]) {
	if e.file == "" {
		return
	}
	fs, ok := c.files[e.file]
	if !ok {
		return
	}
	delete(fs.keys, e.key)
	if len(fs.keys) == 0 {
		delete(c.files, e.file)
	}
}
