// Package cache provides the block cache used to hold decoded SST data
// blocks and the table cache used to hold open SST readers, reducing disk
// I/O.
//
// Grounded on the teacher's cache/lru_cache.{h,cc}-derived Cache/Handle
// interface shape, but the eviction policy is not move-to-front LRU: this
// is the spec's "LRU-free" design (spec.md §4.6) — a cache entry is
// evicted only after its reference count has dropped to zero, and among
// zero-ref entries the oldest-dropped-to-zero is evicted first (FIFO over
// the victim set, not over all accesses).
package cache

import (
	"sync"
)

// Cache is the interface for the block/table caches.
type Cache interface {
	// Insert adds an entry to the cache, pinning it (refs=1). The caller
	// must Release the returned handle when done using it.
	Insert(key CacheKey, value any, charge uint64) *Handle

	// Lookup retrieves an entry, pinning it if found. The caller must
	// Release the returned handle when done using it.
	Lookup(key CacheKey) *Handle

	// Release unpins a handle obtained from Insert or Lookup. Once a
	// handle's ref count reaches zero it becomes eligible for eviction.
	Release(handle *Handle)

	// Erase removes a key from the cache outright.
	Erase(key CacheKey)

	SetCapacity(capacity uint64)
	GetCapacity() uint64
	GetUsage() uint64
	GetPinnedUsage() uint64
	GetOccupancyCount() uint64
	Close()
}

// CacheKey uniquely identifies a cached entry: a file number and a byte
// offset within that file (0 for whole-file entries such as an open
// reader held by the table cache).
type CacheKey struct {
	FileNumber  uint64
	BlockOffset uint64
}

// Handle is a pinned reference to a cached entry.
type Handle struct {
	key    CacheKey
	value  any
	charge uint64
	refs   int32
}

func (h *Handle) Value() any     { return h.value }
func (h *Handle) Charge() uint64 { return h.charge }

// entry is the cache's bookkeeping record for one key: the handle plus
// its position (if any) in the victim FIFO.
type entry struct {
	handle    *Handle
	inVictims bool
}

// LRUCache is the FIFO-once-unreferenced cache described in spec.md §4.6:
// a map from key to entry, plus a FIFO list of keys whose ref count has
// dropped to zero ("victims"). Eviction pops from the front of the victim
// list; an entry that is looked up again before eviction is removed from
// the victim list and is no longer a candidate until it is unreferenced
// again.
type LRUCache struct {
	mu       sync.Mutex
	capacity uint64
	usage    uint64
	pinned   uint64

	table   map[CacheKey]*entry
	victims []CacheKey // FIFO: victims[0] is the oldest unreferenced key

	hits   uint64
	misses uint64
}

// NewLRUCache creates an empty cache with the given capacity in bytes of
// aggregate charge.
func NewLRUCache(capacity uint64) *LRUCache {
	return &LRUCache{
		capacity: capacity,
		table:    make(map[CacheKey]*entry),
	}
}

// Insert adds key/value to the cache, pinned. If key already exists, its
// value is replaced. Evicts from the victim FIFO as needed to stay under
// capacity.
func (c *LRUCache) Insert(key CacheKey, value any, charge uint64) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.table[key]; ok {
		c.usage -= old.handle.charge
		c.removeFromVictims(key)
		if old.handle.refs == 0 {
			c.pinned += old.handle.charge
		}
	}

	h := &Handle{key: key, value: value, charge: charge, refs: 1}
	c.table[key] = &entry{handle: h}
	c.usage += charge
	c.pinned += charge

	c.evictToCapacity()
	return h
}

// Lookup finds key, pinning and returning its handle, or nil if absent.
func (c *LRUCache) Lookup(key CacheKey) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.table[key]
	if !ok {
		c.misses++
		return nil
	}
	c.hits++
	if e.handle.refs == 0 {
		c.pinned += e.handle.charge
		c.removeFromVictims(key)
	}
	e.handle.refs++
	return e.handle
}

// Release unpins handle. When its ref count reaches zero it is appended
// to the victim FIFO and becomes eligible for eviction.
func (c *LRUCache) Release(handle *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handle.refs--
	if handle.refs > 0 {
		return
	}
	if handle.refs < 0 {
		handle.refs = 0
	}
	if _, ok := c.table[handle.key]; !ok {
		return // already erased
	}
	c.pinned -= handle.charge
	c.victims = append(c.victims, handle.key)
	c.evictToCapacity()
}

// Erase removes key unconditionally, regardless of its ref count.
func (c *LRUCache) Erase(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.erase(key)
}

func (c *LRUCache) erase(key CacheKey) {
	e, ok := c.table[key]
	if !ok {
		return
	}
	if e.handle.refs == 0 {
		c.removeFromVictims(key)
	} else {
		c.pinned -= e.handle.charge
	}
	c.usage -= e.handle.charge
	delete(c.table, key)
}

// evictToCapacity pops the oldest victim repeatedly until usage fits
// within capacity or no more unreferenced entries remain.
func (c *LRUCache) evictToCapacity() {
	for c.usage > c.capacity && len(c.victims) > 0 {
		key := c.victims[0]
		c.victims = c.victims[1:]
		if e, ok := c.table[key]; ok && e.handle.refs == 0 {
			c.usage -= e.handle.charge
			delete(c.table, key)
		}
	}
}

func (c *LRUCache) removeFromVictims(key CacheKey) {
	for i, k := range c.victims {
		if k == key {
			c.victims = append(c.victims[:i], c.victims[i+1:]...)
			return
		}
	}
}

func (c *LRUCache) SetCapacity(capacity uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = capacity
	c.evictToCapacity()
}

func (c *LRUCache) GetCapacity() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

func (c *LRUCache) GetUsage() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

func (c *LRUCache) GetPinnedUsage() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinned
}

func (c *LRUCache) GetOccupancyCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.table))
}

// Close releases all entries regardless of ref count.
func (c *LRUCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table = make(map[CacheKey]*entry)
	c.victims = nil
	c.usage = 0
	c.pinned = 0
}
