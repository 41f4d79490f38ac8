package cache

import "sync"

// Bounded is a fixed-capacity map cache with insertion-order eviction:
// when full, the oldest inserted entry is dropped to make room. Expected
// key cardinality is one drag session's worth of constraint queries, so
// there is no LRU bookkeeping.
// Latency here matters: lookups sit on the pointer-move path.
type Bounded[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	entries  map[K]V
	order    []K
	head     int
}

// NewBounded creates a cache holding at most capacity entries.
func NewBounded[K comparable, V any](capacity int) *Bounded[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bounded[K, V]{
		capacity: capacity,
		entries:  make(map[K]V, capacity),
		order:    make([]K, 0, capacity),
	}
}

// Get returns the cached value for k.
func (c *Bounded[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[k]
	return v, ok
}

// Put stores v under k, evicting the oldest entry when the cache is full.
// Overwriting an existing key keeps its original age.
func (c *Bounded[K, V]) Put(k K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[k]; exists {
		c.entries[k] = v
		return
	}
	if len(c.order) < c.capacity {
		c.order = append(c.order, k)
		c.entries[k] = v
		return
	}
	oldest := c.order[c.head]
	delete(c.entries, oldest)
	c.order[c.head] = k
	c.head = (c.head + 1) % c.capacity
	c.entries[k] = v
}

// Len returns the number of cached entries.
func (c *Bounded[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Reset drops every entry.
func (c *Bounded[K, V]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]V, c.capacity)
	c.order = c.order[:0]
	c.head = 0
}

// SafeCounter is a thread-safe counter
type SafeCounter struct {
	mu sync.Mutex
	v  int
}

func (c *SafeCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *SafeCounter) Set(v int) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

func (c *SafeCounter) Inc() {
	c.mu.Lock()
	c.v++
	c.mu.Unlock()
}

func (c *SafeCounter) Add(n int) {
	c.mu.Lock()
	c.v += n
	c.mu.Unlock()
}
