package artifact

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/pagegraph/internal/liquid"
)

// SharedCache holds decoded templates keyed by blob checksum with LRU
// eviction and TTL, so separately loaded instances of the same page decode
// their blob once per process. An entry is only returned for the exact blob
// it was decoded from.
type SharedCache struct {
	entries     map[string]*sharedEntry
	mutex       sync.Mutex
	maxSize     int64
	currentSize int64
	ttl         time.Duration
	// LRU doubly-linked list with dummy head and tail
	head *sharedEntry
	tail *sharedEntry
	// Statistics tracking (atomic for thread safety)
	hits      int64
	misses    int64
	evictions int64
}

type sharedEntry struct {
	key        string
	blob       []byte
	template   *liquid.Template
	size       int64
	createdAt  time.Time
	accessedAt time.Time
	prev       *sharedEntry
	next       *sharedEntry
}

// NewSharedCache creates a cache bounded by the total size of the blobs its
// entries were decoded from.
func NewSharedCache(maxSize int64, ttl time.Duration) *SharedCache {
	cache := &SharedCache{
		entries: make(map[string]*sharedEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}

	cache.head = &sharedEntry{}
	cache.tail = &sharedEntry{}
	cache.head.next = cache.tail
	cache.tail.prev = cache.head

	return cache
}

// Get retrieves the template decoded from blob, stored under key.
func (sc *SharedCache) Get(key string, blob []byte) (*liquid.Template, bool) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	entry, exists := sc.entries[key]
	if !exists || !bytes.Equal(entry.blob, blob) {
		atomic.AddInt64(&sc.misses, 1)
		return nil, false
	}

	if sc.ttl > 0 && time.Since(entry.createdAt) > sc.ttl {
		sc.remove(entry)
		atomic.AddInt64(&sc.misses, 1)
		return nil, false
	}

	sc.moveToFront(entry)
	entry.accessedAt = time.Now()
	atomic.AddInt64(&sc.hits, 1)
	return entry.template, true
}

// Put stores the template decoded from blob under key. Entries are sized by
// their blob.
func (sc *SharedCache) Put(key string, blob []byte, tmpl *liquid.Template) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	size := int64(len(blob))
	blob = append([]byte(nil), blob...)
	if existing, exists := sc.entries[key]; exists {
		sc.currentSize += size - existing.size
		existing.blob = blob
		existing.template = tmpl
		existing.size = size
		existing.accessedAt = time.Now()
		sc.moveToFront(existing)
		return
	}

	if size > sc.maxSize {
		return
	}
	sc.evictIfNeeded(size)

	now := time.Now()
	entry := &sharedEntry{
		key:        key,
		blob:       blob,
		template:   tmpl,
		size:       size,
		createdAt:  now,
		accessedAt: now,
	}
	sc.entries[key] = entry
	sc.currentSize += size
	sc.addToFront(entry)
}

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	Entries   int   `json:"entries"`
	Size      int64 `json:"size_bytes"`
	MaxSize   int64 `json:"max_size_bytes"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns the current counters.
func (sc *SharedCache) Stats() Stats {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	return Stats{
		Entries:   len(sc.entries),
		Size:      sc.currentSize,
		MaxSize:   sc.maxSize,
		Hits:      atomic.LoadInt64(&sc.hits),
		Misses:    atomic.LoadInt64(&sc.misses),
		Evictions: atomic.LoadInt64(&sc.evictions),
	}
}

func (sc *SharedCache) evictIfNeeded(newSize int64) {
	for sc.currentSize+newSize > sc.maxSize && sc.tail.prev != sc.head {
		sc.remove(sc.tail.prev)
		atomic.AddInt64(&sc.evictions, 1)
	}
}

func (sc *SharedCache) remove(entry *sharedEntry) {
	sc.removeFromList(entry)
	delete(sc.entries, entry.key)
	sc.currentSize -= entry.size
}

func (sc *SharedCache) addToFront(entry *sharedEntry) {
	entry.prev = sc.head
	entry.next = sc.head.next
	sc.head.next.prev = entry
	sc.head.next = entry
}

func (sc *SharedCache) removeFromList(entry *sharedEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (sc *SharedCache) moveToFront(entry *sharedEntry) {
	sc.removeFromList(entry)
	sc.addToFront(entry)
}
