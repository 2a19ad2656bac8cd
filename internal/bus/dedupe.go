package bus

import (
	"sync"
	"time"
)

// DedupeCache remembers recently seen keys for a TTL window. Channels use it
// to drop inbound messages the transport replays after a reconnect, where the
// same message id is delivered more than once.
type DedupeCache struct {
	mu      sync.Mutex
	entries map[string]int64 // key -> unix millis first seen
	ttl     time.Duration
	maxSize int
}

// NewDedupeCache creates a cache that forgets keys after ttl and holds at
// most maxSize entries. maxSize <= 0 means unbounded.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	return &DedupeCache{
		entries: make(map[string]int64, 256),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// IsDuplicate reports whether key was seen within the TTL window. A first
// sighting records the key and returns false.
func (d *DedupeCache) IsDuplicate(key string) bool {
	now := time.Now().UnixMilli()
	cutoff := now - d.ttl.Milliseconds()

	d.mu.Lock()
	defer d.mu.Unlock()

	if ts, ok := d.entries[key]; ok && ts >= cutoff {
		return true
	}

	d.prune(cutoff)
	d.entries[key] = now
	return false
}

// prune drops expired entries, then evicts arbitrary entries if the cache is
// still over maxSize. Caller holds d.mu.
func (d *DedupeCache) prune(cutoff int64) {
	for k, ts := range d.entries {
		if ts < cutoff {
			delete(d.entries, k)
		}
	}

	if d.maxSize > 0 && len(d.entries) >= d.maxSize {
		excess := len(d.entries) - d.maxSize + 1
		for k := range d.entries {
			if excess <= 0 {
				break
			}
			delete(d.entries, k)
			excess--
		}
	}
}
