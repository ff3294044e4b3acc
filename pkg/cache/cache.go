// Package cache implements the engine's two-level result cache: a bounded
// in-memory L1 LRU in front of a durable, compressed L2 backed by the
// Store. Callers address entries by an opaque Key; Cache derives it from
// a fingerprint of the operation's inputs via DeriveKey.
package cache

import (
	"context"
	"time"
)

// HitLevel identifies which tier satisfied a Get, or that both missed.
type HitLevel int

const (
	Miss HitLevel = iota
	L1Hit
	L2Hit
)

func (h HitLevel) String() string {
	switch h {
	case L1Hit:
		return "l1"
	case L2Hit:
		return "l2"
	default:
		return "miss"
	}
}

// Stats reports cumulative counters since the cache was constructed.
type Stats struct {
	L1Hits      int64
	L2Hits      int64
	Misses      int64
	Puts        int64
	Evictions   int64
	SweepRemoved int64
}

// Cache is the two-level result cache described by spec.md §4.2.
// Implementations are safe for concurrent Get/Put and are never consulted
// by mutating Store calls.
type Cache interface {
	// Get returns the stored value and the tier that served it, or
	// ok=false on a miss (including an expired entry, which is treated
	// as a miss and lazily evicted).
	Get(ctx context.Context, key string) (value []byte, level HitLevel, ok bool)

	// Put stores value under key with the given time-to-live. A
	// non-positive ttl means the entry never expires on its own.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Invalidate removes every entry (in both tiers) whose key has the
	// given prefix, and returns the count removed.
	Invalidate(ctx context.Context, prefix string) (int, error)

	// Stats returns a snapshot of cumulative cache counters.
	Stats() Stats

	// Sweep removes expired L2 entries and returns the count removed.
	// Called periodically by the cleanup scheduler; safe to call
	// concurrently with Get/Put.
	Sweep(ctx context.Context) (int, error)
}
