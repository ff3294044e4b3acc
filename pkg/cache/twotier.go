package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/tbcv/engine/pkg/logger"
	"github.com/tbcv/engine/pkg/store"
)

var log = logger.New("cache")

// compressZstd and decompressZstd build a fresh encoder/decoder per call
// rather than sharing one across goroutines, since *zstd.Encoder and
// *zstd.Decoder are not safe for concurrent Reset/Write.
func compressZstd(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func decompressZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

type l1Entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e l1Entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// TwoTierCache is the Cache implementation described by spec.md §4.2: a
// bounded L1 LRU backed by an L2 persisted through a Store, with
// zstd compression above CompressAbove bytes.
type TwoTierCache struct {
	mu            sync.Mutex
	l1            *lru.Cache[string, l1Entry]
	l1Bytes       int64
	l1MaxBytes    int64
	compressAbove int64

	store store.Store

	stats Stats
}

// New builds a TwoTierCache. maxEntries and maxBytes bound L1;
// compressAbove is the L2 byte threshold above which values are
// zstd-compressed before being persisted.
func New(backing store.Store, maxEntries int, maxBytes int64, compressAbove int64) (*TwoTierCache, error) {
	c := &TwoTierCache{
		l1MaxBytes:    maxBytes,
		compressAbove: compressAbove,
		store:         backing,
	}

	l1, err := lru.NewWithEvict[string, l1Entry](maxEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("cache: building L1 LRU: %w", err)
	}
	c.l1 = l1
	return c, nil
}

func (c *TwoTierCache) onEvict(_ string, v l1Entry) {
	// Invoked with c.mu already held by the caller (Add/Remove run the
	// callback synchronously), so only adjust the byte budget here.
	c.l1Bytes -= int64(len(v.value))
	c.stats.Evictions++
}

func (c *TwoTierCache) Get(ctx context.Context, key string) ([]byte, HitLevel, bool) {
	now := time.Now()

	c.mu.Lock()
	entry, ok := c.l1.Get(key)
	if ok {
		if entry.expired(now) {
			c.l1.Remove(key)
			ok = false
		}
	}
	if ok {
		c.stats.L1Hits++
		value := entry.value
		c.mu.Unlock()
		return value, L1Hit, true
	}
	c.mu.Unlock()

	row, err := c.store.GetCacheEntry(ctx, key)
	if err != nil {
		c.mu.Lock()
		c.stats.Misses++
		c.mu.Unlock()
		return nil, Miss, false
	}

	if row.TTLSeconds >= 0 && now.After(row.CreatedAt.Add(time.Duration(row.TTLSeconds)*time.Second)) {
		_ = c.store.DeleteCacheEntry(ctx, key)
		c.mu.Lock()
		c.stats.Misses++
		c.mu.Unlock()
		return nil, Miss, false
	}

	value := row.Value
	if row.Compressed {
		decoded, derr := decompressZstd(value)
		if derr != nil {
			log.Printf("cache: dropping undecodable L2 entry %s: %v", key, derr)
			_ = c.store.DeleteCacheEntry(ctx, key)
			c.mu.Lock()
			c.stats.Misses++
			c.mu.Unlock()
			return nil, Miss, false
		}
		value = decoded
	}

	var expiresAt time.Time
	if row.TTLSeconds >= 0 {
		expiresAt = row.CreatedAt.Add(time.Duration(row.TTLSeconds) * time.Second)
	}
	c.mu.Lock()
	c.promoteToL1(key, value, expiresAt)
	c.stats.L2Hits++
	c.mu.Unlock()

	return value, L2Hit, true
}

// promoteToL1 must be called with c.mu held.
func (c *TwoTierCache) promoteToL1(key string, value []byte, expiresAt time.Time) {
	if int64(len(value)) > c.l1MaxBytes {
		return // never promote a single value larger than the whole budget
	}
	for c.l1Bytes+int64(len(value)) > c.l1MaxBytes && c.l1.Len() > 0 {
		c.l1.RemoveOldest()
	}
	c.l1.Add(key, l1Entry{value: value, expiresAt: expiresAt})
	c.l1Bytes += int64(len(value))
}

func (c *TwoTierCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	ttlSeconds := int64(-1)
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
		ttlSeconds = int64(ttl.Seconds())
	}

	c.mu.Lock()
	c.promoteToL1(key, value, expiresAt)
	c.stats.Puts++
	c.mu.Unlock()

	stored := value
	compressed := false
	if int64(len(value)) > c.compressAbove {
		encoded, err := compressZstd(value)
		if err != nil {
			return fmt.Errorf("cache: compressing L2 value: %w", err)
		}
		stored = encoded
		compressed = true
	}

	return c.store.PutCacheEntry(ctx, &store.CacheRow{
		Key:        key,
		Value:      stored,
		Compressed: compressed,
		TTLSeconds: ttlSeconds,
		CreatedAt:  time.Now(),
	})
}

func (c *TwoTierCache) Invalidate(ctx context.Context, prefix string) (int, error) {
	c.mu.Lock()
	removed := 0
	for _, key := range c.l1.Keys() {
		if hasPrefix(key, prefix) {
			c.l1.Remove(key)
			removed++
		}
	}
	c.mu.Unlock()

	n, err := c.store.DeleteCacheEntriesWithPrefix(ctx, prefix)
	if err != nil {
		return removed, fmt.Errorf("cache: invalidating L2 prefix %q: %w", prefix, err)
	}
	if n > removed {
		removed = n
	}
	return removed, nil
}

func (c *TwoTierCache) Sweep(ctx context.Context) (int, error) {
	now := time.Now()
	c.mu.Lock()
	for _, key := range c.l1.Keys() {
		if entry, ok := c.l1.Peek(key); ok && entry.expired(now) {
			c.l1.Remove(key)
		}
	}
	c.mu.Unlock()

	n, err := c.store.SweepExpiredCacheEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("cache: sweeping L2: %w", err)
	}
	c.mu.Lock()
	c.stats.SweepRemoved += int64(n)
	c.mu.Unlock()
	return n, nil
}

func (c *TwoTierCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

var _ Cache = (*TwoTierCache)(nil)
