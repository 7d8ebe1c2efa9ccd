// Package preview generates capture thumbnails and caches them by content.
package preview

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/fentz26/glimpse/internal/cancel"
	"github.com/fentz26/glimpse/internal/models"
)

// Generator derives a preview from source image bytes.
type Generator interface {
	Generate(ctx context.Context, data []byte) (*models.Preview, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, data []byte) (*models.Preview, error)

func (f GeneratorFunc) Generate(ctx context.Context, data []byte) (*models.Preview, error) {
	return f(ctx, data)
}

type entry struct {
	preview  *models.Preview
	storedAt time.Time
	seq      uint64
}

// Cache maps content hashes to previews. Entries expire after the TTL and
// the oldest-inserted entries are evicted once MaxEntries is exceeded.
// Failed generations are never cached.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	ttl        time.Duration
	maxEntries int
	clock      func() time.Time
	seq        uint64
}

// Options configure a Cache.
type Options struct {
	TTL        time.Duration
	MaxEntries int
	Clock      func() time.Time
}

// NewCache creates a cache.
func NewCache(opts Options) *Cache {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	maxEntries := opts.MaxEntries
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Cache{
		entries:    make(map[string]entry),
		ttl:        opts.TTL,
		maxEntries: maxEntries,
		clock:      clock,
	}
}

// Key returns the cache key for source bytes.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// GetOrGenerate returns the cached preview for data while it is younger
// than the TTL, otherwise generates and stores a fresh one.
func (c *Cache) GetOrGenerate(ctx context.Context, tok *cancel.Token, data []byte, gen Generator) (*models.Preview, error) {
	key := Key(data)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.clock().Sub(e.storedAt) < c.ttl {
		c.mu.Unlock()
		return e.preview, nil
	}
	c.mu.Unlock()

	if tok != nil {
		if err := tok.Err(); err != nil {
			return nil, err
		}
		var release context.CancelFunc
		ctx, release = tok.Context(ctx)
		defer release()
	}

	p, err := gen.Generate(ctx, data)
	if err != nil {
		return nil, err
	}
	if tok != nil && tok.IsCancelled() {
		return nil, cancel.ErrCancelled
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.entries[key] = entry{preview: p, storedAt: c.clock(), seq: c.seq}
	c.evictLocked()
	return p, nil
}

func (c *Cache) evictLocked() {
	for len(c.entries) > c.maxEntries {
		var oldestKey string
		var oldest uint64
		first := true
		for k, e := range c.entries {
			if first || e.seq < oldest {
				oldestKey, oldest, first = k, e.seq, false
			}
		}
		delete(c.entries, oldestKey)
	}
}

// Len returns the number of cached entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Contains reports whether data has a live cache entry.
func (c *Cache) Contains(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[Key(data)]
	return ok && c.clock().Sub(e.storedAt) < c.ttl
}

// Purge removes expired entries and returns how many were dropped.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	n := 0
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
			n++
		}
	}
	return n
}
