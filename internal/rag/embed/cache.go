package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Compile-time interface check.
var _ Provider = (*Cache)(nil)

// Cache wraps a Provider and memoizes vectors by a hash of the exact
// post-truncation text. Entries are kept for the process lifetime with
// no eviction; the corpus is hundreds to low thousands of documents, so
// the cache stays small.
type Cache struct {
	provider Provider
	maxChars int

	mu      sync.RWMutex
	entries map[string][]float32

	hits      uint64
	generated uint64
}

// NewCache creates an embedding cache in front of provider. maxChars
// must match the provider's truncation budget so keys are computed over
// the same text the provider sees.
func NewCache(provider Provider, maxChars int) *Cache {
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	return &Cache{
		provider: provider,
		maxChars: maxChars,
		entries:  make(map[string][]float32),
	}
}

func (c *Cache) Name() string    { return c.provider.Name() }
func (c *Cache) Dimensions() int { return c.provider.Dimensions() }
func (c *Cache) Available() bool { return c.provider.Available() }

// Embed returns the cached vector for text when present, otherwise asks
// the wrapped provider and caches the result.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(Truncate(text, c.maxChars))

	c.mu.RLock()
	vector, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return vector, nil
	}

	vector, err := c.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = vector
	c.generated++
	c.mu.Unlock()
	return vector, nil
}

// EmbedBatch resolves cached items locally and sends only the misses to
// the wrapped provider in a single request. A provider failure fails
// every uncached item.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var missTexts []string
	var missIdx []int

	c.mu.RLock()
	for i, text := range texts {
		keys[i] = cacheKey(Truncate(text, c.maxChars))
		if v, ok := c.entries[keys[i]]; ok {
			vectors[i] = v
		} else {
			missTexts = append(missTexts, text)
			missIdx = append(missIdx, i)
		}
	}
	c.mu.RUnlock()

	cached := len(texts) - len(missTexts)

	if len(missTexts) > 0 {
		fetched, err := c.provider.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		for j, i := range missIdx {
			vectors[i] = fetched[j]
			c.entries[keys[i]] = fetched[j]
		}
		c.generated += uint64(len(fetched))
		c.hits += uint64(cached)
		c.mu.Unlock()
	} else if cached > 0 {
		c.mu.Lock()
		c.hits += uint64(cached)
		c.mu.Unlock()
	}

	return vectors, nil
}

// CacheStats is a point-in-time view of cache activity.
type CacheStats struct {
	Size      int    `json:"size"`
	Hits      uint64 `json:"hits"`
	Generated uint64 `json:"generated"`
}

// Stats returns cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Size:      len(c.entries),
		Hits:      c.hits,
		Generated: c.generated,
	}
}

// Clear drops all cached vectors and counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]float32)
	c.hits = 0
	c.generated = 0
}

// cacheKey hashes the post-truncation text so identical content shares
// one entry regardless of length.
func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
