package embed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProvider is a deterministic Provider that records how many
// times each path hits the backend.
type countingProvider struct {
	embedCalls int
	batchCalls int
	fail       error
}

func (c *countingProvider) Name() string    { return "counting" }
func (c *countingProvider) Dimensions() int { return 3 }
func (c *countingProvider) Available() bool { return true }

func (c *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embedCalls++
	if c.fail != nil {
		return nil, c.fail
	}
	return vectorFor(text), nil
}

func (c *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batchCalls++
	if c.fail != nil {
		return nil, c.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vectorFor(t)
	}
	return out, nil
}

// vectorFor derives a stable fake vector from the text length.
func vectorFor(text string) []float32 {
	return []float32{float32(len(text)), 1, 0}
}

func TestCache_HitOnIdenticalText(t *testing.T) {
	backend := &countingProvider{}
	cache := NewCache(backend, 0)

	ctx := context.Background()
	v1, err := cache.Embed(ctx, "HLSO price sheet")
	require.NoError(t, err)

	v2, err := cache.Embed(ctx, "HLSO price sheet")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, backend.embedCalls, "identical text must not hit the provider twice")

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Generated)
}

func TestCache_KeyIsPostTruncation(t *testing.T) {
	backend := &countingProvider{}
	cache := NewCache(backend, 10)

	ctx := context.Background()
	// Both inputs truncate to the same 10 characters.
	_, err := cache.Embed(ctx, strings.Repeat("a", 50))
	require.NoError(t, err)
	_, err = cache.Embed(ctx, strings.Repeat("a", 80))
	require.NoError(t, err)

	assert.Equal(t, 1, backend.embedCalls)
	assert.Equal(t, uint64(1), cache.Stats().Hits)
}

func TestCache_BatchFetchesOnlyMisses(t *testing.T) {
	backend := &countingProvider{}
	cache := NewCache(backend, 0)

	ctx := context.Background()
	_, err := cache.Embed(ctx, "alpha")
	require.NoError(t, err)

	vectors, err := cache.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, vectorFor("alpha"), vectors[0])
	assert.Equal(t, vectorFor("beta"), vectors[1])

	assert.Equal(t, 1, backend.batchCalls)
	stats := cache.Stats()
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(3), stats.Generated)
}

func TestCache_BatchAllCached(t *testing.T) {
	backend := &countingProvider{}
	cache := NewCache(backend, 0)

	ctx := context.Background()
	_, err := cache.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)

	_, err = cache.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, 1, backend.batchCalls)
	assert.Equal(t, uint64(2), cache.Stats().Hits)
}

func TestCache_ProviderFailureNotCached(t *testing.T) {
	backend := &countingProvider{fail: &EmbedError{Reason: "boom"}}
	cache := NewCache(backend, 0)

	ctx := context.Background()
	_, err := cache.Embed(ctx, "text")
	require.Error(t, err)
	assert.Equal(t, 0, cache.Stats().Size)

	// Backend recovers; the text must be fetched, not served stale.
	backend.fail = nil
	_, err = cache.Embed(ctx, "text")
	require.NoError(t, err)
	assert.Equal(t, 2, backend.embedCalls)
}

func TestCache_Clear(t *testing.T) {
	backend := &countingProvider{}
	cache := NewCache(backend, 0)

	_, err := cache.Embed(context.Background(), "text")
	require.NoError(t, err)

	cache.Clear()
	stats := cache.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, uint64(0), stats.Hits)
	assert.Equal(t, uint64(0), stats.Generated)
}
