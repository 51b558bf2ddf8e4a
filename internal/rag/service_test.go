package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camaron/internal/rag/embed"
	"camaron/internal/rag/store"
)

// stubProvider returns canned vectors for known texts and derives a
// deterministic one for anything else. It counts provider traffic so
// tests can assert short-circuits and cache behavior.
type stubProvider struct {
	dims        int
	vectors     map[string][]float32
	unavailable bool
	fail        error

	embedCalls int
	batchCalls int
}

func newStubProvider() *stubProvider {
	return &stubProvider{dims: 3, vectors: make(map[string][]float32)}
}

func (p *stubProvider) set(text string, vec []float32) { p.vectors[text] = vec }

func (p *stubProvider) Name() string    { return "stub" }
func (p *stubProvider) Dimensions() int { return p.dims }
func (p *stubProvider) Available() bool { return !p.unavailable }

func (p *stubProvider) vectorFor(text string) []float32 {
	if v, ok := p.vectors[text]; ok {
		return v
	}
	// Deterministic fallback derived from the text bytes.
	v := make([]float32, p.dims)
	for i, b := range []byte(text) {
		v[i%p.dims] += float32(b)
	}
	return v
}

func (p *stubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.embedCalls++
	if p.unavailable {
		return nil, embed.ErrProviderUnavailable
	}
	if p.fail != nil {
		return nil, p.fail
	}
	return p.vectorFor(embed.Truncate(text, 0)), nil
}

func (p *stubProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.batchCalls++
	if p.unavailable {
		return nil, embed.ErrProviderUnavailable
	}
	if p.fail != nil {
		return nil, p.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vectorFor(embed.Truncate(t, 0))
	}
	return out, nil
}

func newTestService(t *testing.T, provider embed.Provider, st store.Store) *Service {
	t.Helper()
	if provider == nil {
		provider = newStubProvider()
	}
	svc, err := New(Config{Provider: provider, Store: st})
	require.NoError(t, err)
	return svc
}

func TestIndex_DerivesUniqueIDs(t *testing.T) {
	svc := newTestService(t, nil, nil)
	ctx := context.Background()

	id1, err := svc.Index(ctx, "same content", TypeGeneral, nil, "")
	require.NoError(t, err)
	id2, err := svc.Index(ctx, "same content", TypeGeneral, nil, "")
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2, "repeated identical content must yield distinct ids")
	assert.Equal(t, 2, svc.Stats().TotalDocuments)
}

func TestIndex_EmptyContentRejectedBeforeProviderCall(t *testing.T) {
	provider := newStubProvider()
	svc := newTestService(t, provider, nil)

	_, err := svc.Index(context.Background(), "   \n\t ", TypePrice, nil, "")
	assert.ErrorIs(t, err, ErrEmptyContent)
	assert.Equal(t, 0, provider.embedCalls)
	assert.Equal(t, 0, svc.Stats().TotalDocuments)
}

func TestIndex_IdempotentReindex(t *testing.T) {
	svc := newTestService(t, nil, nil)
	ctx := context.Background()

	id, err := svc.Index(ctx, "first version", TypeFAQ, nil, "doc-1")
	require.NoError(t, err)
	require.Equal(t, "doc-1", id)

	_, err = svc.Index(ctx, "second version", TypeFAQ, nil, "doc-1")
	require.NoError(t, err)

	assert.Equal(t, 1, svc.Stats().TotalDocuments, "store size must not grow on re-index")
	doc, ok := svc.Get("doc-1")
	require.True(t, ok)
	assert.Equal(t, "second version", doc.Content)
}

func TestIndex_ProviderUnavailable(t *testing.T) {
	provider := newStubProvider()
	provider.unavailable = true
	svc := newTestService(t, provider, nil)

	_, err := svc.Index(context.Background(), "content", TypeGeneral, nil, "")
	assert.ErrorIs(t, err, embed.ErrProviderUnavailable)
	assert.Equal(t, 0, svc.Stats().TotalDocuments)
	assert.False(t, svc.Available())
}

func TestIndex_EmbedFailureLeavesStoreUntouched(t *testing.T) {
	provider := newStubProvider()
	provider.fail = &embed.EmbedError{Reason: "transient"}
	svc := newTestService(t, provider, nil)

	_, err := svc.Index(context.Background(), "content", TypeGeneral, nil, "doc-1")
	require.Error(t, err)

	_, ok := svc.Get("doc-1")
	assert.False(t, ok)
	assert.Equal(t, 0, svc.Stats().TotalDocuments)
}

func TestIndexBatch_SkipsEmptyItems(t *testing.T) {
	provider := newStubProvider()
	svc := newTestService(t, provider, nil)

	ids := svc.IndexBatch(context.Background(), []BatchDocument{
		{Content: "HLSO 16/20 price", Type: TypePrice},
		{Content: "   "},
		{Content: "shipping FAQ", Type: TypeFAQ},
	})

	assert.Len(t, ids, 2)
	assert.Equal(t, 2, svc.Stats().TotalDocuments)
	assert.Equal(t, 1, provider.batchCalls)
}

func TestIndexBatch_FailureSkipsAllSilently(t *testing.T) {
	provider := newStubProvider()
	provider.fail = &embed.EmbedError{Reason: "down"}
	svc := newTestService(t, provider, nil)

	ids := svc.IndexBatch(context.Background(), []BatchDocument{
		{Content: "a", Type: TypePrice},
		{Content: "b", Type: TypeFAQ},
	})

	assert.Empty(t, ids)
	assert.Equal(t, 0, svc.Stats().TotalDocuments)
}

func TestRetrieve_EmptyStoreShortCircuits(t *testing.T) {
	provider := newStubProvider()
	svc := newTestService(t, provider, nil)

	matches, err := svc.Retrieve(context.Background(), "anything", QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, 0, provider.embedCalls, "empty store must not spend an embedding call")
}

func TestRetrieve_IdenticalContentScoresNearOne(t *testing.T) {
	provider := newStubProvider()
	provider.set("HLSO shrimp price sheet", []float32{0.3, 0.8, 0.1})
	svc := newTestService(t, provider, nil)
	ctx := context.Background()

	_, err := svc.Index(ctx, "HLSO shrimp price sheet", TypePrice, nil, "a")
	require.NoError(t, err)
	_, err = svc.Index(ctx, "HLSO shrimp price sheet", TypePrice, nil, "b")
	require.NoError(t, err)

	matches, err := svc.Retrieve(ctx, "HLSO shrimp price sheet", QueryOptions{TopK: 5})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.InDelta(t, 1.0, m.Similarity, 1e-4)
	}
}

func TestRetrieve_ThresholdExcludesEverything(t *testing.T) {
	provider := newStubProvider()
	provider.set("doc", []float32{1, 0, 0})
	svc := newTestService(t, provider, nil)
	ctx := context.Background()

	_, err := svc.Index(ctx, "doc", TypeGeneral, nil, "")
	require.NoError(t, err)

	// 1.01 is above the maximum possible cosine similarity.
	matches, err := svc.Retrieve(ctx, "doc", QueryOptions{MinSimilarity: 1.01})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRetrieve_TypeFilter(t *testing.T) {
	provider := newStubProvider()
	svc := newTestService(t, provider, nil)
	ctx := context.Background()

	// All documents share the query vector so every one clears the
	// similarity threshold; only the type filter discriminates.
	for _, text := range []string{"faq one", "faq two", "faq three"} {
		provider.set(text, []float32{1, 0, 0})
		_, err := svc.Index(ctx, text, TypeFAQ, nil, "")
		require.NoError(t, err)
	}
	for _, text := range []string{"price one", "price two"} {
		provider.set(text, []float32{1, 0, 0})
		_, err := svc.Index(ctx, text, TypePrice, nil, "")
		require.NoError(t, err)
	}
	provider.set("query", []float32{1, 0, 0})

	matches, err := svc.Retrieve(ctx, "query", QueryOptions{TopK: 50, Type: TypePrice})
	require.NoError(t, err)
	assert.Len(t, matches, 2)
	for _, m := range matches {
		assert.Equal(t, TypePrice, m.Metadata.Type)
	}
}

func TestRetrieve_DeleteRemovesFromSearch(t *testing.T) {
	provider := newStubProvider()
	provider.set("HLSO shrimp price sheet", []float32{1, 0, 0})
	provider.set("price of HLSO", []float32{0.98, 0.1, 0})
	svc := newTestService(t, provider, nil)
	ctx := context.Background()

	id, err := svc.Index(ctx, "HLSO shrimp price sheet", TypePrice, nil, "")
	require.NoError(t, err)

	matches, err := svc.Retrieve(ctx, "price of HLSO", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, id, matches[0].ID)

	assert.True(t, svc.Delete(ctx, id))

	matches, err = svc.Retrieve(ctx, "price of HLSO", QueryOptions{})
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotEqual(t, id, m.ID)
	}
}

func TestRetrieve_QuotingScenario(t *testing.T) {
	provider := newStubProvider()
	provider.set("HLSO shrimp price sheet", []float32{1, 0.1, 0})
	provider.set("frequently asked shipping question", []float32{0, 1, 0.2})
	provider.set("price of HLSO", []float32{0.95, 0.15, 0})
	svc := newTestService(t, provider, nil)
	ctx := context.Background()

	idA, err := svc.Index(ctx, "HLSO shrimp price sheet", TypePrice, nil, "")
	require.NoError(t, err)
	_, err = svc.Index(ctx, "frequently asked shipping question", TypeFAQ, nil, "")
	require.NoError(t, err)

	matches, err := svc.Retrieve(ctx, "price of HLSO", QueryOptions{TopK: 1, Type: TypePrice})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, idA, matches[0].ID)
	assert.Greater(t, matches[0].Similarity, DefaultMinSimilarity)
}

func TestRetrieve_ProviderFailure(t *testing.T) {
	provider := newStubProvider()
	svc := newTestService(t, provider, nil)
	ctx := context.Background()

	_, err := svc.Index(ctx, "a document", TypeGeneral, nil, "")
	require.NoError(t, err)

	provider.fail = &embed.EmbedError{Reason: "down"}
	_, err = svc.Retrieve(ctx, "fresh query text", QueryOptions{})
	require.Error(t, err)

	var embedErr *embed.EmbedError
	assert.ErrorAs(t, err, &embedErr)
}

func TestDelete_Unknown(t *testing.T) {
	svc := newTestService(t, nil, nil)
	assert.False(t, svc.Delete(context.Background(), "nope"))
}

func TestClear(t *testing.T) {
	provider := newStubProvider()
	st := store.NewMemory()
	svc := newTestService(t, provider, st)
	ctx := context.Background()

	_, err := svc.Index(ctx, "doc one", TypePrice, nil, "")
	require.NoError(t, err)
	require.NoError(t, svc.Clear(ctx))

	assert.Equal(t, 0, svc.Stats().TotalDocuments)
	assert.Equal(t, 0, svc.Stats().EmbeddingCacheSize)

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Records)
}

func TestPersistence_RoundTrip(t *testing.T) {
	provider := newStubProvider()
	st := store.NewMemory()
	ctx := context.Background()

	svc1 := newTestService(t, provider, st)
	idA, err := svc1.Index(ctx, "HLSO 16/20 FOB price", TypePrice, map[string]string{"size": "16/20"}, "")
	require.NoError(t, err)
	idB, err := svc1.Index(ctx, "glaze affects net weight", TypeFAQ, nil, "")
	require.NoError(t, err)

	// Fresh instance over the same store.
	svc2 := newTestService(t, provider, st)
	assert.Equal(t, 2, svc2.Stats().TotalDocuments)

	for _, id := range []string{idA, idB} {
		before, ok := svc1.Get(id)
		require.True(t, ok)
		after, ok := svc2.Get(id)
		require.True(t, ok, "document %s lost across reload", id)
		assert.Equal(t, before.Content, after.Content)
		assert.Equal(t, before.Metadata, after.Metadata)
		assert.Equal(t, before.Embedding, after.Embedding)
	}
}

func TestLoad_WrongDimensionVectorTreatedAsUnembedded(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, &store.Snapshot{
		Records: []store.Record{{ID: "odd", Content: "text", Type: TypeGeneral}},
		Vectors: map[string][]float32{"odd": {1, 2, 3, 4, 5}}, // provider expects 3 dims
	}))

	svc := newTestService(t, newStubProvider(), st)
	doc, ok := svc.Get("odd")
	require.True(t, ok)
	assert.Nil(t, doc.Embedding)

	// Listable but excluded from search.
	total, page := svc.List("", 10, 0)
	assert.Equal(t, 1, total)
	require.Len(t, page, 1)
	assert.False(t, page[0].HasEmbedding)
}

func TestLoad_StoreFailureStartsEmpty(t *testing.T) {
	provider := newStubProvider()
	svc, err := New(Config{Provider: provider, Store: failingStore{}})
	require.NoError(t, err)
	assert.Equal(t, 0, svc.Stats().TotalDocuments)
}

func TestPersistFailure_KeepsInMemoryConsistent(t *testing.T) {
	provider := newStubProvider()
	svc, err := New(Config{Provider: provider, Store: failingStore{}})
	require.NoError(t, err)
	ctx := context.Background()

	id, err := svc.Index(ctx, "survives in memory", TypeGeneral, nil, "")
	require.NoError(t, err, "a failed disk write must not fail the mutation")

	matches, err := svc.Retrieve(ctx, "survives in memory", QueryOptions{MinSimilarity: 0.01})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, id, matches[0].ID)
}

func TestList_PaginationAndFilter(t *testing.T) {
	svc := newTestService(t, nil, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Index(ctx, "price doc "+string(rune('a'+i)), TypePrice, nil, "")
		require.NoError(t, err)
	}
	_, err := svc.Index(ctx, "faq doc", TypeFAQ, nil, "")
	require.NoError(t, err)

	total, page := svc.List(TypePrice, 2, 0)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 2)

	total, page = svc.List(TypePrice, 2, 4)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 1)

	total, page = svc.List("", 0, 0)
	assert.Equal(t, 6, total)
	assert.Len(t, page, 6)

	total, page = svc.List(TypeFAQ, 10, 10)
	assert.Equal(t, 1, total)
	assert.Empty(t, page)
}

func TestStats_Counters(t *testing.T) {
	provider := newStubProvider()
	provider.set("doc", []float32{1, 0, 0})
	svc := newTestService(t, provider, nil)
	ctx := context.Background()

	_, err := svc.Index(ctx, "doc", TypePrice, nil, "")
	require.NoError(t, err)
	_, err = svc.Retrieve(ctx, "doc", QueryOptions{})
	require.NoError(t, err)
	_, err = svc.Retrieve(ctx, "doc", QueryOptions{})
	require.NoError(t, err)

	stats := svc.Stats()
	assert.Equal(t, 1, stats.TotalDocuments)
	assert.Equal(t, map[string]int{TypePrice: 1}, stats.DocumentsByType)
	assert.Equal(t, uint64(1), stats.DocumentsIndexed)
	assert.Equal(t, uint64(2), stats.QueriesProcessed)
	// "doc" is embedded once for indexing, then served from cache for
	// both queries.
	assert.Equal(t, uint64(1), stats.EmbeddingsGenerated)
	assert.Equal(t, uint64(2), stats.CacheHits)
	assert.Equal(t, 1, stats.EmbeddingCacheSize)
	assert.Greater(t, stats.IndexSizeMB, 0.0)
}

func TestIndexConversation(t *testing.T) {
	svc := newTestService(t, nil, nil)

	id, err := svc.IndexConversation(context.Background(),
		"how much is HLSO 16/20?", "HLSO 16/20 is $5.40/kg FOB.", nil)
	require.NoError(t, err)

	doc, ok := svc.Get(id)
	require.True(t, ok)
	assert.Equal(t, TypeConversation, doc.Metadata.Type)
	assert.Contains(t, doc.Content, "User: how much is HLSO 16/20?")
	assert.Contains(t, doc.Content, "Assistant: HLSO 16/20 is $5.40/kg FOB.")
	assert.Equal(t, "23", doc.Metadata.Extra["user_message_length"])
}

// failingStore errors on every operation.
type failingStore struct{}

func (failingStore) Load(ctx context.Context) (*store.Snapshot, error) {
	return nil, assert.AnError
}
func (failingStore) Save(ctx context.Context, snap *store.Snapshot) error { return assert.AnError }
func (failingStore) Clear(ctx context.Context) error                     { return assert.AnError }
func (failingStore) Close() error                                        { return nil }
