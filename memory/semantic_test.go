package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newSubstringIndex(t *testing.T) *SemanticIndex {
	t.Helper()
	return NewSemanticIndex(SemanticIndexConfig{}, NewSubstringBackend(), zaptest.NewLogger(t))
}

func TestSemanticFallbackSearch(t *testing.T) {
	idx := newSubstringIndex(t)
	ctx := context.Background()

	idx.AddDocument(ctx, DocumentInput{Content: "foobar"})
	idx.AddDocument(ctx, DocumentInput{Content: "baz"})

	hits := idx.Search(ctx, "foo", 5, SemanticSearchOptions{})
	require.Len(t, hits, 1)
	assert.Equal(t, "foobar", hits[0].Content)
	assert.Equal(t, NominalSimilarity, hits[0].Similarity)
}

func TestSemanticFallbackCaseInsensitiveInsertionOrder(t *testing.T) {
	idx := newSubstringIndex(t)
	ctx := context.Background()

	idx.AddDocument(ctx, DocumentInput{Content: "Alpha Trains"})
	idx.AddDocument(ctx, DocumentInput{Content: "beta trains"})
	idx.AddDocument(ctx, DocumentInput{Content: "gamma TRAINS"})

	hits := idx.Search(ctx, "trains", 2, SemanticSearchOptions{})
	require.Len(t, hits, 2)
	assert.Equal(t, "Alpha Trains", hits[0].Content)
	assert.Equal(t, "beta trains", hits[1].Content)
}

func TestSemanticIdempotentAdd(t *testing.T) {
	idx := newSubstringIndex(t)
	ctx := context.Background()

	in := DocumentInput{Content: "same content", Metadata: map[string]any{"k": "v"}}
	id1 := idx.AddDocument(ctx, in)
	id2 := idx.AddDocument(ctx, in)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, idx.Count())
}

func TestSemanticIDDependsOnMetadata(t *testing.T) {
	id1 := DocumentID("content", map[string]any{"a": "1"})
	id2 := DocumentID("content", map[string]any{"a": "2"})
	id3 := DocumentID("content", nil)

	assert.NotEqual(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.Equal(t, id1, DocumentID("content", map[string]any{"a": "1"}))
}

func TestSemanticAddBulkDocuments(t *testing.T) {
	idx := newSubstringIndex(t)

	ids := idx.AddBulkDocuments(context.Background(), []DocumentInput{
		{Content: "one"},
		{Content: "two"},
		{Content: "one"},
	})
	require.Len(t, ids, 3)
	assert.Equal(t, ids[0], ids[2])
	assert.Equal(t, 2, idx.Count())
}

func TestSemanticGetDocumentExportsSystemMetadata(t *testing.T) {
	idx := newSubstringIndex(t)
	ctx := context.Background()

	id := idx.AddDocument(ctx, DocumentInput{Content: "hello", Metadata: map[string]any{"user_id": "alice"}})

	doc, ok := idx.GetDocument(id)
	require.True(t, ok)
	assert.Equal(t, "hello", doc.Content)
	assert.Equal(t, "alice", doc.Metadata["user_id"])
	assert.Equal(t, 5, doc.Metadata["content_length"])
	assert.Contains(t, doc.Metadata, "added_at")

	_, ok = idx.GetDocument("missing")
	assert.False(t, ok)
}

func TestSemanticMetadataFilter(t *testing.T) {
	idx := newSubstringIndex(t)
	ctx := context.Background()

	idx.AddDocument(ctx, DocumentInput{Content: "note for alice", Metadata: map[string]any{"user_id": "alice"}})
	idx.AddDocument(ctx, DocumentInput{Content: "note for bob", Metadata: map[string]any{"user_id": "bob"}})

	hits := idx.Search(ctx, "note", 5, SemanticSearchOptions{
		FilterMetadata: map[string]any{"user_id": "alice"},
	})
	require.Len(t, hits, 1)
	assert.Equal(t, "note for alice", hits[0].Content)
}

func TestSemanticUpdateDocumentRekeys(t *testing.T) {
	idx := newSubstringIndex(t)
	ctx := context.Background()

	id := idx.AddDocument(ctx, DocumentInput{Content: "before"})

	newContent := "after"
	require.True(t, idx.UpdateDocument(ctx, id, DocumentUpdate{Content: &newContent}))

	_, ok := idx.GetDocument(id)
	assert.False(t, ok, "old id is removed")

	newID := DocumentID("after", nil)
	doc, ok := idx.GetDocument(newID)
	require.True(t, ok)
	assert.Equal(t, "after", doc.Content)
	assert.Equal(t, 1, idx.Count())

	assert.False(t, idx.UpdateDocument(ctx, "missing", DocumentUpdate{Content: &newContent}))
}

func TestSemanticUpdateDocumentNoChange(t *testing.T) {
	idx := newSubstringIndex(t)
	ctx := context.Background()

	id := idx.AddDocument(ctx, DocumentInput{Content: "same"})
	same := "same"
	require.True(t, idx.UpdateDocument(ctx, id, DocumentUpdate{Content: &same}))

	_, ok := idx.GetDocument(id)
	assert.True(t, ok)
}

func TestSemanticDeleteDocument(t *testing.T) {
	idx := newSubstringIndex(t)
	ctx := context.Background()

	id := idx.AddDocument(ctx, DocumentInput{Content: "gone soon"})
	assert.True(t, idx.DeleteDocument(id))
	assert.False(t, idx.DeleteDocument(id))
	assert.Equal(t, 0, idx.Count())
}

func TestSemanticSearchSimilar(t *testing.T) {
	idx := newSubstringIndex(t)
	ctx := context.Background()

	id := idx.AddDocument(ctx, DocumentInput{Content: "trains"})
	idx.AddDocument(ctx, DocumentInput{Content: "more trains here"})
	idx.AddDocument(ctx, DocumentInput{Content: "boats"})

	hits := idx.SearchSimilar(ctx, id, 5)
	require.Len(t, hits, 1)
	assert.Equal(t, "more trains here", hits[0].Content)

	assert.Empty(t, idx.SearchSimilar(ctx, "missing", 5))
}

func TestSemanticCleanup(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := now.AddDate(0, 0, -400)
	idx := NewSemanticIndex(SemanticIndexConfig{
		Now: func() time.Time { return clock },
	}, NewSubstringBackend(), zaptest.NewLogger(t))
	ctx := context.Background()

	idx.AddDocument(ctx, DocumentInput{Content: "old"})
	clock = now
	idx.AddDocument(ctx, DocumentInput{Content: "new"})

	removed := idx.Cleanup(365)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, idx.Count())

	assert.Equal(t, 0, idx.Cleanup(0), "zero disables the sweep")
}

func TestSemanticStats(t *testing.T) {
	idx := newSubstringIndex(t)
	idx.AddDocument(context.Background(), DocumentInput{Content: "doc"})

	stats := idx.Stats()
	assert.Equal(t, 1, stats.TotalDocuments)
	assert.Equal(t, "substring", stats.Mode)
	assert.Empty(t, stats.EmbeddingModel)
}

// fakeEmbedder maps the first letter of the text onto orthogonal axes so
// similarity behaves deterministically.
type fakeEmbedder struct {
	fail bool
}

func (f *fakeEmbedder) Name() string { return "fake" }

func (f *fakeEmbedder) EmbedQuery(_ context.Context, query string) ([]float64, error) {
	if f.fail {
		return nil, assert.AnError
	}
	vec := make([]float64, 26)
	q := strings.ToLower(query)
	if len(q) > 0 && q[0] >= 'a' && q[0] <= 'z' {
		vec[q[0]-'a'] = 1
	}
	return vec, nil
}

type mapVectorCache struct {
	vectors map[string][]float64
	gets    int
	sets    int
}

func (c *mapVectorCache) GetVector(_ context.Context, key string) ([]float64, error) {
	c.gets++
	if vec, ok := c.vectors[key]; ok {
		return vec, nil
	}
	return nil, assert.AnError
}

func (c *mapVectorCache) SetVector(_ context.Context, key string, vector []float64) error {
	c.sets++
	c.vectors[key] = vector
	return nil
}

func newEmbeddingIndex(t *testing.T, provider EmbeddingProvider, cache VectorCache) *SemanticIndex {
	t.Helper()
	backend := NewEmbeddingBackend(provider, "fake-model", cache, zaptest.NewLogger(t))
	return NewSemanticIndex(SemanticIndexConfig{MinSimilarity: 0.5}, backend, zaptest.NewLogger(t))
}

func TestSemanticEmbeddingSearchRanksBySimilarity(t *testing.T) {
	idx := newEmbeddingIndex(t, &fakeEmbedder{}, nil)
	ctx := context.Background()

	idx.AddDocument(ctx, DocumentInput{Content: "apple pie"})
	idx.AddDocument(ctx, DocumentInput{Content: "banana bread"})

	hits := idx.Search(ctx, "apricot", 5, SemanticSearchOptions{})
	require.Len(t, hits, 1)
	assert.Equal(t, "apple pie", hits[0].Content)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
}

func TestSemanticEmbeddingMinSimilarityOverride(t *testing.T) {
	idx := newEmbeddingIndex(t, &fakeEmbedder{}, nil)
	ctx := context.Background()

	idx.AddDocument(ctx, DocumentInput{Content: "apple"})
	idx.AddDocument(ctx, DocumentInput{Content: "zebra"})

	zero := 0.0
	hits := idx.Search(ctx, "apple", 5, SemanticSearchOptions{MinSimilarity: &zero})
	assert.Len(t, hits, 2, "zero threshold keeps orthogonal matches")
}

func TestSemanticEmbeddingFailureDegradesToSubstring(t *testing.T) {
	provider := &fakeEmbedder{fail: true}
	idx := newEmbeddingIndex(t, provider, nil)
	ctx := context.Background()

	// Insert fails to embed; the document is stored without a vector.
	idx.AddDocument(ctx, DocumentInput{Content: "foobar"})
	idx.AddDocument(ctx, DocumentInput{Content: "baz"})
	assert.Equal(t, 2, idx.Count())

	// Query embedding also fails; the call degrades to substring matching.
	hits := idx.Search(ctx, "foo", 5, SemanticSearchOptions{})
	require.Len(t, hits, 1)
	assert.Equal(t, "foobar", hits[0].Content)
	assert.Equal(t, NominalSimilarity, hits[0].Similarity)
}

func TestSemanticEmbeddingStats(t *testing.T) {
	idx := newEmbeddingIndex(t, &fakeEmbedder{}, nil)

	stats := idx.Stats()
	assert.Equal(t, "embedding", stats.Mode)
	assert.Equal(t, "fake-model", stats.EmbeddingModel)
}

func TestEmbeddingBackendUsesCache(t *testing.T) {
	cache := &mapVectorCache{vectors: map[string][]float64{}}
	backend := NewEmbeddingBackend(&fakeEmbedder{}, "fake-model", cache, zaptest.NewLogger(t))
	ctx := context.Background()

	vec1, err := backend.Vector(ctx, "apple")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	vec2, err := backend.Vector(ctx, "apple")
	require.NoError(t, err)
	assert.Equal(t, vec1, vec2)
	assert.Equal(t, 1, cache.sets, "second lookup is served from cache")
	assert.Equal(t, 2, cache.gets)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float64{1, 0}, []float64{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{1}), "mismatched lengths")
	assert.Equal(t, 0.0, cosineSimilarity(nil, nil))
	assert.Equal(t, 0.0, cosineSimilarity([]float64{0, 0}, []float64{1, 1}))
}

// gateEmbedder blocks inside EmbedQuery until released, so tests can hold an
// insert inside the provider call and observe the index meanwhile.
type gateEmbedder struct {
	entered chan struct{}
	release chan struct{}
}

func newGateEmbedder() *gateEmbedder {
	return &gateEmbedder{
		entered: make(chan struct{}, 8),
		release: make(chan struct{}, 8),
	}
}

func (g *gateEmbedder) Name() string { return "gate" }

func (g *gateEmbedder) EmbedQuery(_ context.Context, _ string) ([]float64, error) {
	g.entered <- struct{}{}
	<-g.release
	return []float64{1}, nil
}

func TestSemanticReadsProceedDuringSlowInsert(t *testing.T) {
	gate := newGateEmbedder()
	idx := newEmbeddingIndex(t, gate, nil)
	ctx := context.Background()

	gate.release <- struct{}{}
	seedID := idx.AddDocument(ctx, DocumentInput{Content: "seed"})
	<-gate.entered

	done := make(chan string, 1)
	go func() {
		done <- idx.AddDocument(ctx, DocumentInput{Content: "slow doc"})
	}()
	// The insert is now parked inside the provider call.
	<-gate.entered

	read := make(chan bool, 1)
	go func() {
		_, ok := idx.GetDocument(seedID)
		read <- ok
	}()
	select {
	case ok := <-read:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("read blocked behind an in-flight insert")
	}
	assert.Equal(t, 1, idx.Count())

	gate.release <- struct{}{}
	id := <-done
	_, ok := idx.GetDocument(id)
	assert.True(t, ok)
	assert.Equal(t, 2, idx.Count())
}

func TestSemanticUpdateDocumentDeletedMidFlight(t *testing.T) {
	gate := newGateEmbedder()
	idx := newEmbeddingIndex(t, gate, nil)
	ctx := context.Background()

	gate.release <- struct{}{}
	id := idx.AddDocument(ctx, DocumentInput{Content: "original"})
	<-gate.entered

	updated := make(chan bool, 1)
	newContent := "rewritten"
	go func() {
		updated <- idx.UpdateDocument(ctx, id, DocumentUpdate{Content: &newContent})
	}()
	<-gate.entered

	// Deleting while the update sits inside the provider call wins.
	assert.True(t, idx.DeleteDocument(id))
	gate.release <- struct{}{}

	assert.False(t, <-updated)
	assert.Equal(t, 0, idx.Count())
}
