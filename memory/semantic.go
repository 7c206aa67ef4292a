package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// NominalSimilarity is the fixed score assigned to substring matches when no
// vector similarity is available.
const NominalSimilarity = 0.8

// EmbeddingProvider is the slice of llm/embedding the semantic tier needs.
type EmbeddingProvider interface {
	Name() string
	EmbedQuery(ctx context.Context, query string) ([]float64, error)
}

// VectorCache caches embedding vectors keyed by content hash. Implemented by
// internal/cache; optional.
type VectorCache interface {
	GetVector(ctx context.Context, key string) ([]float64, error)
	SetVector(ctx context.Context, key string, vector []float64) error
}

// semanticEntry is a stored document. callerMeta is the metadata as supplied
// by the caller; it participates in content addressing, while the system
// fields (added_at, content_length) do not.
type semanticEntry struct {
	id         string
	content    string
	callerMeta map[string]any
	vector     []float64
	addedAt    time.Time
}

type candidate struct {
	entry *semanticEntry
	pos   int // insertion order
}

// Backend is the search strategy of the semantic index, fixed at
// construction: either vector similarity over an embedding provider or plain
// substring containment.
type Backend interface {
	// Mode reports "embedding" or "substring" for Status.
	Mode() string
	// Model names the embedding model, empty in substring mode.
	Model() string
	// Vector computes the stored representation for new content. A nil
	// vector with nil error means the document is stored without one.
	Vector(ctx context.Context, content string) ([]float64, error)
	// Rank scores candidates against the query, highest similarity first,
	// dropping scores below minSimilarity and truncating to limit.
	Rank(ctx context.Context, query string, cands []candidate, limit int, minSimilarity float64) []ScoredDocument
}

// SemanticIndexConfig configures the RAG tier.
type SemanticIndexConfig struct {
	// MinSimilarity is the default lower bound on reported similarity.
	MinSimilarity float64

	// Now is used for testing. Defaults to time.Now.
	Now func() time.Time
}

// DefaultSemanticIndexConfig returns the default RAG-tier configuration.
func DefaultSemanticIndexConfig() SemanticIndexConfig {
	return SemanticIndexConfig{MinSimilarity: 0.3}
}

// SemanticIndex is the shared RAG tier: a content-addressed document store.
// It is never partitioned or cleared per user; only explicit deletes and the
// age-based cleanup remove documents. Identical (content, metadata) input
// always maps to the same id, so re-insertion is a no-op.
type SemanticIndex struct {
	mu      sync.RWMutex
	entries map[string]*semanticEntry
	order   []string

	backend       Backend
	minSimilarity float64
	now           func() time.Time
	logger        *zap.Logger
}

// NewSemanticIndex creates the RAG tier with the given search backend.
func NewSemanticIndex(config SemanticIndexConfig, backend Backend, logger *zap.Logger) *SemanticIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backend == nil {
		backend = NewSubstringBackend()
	}
	minSim := config.MinSimilarity
	if minSim <= 0 {
		minSim = DefaultSemanticIndexConfig().MinSimilarity
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &SemanticIndex{
		entries:       make(map[string]*semanticEntry),
		backend:       backend,
		minSimilarity: minSim,
		now:           now,
		logger:        logger.With(zap.String("component", "semantic_index"), zap.String("mode", backend.Mode())),
	}
}

// DocumentInput is the caller-facing input to AddDocument.
type DocumentInput struct {
	Content  string
	Metadata map[string]any
}

// DocumentID computes the deterministic id for (content, metadata). The hash
// covers the caller-supplied metadata only, so the id is stable across time.
func DocumentID(content string, metadata map[string]any) string {
	h := sha256.New()
	h.Write([]byte(content))
	h.Write([]byte{0})
	if len(metadata) > 0 {
		// json.Marshal emits map keys in sorted order, which makes the
		// serialization canonical.
		raw, err := json.Marshal(metadata)
		if err == nil {
			h.Write(raw)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// AddDocument stores a document and returns its id. Adding identical input
// again returns the same id without growing the index. An embedding failure
// stores the document without a vector instead of failing the insert.
func (x *SemanticIndex) AddDocument(ctx context.Context, in DocumentInput) string {
	id := DocumentID(in.Content, in.Metadata)

	x.mu.RLock()
	_, exists := x.entries[id]
	x.mu.RUnlock()
	if exists {
		return id
	}

	// The embedding round-trip stays outside the lock: a slow provider
	// must not stall concurrent reads or inserts for other users.
	vector, err := x.backend.Vector(ctx, in.Content)
	if err != nil {
		x.logger.Warn("embedding failed, storing document without vector",
			zap.String("id", id),
			zap.Error(err),
		)
		vector = nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, exists := x.entries[id]; exists {
		return id
	}
	x.entries[id] = &semanticEntry{
		id:         id,
		content:    in.Content,
		callerMeta: cloneMetadata(in.Metadata),
		vector:     vector,
		addedAt:    x.now(),
	}
	x.order = append(x.order, id)
	return id
}

// AddBulkDocuments stores a batch and returns the ids in input order.
func (x *SemanticIndex) AddBulkDocuments(ctx context.Context, docs []DocumentInput) []string {
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, x.AddDocument(ctx, doc))
	}
	return ids
}

// SemanticSearchOptions tune a Search call.
type SemanticSearchOptions struct {
	// MinSimilarity overrides the index default when non-nil.
	MinSimilarity *float64
	// FilterMetadata keeps only documents whose metadata matches every
	// entry by equality.
	FilterMetadata map[string]any
}

// Search returns documents relevant to the query, ranked by similarity
// descending. In substring mode every containment match carries the nominal
// similarity and insertion order is preserved. Search never fails because of
// a missing or broken embedding provider.
func (x *SemanticIndex) Search(ctx context.Context, query string, limit int, opts SemanticSearchOptions) []ScoredDocument {
	if limit <= 0 {
		limit = 5
	}
	minSim := x.minSimilarity
	if opts.MinSimilarity != nil {
		minSim = *opts.MinSimilarity
	}

	x.mu.RLock()
	cands := x.candidatesLocked(opts.FilterMetadata, "")
	x.mu.RUnlock()

	return x.backend.Rank(ctx, query, cands, limit, minSim)
}

// SearchSimilar returns documents similar to an existing document, excluding
// the document itself.
func (x *SemanticIndex) SearchSimilar(ctx context.Context, id string, limit int) []ScoredDocument {
	x.mu.RLock()
	entry, ok := x.entries[id]
	var cands []candidate
	if ok {
		cands = x.candidatesLocked(nil, id)
	}
	x.mu.RUnlock()

	if !ok {
		return []ScoredDocument{}
	}
	if limit <= 0 {
		limit = 5
	}
	return x.backend.Rank(ctx, entry.content, cands, limit, x.minSimilarity)
}

// GetDocument returns a stored document by id.
func (x *SemanticIndex) GetDocument(id string) (SemanticDocument, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	entry, ok := x.entries[id]
	if !ok {
		return SemanticDocument{}, false
	}
	return x.export(entry), true
}

// DocumentUpdate carries the partial fields accepted by UpdateDocument.
type DocumentUpdate struct {
	Content  *string
	Metadata map[string]any
}

// UpdateDocument rewrites a document. Because ids are content-addressed, a
// change to content or metadata re-keys the document: the old id is removed
// and the new id inserted, preserving the original added-at time. Returns
// false when the id is unknown.
func (x *SemanticIndex) UpdateDocument(ctx context.Context, id string, upd DocumentUpdate) bool {
	x.mu.RLock()
	entry, ok := x.entries[id]
	var content string
	var callerMeta map[string]any
	var addedAt time.Time
	if ok {
		content = entry.content
		if upd.Content != nil {
			content = *upd.Content
		}
		callerMeta = entry.callerMeta
		if upd.Metadata != nil {
			callerMeta = cloneMetadata(upd.Metadata)
		}
		addedAt = entry.addedAt
	}
	x.mu.RUnlock()

	if !ok {
		return false
	}

	newID := DocumentID(content, callerMeta)
	if newID == id {
		return true
	}

	// Embedding outside the lock, same as AddDocument.
	vector, err := x.backend.Vector(ctx, content)
	if err != nil {
		x.logger.Warn("embedding failed during update, storing document without vector",
			zap.String("id", newID),
			zap.Error(err),
		)
		vector = nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.entries[id]; !ok {
		// Deleted while the vector was being computed.
		return false
	}
	x.removeLocked(id)
	if _, ok := x.entries[newID]; ok {
		return true
	}
	x.entries[newID] = &semanticEntry{
		id:         newID,
		content:    content,
		callerMeta: callerMeta,
		vector:     vector,
		addedAt:    addedAt,
	}
	x.order = append(x.order, newID)
	return true
}

// DeleteDocument removes a document by id.
func (x *SemanticIndex) DeleteDocument(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.entries[id]; !ok {
		return false
	}
	x.removeLocked(id)
	return true
}

// Cleanup removes documents older than maxAgeDays and returns how many were
// removed. This is the only bulk deletion path; user-scoped clears never
// touch this tier.
func (x *SemanticIndex) Cleanup(maxAgeDays int) int {
	if maxAgeDays <= 0 {
		return 0
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	cutoff := x.now().AddDate(0, 0, -maxAgeDays)
	var stale []string
	for id, entry := range x.entries {
		if entry.addedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		x.removeLocked(id)
	}

	if len(stale) > 0 {
		x.logger.Info("semantic cleanup complete", zap.Int("removed", len(stale)))
	}
	return len(stale)
}

// Count returns the number of stored documents.
func (x *SemanticIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// SemanticStats summarizes the RAG tier for Status reporting.
type SemanticStats struct {
	TotalDocuments int    `json:"total_documents"`
	Mode           string `json:"mode"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
}

// Stats returns tier-wide counters.
func (x *SemanticIndex) Stats() SemanticStats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return SemanticStats{
		TotalDocuments: len(x.entries),
		Mode:           x.backend.Mode(),
		EmbeddingModel: x.backend.Model(),
	}
}

func (x *SemanticIndex) candidatesLocked(filter map[string]any, excludeID string) []candidate {
	cands := make([]candidate, 0, len(x.order))
	for pos, id := range x.order {
		if id == excludeID {
			continue
		}
		entry := x.entries[id]
		if !metadataMatches(entry.callerMeta, filter) {
			continue
		}
		cands = append(cands, candidate{entry: entry, pos: pos})
	}
	return cands
}

func (x *SemanticIndex) removeLocked(id string) {
	delete(x.entries, id)
	for i, existing := range x.order {
		if existing == id {
			x.order = append(x.order[:i], x.order[i+1:]...)
			break
		}
	}
}

func (x *SemanticIndex) export(entry *semanticEntry) SemanticDocument {
	return SemanticDocument{
		ID:       entry.id,
		Content:  entry.content,
		Metadata: exportMetadata(entry),
	}
}

// exportMetadata merges the caller metadata with the system fields.
func exportMetadata(entry *semanticEntry) map[string]any {
	out := cloneMetadata(entry.callerMeta)
	if out == nil {
		out = make(map[string]any, 2)
	}
	out["added_at"] = entry.addedAt
	out["content_length"] = len(entry.content)
	return out
}

func metadataMatches(metadata, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func cloneMetadata(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ============================================================
// Backends
// ============================================================

// SubstringBackend is the required degradation path when no embedding
// provider is configured: case-insensitive containment with a fixed nominal
// similarity, results in insertion order.
type SubstringBackend struct{}

// NewSubstringBackend creates the fallback backend.
func NewSubstringBackend() *SubstringBackend { return &SubstringBackend{} }

func (*SubstringBackend) Mode() string  { return "substring" }
func (*SubstringBackend) Model() string { return "" }

func (*SubstringBackend) Vector(context.Context, string) ([]float64, error) {
	return nil, nil
}

// Rank implements Backend by substring containment.
func (*SubstringBackend) Rank(_ context.Context, query string, cands []candidate, limit int, _ float64) []ScoredDocument {
	return substringRank(query, cands, limit)
}

func substringRank(query string, cands []candidate, limit int) []ScoredDocument {
	needle := strings.ToLower(query)
	out := make([]ScoredDocument, 0, limit)
	for _, c := range cands {
		if !strings.Contains(strings.ToLower(c.entry.content), needle) {
			continue
		}
		out = append(out, scored(c.entry, NominalSimilarity))
		if len(out) >= limit {
			break
		}
	}
	return out
}

// EmbeddingBackend ranks documents by cosine similarity of embedding
// vectors. Vectors are cached by content hash when a cache is supplied, and
// any embedding failure degrades the affected call to substring matching
// instead of surfacing an error.
type EmbeddingBackend struct {
	provider EmbeddingProvider
	cache    VectorCache
	model    string
	logger   *zap.Logger
}

// NewEmbeddingBackend creates the vector backend. cache may be nil.
func NewEmbeddingBackend(provider EmbeddingProvider, model string, cache VectorCache, logger *zap.Logger) *EmbeddingBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingBackend{
		provider: provider,
		cache:    cache,
		model:    model,
		logger:   logger.With(zap.String("component", "embedding_backend")),
	}
}

func (b *EmbeddingBackend) Mode() string  { return "embedding" }
func (b *EmbeddingBackend) Model() string { return b.model }

// Vector implements Backend, consulting the cache first. Cache failures are
// ignored; they only cost a re-embedding.
func (b *EmbeddingBackend) Vector(ctx context.Context, content string) ([]float64, error) {
	key := DocumentID(content, nil)

	if b.cache != nil {
		if vec, err := b.cache.GetVector(ctx, key); err == nil && len(vec) > 0 {
			return vec, nil
		}
	}

	vec, err := b.provider.EmbedQuery(ctx, content)
	if err != nil {
		return nil, err
	}

	if b.cache != nil {
		if err := b.cache.SetVector(ctx, key, vec); err != nil {
			b.logger.Debug("failed to cache embedding", zap.Error(err))
		}
	}
	return vec, nil
}

// Rank implements Backend. Documents stored without vectors fall back to
// substring matching at the nominal similarity so they remain reachable.
func (b *EmbeddingBackend) Rank(ctx context.Context, query string, cands []candidate, limit int, minSimilarity float64) []ScoredDocument {
	queryVec, err := b.Vector(ctx, query)
	if err != nil {
		b.logger.Warn("query embedding failed, falling back to substring search", zap.Error(err))
		return substringRank(query, cands, limit)
	}

	needle := strings.ToLower(query)
	results := make([]ScoredDocument, 0, len(cands))
	for _, c := range cands {
		var sim float64
		if len(c.entry.vector) > 0 {
			sim = cosineSimilarity(queryVec, c.entry.vector)
		} else if strings.Contains(strings.ToLower(c.entry.content), needle) {
			sim = NominalSimilarity
		}
		if sim < minSimilarity {
			continue
		}
		results = append(results, scored(c.entry, sim))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if limit < len(results) {
		results = results[:limit]
	}
	return results
}

func scored(entry *semanticEntry, similarity float64) ScoredDocument {
	return ScoredDocument{
		ID:         entry.id,
		Content:    entry.content,
		Similarity: similarity,
		Metadata:   exportMetadata(entry),
	}
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
