package memory

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Karsod58/my-clawbot/internal/metrics"
)

// ClearScope selects which tiers ClearUserMemory touches. The shared semantic
// index is never in scope.
type ClearScope string

const (
	ScopeAll   ClearScope = "all"
	ScopeShort ClearScope = "short"
	ScopeLong  ClearScope = "long"
)

// EngineConfig tunes orchestration. Zero-valued fields fall back to defaults.
type EngineConfig struct {
	// ShortTermWindow is the recent-buffer slice of a context bundle.
	ShortTermWindow int `yaml:"short_term_window"`
	// LongTermWindow is the durable-store slice of a context bundle.
	LongTermWindow int `yaml:"long_term_window"`
	// RAGWindow is the semantic-index slice of a context bundle.
	RAGWindow int `yaml:"rag_window"`

	// ConsolidationThreshold is the buffered-event count that triggers a
	// consolidation run after response ingest.
	ConsolidationThreshold int `yaml:"consolidation_threshold"`
	// ConsolidationBatch is how many of the oldest events one run drains.
	ConsolidationBatch int `yaml:"consolidation_batch"`
	// ConsolidationMinImportance is the stored-importance cutoff above which
	// a drained event is promoted without re-scoring.
	ConsolidationMinImportance float64 `yaml:"consolidation_min_importance"`
	// TrimRatio is the post-consolidation buffer size as a fraction of the
	// threshold.
	TrimRatio float64 `yaml:"trim_ratio"`

	// CleanupInterval paces the background cleanup loop.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	// LongTermCleanup drives the durable-store retention sweep.
	LongTermCleanup LongTermCleanupPolicy `yaml:"long_term_cleanup"`
	// SemanticMaxAgeDays ages out semantic documents. Zero disables the
	// semantic sweep.
	SemanticMaxAgeDays int `yaml:"semantic_max_age_days"`

	// Now is used for testing. Defaults to time.Now.
	Now func() time.Time `yaml:"-"`
}

// DefaultEngineConfig returns the stock orchestration parameters.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ShortTermWindow:            10,
		LongTermWindow:             5,
		RAGWindow:                  5,
		ConsolidationThreshold:     100,
		ConsolidationBatch:         20,
		ConsolidationMinImportance: 0.7,
		TrimRatio:                  0.8,
		CleanupInterval:            time.Hour,
		LongTermCleanup:            DefaultLongTermCleanupPolicy(),
	}
}

func (c *EngineConfig) applyDefaults() {
	def := DefaultEngineConfig()
	if c.ShortTermWindow <= 0 {
		c.ShortTermWindow = def.ShortTermWindow
	}
	if c.LongTermWindow <= 0 {
		c.LongTermWindow = def.LongTermWindow
	}
	if c.RAGWindow <= 0 {
		c.RAGWindow = def.RAGWindow
	}
	if c.ConsolidationThreshold <= 0 {
		c.ConsolidationThreshold = def.ConsolidationThreshold
	}
	if c.ConsolidationBatch <= 0 {
		c.ConsolidationBatch = def.ConsolidationBatch
	}
	if c.ConsolidationMinImportance <= 0 {
		c.ConsolidationMinImportance = def.ConsolidationMinImportance
	}
	if c.TrimRatio <= 0 || c.TrimRatio > 1 {
		c.TrimRatio = def.TrimRatio
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// EngineDeps are the collaborators the engine orchestrates. Recent, LongTerm
// and Semantic are required; Scorer and Promoter fall back to the keyword
// heuristics and Metrics may be nil.
type EngineDeps struct {
	Recent   *RecentBuffer
	LongTerm *LongTermStore
	Semantic *SemanticIndex
	Scorer   Scorer
	Promoter Promoter
	Metrics  *metrics.Collector
}

// Engine is the memory orchestrator: it owns the turn pipeline across the
// three tiers. Tier failures never propagate to the caller. The worst
// observable effect of a broken tier is a degraded or empty context.
type Engine struct {
	recent   *RecentBuffer
	longTerm *LongTermStore
	semantic *SemanticIndex
	scorer   Scorer
	promoter Promoter
	metrics  *metrics.Collector

	config EngineConfig
	tracer trace.Tracer
	logger *zap.Logger
}

// NewEngine creates the orchestrator.
func NewEngine(deps EngineDeps, config EngineConfig, logger *zap.Logger) (*Engine, error) {
	if deps.Recent == nil || deps.LongTerm == nil || deps.Semantic == nil {
		return nil, fmt.Errorf("recent buffer, long-term store and semantic index are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Scorer == nil {
		deps.Scorer = NewKeywordScorer(KeywordScorerConfig{})
	}
	if deps.Promoter == nil {
		deps.Promoter = NewKeywordPromoter(KeywordPromoterConfig{})
	}
	config.applyDefaults()

	return &Engine{
		recent:   deps.Recent,
		longTerm: deps.LongTerm,
		semantic: deps.Semantic,
		scorer:   deps.Scorer,
		promoter: deps.Promoter,
		metrics:  deps.Metrics,
		config:   config,
		tracer:   otel.Tracer("memory.engine"),
		logger:   logger.With(zap.String("component", "memory_engine")),
	}, nil
}

// IngestUserMessage appends an inbound user message to the recent buffer and
// returns the assigned event id.
func (e *Engine) IngestUserMessage(ctx context.Context, userID, text, platform string) string {
	_, span := e.tracer.Start(ctx, "memory.ingest_user_message",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	id := e.recent.Append(userID, MemoryEvent{
		Kind:     EventUserMessage,
		Content:  text,
		Platform: platform,
	})
	e.metrics.EventIngested(string(EventUserMessage))
	e.updateBufferGauges()
	return id
}

// GetContext assembles a ContextBundle for the query, fanning out to all
// three tiers concurrently. A failing tier contributes an empty slice; the
// bundle itself is always returned.
func (e *Engine) GetContext(ctx context.Context, userID, query string) ContextBundle {
	ctx, span := e.tracer.Start(ctx, "memory.get_context",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	start := e.config.Now()
	bundle := ContextBundle{
		ShortTerm: []MemoryEvent{},
		LongTerm:  []LongTermRecord{},
		RAG:       []ScoredDocument{},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tierStart := e.config.Now()
		bundle.ShortTerm = e.recent.Recent(userID, e.config.ShortTermWindow)
		e.metrics.ObserveTierLatency("short_term", e.config.Now().Sub(tierStart))
		return nil
	})
	g.Go(func() error {
		tierStart := e.config.Now()
		bundle.LongTerm = e.longTerm.GetRelevant(gctx, userID, query, e.config.LongTermWindow)
		e.metrics.ObserveTierLatency("long_term", e.config.Now().Sub(tierStart))
		return nil
	})
	g.Go(func() error {
		tierStart := e.config.Now()
		bundle.RAG = e.ragSearch(gctx, userID, query, e.config.RAGWindow)
		e.metrics.ObserveTierLatency("semantic", e.config.Now().Sub(tierStart))
		return nil
	})

	// Goroutines degrade internally and never return an error.
	_ = g.Wait()

	e.metrics.ObserveContextAssembly(e.config.Now().Sub(start))
	return bundle
}

// IngestBotResponse appends the bot response, runs the promotion decision
// against the turn's user message, and finishes with the consolidation check.
// All failures inside the pipeline are logged and swallowed.
func (e *Engine) IngestBotResponse(ctx context.Context, userID, text, thought string) string {
	ctx, span := e.tracer.Start(ctx, "memory.ingest_bot_response",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	id := e.recent.Append(userID, MemoryEvent{
		Kind:    EventBotResponse,
		Content: text,
		Thought: thought,
	})
	e.metrics.EventIngested(string(EventBotResponse))

	if userMessage, ok := e.lastUserMessage(userID); ok {
		e.promote(ctx, userID, userMessage, text)
	}

	if e.recent.Count(userID) > e.config.ConsolidationThreshold {
		e.Consolidate(ctx, userID)
	}

	e.updateBufferGauges()
	return id
}

// lastUserMessage finds the most recent user_message event in the buffer,
// skipping the bot response just appended.
func (e *Engine) lastUserMessage(userID string) (string, bool) {
	for _, ev := range e.recent.Recent(userID, 0) {
		if ev.Kind == EventUserMessage {
			return ev.Content, true
		}
	}
	return "", false
}

// promote runs the promotion decision and, when positive, performs the two
// independent writes into the durable store and the semantic index. Partial
// failure is logged and never retried.
func (e *Engine) promote(ctx context.Context, userID, userMessage, botResponse string) {
	if !e.promoter.ShouldPromote(userMessage, botResponse) {
		e.metrics.Promotion("skipped")
		return
	}

	importance := e.scorer.Score(userMessage, botResponse)
	ts := e.config.Now()

	_, err := e.longTerm.Store(ctx, userID, NewLongTermRecord{
		Content: TurnContent{
			UserMessage: userMessage,
			BotResponse: botResponse,
			Timestamp:   ts,
		},
		Importance: importance,
		Timestamp:  ts,
	})
	if err != nil {
		e.metrics.Promotion("failed")
		e.metrics.TierError("long_term")
		e.logger.Warn("promotion write to long-term store failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	} else {
		e.metrics.Promotion("stored")
	}

	// Independent of the durable write; a failure there does not block this.
	e.semantic.AddDocument(ctx, DocumentInput{
		Content: FormatTurn(userMessage, botResponse),
		Metadata: map[string]any{
			"user_id":   userID,
			"timestamp": ts.Format(time.RFC3339),
			"type":      "conversation",
		},
	})

	e.logger.Debug("turn promoted",
		zap.String("user_id", userID),
		zap.Float64("importance", importance),
	)
}

// Consolidate drains the oldest buffered events: events whose stored
// importance exceeds the cutoff are promoted to the durable store without
// re-scoring, then the buffer is trimmed to TrimRatio of the threshold.
// Returns the number of events promoted.
func (e *Engine) Consolidate(ctx context.Context, userID string) int {
	oldest := e.recent.Oldest(userID, e.config.ConsolidationBatch)

	promoted := 0
	for _, ev := range oldest {
		if ev.Importance <= e.config.ConsolidationMinImportance {
			continue
		}
		content := TurnContent{Timestamp: ev.Timestamp}
		if ev.Kind == EventBotResponse {
			content.BotResponse = ev.Content
		} else {
			content.UserMessage = ev.Content
		}
		_, err := e.longTerm.Store(ctx, userID, NewLongTermRecord{
			Content:    content,
			Importance: ev.Importance,
			Timestamp:  ev.Timestamp,
		})
		if err != nil {
			e.metrics.TierError("long_term")
			e.logger.Warn("consolidation write failed",
				zap.String("user_id", userID),
				zap.String("event_id", ev.ID),
				zap.Error(err),
			)
			continue
		}
		promoted++
	}

	keep := int(float64(e.config.ConsolidationThreshold) * e.config.TrimRatio)
	e.recent.EvictDown(userID, keep)

	e.metrics.Consolidation(promoted)
	e.logger.Info("consolidation complete",
		zap.String("user_id", userID),
		zap.Int("promoted", promoted),
		zap.Int("kept", keep),
	)
	return promoted
}

// TierSearchOptions select which tiers SearchAcrossTiers queries.
type TierSearchOptions struct {
	IncludeShortTerm bool
	IncludeLongTerm  bool
	IncludeRAG       bool
	RAGLimit         int
}

// SearchAcrossTiers runs the query against each included tier and merges the
// hits into a ContextBundle. Excluded tiers contribute empty slices.
func (e *Engine) SearchAcrossTiers(ctx context.Context, userID, query string, opts TierSearchOptions) ContextBundle {
	ctx, span := e.tracer.Start(ctx, "memory.search_across_tiers",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	bundle := ContextBundle{
		ShortTerm: []MemoryEvent{},
		LongTerm:  []LongTermRecord{},
		RAG:       []ScoredDocument{},
	}

	if opts.IncludeShortTerm {
		bundle.ShortTerm = e.recent.Search(userID, query)
	}
	if opts.IncludeLongTerm {
		bundle.LongTerm = e.longTerm.Search(ctx, userID, query, LongTermSearchOptions{})
	}
	if opts.IncludeRAG {
		limit := opts.RAGLimit
		if limit <= 0 {
			limit = e.config.RAGWindow
		}
		bundle.RAG = e.ragSearch(ctx, userID, query, limit)
	}

	return bundle
}

// ragSearch queries the shared semantic index restricted to the user's own
// documents.
func (e *Engine) ragSearch(ctx context.Context, userID, query string, limit int) []ScoredDocument {
	if e.semantic.Stats().Mode == "substring" {
		e.metrics.FallbackSearch()
	}
	return e.semantic.Search(ctx, query, limit, SemanticSearchOptions{
		FilterMetadata: map[string]any{"user_id": userID},
	})
}

// ClearUserMemory clears the user's state in the given scope. The shared
// semantic index is never cleared per user; only DeleteDocument and Cleanup
// remove documents from it.
func (e *Engine) ClearUserMemory(ctx context.Context, userID string, scope ClearScope) {
	switch scope {
	case ScopeShort:
		cleared := e.recent.Clear(userID)
		e.logger.Info("cleared short-term memory", zap.String("user_id", userID), zap.Int("cleared", cleared))
	case ScopeLong:
		cleared := e.longTerm.Clear(ctx, userID)
		e.logger.Info("cleared long-term memory", zap.String("user_id", userID), zap.Int64("cleared", cleared))
	case ScopeAll:
		short := e.recent.Clear(userID)
		long := e.longTerm.Clear(ctx, userID)
		e.logger.Info("cleared all user memory",
			zap.String("user_id", userID),
			zap.Int("short_term", short),
			zap.Int64("long_term", long),
		)
	default:
		e.logger.Warn("unknown clear scope, nothing cleared",
			zap.String("user_id", userID),
			zap.String("scope", string(scope)),
		)
	}
	e.updateBufferGauges()
}

// EngineStatus reports per-tier counters.
type EngineStatus struct {
	ShortTerm RecentStats   `json:"short_term"`
	LongTerm  LongTermStats `json:"long_term"`
	RAG       SemanticStats `json:"rag"`
}

// Status returns a snapshot across all three tiers.
func (e *Engine) Status(ctx context.Context) EngineStatus {
	return EngineStatus{
		ShortTerm: e.recent.Stats(),
		LongTerm:  e.longTerm.Stats(ctx),
		RAG:       e.semantic.Stats(),
	}
}

// StartCleanupLoop runs the retention sweeps on CleanupInterval until the
// context is cancelled. It returns immediately; the loop runs in its own
// goroutine.
func (e *Engine) StartCleanupLoop(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.config.CleanupInterval)
		defer ticker.Stop()

		e.logger.Info("cleanup loop started", zap.Duration("interval", e.config.CleanupInterval))
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("cleanup loop stopped")
				return
			case <-ticker.C:
				e.runCleanup(ctx)
			}
		}
	}()
}

func (e *Engine) runCleanup(ctx context.Context) {
	removed := e.longTerm.Cleanup(ctx, e.config.LongTermCleanup)
	e.metrics.CleanupRemoved("long_term", int(removed))

	if e.config.SemanticMaxAgeDays > 0 {
		stale := e.semantic.Cleanup(e.config.SemanticMaxAgeDays)
		e.metrics.CleanupRemoved("semantic", stale)
	}
}

func (e *Engine) updateBufferGauges() {
	stats := e.recent.Stats()
	e.metrics.SetBufferSize(stats.TotalUsers, stats.TotalItems)
}
