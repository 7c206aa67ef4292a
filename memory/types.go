package memory

import (
	"fmt"
	"time"
)

// EventKind classifies a recent-buffer event.
type EventKind string

const (
	EventUserMessage EventKind = "user_message"
	EventBotResponse EventKind = "bot_response"
)

// MemoryEvent is the short-tier unit: one side of a conversation turn.
// Events are owned by the RecentBuffer until promoted or evicted and are
// immutable after creation except through RecentBuffer.Update.
type MemoryEvent struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Kind       EventKind `json:"kind"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Platform   string    `json:"platform,omitempty"`
	Thought    string    `json:"thought,omitempty"`
	Importance float64   `json:"importance,omitempty"`
}

// TurnContent is the structured content of a long-term record: one full
// user/bot exchange.
type TurnContent struct {
	UserMessage string    `json:"user_message"`
	BotResponse string    `json:"bot_response"`
	Timestamp   time.Time `json:"timestamp"`
}

// LongTermRecord is a durable, importance-scored memory. Content is nil when
// the stored JSON could not be decoded (the read path never fails on corrupt
// rows).
type LongTermRecord struct {
	ID         uint64         `json:"id"`
	UserID     string         `json:"user_id"`
	Content    *TurnContent   `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Importance float64        `json:"importance"`
	Timestamp  time.Time      `json:"timestamp"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// SemanticDocument is a document in the shared semantic index. The ID is a
// deterministic function of (content, caller metadata), so identical input
// always maps to the same document.
type SemanticDocument struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ScoredDocument is a semantic search hit.
type ScoredDocument struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Similarity float64        `json:"similarity"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ContextBundle is the merged retrieval result across all three tiers.
// All slices are always present; a failed or empty tier contributes an
// empty slice, never nil semantics the caller has to branch on.
type ContextBundle struct {
	ShortTerm []MemoryEvent    `json:"short_term"`
	LongTerm  []LongTermRecord `json:"long_term"`
	RAG       []ScoredDocument `json:"rag"`
}

// ClampImportance forces an importance value into [0,1]. Out-of-range input
// is clamped rather than rejected.
func ClampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// FormatTurn renders a user/bot exchange the way it is stored in the
// semantic index.
func FormatTurn(userMessage, botResponse string) string {
	return fmt.Sprintf("User: %s\nAssistant: %s", userMessage, botResponse)
}
