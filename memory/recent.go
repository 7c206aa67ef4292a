package memory

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecentBufferConfig configures the short-tier buffer.
type RecentBufferConfig struct {
	// MaxItems caps the number of events kept per user. Oldest events are
	// dropped first once the cap is exceeded.
	MaxItems int

	// Now is used for testing. Defaults to time.Now.
	Now func() time.Time
}

// DefaultRecentBufferConfig returns the default short-tier configuration.
// The capacity stays above the default consolidation threshold, otherwise
// eviction would keep the count below the trigger and consolidation would
// never run.
func DefaultRecentBufferConfig() RecentBufferConfig {
	return RecentBufferConfig{MaxItems: 200}
}

// RecentBuffer is the ephemeral short tier: a bounded, per-user, in-process
// sequence of recent interaction events. Nothing here survives a restart;
// that is the point of this tier.
type RecentBuffer struct {
	mu       sync.RWMutex
	byUser   map[string][]MemoryEvent
	maxItems int
	now      func() time.Time
	logger   *zap.Logger
}

// NewRecentBuffer creates a new short-tier buffer.
func NewRecentBuffer(config RecentBufferConfig, logger *zap.Logger) *RecentBuffer {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxItems := config.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultRecentBufferConfig().MaxItems
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &RecentBuffer{
		byUser:   make(map[string][]MemoryEvent),
		maxItems: maxItems,
		now:      now,
		logger:   logger.With(zap.String("component", "recent_buffer")),
	}
}

// MaxItems returns the per-user capacity.
func (b *RecentBuffer) MaxItems() int { return b.maxItems }

// Append stores an event at the end of the user's sequence, assigning an id
// and timestamp when absent, and evicts from the front once the user exceeds
// MaxItems. Returns the event id.
func (b *RecentBuffer) Append(userID string, ev MemoryEvent) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}
	ev.UserID = userID
	ev.Importance = ClampImportance(ev.Importance)

	seq := append(b.byUser[userID], ev)
	if overflow := len(seq) - b.maxItems; overflow > 0 {
		seq = append([]MemoryEvent(nil), seq[overflow:]...)
	}
	b.byUser[userID] = seq

	return ev.ID
}

// Recent returns up to limit events, most recent first. limit <= 0 returns
// everything.
func (b *RecentBuffer) Recent(userID string, limit int) []MemoryEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seq := b.byUser[userID]
	if limit <= 0 || limit > len(seq) {
		limit = len(seq)
	}
	out := make([]MemoryEvent, 0, limit)
	for i := len(seq) - 1; i >= len(seq)-limit; i-- {
		out = append(out, seq[i])
	}
	return out
}

// Oldest returns up to limit events, oldest first.
func (b *RecentBuffer) Oldest(userID string, limit int) []MemoryEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seq := b.byUser[userID]
	if limit <= 0 || limit > len(seq) {
		limit = len(seq)
	}
	return append([]MemoryEvent(nil), seq[:limit]...)
}

// Count returns the number of buffered events for the user. Unknown users
// count as zero.
func (b *RecentBuffer) Count(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byUser[userID])
}

// Search returns events whose serialized form contains the query,
// case-insensitively, in insertion order.
func (b *RecentBuffer) Search(userID, query string) []MemoryEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	needle := strings.ToLower(query)
	var out []MemoryEvent
	for _, ev := range b.byUser[userID] {
		raw, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(string(raw)), needle) {
			out = append(out, ev)
		}
	}
	return out
}

// Update applies a post-hoc edit to a buffered event by id. Returns false
// when the event is not present.
func (b *RecentBuffer) Update(userID, eventID string, fn func(*MemoryEvent)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	seq := b.byUser[userID]
	for i := range seq {
		if seq[i].ID == eventID {
			fn(&seq[i])
			seq[i].Importance = ClampImportance(seq[i].Importance)
			return true
		}
	}
	return false
}

// EvictDown drops events from the front until at most keepCount remain.
func (b *RecentBuffer) EvictDown(userID string, keepCount int) {
	if keepCount < 0 {
		keepCount = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	seq := b.byUser[userID]
	if len(seq) <= keepCount {
		return
	}
	evicted := len(seq) - keepCount
	b.byUser[userID] = append([]MemoryEvent(nil), seq[evicted:]...)

	b.logger.Debug("evicted recent events",
		zap.String("user_id", userID),
		zap.Int("evicted", evicted),
		zap.Int("kept", keepCount),
	)
}

// Clear removes all buffered events for the user and returns how many were
// dropped.
func (b *RecentBuffer) Clear(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cleared := len(b.byUser[userID])
	delete(b.byUser, userID)
	return cleared
}

// RecentStats summarizes the short tier for Status reporting.
type RecentStats struct {
	TotalUsers      int `json:"total_users"`
	TotalItems      int `json:"total_items"`
	MaxItemsPerUser int `json:"max_items_per_user"`
}

// Stats returns buffer-wide counters.
func (b *RecentBuffer) Stats() RecentStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, seq := range b.byUser {
		total += len(seq)
	}
	return RecentStats{
		TotalUsers:      len(b.byUser),
		TotalItems:      total,
		MaxItemsPerUser: b.maxItems,
	}
}
