package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// longTermRow is the persisted shape of a long-term memory. Content and
// metadata are stored as serialized JSON; user_id, timestamp and importance
// are indexed to support the (importance desc, timestamp desc) ranking.
type longTermRow struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	UserID     string    `gorm:"column:user_id;size:128;index:idx_long_term_memories_user_id"`
	Content    string    `gorm:"type:text"`
	Metadata   string    `gorm:"type:text"`
	Importance float64   `gorm:"index:idx_long_term_memories_importance"`
	Timestamp  time.Time `gorm:"index:idx_long_term_memories_timestamp"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (longTermRow) TableName() string { return "long_term_memories" }

// NewLongTermRecord is the input to Store.
type NewLongTermRecord struct {
	Content    TurnContent
	Metadata   map[string]any
	Importance float64
	Timestamp  time.Time
}

// LongTermUpdate carries the partial fields accepted by Update. Nil fields
// are left untouched.
type LongTermUpdate struct {
	Content    *TurnContent
	Metadata   map[string]any
	Importance *float64
	Timestamp  *time.Time
}

// LongTermSearchOptions filter Search results.
type LongTermSearchOptions struct {
	Limit         int
	MinImportance float64
	StartDate     *time.Time
	EndDate       *time.Time
}

// LongTermCleanupPolicy drives the two-phase cleanup sweep: first remove
// records both older than MaxAgeDays and below MinImportance, then enforce
// MaxRecords by deleting the oldest remaining rows.
type LongTermCleanupPolicy struct {
	MaxAgeDays    int     `yaml:"max_age_days"`
	MinImportance float64 `yaml:"min_importance"`
	MaxRecords    int     `yaml:"max_records"`
}

// DefaultLongTermCleanupPolicy returns the stock cleanup thresholds.
func DefaultLongTermCleanupPolicy() LongTermCleanupPolicy {
	return LongTermCleanupPolicy{
		MaxAgeDays:    365,
		MinImportance: 0.1,
		MaxRecords:    10000,
	}
}

// LongTermStats summarizes the durable tier for Status reporting.
type LongTermStats struct {
	TotalMemories     int64   `json:"total_memories"`
	TotalUsers        int64   `json:"total_users"`
	AverageImportance float64 `json:"average_importance"`
}

// LongTermStore is the durable tier: importance-scored records persisted via
// gorm, partitioned by user. Read and update failures are logged and
// converted to empty/false/zero results; only Store surfaces its error, since
// silent loss on the promotion path must be visible to the orchestrator.
type LongTermStore struct {
	db     *gorm.DB
	txn    func(ctx context.Context, fn func(tx *gorm.DB) error) error
	now    func() time.Time
	logger *zap.Logger
}

// LongTermStoreConfig configures the durable tier.
type LongTermStoreConfig struct {
	// Txn runs write operations inside a transaction. The server wires the
	// pool manager's retrying transaction here so transient failures
	// (deadlocks, dropped connections) are retried before Store gives up.
	// Nil writes directly on the gorm handle.
	Txn func(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Now is used for testing. Defaults to time.Now.
	Now func() time.Time
}

// NewLongTermStore creates a durable store on top of an open gorm handle.
func NewLongTermStore(db *gorm.DB, config LongTermStoreConfig, logger *zap.Logger) *LongTermStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &LongTermStore{
		db:     db,
		txn:    config.Txn,
		now:    now,
		logger: logger.With(zap.String("component", "long_term_store")),
	}
}

// AutoMigrate creates or updates the backing table. The embedded SQL
// migrations under internal/migration are the production path; this covers
// development and tests.
func (s *LongTermStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&longTermRow{}); err != nil {
		return fmt.Errorf("failed to auto migrate long_term_memories: %w", err)
	}
	return nil
}

// Store persists a new record and returns its assigned id. Importance is
// clamped into [0,1]; a zero timestamp is filled with the current time.
func (s *LongTermStore) Store(ctx context.Context, userID string, rec NewLongTermRecord) (uint64, error) {
	if userID == "" {
		return 0, fmt.Errorf("user id is required")
	}

	content, err := json.Marshal(rec.Content)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal content: %w", err)
	}
	metadata, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	row := longTermRow{
		UserID:     userID,
		Content:    string(content),
		Metadata:   metadata,
		Importance: ClampImportance(rec.Importance),
		Timestamp:  ts,
	}
	create := func(tx *gorm.DB) error { return tx.Create(&row).Error }
	if s.txn != nil {
		err = s.txn(ctx, create)
	} else {
		err = create(s.db.WithContext(ctx))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to store long-term memory: %w", err)
	}
	return row.ID, nil
}

// GetRelevant returns up to limit records for the user matching the query,
// ranked by importance descending then timestamp descending. The keyword
// match is a case-insensitive substring test over the serialized content and
// metadata. Query errors degrade to an empty result.
func (s *LongTermStore) GetRelevant(ctx context.Context, userID, query string, limit int) []LongTermRecord {
	tx := s.db.WithContext(ctx).
		Model(&longTermRow{}).
		Where("user_id = ?", userID)

	if query != "" {
		pat := "%" + strings.ToLower(query) + "%"
		tx = tx.Where(s.db.Where("lower(content) LIKE ?", pat).Or("lower(metadata) LIKE ?", pat))
	}

	var rows []longTermRow
	err := tx.Order("importance DESC").
		Order("timestamp DESC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		s.logger.Warn("long-term relevance query failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return []LongTermRecord{}
	}
	return s.decodeRows(rows)
}

// GetRecent returns up to limit records for the user, newest first.
func (s *LongTermStore) GetRecent(ctx context.Context, userID string, limit int) []LongTermRecord {
	var rows []longTermRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		s.logger.Warn("long-term recency query failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return []LongTermRecord{}
	}
	return s.decodeRows(rows)
}

// Search returns records matching the keyword query and filters, ranked like
// GetRelevant.
func (s *LongTermStore) Search(ctx context.Context, userID, query string, opts LongTermSearchOptions) []LongTermRecord {
	tx := s.db.WithContext(ctx).
		Model(&longTermRow{}).
		Where("user_id = ?", userID)

	if query != "" {
		pat := "%" + strings.ToLower(query) + "%"
		tx = tx.Where(s.db.Where("lower(content) LIKE ?", pat).Or("lower(metadata) LIKE ?", pat))
	}
	if opts.MinImportance > 0 {
		tx = tx.Where("importance >= ?", opts.MinImportance)
	}
	if opts.StartDate != nil {
		tx = tx.Where("timestamp >= ?", *opts.StartDate)
	}
	if opts.EndDate != nil {
		tx = tx.Where("timestamp <= ?", *opts.EndDate)
	}

	var rows []longTermRow
	err := tx.Order("importance DESC").
		Order("timestamp DESC").
		Limit(normalizeLimit(opts.Limit)).
		Find(&rows).Error
	if err != nil {
		s.logger.Warn("long-term search failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return []LongTermRecord{}
	}
	return s.decodeRows(rows)
}

// Update applies a partial update to a record. Importance is clamped, never
// rejected. Returns false when the record does not exist or the write fails.
func (s *LongTermStore) Update(ctx context.Context, id uint64, upd LongTermUpdate) bool {
	fields := map[string]any{}

	if upd.Content != nil {
		content, err := json.Marshal(upd.Content)
		if err != nil {
			s.logger.Warn("failed to marshal content for update", zap.Uint64("id", id), zap.Error(err))
			return false
		}
		fields["content"] = string(content)
	}
	if upd.Metadata != nil {
		metadata, err := marshalMetadata(upd.Metadata)
		if err != nil {
			s.logger.Warn("failed to marshal metadata for update", zap.Uint64("id", id), zap.Error(err))
			return false
		}
		fields["metadata"] = metadata
	}
	if upd.Importance != nil {
		fields["importance"] = ClampImportance(*upd.Importance)
	}
	if upd.Timestamp != nil {
		fields["timestamp"] = *upd.Timestamp
	}
	if len(fields) == 0 {
		return false
	}

	res := s.db.WithContext(ctx).Model(&longTermRow{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		s.logger.Warn("long-term update failed", zap.Uint64("id", id), zap.Error(res.Error))
		return false
	}
	return res.RowsAffected > 0
}

// Delete removes a single record by id.
func (s *LongTermStore) Delete(ctx context.Context, id uint64) bool {
	res := s.db.WithContext(ctx).Delete(&longTermRow{}, id)
	if res.Error != nil {
		s.logger.Warn("long-term delete failed", zap.Uint64("id", id), zap.Error(res.Error))
		return false
	}
	return res.RowsAffected > 0
}

// Clear removes every record for the user and returns how many were removed.
func (s *LongTermStore) Clear(ctx context.Context, userID string) int64 {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&longTermRow{})
	if res.Error != nil {
		s.logger.Warn("long-term clear failed", zap.String("user_id", userID), zap.Error(res.Error))
		return 0
	}
	return res.RowsAffected
}

// Cleanup applies the two-phase retention sweep and returns the number of
// records removed. Phase one drops records that are both older than
// MaxAgeDays and below MinImportance; phase two enforces MaxRecords by
// deleting the oldest remaining rows regardless of importance.
func (s *LongTermStore) Cleanup(ctx context.Context, policy LongTermCleanupPolicy) int64 {
	var removed int64

	if policy.MaxAgeDays > 0 {
		cutoff := s.now().AddDate(0, 0, -policy.MaxAgeDays)
		res := s.db.WithContext(ctx).
			Where("timestamp < ? AND importance < ?", cutoff, policy.MinImportance).
			Delete(&longTermRow{})
		if res.Error != nil {
			s.logger.Warn("cleanup age sweep failed", zap.Error(res.Error))
			return removed
		}
		removed += res.RowsAffected
	}

	if policy.MaxRecords > 0 {
		var total int64
		if err := s.db.WithContext(ctx).Model(&longTermRow{}).Count(&total).Error; err != nil {
			s.logger.Warn("cleanup count failed", zap.Error(err))
			return removed
		}
		if excess := total - int64(policy.MaxRecords); excess > 0 {
			var ids []uint64
			err := s.db.WithContext(ctx).
				Model(&longTermRow{}).
				Order("timestamp ASC").
				Limit(int(excess)).
				Pluck("id", &ids).Error
			if err != nil {
				s.logger.Warn("cleanup cap query failed", zap.Error(err))
				return removed
			}
			res := s.db.WithContext(ctx).Delete(&longTermRow{}, ids)
			if res.Error != nil {
				s.logger.Warn("cleanup cap delete failed", zap.Error(res.Error))
				return removed
			}
			removed += res.RowsAffected
		}
	}

	if removed > 0 {
		s.logger.Info("long-term cleanup complete", zap.Int64("removed", removed))
	}
	return removed
}

// Stats returns tier-wide counters for Status reporting.
func (s *LongTermStore) Stats(ctx context.Context) LongTermStats {
	var stats LongTermStats

	if err := s.db.WithContext(ctx).Model(&longTermRow{}).Count(&stats.TotalMemories).Error; err != nil {
		s.logger.Warn("long-term stats count failed", zap.Error(err))
		return LongTermStats{}
	}
	if err := s.db.WithContext(ctx).Model(&longTermRow{}).Distinct("user_id").Count(&stats.TotalUsers).Error; err != nil {
		s.logger.Warn("long-term stats user count failed", zap.Error(err))
	}

	var avg sql.NullFloat64
	if err := s.db.WithContext(ctx).Model(&longTermRow{}).Select("AVG(importance)").Scan(&avg).Error; err != nil {
		s.logger.Warn("long-term stats average failed", zap.Error(err))
	} else if avg.Valid {
		stats.AverageImportance = avg.Float64
	}

	return stats
}

// decodeRows converts stored rows into records. Corrupt content JSON yields a
// record with nil content rather than a failed read.
func (s *LongTermStore) decodeRows(rows []longTermRow) []LongTermRecord {
	out := make([]LongTermRecord, 0, len(rows))
	for _, row := range rows {
		rec := LongTermRecord{
			ID:         row.ID,
			UserID:     row.UserID,
			Importance: row.Importance,
			Timestamp:  row.Timestamp,
			CreatedAt:  row.CreatedAt,
			UpdatedAt:  row.UpdatedAt,
		}

		var content TurnContent
		if err := json.Unmarshal([]byte(row.Content), &content); err != nil {
			s.logger.Warn("corrupt long-term content, returning record without it",
				zap.Uint64("id", row.ID),
				zap.Error(err),
			)
		} else {
			rec.Content = &content
		}

		if row.Metadata != "" {
			var metadata map[string]any
			if err := json.Unmarshal([]byte(row.Metadata), &metadata); err != nil {
				s.logger.Warn("corrupt long-term metadata, dropping it",
					zap.Uint64("id", row.ID),
					zap.Error(err),
				)
			} else {
				rec.Metadata = metadata
			}
		}

		out = append(out, rec)
	}
	return out
}

func marshalMetadata(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	return limit
}
