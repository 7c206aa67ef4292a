package memory

import "strings"

// Scorer assigns an importance in [0,1] to a conversation turn. The engine
// only depends on this interface, so the keyword heuristic can be replaced
// with a learned model without touching orchestration.
type Scorer interface {
	Score(userMessage, botResponse string) float64
}

// Promoter decides whether a turn is worth promoting into long-term storage.
type Promoter interface {
	ShouldPromote(userMessage, botResponse string) bool
}

// KeywordScorerConfig tunes the additive keyword heuristic.
type KeywordScorerConfig struct {
	// HighKeywords each add 0.2 when present.
	HighKeywords []string
	// MediumKeywords each add 0.1 when present.
	MediumKeywords []string
	// LongResponseChars adds 0.1 when the response is longer.
	LongResponseChars int
	// LongMessageChars adds 0.1 when the user message is longer.
	LongMessageChars int
}

// DefaultKeywordScorerConfig returns the stock heuristic parameters.
func DefaultKeywordScorerConfig() KeywordScorerConfig {
	return KeywordScorerConfig{
		HighKeywords:      []string{"important", "urgent", "critical", "remember"},
		MediumKeywords:    []string{"project", "task", "deadline", "meeting"},
		LongResponseChars: 500,
		LongMessageChars:  200,
	}
}

// KeywordScorer is the stock Scorer: base 0.5, additive keyword and length
// bonuses, saturating at 1.0. Each keyword counts once regardless of how
// often it appears, so the score is order-independent and deterministic.
type KeywordScorer struct {
	config KeywordScorerConfig
}

// NewKeywordScorer creates a scorer. Zero-valued config fields fall back to
// defaults.
func NewKeywordScorer(config KeywordScorerConfig) *KeywordScorer {
	def := DefaultKeywordScorerConfig()
	if len(config.HighKeywords) == 0 {
		config.HighKeywords = def.HighKeywords
	}
	if len(config.MediumKeywords) == 0 {
		config.MediumKeywords = def.MediumKeywords
	}
	if config.LongResponseChars <= 0 {
		config.LongResponseChars = def.LongResponseChars
	}
	if config.LongMessageChars <= 0 {
		config.LongMessageChars = def.LongMessageChars
	}
	return &KeywordScorer{config: config}
}

// Score implements Scorer.
func (s *KeywordScorer) Score(userMessage, botResponse string) float64 {
	combined := strings.ToLower(userMessage + " " + botResponse)

	score := 0.5
	for _, kw := range s.config.HighKeywords {
		if strings.Contains(combined, kw) {
			score += 0.2
		}
	}
	for _, kw := range s.config.MediumKeywords {
		if strings.Contains(combined, kw) {
			score += 0.1
		}
	}
	if len(botResponse) > s.config.LongResponseChars {
		score += 0.1
	}
	if len(userMessage) > s.config.LongMessageChars {
		score += 0.1
	}

	return ClampImportance(score)
}

// KeywordPromoterConfig tunes the disjunctive promotion heuristic.
type KeywordPromoterConfig struct {
	// Vocabulary triggers promotion when any entry appears in the message or
	// response.
	Vocabulary []string
	// MessageChars promotes when the user message is longer.
	MessageChars int
	// ResponseChars promotes when the bot response is longer.
	ResponseChars int
	// QuestionResponseChars promotes when the message contains a question
	// mark and the response is longer than this.
	QuestionResponseChars int
}

// DefaultKeywordPromoterConfig returns the stock promotion parameters.
func DefaultKeywordPromoterConfig() KeywordPromoterConfig {
	return KeywordPromoterConfig{
		Vocabulary: []string{
			"remember", "important", "deadline", "password",
			"urgent", "critical", "meeting", "schedule",
			"birthday", "address", "preference", "favorite",
		},
		MessageChars:          100,
		ResponseChars:         200,
		QuestionResponseChars: 50,
	}
}

// KeywordPromoter is the stock Promoter. Any one condition is sufficient.
type KeywordPromoter struct {
	config KeywordPromoterConfig
}

// NewKeywordPromoter creates a promoter. Zero-valued config fields fall back
// to defaults.
func NewKeywordPromoter(config KeywordPromoterConfig) *KeywordPromoter {
	def := DefaultKeywordPromoterConfig()
	if len(config.Vocabulary) == 0 {
		config.Vocabulary = def.Vocabulary
	}
	if config.MessageChars <= 0 {
		config.MessageChars = def.MessageChars
	}
	if config.ResponseChars <= 0 {
		config.ResponseChars = def.ResponseChars
	}
	if config.QuestionResponseChars <= 0 {
		config.QuestionResponseChars = def.QuestionResponseChars
	}
	return &KeywordPromoter{config: config}
}

// ShouldPromote implements Promoter.
func (p *KeywordPromoter) ShouldPromote(userMessage, botResponse string) bool {
	combined := strings.ToLower(userMessage + " " + botResponse)
	for _, kw := range p.config.Vocabulary {
		if strings.Contains(combined, kw) {
			return true
		}
	}

	if len(userMessage) > p.config.MessageChars || len(botResponse) > p.config.ResponseChars {
		return true
	}

	if strings.Contains(userMessage, "?") && len(botResponse) > p.config.QuestionResponseChars {
		return true
	}

	return false
}
