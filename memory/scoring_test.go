package memory

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestKeywordScorerBaseline(t *testing.T) {
	s := NewKeywordScorer(KeywordScorerConfig{})

	assert.InDelta(t, 0.5, s.Score("hi", "hello"), 1e-9)
}

func TestKeywordScorerHighKeywords(t *testing.T) {
	s := NewKeywordScorer(KeywordScorerConfig{})

	// "urgent" and "important" each add 0.2.
	assert.InDelta(t, 0.9, s.Score("this is urgent and important", "ok"), 1e-9)
}

func TestKeywordScorerMediumKeywordsAndLength(t *testing.T) {
	s := NewKeywordScorer(KeywordScorerConfig{})

	assert.InDelta(t, 0.6, s.Score("the project update", "ok"), 1e-9)
	assert.InDelta(t, 0.7, s.Score("project deadline", "ok"), 1e-9)

	longResponse := strings.Repeat("x", 501)
	assert.InDelta(t, 0.6, s.Score("hi", longResponse), 1e-9)

	longMessage := strings.Repeat("x", 201)
	assert.InDelta(t, 0.6, s.Score(longMessage, "ok"), 1e-9)
}

func TestKeywordScorerSaturates(t *testing.T) {
	s := NewKeywordScorer(KeywordScorerConfig{})

	msg := "important urgent critical remember project task deadline meeting " + strings.Repeat("x", 250)
	resp := strings.Repeat("y", 600)
	assert.Equal(t, 1.0, s.Score(msg, resp))
}

func TestKeywordScorerCaseInsensitive(t *testing.T) {
	s := NewKeywordScorer(KeywordScorerConfig{})

	assert.Equal(t, s.Score("REMEMBER this", "ok"), s.Score("remember this", "ok"))
}

func TestKeywordScorerEachKeywordCountsOnce(t *testing.T) {
	s := NewKeywordScorer(KeywordScorerConfig{})

	assert.InDelta(t, 0.7, s.Score("urgent urgent urgent", "ok"), 1e-9)
}

func TestKeywordPromoterVocabulary(t *testing.T) {
	p := NewKeywordPromoter(KeywordPromoterConfig{})

	assert.True(t, p.ShouldPromote("remember my birthday", "ok"))
	assert.True(t, p.ShouldPromote("what is my PASSWORD", "ok"))
	assert.False(t, p.ShouldPromote("hi", "hello"))
}

func TestKeywordPromoterLengthThresholds(t *testing.T) {
	p := NewKeywordPromoter(KeywordPromoterConfig{})

	assert.True(t, p.ShouldPromote(strings.Repeat("x", 101), "ok"))
	assert.True(t, p.ShouldPromote("hi", strings.Repeat("y", 201)))
	assert.False(t, p.ShouldPromote(strings.Repeat("x", 100), strings.Repeat("y", 200)))
}

func TestKeywordPromoterQuestionRule(t *testing.T) {
	p := NewKeywordPromoter(KeywordPromoterConfig{})

	assert.True(t, p.ShouldPromote("how does this work?", strings.Repeat("y", 51)))
	assert.False(t, p.ShouldPromote("how does this work?", "short"))
	assert.False(t, p.ShouldPromote("no question here", strings.Repeat("y", 51)))
}

func TestScoreAlwaysInUnitInterval(t *testing.T) {
	s := NewKeywordScorer(KeywordScorerConfig{})

	properties := gopter.NewProperties(nil)
	properties.Property("score in [0,1]", prop.ForAll(
		func(msg, resp string) bool {
			score := s.Score(msg, resp)
			return score >= 0 && score <= 1
		},
		gen.AnyString(),
		gen.AnyString(),
	))
	properties.TestingRun(t)
}

func TestRememberAlwaysPromotes(t *testing.T) {
	p := NewKeywordPromoter(KeywordPromoterConfig{})

	properties := gopter.NewProperties(nil)
	properties.Property("any message containing remember promotes", prop.ForAll(
		func(prefix, suffix string) bool {
			return p.ShouldPromote(prefix+"remember"+suffix, "")
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))
	properties.TestingRun(t)
}
