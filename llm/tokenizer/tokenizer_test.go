package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimatorEmptyText(t *testing.T) {
	n, err := NewEstimatorTokenizer().CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEstimatorASCII(t *testing.T) {
	// 400 ASCII chars at ~4 chars per token.
	n, err := NewEstimatorTokenizer().CountTokens(strings.Repeat("word", 100))
	require.NoError(t, err)
	assert.Equal(t, 100, n)
}

func TestEstimatorCJKIsDenser(t *testing.T) {
	tok := NewEstimatorTokenizer()

	ascii, err := tok.CountTokens(strings.Repeat("a", 30))
	require.NoError(t, err)
	cjk, err := tok.CountTokens(strings.Repeat("你", 30))
	require.NoError(t, err)

	// 30 CJK runes at ~1.5 chars per token against 30 ASCII at ~4.
	assert.Equal(t, 7, ascii)
	assert.Equal(t, 20, cjk)
}

func TestEstimatorMixedText(t *testing.T) {
	// 8 ASCII chars (2 tokens) plus 3 CJK runes (2 tokens).
	n, err := NewEstimatorTokenizer().CountTokens("hello go你好吗")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestEstimatorNeverReturnsZeroForText(t *testing.T) {
	n, err := NewEstimatorTokenizer().CountTokens("a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEstimatorName(t *testing.T) {
	assert.Equal(t, "estimator", NewEstimatorTokenizer().Name())
}

func TestTiktokenName(t *testing.T) {
	assert.Equal(t, "tiktoken[cl100k_base]", NewTiktokenTokenizer("").Name())
	assert.Equal(t, "tiktoken[o200k_base]", NewTiktokenTokenizer("o200k_base").Name())
}
