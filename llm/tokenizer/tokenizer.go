// Package tokenizer provides token counting for prompt budgeting.
package tokenizer

// Tokenizer counts tokens for a model family.
type Tokenizer interface {
	// CountTokens returns the token count for the given text.
	CountTokens(text string) (int, error)

	// Name returns the tokenizer name.
	Name() string
}
