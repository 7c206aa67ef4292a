package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/Karsod58/my-clawbot/llm/tokenizer"
)

// FormatterConfig controls prompt-block rendering of a ContextBundle.
type FormatterConfig struct {
	// TokenBudget is the maximum token count of the rendered block.
	// Zero or negative disables budgeting.
	TokenBudget int

	// Tokenizer counts tokens for the budget. Nil falls back to a
	// character estimator.
	Tokenizer tokenizer.Tokenizer
}

// DefaultFormatterConfig returns a formatter with a 2000-token budget
// counted with cl100k_base.
func DefaultFormatterConfig() FormatterConfig {
	return FormatterConfig{
		TokenBudget: 2000,
		Tokenizer:   tokenizer.NewTiktokenTokenizer(""),
	}
}

// Formatter renders a ContextBundle into a prompt block. When the block
// exceeds the token budget, sections are dropped item by item in relevance
// order: semantic hits first, then long-term records, then the oldest
// short-term events.
type Formatter struct {
	budget int
	tok    tokenizer.Tokenizer
}

// NewFormatter builds a Formatter from config.
func NewFormatter(config FormatterConfig) *Formatter {
	tok := config.Tokenizer
	if tok == nil {
		tok = tokenizer.NewEstimatorTokenizer()
	}
	return &Formatter{budget: config.TokenBudget, tok: tok}
}

// Format renders the bundle. An empty bundle renders to "".
func (f *Formatter) Format(bundle ContextBundle) string {
	// Bundles carry short-term events newest first; the transcript reads
	// top to bottom, so flip to chronological order.
	short := make([]MemoryEvent, len(bundle.ShortTerm))
	for i, ev := range bundle.ShortTerm {
		short[len(short)-1-i] = ev
	}
	long := append([]LongTermRecord(nil), bundle.LongTerm...)
	rag := append([]ScoredDocument(nil), bundle.RAG...)

	text := render(short, long, rag)
	if f.budget <= 0 || text == "" {
		return text
	}

	for f.countTokens(text) > f.budget {
		switch {
		case len(rag) > 0:
			rag = rag[:len(rag)-1]
		case len(long) > 0:
			long = long[:len(long)-1]
		case len(short) > 1:
			// Oldest first so the latest exchange survives longest.
			short = short[1:]
		default:
			return truncateToBudget(render(short, long, rag), f.budget, f.tok)
		}
		text = render(short, long, rag)
	}
	return text
}

func (f *Formatter) countTokens(text string) int {
	n, err := f.tok.CountTokens(text)
	if err != nil {
		// Rough estimate keeps budgeting working when the encoding
		// cannot be loaded.
		return len(text) / 4
	}
	return n
}

func render(short []MemoryEvent, long []LongTermRecord, rag []ScoredDocument) string {
	var b strings.Builder

	if len(rag) > 0 {
		b.WriteString("## Related memories\n")
		for _, doc := range rag {
			fmt.Fprintf(&b, "- %s\n", singleLine(doc.Content))
		}
	}

	if len(long) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## Important memories\n")
		for _, rec := range long {
			if rec.Content == nil {
				continue
			}
			fmt.Fprintf(&b, "- [%s] %s\n",
				rec.Timestamp.Format(time.DateOnly),
				singleLine(FormatTurn(rec.Content.UserMessage, rec.Content.BotResponse)))
		}
	}

	if len(short) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## Recent conversation\n")
		for _, ev := range short {
			role := "User"
			if ev.Kind == EventBotResponse {
				role = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, ev.Content)
		}
	}

	return b.String()
}

// truncateToBudget hard-cuts text when even a single remaining item exceeds
// the budget. Cuts on rune boundaries, halving until the count fits.
func truncateToBudget(text string, budget int, tok tokenizer.Tokenizer) string {
	runes := []rune(text)
	for len(runes) > 0 {
		n, err := tok.CountTokens(string(runes))
		if err != nil {
			n = len(runes) / 4
		}
		if n <= budget {
			break
		}
		runes = runes[:len(runes)/2]
	}
	return string(runes)
}

func singleLine(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
}
