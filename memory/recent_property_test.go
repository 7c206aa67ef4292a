package memory

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// The buffer never holds more than MaxItems events per user, and Recent
// always returns the newest events in reverse-chronological order, whatever
// the append sequence.
func TestRecentBufferBoundProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxItems := rapid.IntRange(1, 20).Draw(t, "maxItems")
		appends := rapid.IntRange(0, 100).Draw(t, "appends")

		buf := NewRecentBuffer(RecentBufferConfig{MaxItems: maxItems}, zap.NewNop())
		for i := 0; i < appends; i++ {
			buf.Append("user", MemoryEvent{Kind: EventUserMessage, Content: fmt.Sprintf("msg-%d", i)})
		}

		want := appends
		if want > maxItems {
			want = maxItems
		}
		if got := buf.Count("user"); got != want {
			t.Fatalf("count = %d, want %d", got, want)
		}

		events := buf.Recent("user", 0)
		if len(events) != want {
			t.Fatalf("recent returned %d events, want %d", len(events), want)
		}
		for i, ev := range events {
			expected := fmt.Sprintf("msg-%d", appends-1-i)
			if ev.Content != expected {
				t.Fatalf("events[%d] = %q, want %q", i, ev.Content, expected)
			}
		}
	})
}

func TestRecentBufferEvictDownProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		appends := rapid.IntRange(0, 50).Draw(t, "appends")
		keep := rapid.IntRange(0, 60).Draw(t, "keep")

		buf := NewRecentBuffer(RecentBufferConfig{MaxItems: 100}, zap.NewNop())
		for i := 0; i < appends; i++ {
			buf.Append("user", MemoryEvent{Kind: EventUserMessage, Content: fmt.Sprintf("msg-%d", i)})
		}

		buf.EvictDown("user", keep)

		want := appends
		if want > keep {
			want = keep
		}
		if got := buf.Count("user"); got != want {
			t.Fatalf("count after evict = %d, want %d", got, want)
		}
	})
}
