package history

import (
	"strings"
	"testing"

	"github.com/rampart-ai/rampart/internal/tokens"
	"github.com/rampart-ai/rampart/pkg/domain"
)

func messagesOf(contents ...string) []domain.Message {
	msgs := make([]domain.Message, len(contents))
	for i, c := range contents {
		msgs[i] = domain.Message{Role: domain.RoleUser, Content: c}
	}
	return msgs
}

func TestBudgetWithinLimits(t *testing.T) {
	est := tokens.HeuristicEstimator{}
	b := Budget{MaxTokens: 10, MaxMessages: 3}

	// 8 chars = 2 tokens per message.
	ok := messagesOf("12345678", "12345678")
	if !b.WithinLimits(ok, est) {
		t.Error("transcript under both limits reported as over")
	}

	tooMany := messagesOf("a", "b", "c", "d")
	if b.WithinLimits(tooMany, est) {
		t.Error("transcript over message cap reported as within limits")
	}

	tooLong := messagesOf(strings.Repeat("x", 48))
	if b.WithinLimits(tooLong, est) {
		t.Error("transcript over token ceiling reported as within limits")
	}
}

func TestBudgetTrimDropsOldestByCount(t *testing.T) {
	est := tokens.HeuristicEstimator{}
	b := Budget{MaxTokens: 1000, MaxMessages: 2}

	trimmed := b.Trim(messagesOf("one", "two", "three"), est)
	if len(trimmed) != 2 {
		t.Fatalf("trimmed to %d messages, want 2", len(trimmed))
	}
	if trimmed[0].Content != "two" || trimmed[1].Content != "three" {
		t.Fatalf("kept wrong messages: %q, %q", trimmed[0].Content, trimmed[1].Content)
	}
}

func TestBudgetTrimDropsOldestByTokens(t *testing.T) {
	est := tokens.HeuristicEstimator{}
	b := Budget{MaxTokens: 5, MaxMessages: 50}

	// 3 tokens, 3 tokens, 2 tokens. Budget of 5 keeps the last two.
	msgs := messagesOf(strings.Repeat("a", 12), strings.Repeat("b", 12), strings.Repeat("c", 8))
	trimmed := b.Trim(msgs, est)
	if len(trimmed) != 2 {
		t.Fatalf("trimmed to %d messages, want 2", len(trimmed))
	}
	if trimmed[0].Content[0] != 'b' {
		t.Fatalf("oldest message not dropped first: %q", trimmed[0].Content)
	}
}

func TestBudgetTrimKeepsNewestMessage(t *testing.T) {
	est := tokens.HeuristicEstimator{}
	b := Budget{MaxTokens: 1, MaxMessages: 50}

	msgs := messagesOf(strings.Repeat("x", 400))
	trimmed := b.Trim(msgs, est)
	if len(trimmed) != 1 {
		t.Fatalf("current exchange dropped: %d messages", len(trimmed))
	}
}

func TestBudgetTrimNoop(t *testing.T) {
	est := tokens.HeuristicEstimator{}
	b := DefaultBudget()

	msgs := messagesOf("short", "messages")
	trimmed := b.Trim(msgs, est)
	if len(trimmed) != 2 {
		t.Fatalf("trim dropped messages under budget: %d", len(trimmed))
	}
}

func TestDefaultBudget(t *testing.T) {
	b := DefaultBudget()
	if b.MaxTokens != 8000 || b.MaxMessages != 50 {
		t.Fatalf("DefaultBudget() = %+v", b)
	}
}
