package history

import (
	"github.com/rampart-ai/rampart/internal/tokens"
	"github.com/rampart-ai/rampart/pkg/domain"
)

// Budget bounds how much transcript accompanies each model call.
type Budget struct {
	// MaxTokens is the estimated token ceiling across all messages.
	MaxTokens int
	// MaxMessages caps how many messages are retained.
	MaxMessages int
}

// DefaultBudget returns the standard conversation limits.
func DefaultBudget() Budget {
	return Budget{
		MaxTokens:   8000,
		MaxMessages: 50,
	}
}

// TotalTokens estimates the token footprint of a transcript.
func (b Budget) TotalTokens(msgs []domain.Message, est tokens.Estimator) int {
	total := 0
	for _, msg := range msgs {
		total += est.Count(msg.Content)
	}
	return total
}

// WithinLimits reports whether a transcript fits the budget.
func (b Budget) WithinLimits(msgs []domain.Message, est tokens.Estimator) bool {
	if b.MaxMessages > 0 && len(msgs) > b.MaxMessages {
		return false
	}
	if b.MaxTokens > 0 && b.TotalTokens(msgs, est) > b.MaxTokens {
		return false
	}
	return true
}

// Trim drops the oldest messages until the transcript fits the budget.
// The most recent message always survives, even when it alone exceeds
// the token ceiling, so the model never loses the current exchange.
func (b Budget) Trim(msgs []domain.Message, est tokens.Estimator) []domain.Message {
	if b.MaxMessages > 0 && len(msgs) > b.MaxMessages {
		msgs = msgs[len(msgs)-b.MaxMessages:]
	}
	if b.MaxTokens <= 0 {
		return msgs
	}
	total := b.TotalTokens(msgs, est)
	for total > b.MaxTokens && len(msgs) > 1 {
		total -= est.Count(msgs[0].Content)
		msgs = msgs[1:]
	}
	return msgs
}
