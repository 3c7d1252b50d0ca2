package model

import (
	"context"
	"sort"
	"strings"

	"github.com/rampart-ai/rampart/pkg/domain"
)

// LocalProvider is an offline Generator for development, tests, and the
// CLI. It performs no network IO: prompts matching a configured trigger
// return the canned reply, anything else is echoed back.
type LocalProvider struct {
	// Replies maps a lowercase trigger substring to the reply returned
	// when the prompt contains it.
	Replies map[string]string
}

// NewLocalProvider creates an empty local provider.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{Replies: make(map[string]string)}
}

// WithReply registers a canned reply and returns the provider for
// chaining in test setup.
func (p *LocalProvider) WithReply(trigger, reply string) *LocalProvider {
	p.Replies[strings.ToLower(trigger)] = reply
	return p
}

// Generate returns a deterministic reply for the prompt. Triggers are
// scanned in sorted order so overlapping triggers resolve stably.
func (p *LocalProvider) Generate(_ context.Context, prompt string, _ []domain.Message) (string, error) {
	lower := strings.ToLower(prompt)

	triggers := make([]string, 0, len(p.Replies))
	for trigger := range p.Replies {
		triggers = append(triggers, trigger)
	}
	sort.Strings(triggers)

	for _, trigger := range triggers {
		if strings.Contains(lower, trigger) {
			return p.Replies[trigger], nil
		}
	}
	return "Local model echo: " + prompt, nil
}
