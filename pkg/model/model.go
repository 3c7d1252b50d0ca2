// Package model produces assistant replies for validated prompts.
//
// The orchestrator talks to a Generator and never learns which backend
// produced the text: the HTTP gateway client for real deployments, or the
// local provider for offline use and tests. Every gateway failure surfaces
// as a domain.UpstreamError so callers can substitute safe copy without
// inspecting transport details.
package model

import (
	"context"

	"github.com/rampart-ai/rampart/pkg/domain"
)

// Generator produces one assistant reply for a prompt and its
// accompanying conversation history.
type Generator interface {
	Generate(ctx context.Context, prompt string, history []domain.Message) (string, error)
}
