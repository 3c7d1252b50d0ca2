package policy

import (
	"context"

	"github.com/rampart-ai/rampart/pkg/domain"
)

// Action defines the outcome of a policy evaluation.
type Action string

const (
	// ActionAllow lets the turn proceed.
	ActionAllow Action = "allow"
	// ActionDeny converts an otherwise valid turn into a rejection.
	ActionDeny Action = "deny"
)

// Decision is the result of evaluating operator policy over turn facts.
type Decision struct {
	Action Action
	Reason string
}

// PolicyInput carries the facts of one turn stage for rule evaluation.
// It deliberately excludes message text: rules see classifications, not
// content.
type PolicyInput struct {
	SessionID         string
	Stage             string
	RiskLevel         domain.RiskLevel
	Categories        []string
	Redacted          bool
	HasHallucinations bool
}

// Hook evaluates operator policy for a turn. The orchestrator treats a
// nil hook as always-allow.
type Hook interface {
	Evaluate(ctx context.Context, input PolicyInput) (Decision, error)
	// FailClosed reports whether evaluation errors should reject the
	// turn instead of letting it through.
	FailClosed() bool
}
