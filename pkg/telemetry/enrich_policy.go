package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rampart-ai/rampart/pkg/policy"
)

// RecordPolicyDecision annotates the provided span with the policy
// decision outcome. Reasons come from operator rules, never from message
// text, so they are safe to export.
func RecordPolicyDecision(span trace.Span, decision policy.Decision) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.SetAttributes(
		attribute.String("policy.decision.action", string(decision.Action)),
	)

	if decision.Reason != "" {
		span.SetAttributes(attribute.String("policy.decision.reason", decision.Reason))
	}

	if decision.Action == policy.ActionDeny {
		span.AddEvent("policy.denied")
	}
}
