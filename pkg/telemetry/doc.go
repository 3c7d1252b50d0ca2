// Package telemetry wires OpenTelemetry exporters and meters for the
// guardrails service.
//
// It centralises tracer provider setup, emits the turn and stage metric
// instruments, and offers span enrichment helpers that record guardrail
// and policy outcomes. Every exported attribute carries classifications
// only; ScrubAttributes enforces that message text never leaves the
// process through a span.
package telemetry
