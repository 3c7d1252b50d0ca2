// Package governance provides the runtime safety controls that gate chat
// traffic: per-session sliding-window rate limiting, circuit breaking, and
// retry policies for the model gateway.
//
// The guardrails layer consults the session limiter before any validation
// work happens, and the model client wraps upstream calls in the breaker
// and retry primitives. All controls support zero-downtime reconfiguration.
package governance
