// Package domain defines the core types shared across the guardrails
// pipeline: risk levels, check categories, validation verdicts,
// conversation messages, and the turn error taxonomy.
//
// This package contains pure domain logic with ZERO external dependencies
// outside the Go standard library. All types in this package are:
//
// - Independent of infrastructure (no HTTP, no model client, no storage)
// - Testable in isolation without mocks
// - Stable and unlikely to change frequently
//
// Other packages (guard, engine, history, service) depend on these types.
// The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
