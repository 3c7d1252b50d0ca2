package domain

// RiskLevel classifies how concerning a validated message is.
type RiskLevel string

// Risk levels, ordered low < medium < high.
const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// riskWeight returns the ordinal weight of a risk level. Unknown levels
// weigh zero so they never win a comparison.
func riskWeight(level RiskLevel) int {
	switch level {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether the level is one of the three known values.
func (r RiskLevel) Valid() bool {
	return riskWeight(r) > 0
}

// AtLeast reports whether r is at or above the given floor.
func (r RiskLevel) AtLeast(floor RiskLevel) bool {
	return riskWeight(r) >= riskWeight(floor)
}

// MaxRisk returns the higher of two risk levels by ordinal comparison.
// String comparison is never a valid ordering here ("high" < "low"
// lexically), so all risk combination goes through this function.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if riskWeight(b) > riskWeight(a) {
		return b
	}
	return a
}

// Category names a guardrail check family.
type Category string

// Check categories. Each maps to one set of patterns in the catalog.
const (
	CategoryHarmful         Category = "harmful"
	CategoryPromptInjection Category = "prompt_injection"
	CategoryPII             Category = "pii"
	CategoryHallucination   Category = "hallucination"
)

// Categories lists every known check category in evaluation order.
func Categories() []Category {
	return []Category{
		CategoryHarmful,
		CategoryPromptInjection,
		CategoryPII,
		CategoryHallucination,
	}
}

// Valid reports whether the category is a known check family.
func (c Category) Valid() bool {
	switch c {
	case CategoryHarmful, CategoryPromptInjection, CategoryPII, CategoryHallucination:
		return true
	default:
		return false
	}
}
