// Package patterns implements the data-driven pattern tables behind the
// guardrail validators: harmful content, prompt injection, PII, and
// hallucination indicators. Policy lives in rule tables, not control flow,
// so a deployment can extend or replace a category without touching the
// validators.
package patterns

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rampart-ai/rampart/pkg/domain"
)

// Marker is the literal every PII match is replaced with. Matching is
// whole-text and heuristic; the marker is deliberately category-free so
// redacted text never echoes what was found.
const Marker = "[REDACTED]"

// Rule declares one detection pattern within a category.
type Rule struct {
	ID          string
	Category    domain.Category
	Pattern     string
	Description string
}

// RuleMatch records a single pattern hit inside a text.
type RuleMatch struct {
	RuleID   string
	Category domain.Category
	Text     string
	Start    int
	End      int
}

type compiledRule struct {
	id       string
	category domain.Category
	expr     *regexp.Regexp
}

// Catalog holds the compiled rule tables. It is immutable after
// construction; all matching operations are pure and safe for concurrent
// use.
type Catalog struct {
	rules map[domain.Category][]compiledRule
}

// NewCatalog validates and compiles the given rules into a catalog.
// Patterns compile case-insensitively unless they already carry an inline
// flag group.
func NewCatalog(rules []Rule) (*Catalog, error) {
	compiled := make(map[domain.Category][]compiledRule, len(domain.Categories()))

	for _, rule := range rules {
		id := strings.TrimSpace(rule.ID)
		if id == "" {
			return nil, fmt.Errorf("patterns: rule id is required")
		}
		if !rule.Category.Valid() {
			return nil, fmt.Errorf("patterns: invalid category %q for rule %s", rule.Category, id)
		}
		pattern := strings.TrimSpace(rule.Pattern)
		if pattern == "" {
			return nil, fmt.Errorf("patterns: pattern is required for rule %s", id)
		}
		if !strings.HasPrefix(pattern, "(?i") {
			pattern = "(?i)" + pattern
		}
		expr, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("patterns: invalid pattern for rule %s: %w", id, err)
		}
		compiled[rule.Category] = append(compiled[rule.Category], compiledRule{
			id:       id,
			category: rule.Category,
			expr:     expr,
		})
	}

	return &Catalog{rules: compiled}, nil
}

// MatchAny reports whether any rule in the category matches anywhere in
// the text. There is no disambiguation beyond the regular expressions
// themselves; incidental matches are an accepted precision ceiling.
func (c *Catalog) MatchAny(category domain.Category, text string) bool {
	for _, rule := range c.rules[category] {
		if rule.expr.MatchString(text) {
			return true
		}
	}
	return false
}

// Matches returns every hit for the category, ordered by position.
func (c *Catalog) Matches(category domain.Category, text string) []RuleMatch {
	var matches []RuleMatch
	for _, rule := range c.rules[category] {
		indices := rule.expr.FindAllStringIndex(text, -1)
		for _, idx := range indices {
			matches = append(matches, RuleMatch{
				RuleID:   rule.id,
				Category: rule.category,
				Text:     text[idx[0]:idx[1]],
				Start:    idx[0],
				End:      idx[1],
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Start == matches[j].Start {
			return matches[i].End < matches[j].End
		}
		return matches[i].Start < matches[j].Start
	})

	return matches
}

// Count returns the total number of hits across all rules in the
// category. Overlapping hits from different rules each count.
func (c *Catalog) Count(category domain.Category, text string) int {
	total := 0
	for _, rule := range c.rules[category] {
		total += len(rule.expr.FindAllStringIndex(text, -1))
	}
	return total
}

// Redact replaces every PII match with Marker. The operation is
// idempotent: the marker itself never matches a PII rule.
func (c *Catalog) Redact(text string) string {
	redacted := text
	for _, rule := range c.rules[domain.CategoryPII] {
		redacted = rule.expr.ReplaceAllStringFunc(redacted, func(_ string) string {
			return Marker
		})
	}
	return redacted
}

// RuleIDs lists the rule identifiers registered for a category, in
// registration order.
func (c *Catalog) RuleIDs(category domain.Category) []string {
	ids := make([]string, 0, len(c.rules[category]))
	for _, rule := range c.rules[category] {
		ids = append(ids, rule.id)
	}
	return ids
}

// Size returns the number of compiled rules across all categories.
func (c *Catalog) Size() int {
	n := 0
	for _, rules := range c.rules {
		n += len(rules)
	}
	return n
}
