package patterns

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rampart-ai/rampart/pkg/domain"
)

// Registry maintains a threadsafe catalogue of reusable detection rules.
// Deployments register extra rules next to the builtins and build a
// Catalog snapshot from the combined set.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewRegistry creates an empty registry instance.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]Rule)}
}

// Register inserts or replaces a rule definition.
func (r *Registry) Register(rule Rule) error {
	if strings.TrimSpace(rule.ID) == "" {
		return fmt.Errorf("patterns: registry rule id is required")
	}
	if !rule.Category.Valid() {
		return fmt.Errorf("patterns: registry rule %s has invalid category %q", rule.ID, rule.Category)
	}
	if strings.TrimSpace(rule.Pattern) == "" {
		return fmt.Errorf("patterns: registry rule %s missing pattern", rule.ID)
	}

	key := strings.ToLower(rule.ID)

	r.mu.Lock()
	r.rules[key] = rule
	r.mu.Unlock()
	return nil
}

// RegisterAll adds multiple rules.
func (r *Registry) RegisterAll(rules []Rule) error {
	for _, rule := range rules {
		if err := r.Register(rule); err != nil {
			return err
		}
	}
	return nil
}

// Resolve fetches a rule definition by identifier.
func (r *Registry) Resolve(id string) (Rule, bool) {
	if id == "" {
		return Rule{}, false
	}

	key := strings.ToLower(id)

	r.mu.RLock()
	rule, ok := r.rules[key]
	r.mu.RUnlock()
	if !ok {
		return Rule{}, false
	}
	return rule, true
}

// Rules returns all registered rules for a category, sorted by id.
func (r *Registry) Rules(category domain.Category) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var rules []Rule
	for _, rule := range r.rules {
		if rule.Category == category {
			rules = append(rules, rule)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// All returns every registered rule, sorted by id.
func (r *Registry) All() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rules := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// Catalog compiles the current registry contents into an immutable
// catalog snapshot.
func (r *Registry) Catalog() (*Catalog, error) {
	return NewCatalog(r.All())
}

var (
	defaultRegistry     = newRegistryWithBuiltins()
	defaultRegistryOnce sync.Once

	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
)

// GlobalRegistry exposes the process-wide registry populated with builtin
// rules.
func GlobalRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		if defaultRegistry == nil {
			defaultRegistry = newRegistryWithBuiltins()
		}
	})
	return defaultRegistry
}

// DefaultCatalog returns the compiled builtin catalog. Builtin patterns
// are covered by tests, so compilation cannot fail here.
func DefaultCatalog() *Catalog {
	defaultCatalogOnce.Do(func() {
		catalog, err := GlobalRegistry().Catalog()
		if err != nil {
			panic(fmt.Sprintf("patterns: builtin catalog failed to compile: %v", err))
		}
		defaultCatalog = catalog
	})
	return defaultCatalog
}

func newRegistryWithBuiltins() *Registry {
	r := NewRegistry()
	_ = r.RegisterAll(BuiltinRules())
	return r
}

// BuiltinRules returns the stock detection tables. Pattern text is kept
// deliberately blunt: whole-word vocabulary and phrase signals, matched
// anywhere in the text.
func BuiltinRules() []Rule {
	return []Rule{
		// Harmful content vocabulary.
		{
			ID:          "harmful.violence-vocabulary",
			Category:    domain.CategoryHarmful,
			Pattern:     `\b(hack|exploit|attack|bomb|weapon|illegal|suicide|terrorist|extremist)\b`,
			Description: "weapons, violence, and abuse-enabling vocabulary",
		},
		{
			ID:          "harmful.killing-verbs",
			Category:    domain.CategoryHarmful,
			Pattern:     `\b(murder|kill|assassinate|destroy|harmful|violent)\b`,
			Description: "direct violence verbs",
		},
		{
			ID:          "harmful.hate-speech",
			Category:    domain.CategoryHarmful,
			Pattern:     `\b(nazi|racist|sexist|homophobic|transphobic)\b`,
			Description: "hate-speech vocabulary",
		},
		{
			ID:          "harmful.exploitation",
			Category:    domain.CategoryHarmful,
			Pattern:     `\b(child\s+porn|child\s+abuse|bestiality|torture)\b`,
			Description: "exploitation and abuse phrases",
		},

		// Prompt-injection phrases.
		{
			ID:       "injection.ignore-instructions",
			Category: domain.CategoryPromptInjection,
			Pattern:  `ignore\s+(previous|above|all)\s+(instructions|prompt)`,
		},
		{
			ID:       "injection.disregard-instructions",
			Category: domain.CategoryPromptInjection,
			Pattern:  `disregard\s+(previous|above|all)\s+(instructions|prompt)`,
		},
		{
			ID:       "injection.forget-instructions",
			Category: domain.CategoryPromptInjection,
			Pattern:  `forget\s+(previous|above|all)\s+(instructions|prompt)`,
		},
		{
			ID:       "injection.system-prompt",
			Category: domain.CategoryPromptInjection,
			Pattern:  `system\s*prompt`,
		},
		{
			ID:       "injection.you-are-now",
			Category: domain.CategoryPromptInjection,
			Pattern:  `you\s*are\s*now`,
		},
		{
			ID:       "injection.act-as-if",
			Category: domain.CategoryPromptInjection,
			Pattern:  `act\s*as\s*if`,
		},
		{
			ID:       "injection.new-role",
			Category: domain.CategoryPromptInjection,
			Pattern:  `new\s*role`,
		},
		{
			ID:       "injection.stop-being",
			Category: domain.CategoryPromptInjection,
			Pattern:  `stop\s*being`,
		},

		// PII shapes.
		{
			ID:          "pii.credit-card",
			Category:    domain.CategoryPII,
			Pattern:     `\b(?:\d{4}[- ]?){3}\d{4}\b`,
			Description: "credit-card-like digit groups",
		},
		{
			ID:          "pii.ssn",
			Category:    domain.CategoryPII,
			Pattern:     `\b\d{3}[-]?\d{2}[-]?\d{4}\b`,
			Description: "SSN-like digit groups",
		},
		{
			ID:          "pii.email",
			Category:    domain.CategoryPII,
			Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`,
			Description: "email addresses",
		},
		{
			ID:          "pii.phone",
			Category:    domain.CategoryPII,
			Pattern:     `\b(?:\+\d{1,2}\s)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`,
			Description: "phone numbers",
		},
		{
			ID:          "pii.ipv4",
			Category:    domain.CategoryPII,
			Pattern:     `\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`,
			Description: "IPv4 addresses",
		},
		{
			ID:          "pii.street-address",
			Category:    domain.CategoryPII,
			Pattern:     `\b\d+\s+[A-Za-z\s,]+(?:street|st|avenue|ave|road|rd|highway|hwy|square|sq|trail|trl|drive|dr|court|ct|parkway|pkwy|circle|cir|boulevard|blvd)\b`,
			Description: "street addresses",
		},

		// Hallucination indicators: hedging and uncertainty phrases used
		// as a heuristic proxy for low-confidence output.
		{
			ID:       "hallucination.not-sure",
			Category: domain.CategoryHallucination,
			Pattern:  `I'?m\s+not\s+sure`,
		},
		{
			ID:       "hallucination.dont-know",
			Category: domain.CategoryHallucination,
			Pattern:  `I\s+don'?t\s+know`,
		},
		{
			ID:       "hallucination.cannot-provide",
			Category: domain.CategoryHallucination,
			Pattern:  `I\s+cannot\s+(provide|give|offer)`,
		},
		{
			ID:       "hallucination.cannot-access",
			Category: domain.CategoryHallucination,
			Pattern:  `(cannot|can't)\s+(access|find|retrieve)`,
		},
		{
			ID:       "hallucination.does-not-exist",
			Category: domain.CategoryHallucination,
			Pattern:  `(do|does)\s+not\s+exist`,
		},
		{
			ID:       "hallucination.no-information",
			Category: domain.CategoryHallucination,
			Pattern:  `(no|limited)\s+information\s+available`,
		},
		{
			ID:       "hallucination.apology",
			Category: domain.CategoryHallucination,
			Pattern:  `(sorry|unfortunately|I\s+apologize)`,
		},
		{
			ID:       "hallucination.hedge-modal",
			Category: domain.CategoryHallucination,
			Pattern:  `(might|may|could|possibly)`,
		},
		{
			ID:       "hallucination.unable-to",
			Category: domain.CategoryHallucination,
			Pattern:  `(unable|not\s+able)\s+to`,
		},
		{
			ID:       "hallucination.beyond-scope",
			Category: domain.CategoryHallucination,
			Pattern:  `beyond\s+(my|current)`,
		},
	}
}
