package policy

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"sort"
	"strings"
	"sync"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"
)

// EngineOptions control OPA engine construction and runtime behaviour.
type EngineOptions struct {
	// Entrypoint is the policy decision path (e.g. "rampart/decision").
	Entrypoint string
	// Modules contains the Rego modules to load, keyed by filename.
	Modules map[string]string
	// CacheMaxEntries bounds the decision cache size (LRU). Zero selects
	// the default size; negative disables caching entirely.
	CacheMaxEntries int
	// FailClosed rejects turns when evaluation errors instead of letting
	// them through.
	FailClosed bool
}

// Engine evaluates turn facts using an embedded OPA instance.
type Engine struct {
	modules    map[string]string
	entrypoint string
	failClosed bool
	prepared   rego.PreparedEvalQuery
	cache      *decisionCache
}

const (
	defaultEntrypoint    = "rampart/decision"
	defaultCacheCapacity = 1024
)

// NewEngine compiles the supplied Rego modules and prepares the decision
// query. Compilation errors surface here, not at evaluation time.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultEntrypoint
	}

	if len(opts.Modules) == 0 {
		return nil, errors.New("policy: engine requires at least one rego module")
	}

	maxEntries := opts.CacheMaxEntries
	switch {
	case maxEntries == 0:
		maxEntries = defaultCacheCapacity
	case maxEntries < 0:
		maxEntries = 0
	}

	var cache *decisionCache
	if maxEntries > 0 {
		cache = newDecisionCache(maxEntries)
	}

	moduleCopy := make(map[string]string, len(opts.Modules))
	moduleOrder := make([]string, 0, len(opts.Modules))
	for name, src := range opts.Modules {
		moduleCopy[name] = src
		moduleOrder = append(moduleOrder, name)
	}
	sort.Strings(moduleOrder)

	regoOpts := make([]func(*rego.Rego), 0, len(moduleOrder)+1)
	regoOpts = append(regoOpts, rego.Query("data."+strings.ReplaceAll(entry, "/", ".")))
	for _, name := range moduleOrder {
		module, err := ast.ParseModuleWithOpts(name, moduleCopy[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("policy: parse rego module %q: %w", name, err)
		}
		regoOpts = append(regoOpts, rego.ParsedModule(module))
	}

	prepared, err := rego.New(regoOpts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: compile rego modules: %w", err)
	}

	return &Engine{
		modules:    moduleCopy,
		entrypoint: entry,
		failClosed: opts.FailClosed,
		prepared:   prepared,
		cache:      cache,
	}, nil
}

// Evaluate executes the policy over the turn facts. An undefined decision
// allows the turn.
func (e *Engine) Evaluate(ctx context.Context, input PolicyInput) (Decision, error) {
	cacheKey, shouldCache := e.cacheKey(input)
	if shouldCache {
		if cached, ok := e.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	payload := map[string]any{
		"session_id":         input.SessionID,
		"stage":              input.Stage,
		"risk_level":         string(input.RiskLevel),
		"categories":         normalizeStringSlice(input.Categories),
		"redacted":           input.Redacted,
		"has_hallucinations": input.HasHallucinations,
	}

	results, err := e.prepared.Eval(ctx, rego.EvalInput(payload))
	if err != nil {
		return Decision{}, fmt.Errorf("policy: evaluate: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		decision := Decision{Action: ActionAllow}
		if shouldCache {
			e.cache.Add(cacheKey, decision)
		}
		return decision, nil
	}

	decisionPayload, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Decision{}, fmt.Errorf("policy: unexpected decision type %T", results[0].Expressions[0].Value)
	}

	action, err := parseAction(decisionPayload["action"])
	if err != nil {
		return Decision{}, err
	}
	reason, _ := decisionPayload["reason"].(string)

	decision := Decision{Action: action, Reason: reason}
	if shouldCache {
		e.cache.Add(cacheKey, decision)
	}
	return decision, nil
}

// FailClosed reports whether evaluation errors should reject the turn.
func (e *Engine) FailClosed() bool {
	return e.failClosed
}

// Entrypoint returns the decision path the engine queries.
func (e *Engine) Entrypoint() string {
	return e.entrypoint
}

// FlushCache clears all cached decisions. Safe to call concurrently.
func (e *Engine) FlushCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

// cacheKey hashes every evaluation input so cached decisions are exact.
func (e *Engine) cacheKey(input PolicyInput) (string, bool) {
	if e.cache == nil {
		return "", false
	}

	h := sha256.New()
	writeCacheKeyField(h, e.entrypoint)
	writeCacheKeyField(h, input.SessionID)
	writeCacheKeyField(h, input.Stage)
	writeCacheKeyField(h, string(input.RiskLevel))
	writeCacheKeyField(h, strings.Join(normalizeStringSlice(input.Categories), ","))
	writeCacheKeyField(h, boolField(input.Redacted))
	writeCacheKeyField(h, boolField(input.HasHallucinations))

	return hex.EncodeToString(h.Sum(nil)), true
}

// writeCacheKeyField writes a field to the hash followed by a null
// delimiter so adjacent fields cannot collide.
func writeCacheKeyField(h hash.Hash, value string) {
	h.Write([]byte(value))
	h.Write([]byte{0})
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// normalizeStringSlice returns a sorted copy for consistent hashing and
// stable rule input.
func normalizeStringSlice(input []string) []string {
	if len(input) == 0 {
		return []string{}
	}
	normalized := append([]string(nil), input...)
	sort.Strings(normalized)
	return normalized
}

func parseAction(value any) (Action, error) {
	if value == nil {
		return ActionAllow, nil
	}
	text, ok := value.(string)
	if !ok {
		return Action(""), fmt.Errorf("policy: action must be string, got %T", value)
	}
	switch Action(strings.ToLower(text)) {
	case ActionAllow:
		return ActionAllow, nil
	case ActionDeny:
		return ActionDeny, nil
	default:
		return Action(""), fmt.Errorf("policy: unknown action %q", text)
	}
}

type decisionCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type cacheItem struct {
	key   string
	value Decision
}

func newDecisionCache(capacity int) *decisionCache {
	return &decisionCache{
		max:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

func (c *decisionCache) Get(key string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return Decision{}, false
	}
	c.order.MoveToFront(elem)
	item := elem.Value.(cacheItem)
	return item.value, true
}

func (c *decisionCache) Add(key string, value Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value = cacheItem{key: key, value: value}
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(cacheItem{key: key, value: value})
	c.entries[key] = elem

	if c.order.Len() <= c.max {
		return
	}

	tail := c.order.Back()
	if tail != nil {
		c.order.Remove(tail)
		item := tail.Value.(cacheItem)
		delete(c.entries, item.key)
	}
}

func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element, c.max)
}
