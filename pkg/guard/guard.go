// Package guard bundles the validation pipeline applied to chat traffic:
// input screening, output screening, PII redaction, and the per-session
// rate limit gate.
//
// Validators are stateless over a compiled pattern catalog, so the facade
// can swap configuration at runtime without draining in-flight requests.
package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rampart-ai/rampart/internal/governance"
	"github.com/rampart-ai/rampart/pkg/domain"
	"github.com/rampart-ai/rampart/pkg/policy/patterns"
)

// Options configures a Guardrails facade. Zero-value fields fall back to
// the default catalog, a default-limits session limiter, and the process
// logger.
type Options struct {
	Config  Config
	Catalog *patterns.Catalog
	Limiter *governance.SessionLimiter
	Logger  *slog.Logger
}

// Guardrails is the combined enforcement surface consumed by the turn
// orchestrator and the CLI.
type Guardrails struct {
	mu      sync.RWMutex
	cfg     Config
	catalog *patterns.Catalog
	limiter *governance.SessionLimiter
	logger  *slog.Logger
	input   *InputValidator
	output  *OutputValidator
}

// New creates a Guardrails facade.
func New(opts Options) *Guardrails {
	if opts.Catalog == nil {
		opts.Catalog = patterns.DefaultCatalog()
	}
	if opts.Limiter == nil {
		opts.Limiter = governance.NewSessionLimiter(governance.DefaultSessionLimiterConfig())
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	g := &Guardrails{
		catalog: opts.Catalog,
		limiter: opts.Limiter,
		logger:  opts.Logger,
	}
	g.apply(opts.Config.withDefaults())
	return g
}

// apply installs a configuration and rebuilds the validators over it.
func (g *Guardrails) apply(cfg Config) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = cfg
	g.input = NewInputValidator(g.catalog, cfg, g.logger)
	g.output = NewOutputValidator(g.catalog, cfg, g.logger)
}

// Reconfigure swaps the guardrail configuration at runtime. In-flight
// validations finish under the configuration they started with.
func (g *Guardrails) Reconfigure(cfg Config) {
	g.apply(cfg.withDefaults())
	g.logger.Info("guardrails reconfigured")
}

// Config returns the active configuration.
func (g *Guardrails) Config() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// ValidateInput screens one user message.
func (g *Guardrails) ValidateInput(ctx context.Context, sessionID, text string) domain.InputVerdict {
	g.mu.RLock()
	v := g.input
	g.mu.RUnlock()
	return v.Validate(ctx, sessionID, text)
}

// ValidateOutput screens one model reply.
func (g *Guardrails) ValidateOutput(ctx context.Context, text string) domain.OutputVerdict {
	g.mu.RLock()
	v := g.output
	g.mu.RUnlock()
	return v.Validate(ctx, text)
}

// CheckRateLimit reports whether the session may make a request now.
// Admissions are recorded; rejections are not. When rate limiting is
// disabled every request is admitted without touching the limiter.
func (g *Guardrails) CheckRateLimit(ctx context.Context, sessionID string) (bool, error) {
	g.mu.RLock()
	enabled := g.cfg.RateLimiting
	g.mu.RUnlock()

	if !enabled {
		return true, nil
	}
	allowed, err := g.limiter.AllowContext(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !allowed {
		g.logger.WarnContext(ctx, "rate limit exceeded",
			"session_id", sessionID,
			"retry_after", g.limiter.RetryAfter(sessionID).String())
	}
	return allowed, nil
}

// RetryAfter returns how long the session must wait before its next
// request can be admitted.
func (g *Guardrails) RetryAfter(sessionID string) time.Duration {
	return g.limiter.RetryAfter(sessionID)
}

// Limiter exposes the underlying session limiter for response headers
// and stats endpoints.
func (g *Guardrails) Limiter() *governance.SessionLimiter {
	return g.limiter
}

// RedactPII strips personal data from text using the active catalog.
func (g *Guardrails) RedactPII(text string) string {
	return g.catalog.Redact(text)
}

// Messages returns the active user-facing copy.
func (g *Guardrails) Messages() Messages {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg.Messages
}
