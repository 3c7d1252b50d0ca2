package guard

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rampart-ai/rampart/pkg/domain"
	"github.com/rampart-ai/rampart/pkg/policy/patterns"
)

// InputValidator screens user messages before they reach the model.
//
// Checks are ordered by severity and the first rejecting check wins:
// harmful content outranks prompt injection. PII detection runs on every
// message regardless of earlier rejections, so verdicts always report
// whether personal data was present.
type InputValidator struct {
	catalog *patterns.Catalog
	cfg     Config
	logger  *slog.Logger
}

// NewInputValidator creates a validator over the given pattern catalog.
func NewInputValidator(catalog *patterns.Catalog, cfg Config, logger *slog.Logger) *InputValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &InputValidator{
		catalog: catalog,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Validate screens one user message. The returned verdict always carries
// usable FilteredText: the original message, or its redacted form when
// PII was found.
func (v *InputValidator) Validate(ctx context.Context, sessionID, text string) domain.InputVerdict {
	verdict := domain.InputVerdict{
		IsValid:      true,
		FilteredText: text,
		RiskLevel:    domain.RiskLow,
	}

	if !v.cfg.InputValidation {
		return verdict
	}

	if v.cfg.MinInputLength > 0 && len(strings.TrimSpace(text)) < v.cfg.MinInputLength {
		verdict.IsValid = false
		verdict.RejectionReason = v.cfg.Messages.General
		v.logger.InfoContext(ctx, "input below minimum length",
			"session_id", sessionID,
			"length", len(strings.TrimSpace(text)))
		return verdict
	}

	if v.cfg.HarmfulContentDetection &&
		v.catalog.Count(domain.CategoryHarmful, text) >= v.cfg.HarmfulThreshold {
		verdict.IsValid = false
		verdict.HasHarmfulContent = true
		verdict.RiskLevel = domain.RiskHigh
		verdict.RejectionReason = v.cfg.Messages.HarmfulInput
		v.logger.WarnContext(ctx, "harmful content detected in input",
			"session_id", sessionID,
			"preview", preview(text))
	}

	if verdict.IsValid && v.cfg.PromptInjectionDetection &&
		v.catalog.MatchAny(domain.CategoryPromptInjection, text) {
		verdict.IsValid = false
		verdict.HasPromptInjection = true
		verdict.RiskLevel = domain.MaxRisk(verdict.RiskLevel, domain.RiskMedium)
		verdict.RejectionReason = v.cfg.Messages.PromptInjection
		v.logger.WarnContext(ctx, "prompt injection attempt detected",
			"session_id", sessionID,
			"preview", preview(text))
	}

	// PII runs even on rejected input so the verdict records its presence,
	// and redaction keeps the raw text out of logs and transcripts.
	if v.cfg.PIIDetection && v.catalog.MatchAny(domain.CategoryPII, text) {
		verdict.HasPII = true
		verdict.FilteredText = v.catalog.Redact(text)
		verdict.RiskLevel = domain.MaxRisk(verdict.RiskLevel, domain.RiskMedium)
		v.logger.InfoContext(ctx, "pii redacted from input",
			"session_id", sessionID)
	}

	v.logger.DebugContext(ctx, "input validated",
		"session_id", sessionID,
		"valid", verdict.IsValid,
		"risk_level", string(verdict.RiskLevel))
	return verdict
}

// preview truncates text for log lines so transcripts never land in logs
// wholesale.
func preview(text string) string {
	const max = 50
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}
