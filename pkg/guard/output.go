package guard

import (
	"context"
	"log/slog"

	"github.com/rampart-ai/rampart/pkg/domain"
	"github.com/rampart-ai/rampart/pkg/policy/patterns"
)

// OutputValidator screens model replies before they are delivered.
//
// Harmful content rejects the reply outright. PII is always redacted,
// valid or not, so leaked personal data never reaches a client. Replies
// hedged with enough uncertainty markers are flagged as potential
// hallucinations and annotated with a disclaimer rather than blocked.
type OutputValidator struct {
	catalog *patterns.Catalog
	cfg     Config
	logger  *slog.Logger
}

// NewOutputValidator creates a validator over the given pattern catalog.
func NewOutputValidator(catalog *patterns.Catalog, cfg Config, logger *slog.Logger) *OutputValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutputValidator{
		catalog: catalog,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Validate screens one model reply. FilteredText holds the deliverable
// form: redacted when PII was found, suffixed with the disclaimer when
// the reply was flagged as hallucinated.
func (v *OutputValidator) Validate(ctx context.Context, text string) domain.OutputVerdict {
	verdict := domain.OutputVerdict{
		IsValid:      true,
		FilteredText: text,
		RiskLevel:    domain.RiskLow,
	}

	if !v.cfg.OutputValidation {
		return verdict
	}

	if v.cfg.OutputHarmfulDetection &&
		v.catalog.Count(domain.CategoryHarmful, text) >= v.cfg.HarmfulThreshold {
		verdict.IsValid = false
		verdict.HasHarmfulContent = true
		verdict.RiskLevel = domain.RiskHigh
		verdict.RejectionReason = v.cfg.Messages.HarmfulOutput
		v.logger.WarnContext(ctx, "harmful content detected in output")
	}

	if v.cfg.OutputPIIDetection && v.catalog.MatchAny(domain.CategoryPII, text) {
		verdict.HasPII = true
		verdict.FilteredText = v.catalog.Redact(text)
		verdict.RiskLevel = domain.MaxRisk(verdict.RiskLevel, domain.RiskMedium)
		v.logger.InfoContext(ctx, "pii redacted from output")
	}

	// Hallucination markers are counted on the raw reply; redaction must
	// not change how hedged the model sounded.
	if v.cfg.HallucinationDetection {
		count := v.catalog.Count(domain.CategoryHallucination, text)
		if count >= v.cfg.HallucinationThreshold {
			verdict.HasHallucinations = true
			verdict.RiskLevel = domain.MaxRisk(verdict.RiskLevel, domain.RiskMedium)
			v.logger.InfoContext(ctx, "potential hallucination detected",
				"indicators", count)
		}
	}

	if verdict.HasHallucinations && verdict.IsValid && v.cfg.HallucinationDisclaimer {
		verdict.FilteredText += v.cfg.Messages.Disclaimer
	}

	v.logger.DebugContext(ctx, "output validated",
		"valid", verdict.IsValid,
		"risk_level", string(verdict.RiskLevel))
	return verdict
}
