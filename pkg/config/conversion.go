package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rampart-ai/rampart/internal/governance"
	"github.com/rampart-ai/rampart/internal/tokens"
	"github.com/rampart-ai/rampart/pkg/domain"
	"github.com/rampart-ai/rampart/pkg/guard"
	"github.com/rampart-ai/rampart/pkg/history"
	"github.com/rampart-ai/rampart/pkg/model"
	"github.com/rampart-ai/rampart/pkg/policy"
	"github.com/rampart-ai/rampart/pkg/policy/patterns"
	"github.com/rampart-ai/rampart/pkg/telemetry"
)

// duration parses a validated duration string, returning the fallback for
// empty values. Validate has already rejected unparseable strings.
func duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// ReadTimeoutDuration returns the parsed read timeout.
func (c ServerConfig) ReadTimeoutDuration() time.Duration {
	return duration(c.ReadTimeout, 10*time.Second)
}

// WriteTimeoutDuration returns the parsed write timeout.
func (c ServerConfig) WriteTimeoutDuration() time.Duration {
	return duration(c.WriteTimeout, 60*time.Second)
}

// ShutdownTimeoutDuration returns the parsed graceful shutdown budget.
func (c ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return duration(c.ShutdownTimeout, 10*time.Second)
}

// GuardConfig converts the section into the validator configuration.
func (c GuardrailsConfig) GuardConfig() guard.Config {
	return guard.Config{
		InputValidation:          c.InputValidation,
		PIIDetection:             c.PIIDetection,
		HarmfulContentDetection:  c.HarmfulContentDetection,
		PromptInjectionDetection: c.PromptInjectionDetection,
		MinInputLength:           c.MinInputLength,

		OutputValidation:        c.OutputValidation,
		OutputPIIDetection:      c.OutputPIIDetection,
		OutputHarmfulDetection:  c.OutputHarmfulDetection,
		HallucinationDetection:  c.HallucinationDetection,
		HallucinationDisclaimer: c.HallucinationDisclaimer,

		RateLimiting: c.RateLimiting,

		HarmfulThreshold:       c.HarmfulThreshold,
		HallucinationThreshold: c.HallucinationThreshold,

		Messages: guard.Messages{
			HarmfulInput:    c.Messages.HarmfulInput,
			PromptInjection: c.Messages.PromptInjection,
			HarmfulOutput:   c.Messages.HarmfulOutput,
			RateLimited:     c.Messages.RateLimited,
			General:         c.Messages.General,
			Disclaimer:      c.Messages.Disclaimer,
		},
	}
}

// LimiterConfig converts the rate limit knobs.
func (c GuardrailsConfig) LimiterConfig() governance.SessionLimiterConfig {
	return governance.SessionLimiterConfig{
		MaxRequests: c.MaxRequests,
		Window:      duration(c.Window, 60*time.Second),
	}
}

// HistoryBudget converts the conversation budget knobs.
func (c GuardrailsConfig) HistoryBudget() history.Budget {
	return history.Budget{
		MaxTokens:   c.MaxConversationTokens,
		MaxMessages: c.MaxHistoryMessages,
	}
}

// Rules converts the operator pattern rules for catalog registration.
func (c GuardrailsConfig) Rules() []patterns.Rule {
	if len(c.CustomRules) == 0 {
		return nil
	}
	rules := make([]patterns.Rule, 0, len(c.CustomRules))
	for _, rule := range c.CustomRules {
		rules = append(rules, patterns.Rule{
			ID:          rule.ID,
			Category:    domain.Category(rule.Category),
			Pattern:     rule.Pattern,
			Description: rule.Description,
		})
	}
	return rules
}

// Catalog builds the screening catalog from the built-in rules plus the
// operator's custom rules.
func (c GuardrailsConfig) Catalog() (*patterns.Catalog, error) {
	custom := c.Rules()
	if len(custom) == 0 {
		return patterns.DefaultCatalog(), nil
	}

	registry := patterns.NewRegistry()
	if err := registry.RegisterAll(patterns.BuiltinRules()); err != nil {
		return nil, fmt.Errorf("config: register builtin rules: %w", err)
	}
	if err := registry.RegisterAll(custom); err != nil {
		return nil, fmt.Errorf("config: register custom rules: %w", err)
	}
	return registry.Catalog()
}

// GatewayConfig converts the model section for the HTTP gateway client.
func (c ModelConfig) GatewayConfig() model.GatewayConfig {
	retry := governance.DefaultRetryConfig()
	retry.MaxRetries = c.MaxRetries

	breaker := governance.DefaultCircuitBreakerConfig()
	if c.BreakerMaxFailures > 0 {
		breaker.MaxFailures = c.BreakerMaxFailures
	}
	breaker.Timeout = duration(c.BreakerTimeout, breaker.Timeout)

	return model.GatewayConfig{
		Endpoint:     c.Endpoint,
		APIKey:       c.APIKey,
		Model:        c.Name,
		SystemPrompt: c.SystemPrompt,
		Temperature:  c.Temperature,
		MaxTokens:    c.MaxTokens,
		Timeout:      duration(c.Timeout, 30*time.Second),
		CitationHint: c.CitationHint,
		Retry:        retry,
		Breaker:      breaker,
	}
}

// Estimator selects the token estimator for conversation budgeting: the
// tiktoken-backed counter when an encoding or model is named, the length
// heuristic otherwise.
func (c ModelConfig) Estimator() tokens.Estimator {
	if c.TokenEncoding == "" {
		return tokens.HeuristicEstimator{}
	}
	return tokens.NewTiktokenEstimator(c.TokenEncoding)
}

// ProviderConfig converts the telemetry section for SetupProvider.
func (c TelemetryConfig) ProviderConfig(serviceName string) telemetry.Config {
	return telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    c.OTLPEndpoint,
		Environment: c.Environment,
		Insecure:    c.Insecure,
		SampleRatio: c.SampleRatio,
	}
}

// EngineOptions reads the configured Rego modules from disk and converts
// the section for policy.NewEngine. Returns nil options when disabled.
func (c PolicyConfig) EngineOptions() (policy.EngineOptions, error) {
	opts := policy.EngineOptions{
		Entrypoint:      c.Entrypoint,
		CacheMaxEntries: c.CacheMaxEntries,
		FailClosed:      c.FailClosed,
	}
	if !c.Enabled {
		return opts, nil
	}

	modules := make(map[string]string, len(c.ModulePaths))
	for _, path := range c.ModulePaths {
		//nolint:gosec // Module paths are controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return opts, fmt.Errorf("config: read policy module %s: %w", path, err)
		}
		modules[filepath.Base(path)] = string(data)
	}
	opts.Modules = modules
	return opts, nil
}
