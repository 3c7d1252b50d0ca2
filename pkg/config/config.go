// Package config provides configuration structures and loading logic for
// the guardrails service. Load composes defaults, a YAML file, and
// environment overrides, then validates every section.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rampart-ai/rampart/pkg/domain"
	"github.com/rampart-ai/rampart/pkg/telemetry"
)

// Config holds the global configuration for the service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Model      ModelConfig      `yaml:"model"`
	Guardrails GuardrailsConfig `yaml:"guardrails"`
	Policy     PolicyConfig     `yaml:"policy"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// TelemetryConfig holds configuration for OpenTelemetry export.
type TelemetryConfig struct {
	OTLPEndpoint string                `yaml:"otlp_endpoint"`
	Insecure     bool                  `yaml:"insecure"`
	Environment  string                `yaml:"environment"`
	SampleRatio  float64               `yaml:"sample_ratio"`
	Scrub        []telemetry.ScrubRule `yaml:"scrub,omitempty"`
}

// ModelConfig holds configuration for the upstream model gateway. An
// empty endpoint selects the offline local provider.
type ModelConfig struct {
	Endpoint           string  `yaml:"endpoint"`
	APIKey             string  `yaml:"api_key"`
	Name               string  `yaml:"name"`
	SystemPrompt       string  `yaml:"system_prompt"`
	Temperature        float64 `yaml:"temperature"`
	MaxTokens          int     `yaml:"max_tokens"`
	Timeout            string  `yaml:"timeout"`
	CitationHint       bool    `yaml:"citation_hint"`
	MaxRetries         int     `yaml:"max_retries"`
	BreakerMaxFailures int     `yaml:"breaker_max_failures"`
	BreakerTimeout     string  `yaml:"breaker_timeout"`
	TokenEncoding      string  `yaml:"token_encoding"`
}

// GuardrailsConfig carries every validation knob. Absent fields keep the
// stock defaults seeded by Default.
type GuardrailsConfig struct {
	InputValidation          bool `yaml:"input_validation"`
	PIIDetection             bool `yaml:"pii_detection"`
	HarmfulContentDetection  bool `yaml:"harmful_content_detection"`
	PromptInjectionDetection bool `yaml:"prompt_injection_detection"`
	MinInputLength           int  `yaml:"min_input_length"`

	OutputValidation        bool `yaml:"output_validation"`
	OutputPIIDetection      bool `yaml:"output_pii_detection"`
	OutputHarmfulDetection  bool `yaml:"output_harmful_detection"`
	HallucinationDetection  bool `yaml:"hallucination_detection"`
	HallucinationDisclaimer bool `yaml:"hallucination_disclaimer"`

	HarmfulThreshold       int `yaml:"harmful_threshold"`
	HallucinationThreshold int `yaml:"hallucination_threshold"`

	RateLimiting bool   `yaml:"rate_limiting"`
	MaxRequests  int    `yaml:"max_requests"`
	Window       string `yaml:"window"`

	MaxConversationTokens int `yaml:"max_conversation_tokens"`
	MaxHistoryMessages    int `yaml:"max_history_messages"`

	Messages    MessagesConfig `yaml:"messages"`
	CustomRules []PatternRule  `yaml:"custom_rules,omitempty"`
}

// MessagesConfig overrides the user-facing rejection copy. Empty fields
// keep the stock messages.
type MessagesConfig struct {
	HarmfulInput    string `yaml:"harmful_input"`
	PromptInjection string `yaml:"prompt_injection"`
	HarmfulOutput   string `yaml:"harmful_output"`
	RateLimited     string `yaml:"rate_limited"`
	General         string `yaml:"general"`
	Disclaimer      string `yaml:"disclaimer"`
}

// PatternRule declares an operator-supplied screening pattern appended to
// the built-in catalog.
type PatternRule struct {
	ID          string `yaml:"id"`
	Category    string `yaml:"category"`
	Pattern     string `yaml:"pattern"`
	Description string `yaml:"description"`
}

// PolicyConfig enables the Rego escalation hook.
type PolicyConfig struct {
	Enabled         bool     `yaml:"enabled"`
	ModulePaths     []string `yaml:"module_paths"`
	Entrypoint      string   `yaml:"entrypoint"`
	FailClosed      bool     `yaml:"fail_closed"`
	CacheMaxEntries int      `yaml:"cache_max_entries"`
}

// Default returns the stock configuration: every guardrail enabled, the
// documented thresholds, and the offline model provider.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     "10s",
			WriteTimeout:    "60s",
			ShutdownTimeout: "10s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			SampleRatio: 1.0,
		},
		Model: ModelConfig{
			Timeout:            "30s",
			Temperature:        0.7,
			BreakerMaxFailures: 5,
			BreakerTimeout:     "30s",
		},
		Guardrails: GuardrailsConfig{
			InputValidation:          true,
			PIIDetection:             true,
			HarmfulContentDetection:  true,
			PromptInjectionDetection: true,
			MinInputLength:           2,

			OutputValidation:        true,
			OutputPIIDetection:      true,
			OutputHarmfulDetection:  true,
			HallucinationDetection:  true,
			HallucinationDisclaimer: true,

			HarmfulThreshold:       1,
			HallucinationThreshold: 3,

			RateLimiting: true,
			MaxRequests:  20,
			Window:       "60s",

			MaxConversationTokens: 8000,
			MaxHistoryMessages:    50,
		},
	}
}

// Load reads configuration from a file and applies environment variable
// overrides. An empty path loads defaults plus the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("RAMPART_LISTEN_ADDR"); val != "" {
		cfg.Server.ListenAddr = val
	}
	if val := os.Getenv("RAMPART_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("RAMPART_LOG_PRETTY"); val == "true" {
		cfg.Logging.Pretty = true
	}

	if val := os.Getenv("RAMPART_MODEL_ENDPOINT"); val != "" {
		cfg.Model.Endpoint = val
	}
	if val := os.Getenv("RAMPART_MODEL_API_KEY"); val != "" {
		cfg.Model.APIKey = val
	}
	if val := os.Getenv("RAMPART_MODEL_NAME"); val != "" {
		cfg.Model.Name = val
	}

	if val := os.Getenv("RAMPART_OTEL_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("RAMPART_OTEL_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("RAMPART_MAX_REQUESTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Guardrails.MaxRequests = n
		}
	}
	if val := os.Getenv("RAMPART_RATE_WINDOW"); val != "" {
		cfg.Guardrails.Window = val
	}
}

// Validate performs comprehensive validation of the entire configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model configuration: %w", err)
	}
	if err := c.Guardrails.Validate(); err != nil {
		return fmt.Errorf("guardrails configuration: %w", err)
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy configuration: %w", err)
	}
	return nil
}

// Validate normalizes and checks the server section.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = ":8080"
	}
	for name, value := range map[string]*string{
		"read_timeout":     &c.ReadTimeout,
		"write_timeout":    &c.WriteTimeout,
		"shutdown_timeout": &c.ShutdownTimeout,
	} {
		if strings.TrimSpace(*value) == "" {
			continue
		}
		if _, err := time.ParseDuration(*value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, *value, err)
		}
	}
	return nil
}

// Validate normalizes the log level.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}

// Validate checks the telemetry section.
func (c *TelemetryConfig) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("sample_ratio %v must be within [0, 1]", c.SampleRatio)
	}
	for i, rule := range c.Scrub {
		if strings.TrimSpace(rule.Attribute) == "" {
			return fmt.Errorf("scrub rule %d has no attribute", i)
		}
		switch strings.ToLower(rule.Strategy) {
		case "", "drop", "mask", "hash", "replace", "redact":
		default:
			return fmt.Errorf("scrub rule %d has unknown strategy %q", i, rule.Strategy)
		}
	}
	return nil
}

// Validate checks the model section.
func (c *ModelConfig) Validate() error {
	for name, value := range map[string]string{
		"timeout":         c.Timeout,
		"breaker_timeout": c.BreakerTimeout,
	} {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.Endpoint != "" && c.Name == "" {
		return fmt.Errorf("model name is required when an endpoint is configured")
	}
	return nil
}

// Validate checks thresholds, the rate limit window, and custom rules.
func (c *GuardrailsConfig) Validate() error {
	if c.MinInputLength < 0 {
		return fmt.Errorf("min_input_length must not be negative")
	}
	if c.HarmfulThreshold < 1 {
		return fmt.Errorf("harmful_threshold must be at least 1")
	}
	if c.HallucinationThreshold < 1 {
		return fmt.Errorf("hallucination_threshold must be at least 1")
	}
	if c.MaxRequests < 1 {
		return fmt.Errorf("max_requests must be at least 1")
	}
	if strings.TrimSpace(c.Window) == "" {
		c.Window = "60s"
	}
	window, err := time.ParseDuration(c.Window)
	if err != nil {
		return fmt.Errorf("invalid window %q: %w", c.Window, err)
	}
	if window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	if c.MaxConversationTokens < 1 {
		return fmt.Errorf("max_conversation_tokens must be at least 1")
	}
	if c.MaxHistoryMessages < 1 {
		return fmt.Errorf("max_history_messages must be at least 1")
	}

	seen := make(map[string]struct{}, len(c.CustomRules))
	for i, rule := range c.CustomRules {
		if strings.TrimSpace(rule.ID) == "" {
			return fmt.Errorf("custom rule %d has no id", i)
		}
		if _, dup := seen[rule.ID]; dup {
			return fmt.Errorf("duplicate custom rule id %q", rule.ID)
		}
		seen[rule.ID] = struct{}{}
		if !domain.Category(rule.Category).Valid() {
			return fmt.Errorf("custom rule %q has unknown category %q", rule.ID, rule.Category)
		}
		if strings.TrimSpace(rule.Pattern) == "" {
			return fmt.Errorf("custom rule %q has no pattern", rule.ID)
		}
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("custom rule %q has invalid pattern: %w", rule.ID, err)
		}
	}
	return nil
}

// Validate checks the policy section.
func (c *PolicyConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.ModulePaths) == 0 {
		return fmt.Errorf("policy is enabled but no module_paths are configured")
	}
	if c.CacheMaxEntries < -1 {
		return fmt.Errorf("cache_max_entries must be -1, 0, or positive")
	}
	return nil
}
