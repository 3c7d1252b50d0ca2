package guard

// Config holds the guardrail toggles, thresholds, and user-facing copy.
// Every check can be disabled independently so operators can loosen one
// control without giving up the rest.
type Config struct {
	// Input screening.
	InputValidation          bool
	PIIDetection             bool
	HarmfulContentDetection  bool
	PromptInjectionDetection bool
	MinInputLength           int

	// Output screening.
	OutputValidation         bool
	OutputPIIDetection       bool
	OutputHarmfulDetection   bool
	HallucinationDetection   bool
	HallucinationDisclaimer  bool

	// Rate limiting toggle. The window limits themselves live on the
	// session limiter.
	RateLimiting bool

	// Thresholds. HarmfulThreshold counts pattern hits before rejecting;
	// HallucinationThreshold counts uncertainty markers before flagging.
	HarmfulThreshold       int
	HallucinationThreshold int

	Messages Messages
}

// Messages is the user-facing copy returned with rejections and
// annotations. Empty fields fall back to the defaults.
type Messages struct {
	HarmfulInput    string
	PromptInjection string
	HarmfulOutput   string
	RateLimited     string
	General         string
	Disclaimer      string
}

// DefaultConfig returns the standard guardrail posture: every check
// enabled with the stock thresholds and copy.
func DefaultConfig() Config {
	return Config{
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

		RateLimiting: true,

		HarmfulThreshold:       1,
		HallucinationThreshold: 3,

		Messages: DefaultMessages(),
	}
}

// DefaultMessages returns the stock user-facing copy.
func DefaultMessages() Messages {
	return Messages{
		HarmfulInput:    "Your message contains potentially harmful content that violates our usage policy.",
		PromptInjection: "Your message contains prompt engineering attempts that aren't allowed.",
		HarmfulOutput:   "The AI generated potentially harmful content.",
		RateLimited:     "You've made too many requests. Please wait a moment before sending another message.",
		General:         "I'm unable to process that request. Please try something different.",
		Disclaimer:      "\n\n_Note: This response may contain uncertainties. Please verify any critical information._",
	}
}

// withDefaults fills the fields whose zero value has no sensible meaning.
// Boolean toggles are left alone: false is a deliberate setting.
func (c Config) withDefaults() Config {
	if c.HarmfulThreshold <= 0 {
		c.HarmfulThreshold = 1
	}
	if c.HallucinationThreshold <= 0 {
		c.HallucinationThreshold = 3
	}
	if c.MinInputLength < 0 {
		c.MinInputLength = 0
	}

	defaults := DefaultMessages()
	if c.Messages.HarmfulInput == "" {
		c.Messages.HarmfulInput = defaults.HarmfulInput
	}
	if c.Messages.PromptInjection == "" {
		c.Messages.PromptInjection = defaults.PromptInjection
	}
	if c.Messages.HarmfulOutput == "" {
		c.Messages.HarmfulOutput = defaults.HarmfulOutput
	}
	if c.Messages.RateLimited == "" {
		c.Messages.RateLimited = defaults.RateLimited
	}
	if c.Messages.General == "" {
		c.Messages.General = defaults.General
	}
	if c.Messages.Disclaimer == "" {
		c.Messages.Disclaimer = defaults.Disclaimer
	}
	return c
}
