package telemetry

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// textBearingKeys are attributes that can carry message content and are
// always dropped before export. Spans record classifications, never text.
var textBearingKeys = map[string]struct{}{
	"chat.message":                       {},
	"chat.reply":                         {},
	"request.body":                       {},
	"response.body":                      {},
	"http.request.header.authorization":  {},
	"http.response.header.authorization": {},
	"http.response.header.set_cookie":    {},
}

// ScrubRule directs how one attribute is treated before export. Strategy
// is one of drop, mask, hash, or redact; empty means drop.
type ScrubRule struct {
	Attribute string `yaml:"attribute"`
	Strategy  string `yaml:"strategy"`
}

// ScrubAttributes applies the built-in deny list plus operator rules to
// span attributes before they are attached. Masking keeps the first and
// last characters for debugging; hashing keeps a stable token for
// correlation without exposing the value.
func ScrubAttributes(rules []ScrubRule, attrs []attribute.KeyValue) []attribute.KeyValue {
	if len(attrs) == 0 {
		return attrs
	}

	strategies := make(map[string]string, len(rules))
	for _, rule := range rules {
		strategy := strings.ToLower(rule.Strategy)
		if strategy == "" {
			strategy = "drop"
		}
		strategies[rule.Attribute] = strategy
	}

	scrubbed := make([]attribute.KeyValue, 0, len(attrs))
	for _, kv := range attrs {
		key := string(kv.Key)
		if _, drop := textBearingKeys[key]; drop {
			continue
		}

		switch strategies[key] {
		case "drop":
			continue
		case "mask":
			scrubbed = append(scrubbed, attribute.String(key, maskValue(kv.Value.AsString())))
		case "hash":
			scrubbed = append(scrubbed, attribute.String(key, hashValue(kv.Value.AsString())))
		case "replace", "redact":
			scrubbed = append(scrubbed, attribute.String(key, "[REDACTED]"))
		default:
			scrubbed = append(scrubbed, kv)
		}
	}

	return scrubbed
}

// maskValue shows the first 4 and last 4 characters with *** in between.
func maskValue(s string) string {
	if len(s) <= 8 {
		return "***" // Too short to mask meaningfully
	}
	return s[:4] + "***" + s[len(s)-4:]
}

// hashValue produces a deterministic token for correlation tracking.
func hashValue(s string) string {
	if s == "" {
		return "[REDACTED:empty]"
	}
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("[REDACTED:hash:%x]", sum[:4])
}
