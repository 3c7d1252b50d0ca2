package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// Redaction must remove every planted PII token and replace it with the
// marker, regardless of the surrounding prose.
func TestRedactRemovesPlantedPIIProperty(t *testing.T) {
	catalog := DefaultCatalog()

	generators := map[string]*rapid.Generator[string]{
		"email": rapid.StringMatching(`[a-z0-9]{1,8}@[a-z0-9]{1,8}\.(com|org|net)`),
		"ssn":   rapid.StringMatching(`[0-9]{3}-[0-9]{2}-[0-9]{4}`),
		"phone": rapid.StringMatching(`\([0-9]{3}\) [0-9]{3}-[0-9]{4}`),
		"ipv4":  rapid.StringMatching(`[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}`),
	}

	for kind, gen := range generators {
		gen := gen
		t.Run(kind, func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				pii := gen.Draw(t, "pii")
				// Letter-only padding keeps the planted token on word
				// boundaries, matching how PII appears in prose.
				prefix := rapid.StringMatching(`[a-z ]{0,20}`).Draw(t, "prefix")
				suffix := rapid.StringMatching(`[a-z ]{0,20}`).Draw(t, "suffix")
				text := prefix + " " + pii + " " + suffix

				redacted := catalog.Redact(text)
				assert.NotContains(t, redacted, pii)
				assert.Contains(t, redacted, Marker)
			})
		})
	}
}

// Redact(Redact(x)) == Redact(x) for arbitrary input: the marker itself
// never re-triggers a PII rule.
func TestRedactIdempotentProperty(t *testing.T) {
	catalog := DefaultCatalog()
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		once := catalog.Redact(text)
		twice := catalog.Redact(once)
		assert.Equal(t, once, twice)
	})
}
