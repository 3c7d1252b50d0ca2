package domain

// InputVerdict is the structured result of screening one user message.
//
// Invariants:
//   - HasHarmfulContent implies IsValid == false and RiskLevel == high.
//   - HasPromptInjection (without harmful content) implies IsValid == false
//     and RiskLevel == medium.
//   - HasPII alone never invalidates the message; it only forces redaction
//     and raises risk to at least medium.
//   - FilteredText equals the original text when no PII was found.
//   - RejectionReason is non-empty exactly when IsValid == false.
type InputVerdict struct {
	IsValid            bool      `json:"is_valid"`
	HasPII             bool      `json:"has_pii"`
	HasHarmfulContent  bool      `json:"has_harmful_content"`
	HasPromptInjection bool      `json:"has_prompt_injection"`
	FilteredText       string    `json:"filtered_text"`
	RejectionReason    string    `json:"rejection_reason,omitempty"`
	RiskLevel          RiskLevel `json:"risk_level"`
}

// OutputVerdict is the structured result of screening one model response.
//
// Invariants:
//   - HasHarmfulContent implies IsValid == false and RiskLevel == high.
//   - PII is always redacted from FilteredText, valid or not.
//   - The hallucination disclaimer is appended to FilteredText only when
//     HasHallucinations is true and the verdict is otherwise valid.
type OutputVerdict struct {
	IsValid           bool      `json:"is_valid"`
	HasHarmfulContent bool      `json:"has_harmful_content"`
	HasPII            bool      `json:"has_pii"`
	HasHallucinations bool      `json:"has_hallucinations"`
	FilteredText      string    `json:"filtered_text"`
	RejectionReason   string    `json:"rejection_reason,omitempty"`
	RiskLevel         RiskLevel `json:"risk_level"`
}

// Flagged reports whether any check category fired on the input.
func (v InputVerdict) Flagged() bool {
	return v.HasPII || v.HasHarmfulContent || v.HasPromptInjection
}

// Flagged reports whether any check category fired on the output.
func (v OutputVerdict) Flagged() bool {
	return v.HasPII || v.HasHarmfulContent || v.HasHallucinations
}
