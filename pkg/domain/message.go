package domain

import "time"

// Role identifies the author of a conversation message.
type Role string

// Conversation roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a session transcript. Content holds the text as
// it was admitted past the guardrails: user messages carry redacted text
// when PII was found, assistant messages carry the sanitized reply.
type Message struct {
	ID        string       `json:"id"`
	Role      Role         `json:"role"`
	Content   string       `json:"content"`
	Metadata  TurnMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// TurnMetadata carries the safety annotations attached to a delivered turn.
// The presentation layer renders these as badges next to the reply.
type TurnMetadata struct {
	RiskLevel         RiskLevel  `json:"risk_level"`
	HasHallucinations bool       `json:"has_hallucinations"`
	HasSources        bool       `json:"has_sources"`
	Redacted          bool       `json:"redacted"`
	Categories        []Category `json:"categories,omitempty"`
}
