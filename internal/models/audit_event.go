package models

import "time"

// Audit event types.
const (
	EventCommandIssued    = "COMMAND_ISSUED"
	EventCommandConfirmed = "COMMAND_CONFIRMED"
	EventCommandFailed    = "COMMAND_FAILED"
	EventConnectivity     = "CONNECTIVITY"
)

// AuditEvent is a single log entry.
type AuditEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`        // COMMAND_ISSUED | COMMAND_CONFIRMED | COMMAND_FAILED | CONNECTIVITY
	Description string    `json:"description"` // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}
