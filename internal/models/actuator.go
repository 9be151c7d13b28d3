package models

import "time"

// ActuatorState is the optimistic/confirmed view of one remote actuator.
type ActuatorState struct {
	ActuatorID string    `json:"actuator_id"`
	Desired    bool      `json:"desired"`
	Confirmed  bool      `json:"confirmed"`
	Pending    bool      `json:"pending"`
	Synced     bool      `json:"synced"` // Confirmed has been established by the feed or a write
	UpdatedAt  time.Time `json:"updated_at"`
}

// CommandResult is what a caller gets back once its intent is resolved.
type CommandResult struct {
	ActuatorID string        `json:"actuator_id"`
	Requested  bool          `json:"requested"`
	Written    bool          `json:"written"` // false for idempotent no-ops
	State      ActuatorState `json:"state"`
	Err        error         `json:"-"`
}
