package models

import (
	"fmt"
	"strings"
	"time"
)

// ConnectivityState is the per-topic liveness of the remote device.
type ConnectivityState int

const (
	Unknown ConnectivityState = iota
	Online
	Offline
)

func (s ConnectivityState) String() string {
	switch s {
	case Online:
		return "Online"
	case Offline:
		return "Offline"
	default:
		return "Unknown"
	}
}

// MarshalText lets the state render as its name in JSON.
func (s ConnectivityState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnectivityState) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "online":
		*s = Online
	case "offline":
		*s = Offline
	case "unknown", "":
		*s = Unknown
	default:
		return fmt.Errorf("unknown connectivity state %q", b)
	}
	return nil
}

// Transition is emitted once per connectivity state change.
type Transition struct {
	Topic    Topic             `json:"topic"`
	From     ConnectivityState `json:"from"`
	To       ConnectivityState `json:"to"`
	At       time.Time         `json:"at"`
	Degraded bool              `json:"degraded,omitempty"` // decided on receipt time, device sent no timestamp
}
