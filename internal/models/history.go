package models

import "time"

// HistoryEntry is one retained reading in a topic's bounded history.
type HistoryEntry struct {
	Timestamp time.Time     `json:"timestamp"`
	Reading   SensorReading `json:"reading"`
}
