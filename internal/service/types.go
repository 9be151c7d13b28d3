package service

import "time"

// LogFilter supports audit log filtering by time range and type.
type LogFilter struct {
	From  time.Time // inclusive; zero means no lower bound
	To    time.Time // inclusive; zero means no upper bound
	Type  string    // "", "COMMAND_ISSUED", "COMMAND_CONFIRMED", "COMMAND_FAILED", "CONNECTIVITY"
	Limit int       // 0 means all
}

// Diagnosis is the answer of the crop health advisory flow.
type Diagnosis struct {
	Healthy     bool     `json:"healthy"`
	Disease     string   `json:"disease,omitempty"`
	Confidence  float64  `json:"confidence"`
	Remedies    []string `json:"remedies,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
}
