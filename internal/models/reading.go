package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// Topic identifies a remote feed path, e.g. "Irrigation".
type Topic string

// Value is a single decoded snapshot field: either a number or a bool.
type Value struct {
	num    float64
	flag   bool
	isBool bool
}

// Number wraps a numeric field value.
func Number(f float64) Value { return Value{num: f} }

// Bool wraps a boolean field value.
func Bool(b bool) Value { return Value{flag: b, isBool: true} }

// IsBool reports whether the value holds a bool.
func (v Value) IsBool() bool { return v.isBool }

// Float returns the numeric value; ok is false for bools.
func (v Value) Float() (float64, bool) {
	if v.isBool {
		return 0, false
	}
	return v.num, true
}

// Flag returns the boolean value; ok is false for numbers.
func (v Value) Flag() (bool, bool) {
	if !v.isBool {
		return false, false
	}
	return v.flag, true
}

// Interface returns the value as float64 or bool, for encoding.
func (v Value) Interface() any {
	if v.isBool {
		return v.flag
	}
	return v.num
}

func (v Value) String() string {
	if v.isBool {
		return strconv.FormatBool(v.flag)
	}
	return strconv.FormatFloat(v.num, 'f', -1, 64)
}

// SensorReading is one accepted snapshot of a topic.
// Fields holds only what the snapshot carried; a missing key means "no data", not zero.
type SensorReading struct {
	Topic      Topic
	Fields     map[string]Value
	SourceTime time.Time // device capture time; zero when the snapshot had none
	ReceivedAt time.Time // local receipt time
	// EstimatedTime places an unstamped reading on the device clock, from the
	// skew observed on the topic's last stamped reading. Zero when unknown.
	EstimatedTime time.Time
}

// HasSourceTime reports whether the device stamped the reading.
func (r SensorReading) HasSourceTime() bool { return !r.SourceTime.IsZero() }

// OrderingTime is the timestamp used for acceptance and history ordering.
// Unstamped readings use EstimatedTime, or receipt time truncated to whole seconds
// when no stamped reading has been seen yet.
func (r SensorReading) OrderingTime() time.Time {
	switch {
	case r.HasSourceTime():
		return r.SourceTime
	case !r.EstimatedTime.IsZero():
		return r.EstimatedTime
	}
	return r.ReceivedAt.Round(0).Truncate(time.Second)
}

// Field returns a single field value.
func (r SensorReading) Field(name string) (Value, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// Clone returns a deep copy so callers never alias a live reading's map.
func (r SensorReading) Clone() SensorReading {
	out := r
	if r.Fields != nil {
		out.Fields = make(map[string]Value, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// MarshalFields renders Fields as plain JSON-friendly values.
func (r SensorReading) MarshalFields() map[string]any {
	out := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		out[k] = v.Interface()
	}
	return out
}

type readingJSON struct {
	Topic           Topic          `json:"topic"`
	Fields          map[string]any `json:"fields"`
	SourceTimestamp *float64       `json:"source_timestamp,omitempty"` // Unix seconds
	ReceivedAt      time.Time      `json:"received_at"`
}

// MarshalJSON encodes the reading with Unix-second source timestamps, as the feed does.
func (r SensorReading) MarshalJSON() ([]byte, error) {
	out := readingJSON{
		Topic:      r.Topic,
		Fields:     r.MarshalFields(),
		ReceivedAt: r.ReceivedAt.UTC(),
	}
	if r.HasSourceTime() {
		ts := float64(r.SourceTime.UnixNano()) / float64(time.Second)
		out.SourceTimestamp = &ts
	}
	return json.Marshal(out)
}
