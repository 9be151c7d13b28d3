package feed

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/models"
)

// timestampKeys are the snapshot keys the devices have used for their capture time, in priority order.
var timestampKeys = []string{"LastUpdate", "timestamp", "sourceTimestamp"}

// millisThreshold separates Unix seconds from Unix milliseconds.
const millisThreshold = 1e12

// Decode turns a raw snapshot into a SensorReading.
// Unknown keys and values of unsupported shape are ignored; missing keys stay absent.
// Only a payload that is not a JSON object yields a *models.DecodeError.
func Decode(raw RawSnapshot) (models.SensorReading, error) {
	payload := bytes.TrimSpace(raw.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return models.SensorReading{}, &models.DecodeError{Topic: raw.Topic, Reason: "empty snapshot"}
	}

	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return models.SensorReading{}, &models.DecodeError{Topic: raw.Topic, Reason: "not a JSON object", Err: err}
	}

	reading := models.SensorReading{
		Topic:      raw.Topic,
		Fields:     make(map[string]models.Value, len(doc)),
		ReceivedAt: raw.ReceivedAt,
	}
	if reading.ReceivedAt.IsZero() {
		reading.ReceivedAt = time.Now()
	}

	for _, key := range timestampKeys {
		if ts, ok := decodeTimestamp(doc[key]); ok {
			reading.SourceTime = ts
			break
		}
	}

	for key, rawVal := range doc {
		if isTimestampKey(key) {
			continue
		}
		if v, ok := decodeValue(rawVal); ok {
			reading.Fields[key] = v
		}
	}
	return reading, nil
}

func isTimestampKey(key string) bool {
	for _, k := range timestampKeys {
		if k == key {
			return true
		}
	}
	return false
}

func decodeTimestamp(v any) (time.Time, bool) {
	f, ok := v.(float64)
	if !ok || f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return time.Time{}, false
	}
	if f >= millisThreshold {
		return time.UnixMilli(int64(f)), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))), true
}

func decodeValue(v any) (models.Value, bool) {
	switch t := v.(type) {
	case float64:
		return models.Number(t), true
	case bool:
		return models.Bool(t), true
	case string:
		switch strings.ToUpper(strings.TrimSpace(t)) {
		case "ON":
			return models.Bool(true), true
		case "OFF":
			return models.Bool(false), true
		}
	}
	return models.Value{}, false
}

// EncodeSwitch renders an actuator value in the binding's wire encoding.
func EncodeSwitch(on bool, encoding string) any {
	if encoding == config.EncodingOnOff {
		if on {
			return "ON"
		}
		return "OFF"
	}
	return on
}
