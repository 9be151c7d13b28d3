package models

import (
	"errors"
	"fmt"
)

var (
	// ErrSubscribe marks a failed remote subscribe; it is retried and only surfaces as Offline.
	ErrSubscribe = errors.New("feed subscribe failed")
	// ErrDecode marks a malformed snapshot; the snapshot is dropped.
	ErrDecode = errors.New("snapshot decode failed")
	// ErrCommandFailed marks a rejected or timed out actuator write; state was rolled back.
	ErrCommandFailed = errors.New("command failed")
	// ErrStaleClock marks a reading without a device timestamp.
	ErrStaleClock = errors.New("reading has no source timestamp")
	// ErrUnknownActuator is returned for commands to actuators with no binding.
	ErrUnknownActuator = errors.New("unknown actuator")
)

// DecodeError describes why a raw snapshot was rejected.
type DecodeError struct {
	Topic  Topic
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %s: %v", e.Topic, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s: %s", e.Topic, e.Reason)
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func (e *DecodeError) Unwrap() error { return e.Err }

// CommandError is surfaced to the caller of a failed command.
type CommandError struct {
	ActuatorID string
	Value      bool
	Err        error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("update failed, reverted: %s=%t: %v", e.ActuatorID, e.Value, e.Err)
}

func (e *CommandError) Is(target error) bool { return target == ErrCommandFailed }

func (e *CommandError) Unwrap() error { return e.Err }
