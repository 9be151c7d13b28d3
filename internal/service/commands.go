package service

import (
	"context"
	"errors"
	"fmt"

	"fieldsync/internal/command"
	"fieldsync/internal/logger"
	"fieldsync/internal/models"
	"fieldsync/internal/repository"
)

// dispatcher is the subset of command.Dispatcher the service needs.
type dispatcher interface {
	Issue(ctx context.Context, id string, desired bool) (models.CommandResult, error)
	State(id string) (models.ActuatorState, error)
	Bindings() []command.Binding
}

// CommandService issues actuator commands and records each one in the audit log.
type CommandService struct {
	dispatcher dispatcher
	eventRepo  repository.EventRepo
	log        *logger.Logger
}

func NewCommandService(d dispatcher, eventRepo repository.EventRepo, log *logger.Logger) *CommandService {
	return &CommandService{dispatcher: d, eventRepo: eventRepo, log: log.Named("commands")}
}

// Issue switches an actuator and blocks until the write is confirmed, rolled back, or ctx ends.
func (s *CommandService) Issue(ctx context.Context, actuatorID string, on bool) (models.CommandResult, error) {
	if _, err := s.dispatcher.State(actuatorID); err != nil {
		return models.CommandResult{ActuatorID: actuatorID, Requested: on, Err: err}, err
	}

	s.audit(ctx, models.EventCommandIssued, fmt.Sprintf("%s -> %s", actuatorID, onOff(on)), actuatorID, on, nil)

	res, err := s.dispatcher.Issue(ctx, actuatorID, on)
	switch {
	case errors.Is(err, models.ErrCommandFailed):
		s.audit(ctx, models.EventCommandFailed, fmt.Sprintf("%s -> %s failed, reverted to %s", actuatorID, onOff(on), onOff(res.State.Desired)), actuatorID, on, err)
	case err != nil:
		s.log.Infow("command_wait_abandoned", "actuator", actuatorID, "value", on, "err", err)
	default:
		desc := fmt.Sprintf("%s is %s", actuatorID, onOff(res.State.Confirmed))
		if !res.Written {
			desc += " (no change)"
		}
		s.audit(ctx, models.EventCommandConfirmed, desc, actuatorID, on, nil)
	}
	return res, err
}

func (s *CommandService) GetActuatorState(actuatorID string) (models.ActuatorState, error) {
	return s.dispatcher.State(actuatorID)
}

func (s *CommandService) Actuators() []command.Binding {
	return s.dispatcher.Bindings()
}

func (s *CommandService) audit(ctx context.Context, typ, desc, actuatorID string, on bool, cause error) {
	meta := map[string]any{"actuator_id": actuatorID, "value": on}
	if cause != nil {
		meta["error"] = cause.Error()
	}
	if err := s.eventRepo.Append(context.WithoutCancel(ctx), models.AuditEvent{
		Type:        typ,
		Description: desc,
		Metadata:    meta,
	}); err != nil {
		s.log.Errorw("audit_append_failed", "type", typ, "actuator", actuatorID, "err", err)
	}
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
