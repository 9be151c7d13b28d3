package service

import (
	"context"
	"time"

	"fieldsync/internal/command"
	"fieldsync/internal/models"
	"fieldsync/internal/projector"
	"fieldsync/internal/repository"
	"fieldsync/internal/subscription"
)

// Telemetry exposes the synchronized view of every topic: live readings, bounded history
// and connectivity.
type Telemetry interface {
	Subscribe(topic models.Topic, fn subscription.Listener) subscription.Handle
	SubscribeChan(topic models.Topic, buffer int) (<-chan models.SensorReading, subscription.Handle)
	Unsubscribe(h subscription.Handle)
	GetHistorySnapshot(topic models.Topic) []models.HistoryEntry
	GetConnectivity(topic models.Topic) models.ConnectivityState
	Transitions(buffer int) (<-chan models.Transition, func())
	Dashboard(topic models.Topic) projector.DashboardView
	Series(topic models.Topic, field string) []projector.ChartPoint
}

// Commands issues actuator writes and exposes their optimistic state.
type Commands interface {
	Issue(ctx context.Context, actuatorID string, on bool) (models.CommandResult, error)
	GetActuatorState(actuatorID string) (models.ActuatorState, error)
	Actuators() []command.Binding
}

// EventLog exposes the append-only audit log with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.AuditEvent, error)
}

// Simulator plays a field device against the in-memory feed.
// Stop via context cancellation in main() for graceful shutdown.
type Simulator interface {
	Run(ctx context.Context, tick time.Duration)
}

// Service aggregates all sub-services. Simulator is nil unless the sim feed driver is selected.
type Service struct {
	Telemetry
	Commands
	EventLog
	Simulator
}

// NewService wires the synchronization core and repositories into the consumer API.
func NewService(core *Core, repos *repository.Repository, sim Simulator) *Service {
	return &Service{
		Telemetry: NewTelemetryService(core),
		Commands:  NewCommandService(core.Dispatcher, repos.EventRepo, core.log),
		EventLog:  NewEventLogService(repos.EventRepo),
		Simulator: sim,
	}
}
