package service

import (
	"fieldsync/internal/models"
	"fieldsync/internal/projector"
	"fieldsync/internal/subscription"
)

type TelemetryService struct {
	core *Core
}

func NewTelemetryService(core *Core) *TelemetryService {
	return &TelemetryService{core: core}
}

func (s *TelemetryService) Subscribe(topic models.Topic, fn subscription.Listener) subscription.Handle {
	return s.core.Manager.Subscribe(topic, fn)
}

func (s *TelemetryService) SubscribeChan(topic models.Topic, buffer int) (<-chan models.SensorReading, subscription.Handle) {
	return s.core.Manager.SubscribeChan(topic, buffer)
}

func (s *TelemetryService) Unsubscribe(h subscription.Handle) {
	s.core.Manager.Unsubscribe(h)
}

// GetHistorySnapshot returns the topic's bounded history, oldest first.
func (s *TelemetryService) GetHistorySnapshot(topic models.Topic) []models.HistoryEntry {
	return s.core.History.Snapshot(topic)
}

func (s *TelemetryService) GetConnectivity(topic models.Topic) models.ConnectivityState {
	return s.core.Monitor.State(topic)
}

func (s *TelemetryService) Transitions(buffer int) (<-chan models.Transition, func()) {
	return s.core.Monitor.Subscribe(buffer)
}

// Dashboard projects the latest reading, connectivity and the topic's first bound actuator.
func (s *TelemetryService) Dashboard(topic models.Topic) projector.DashboardView {
	var reading *models.SensorReading
	if r, ok := s.core.Manager.Latest(topic); ok {
		reading = &r
	} else if hist := s.core.History.Snapshot(topic); len(hist) > 0 {
		last := hist[len(hist)-1].Reading
		reading = &last
	}

	var actuator *models.ActuatorState
	for _, b := range s.core.Dispatcher.Bindings() {
		if b.Topic != topic {
			continue
		}
		if st, err := s.core.Dispatcher.State(b.ActuatorID); err == nil {
			actuator = &st
		}
		break
	}
	return projector.ProjectDashboard(topic, reading, s.GetConnectivity(topic), actuator)
}

func (s *TelemetryService) Series(topic models.Topic, field string) []projector.ChartPoint {
	return projector.ProjectSeries(s.core.History.Snapshot(topic), field)
}
