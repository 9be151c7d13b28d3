package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"fieldsync/internal/command"
	"fieldsync/internal/models"
	"fieldsync/internal/projector"
	"fieldsync/internal/service"
	"fieldsync/internal/subscription"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ---- Service Mocks ----

type mockTelemetry struct {
	mu sync.Mutex

	conn      models.ConnectivityState
	history   []models.HistoryEntry
	series    []projector.ChartPoint
	dashboard projector.DashboardView

	readings    chan models.SensorReading
	transitions chan models.Transition

	lastTopic    models.Topic
	lastField    string
	unsubscribed []subscription.Handle
}

func newMockTelemetry() *mockTelemetry {
	return &mockTelemetry{
		readings:    make(chan models.SensorReading, 8),
		transitions: make(chan models.Transition, 8),
	}
}

func (m *mockTelemetry) Subscribe(topic models.Topic, fn subscription.Listener) subscription.Handle {
	return "h-1"
}
func (m *mockTelemetry) SubscribeChan(topic models.Topic, buffer int) (<-chan models.SensorReading, subscription.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTopic = topic
	return m.readings, "h-1"
}
func (m *mockTelemetry) LastTopic() models.Topic {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTopic
}
func (m *mockTelemetry) Unsubscribe(h subscription.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, h)
}
func (m *mockTelemetry) Unsubscribed() []subscription.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]subscription.Handle(nil), m.unsubscribed...)
}
func (m *mockTelemetry) GetHistorySnapshot(topic models.Topic) []models.HistoryEntry {
	m.lastTopic = topic
	return m.history
}
func (m *mockTelemetry) GetConnectivity(topic models.Topic) models.ConnectivityState {
	m.lastTopic = topic
	return m.conn
}
func (m *mockTelemetry) Transitions(buffer int) (<-chan models.Transition, func()) {
	return m.transitions, func() {}
}
func (m *mockTelemetry) Dashboard(topic models.Topic) projector.DashboardView {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.dashboard
	v.Topic = topic
	return v
}
func (m *mockTelemetry) Series(topic models.Topic, field string) []projector.ChartPoint {
	m.lastTopic = topic
	m.lastField = field
	return m.series
}

type mockCommands struct {
	res      models.CommandResult
	err      error
	state    models.ActuatorState
	stateErr error
	bindings []command.Binding

	issueCalls int
	lastID     string
	lastOn     bool
}

func (m *mockCommands) Issue(ctx context.Context, actuatorID string, on bool) (models.CommandResult, error) {
	m.issueCalls++
	m.lastID = actuatorID
	m.lastOn = on
	return m.res, m.err
}
func (m *mockCommands) GetActuatorState(actuatorID string) (models.ActuatorState, error) {
	m.lastID = actuatorID
	return m.state, m.stateErr
}
func (m *mockCommands) Actuators() []command.Binding {
	return m.bindings
}

type mockEventLog struct {
	resp      []models.AuditEvent
	err       error
	lastFrom  time.Time
	lastTo    time.Time
	lastType  string
	lastLimit int
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.AuditEvent, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	m.lastLimit = f.Limit
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

const testSecret = "test-secret"

func newTestRouter(s *service.Service, opts ...Option) *gin.Engine {
	h := NewHandler(s, nil, opts...)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

func signToken(secret, subject string, ttl time.Duration) string {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	})
	s, _ := token.SignedString([]byte(secret))
	return s
}
