package service

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/feed"
	"fieldsync/internal/logger"
	"fieldsync/internal/models"
)

// ----------- Simulation constants -----------
const (
	AmbientTempC      = 24.0 // mean air temperature °C
	TempSwingC        = 6.0  // day/night amplitude °C
	BaseHumidity      = 55.0 // % at mean temperature
	HumidityPerC      = 2.5  // % humidity lost per °C above mean
	SoilDryPerSec     = 0.02 // % soil moisture lost per second, pump off
	SoilWetPerSec     = 0.5  // % soil moisture gained per second, pump on
	WaterUsePerSec    = 0.2  // % tank used per second, pump on
	WaterRefillPerSec = 0.01 // % tank refilled per second
	secondsPerDay     = 24 * 60 * 60
)

// FieldState is the simulated device state.
type FieldState struct {
	TemperatureC float64
	Humidity     float64
	SoilMoisture float64
	WaterLevel   float64
	Pump         bool
	UpdatedAt    time.Time
}

// SimulatorService plays a field device on the in-memory feed: it publishes snapshots
// every tick and honours pump writes the way the real controller does.
type SimulatorService struct {
	feed      *feed.Memory
	topic     models.Topic
	pumpPath  string
	pumpField string
	encoding  string
	log       *logger.Logger

	mu sync.Mutex
	st FieldState
}

// NewSimulatorService returns a simulator for cfg.Simulator.Topic. The first actuator bound
// to that topic (by ID) is treated as the irrigation pump.
func NewSimulatorService(mem *feed.Memory, cfg *config.Config, log *logger.Logger) *SimulatorService {
	s := &SimulatorService{
		feed:      mem,
		topic:     models.Topic(cfg.Simulator.Topic),
		pumpField: "pumpStatus",
		encoding:  config.EncodingBool,
		log:       log.Named("simulator"),
		st: FieldState{
			TemperatureC: AmbientTempC,
			Humidity:     BaseHumidity,
			SoilMoisture: 45,
			WaterLevel:   80,
		},
	}

	ids := make([]string, 0, len(cfg.Command.Actuators))
	for id := range cfg.Command.Actuators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		a := cfg.Command.Actuators[id]
		if a.Topic == cfg.Simulator.Topic {
			s.pumpPath, s.pumpField, s.encoding = a.Path, a.Field, a.Encoding
			break
		}
	}

	mem.OnWrite(s.handleWrite)
	return s
}

// Run ticks at the given interval until ctx is canceled.
func (s *SimulatorService) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()

	start := time.Now()
	s.advance(start)
	s.publish(start)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.advance(now)
		}
	}
}

// advance steps the device to now and publishes only when the state moved.
func (s *SimulatorService) advance(now time.Time) bool {
	s.mu.Lock()
	changed := s.step(&s.st, now)
	s.mu.Unlock()
	if changed {
		s.publish(now)
	}
	return changed
}

// State returns a copy of the simulated device state.
func (s *SimulatorService) State() FieldState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// handleWrite applies pump writes and answers with a fresh snapshot, as the device would.
func (s *SimulatorService) handleWrite(path string, value any) {
	if s.pumpPath == "" || path != s.pumpPath {
		return
	}
	on, ok := decodeSwitch(value)
	if !ok {
		s.log.Warnw("sim_pump_write_ignored", "path", path, "value", value)
		return
	}

	s.mu.Lock()
	s.st.Pump = on
	s.mu.Unlock()

	s.log.Infow("sim_pump_switched", "on", on)
	s.publish(time.Now())
}

// step advances st to now. Returns true if anything changed.
func (s *SimulatorService) step(st *FieldState, now time.Time) bool {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = now
		return false
	}
	elapsed := now.Sub(st.UpdatedAt).Seconds()
	if elapsed <= 0 {
		return false
	}
	st.UpdatedAt = now

	phase := float64(now.Unix()%secondsPerDay) / secondsPerDay
	st.TemperatureC = AmbientTempC + TempSwingC*math.Sin(2*math.Pi*phase)
	st.Humidity = clamp(BaseHumidity-HumidityPerC*(st.TemperatureC-AmbientTempC), 0, 100)

	s.irrigate(st, elapsed)
	return true
}

// irrigate moves soil moisture and the water tank for elapsed seconds.
func (s *SimulatorService) irrigate(st *FieldState, elapsed float64) {
	if st.Pump && st.WaterLevel > 0 {
		st.SoilMoisture = clamp(st.SoilMoisture+SoilWetPerSec*elapsed, 0, 100)
		st.WaterLevel = clamp(st.WaterLevel-WaterUsePerSec*elapsed, 0, 100)
		return
	}
	st.SoilMoisture = clamp(st.SoilMoisture-SoilDryPerSec*elapsed, 0, 100)
	st.WaterLevel = clamp(st.WaterLevel+WaterRefillPerSec*elapsed, 0, 100)
}

func (s *SimulatorService) publish(now time.Time) {
	s.mu.Lock()
	st := s.st
	s.mu.Unlock()

	doc := map[string]any{
		"Temperature":  round1(st.TemperatureC),
		"Humidity":     round1(st.Humidity),
		"SoilMoisture": round1(st.SoilMoisture),
		"WaterLevel":   round1(st.WaterLevel),
		s.pumpField:    feed.EncodeSwitch(st.Pump, s.encoding),
		"LastUpdate":   float64(now.UnixMilli()) / 1000,
	}
	if !s.feed.PushJSON(s.topic, doc) {
		s.log.Debugw("sim_snapshot_not_delivered", "topic", s.topic)
	}
}

// helpers
func decodeSwitch(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToUpper(strings.TrimSpace(t)) {
		case "ON":
			return true, true
		case "OFF":
			return false, true
		}
	}
	return false, false
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
