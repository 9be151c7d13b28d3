// Package staleness tracks per-topic connectivity from the age of the last accepted reading.
package staleness

import (
	"context"
	"sync"
	"time"

	"fieldsync/internal/logger"
	"fieldsync/internal/models"
)

const (
	DefaultThreshold = 15 * time.Second
	DefaultTick      = 2 * time.Second
)

type topicState struct {
	state    models.ConnectivityState
	last     time.Time
	degraded bool // last came from receipt time, not the device clock
}

// Monitor runs the Unknown → Online → Offline state machine for every observed topic.
// Each transition is delivered exactly once to every subscriber.
type Monitor struct {
	threshold time.Duration
	now       func() time.Time
	log       *logger.Logger

	mu      sync.Mutex
	topics  map[models.Topic]*topicState
	subs    map[int]chan models.Transition
	nextSub int
}

type Option func(*Monitor)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func NewMonitor(threshold time.Duration, log *logger.Logger, opts ...Option) *Monitor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	m := &Monitor{
		threshold: threshold,
		now:       time.Now,
		log:       log.Named("staleness"),
		topics:    make(map[models.Topic]*topicState),
		subs:      make(map[int]chan models.Transition),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Monitor) Threshold() time.Duration { return m.threshold }

// Observe records an accepted reading and moves the topic Online.
func (m *Monitor) Observe(r models.SensorReading) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.topic(r.Topic)
	degraded := !r.HasSourceTime()
	if degraded {
		ts.last = r.ReceivedAt
		if !ts.degraded {
			m.log.Warnw("reading_without_source_time", "topic", r.Topic, "err", models.ErrStaleClock)
		}
	} else {
		ts.last = r.SourceTime
	}
	ts.degraded = degraded

	if ts.state != models.Online {
		m.transition(r.Topic, ts, models.Online)
	}
}

// MarkOffline forces a topic Offline, e.g. while its remote subscription is failing.
func (m *Monitor) MarkOffline(topic models.Topic) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.topic(topic)
	if ts.state != models.Offline {
		m.transition(topic, ts, models.Offline)
	}
}

// Check moves every Online topic whose last reading is older than the threshold Offline.
func (m *Monitor) Check(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for topic, ts := range m.topics {
		if ts.state != models.Online {
			continue
		}
		if now.Sub(ts.last) > m.threshold {
			m.transitionAt(topic, ts, models.Offline, now)
		}
	}
}

// Run checks on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = DefaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(m.now())
		}
	}
}

// State returns the topic's connectivity; topics never observed are Unknown.
func (m *Monitor) State(topic models.Topic) models.ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts, ok := m.topics[topic]; ok {
		return ts.state
	}
	return models.Unknown
}

// Forget drops a topic; it produces no further transitions.
func (m *Monitor) Forget(topic models.Topic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.topics, topic)
}

// Subscribe returns a channel of transitions and a cancel func that closes it.
// A subscriber that does not keep up loses transitions rather than stalling the monitor.
func (m *Monitor) Subscribe(buffer int) (<-chan models.Transition, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan models.Transition, buffer)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

func (m *Monitor) topic(t models.Topic) *topicState {
	ts, ok := m.topics[t]
	if !ok {
		ts = &topicState{state: models.Unknown}
		m.topics[t] = ts
	}
	return ts
}

func (m *Monitor) transition(topic models.Topic, ts *topicState, to models.ConnectivityState) {
	m.transitionAt(topic, ts, to, m.now())
}

// transitionAt must be called with m.mu held.
func (m *Monitor) transitionAt(topic models.Topic, ts *topicState, to models.ConnectivityState, at time.Time) {
	tr := models.Transition{Topic: topic, From: ts.state, To: to, At: at, Degraded: ts.degraded}
	ts.state = to

	m.log.Infow("connectivity_changed", "topic", topic, "from", tr.From.String(), "to", to.String(), "degraded", tr.Degraded)
	for _, ch := range m.subs {
		select {
		case ch <- tr:
		default:
			m.log.Warnw("transition_dropped", "topic", topic, "to", to.String())
		}
	}
}
