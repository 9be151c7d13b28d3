// Package command issues actuator writes with optimistic local state and rollback on failure.
package command

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/feed"
	"fieldsync/internal/logger"
	"fieldsync/internal/models"
)

const (
	DefaultTimeout        = 10 * time.Second
	DefaultCoalesceWindow = 50 * time.Millisecond
)

// Command outcomes reported to the Recorder.
const (
	OutcomeNoop      = "noop"
	OutcomeConfirmed = "confirmed"
	OutcomeFailed    = "failed"
)

// Binding ties an actuator to the topic field that reports it and the path it is written to.
type Binding struct {
	ActuatorID string       `json:"actuator_id"`
	Topic      models.Topic `json:"topic"`
	Field      string       `json:"field"`
	Path       string       `json:"path"`
	Encoding   string       `json:"encoding"`
}

// Recorder receives command counters.
type Recorder interface {
	CommandOutcome(actuatorID, outcome string)
	WriteLatency(actuatorID string, d time.Duration)
}

type waiter struct {
	desired bool
	ch      chan models.CommandResult
}

type actuator struct {
	binding Binding
	state   models.ActuatorState
	waiters []waiter // intents not yet covered by a write
	driving bool     // a driver goroutine owns the write loop
}

// Dispatcher owns every ActuatorState. At most one write per actuator is in flight.
type Dispatcher struct {
	writer  feed.Writer
	timeout time.Duration
	window  time.Duration
	now     func() time.Time
	metrics Recorder
	log     *logger.Logger

	bindings map[string]Binding
	byTopic  map[models.Topic][]Binding

	mu        sync.Mutex
	actuators map[string]*actuator
}

type Option func(*Dispatcher)

func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

func WithRecorder(r Recorder) Option { return func(d *Dispatcher) { d.metrics = r } }

func NewDispatcher(w feed.Writer, cfg config.CommandConfig, log *logger.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		writer:    w,
		timeout:   cfg.Timeout,
		window:    cfg.CoalesceWindow,
		now:       time.Now,
		metrics:   nopRecorder{},
		log:       log.Named("command"),
		bindings:  make(map[string]Binding, len(cfg.Actuators)),
		byTopic:   make(map[models.Topic][]Binding),
		actuators: make(map[string]*actuator),
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	if d.window < 0 {
		d.window = DefaultCoalesceWindow
	}
	for id, a := range cfg.Actuators {
		b := Binding{ActuatorID: id, Topic: models.Topic(a.Topic), Field: a.Field, Path: a.Path, Encoding: a.Encoding}
		if b.Path == "" {
			b.Path = a.Topic + "/" + a.Field
		}
		d.bindings[id] = b
		d.byTopic[b.Topic] = append(d.byTopic[b.Topic], b)
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Bindings lists configured actuators ordered by ID.
func (d *Dispatcher) Bindings() []Binding {
	out := make([]Binding, 0, len(d.bindings))
	for _, b := range d.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActuatorID < out[j].ActuatorID })
	return out
}

// Issue records the intent and blocks until it is resolved or ctx is done.
// A cancelled ctx only stops waiting; the intent itself is still carried out.
func (d *Dispatcher) Issue(ctx context.Context, id string, desired bool) (models.CommandResult, error) {
	ch, err := d.IssueAsync(id, desired)
	if err != nil {
		return models.CommandResult{ActuatorID: id, Requested: desired, Err: err}, err
	}
	select {
	case res := <-ch:
		return res, res.Err
	case <-ctx.Done():
		return models.CommandResult{ActuatorID: id, Requested: desired, Err: ctx.Err()}, ctx.Err()
	}
}

// IssueAsync records the intent and returns a channel that receives exactly one result.
// Desired and Pending are updated before it returns.
func (d *Dispatcher) IssueAsync(id string, desired bool) (<-chan models.CommandResult, error) {
	b, ok := d.bindings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownActuator, id)
	}
	ch := make(chan models.CommandResult, 1)

	d.mu.Lock()
	a := d.actuatorLocked(b)
	if !a.state.Pending && a.state.Synced && a.state.Confirmed == desired {
		st := a.state
		d.mu.Unlock()
		d.metrics.CommandOutcome(id, OutcomeNoop)
		d.log.Debugw("command_noop", "actuator", id, "value", desired)
		ch <- models.CommandResult{ActuatorID: id, Requested: desired, State: st}
		return ch, nil
	}

	a.state.Desired = desired
	a.state.Pending = true
	a.state.UpdatedAt = d.now()
	a.waiters = append(a.waiters, waiter{desired: desired, ch: ch})
	if !a.driving {
		a.driving = true
		go d.drive(a)
	}
	d.mu.Unlock()

	d.log.Infow("command_issued", "actuator", id, "value", desired)
	return ch, nil
}

// drive writes the latest desired value after the coalescing window, and keeps
// going while new intents queued up during the previous write.
func (d *Dispatcher) drive(a *actuator) {
	id := a.binding.ActuatorID
	for {
		if d.window > 0 {
			time.Sleep(d.window)
		}

		d.mu.Lock()
		value := a.state.Desired
		batch := a.waiters
		a.waiters = nil
		d.mu.Unlock()

		start := time.Now()
		err := d.write(a.binding, value)
		d.metrics.WriteLatency(id, time.Since(start))

		d.mu.Lock()
		queued := len(a.waiters) > 0
		var covered []waiter
		if err == nil {
			a.state.Confirmed = value
			a.state.Synced = true
			// intents queued meanwhile that ended on the value just written need no write
			if queued && a.state.Desired == value {
				covered, a.waiters = a.waiters, nil
				queued = false
			}
			if !queued {
				a.state.Desired = value
				a.state.Pending = false
			}
		} else if !queued {
			a.state.Desired = a.state.Confirmed
			a.state.Pending = false
		}
		a.state.UpdatedAt = d.now()
		st := a.state
		if !queued {
			a.driving = false
		}
		d.mu.Unlock()

		var cmdErr error
		if err != nil {
			cmdErr = &models.CommandError{ActuatorID: id, Value: value, Err: err}
			d.metrics.CommandOutcome(id, OutcomeFailed)
			d.log.Warnw("command_failed", "actuator", id, "value", value, "err", err)
		} else {
			d.metrics.CommandOutcome(id, OutcomeConfirmed)
			d.log.Infow("command_confirmed", "actuator", id, "value", value)
		}
		for _, w := range batch {
			w.ch <- models.CommandResult{ActuatorID: id, Requested: w.desired, Written: true, State: st, Err: cmdErr}
		}
		for _, w := range covered {
			d.metrics.CommandOutcome(id, OutcomeNoop)
			w.ch <- models.CommandResult{ActuatorID: id, Requested: w.desired, State: st}
		}

		if !queued {
			return
		}
	}
}

// write bounds the remote call by the command timeout even if the writer ignores ctx.
func (d *Dispatcher) write(b Binding, value bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- d.writer.Write(ctx, b.Path, feed.EncodeSwitch(value, b.Encoding))
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write %s: %w", b.Path, ctx.Err())
	}
}

// Reconcile applies an authoritative reading. Confirmed always follows the feed;
// Desired does too unless an intent is pending.
func (d *Dispatcher) Reconcile(r models.SensorReading) {
	bindings := d.byTopic[r.Topic]
	if len(bindings) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range bindings {
		v, ok := r.Field(b.Field)
		if !ok {
			continue
		}
		on, isBool := v.Flag()
		if !isBool {
			continue
		}
		a := d.actuatorLocked(b)
		a.state.Confirmed = on
		a.state.Synced = true
		if !a.state.Pending {
			a.state.Desired = on
		}
		a.state.UpdatedAt = d.now()
	}
}

// State returns a copy of the actuator's state.
func (d *Dispatcher) State(id string) (models.ActuatorState, error) {
	b, ok := d.bindings[id]
	if !ok {
		return models.ActuatorState{}, fmt.Errorf("%w: %s", models.ErrUnknownActuator, id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.actuators[id]; ok {
		return a.state, nil
	}
	return models.ActuatorState{ActuatorID: b.ActuatorID}, nil
}

// actuatorLocked must be called with d.mu held.
func (d *Dispatcher) actuatorLocked(b Binding) *actuator {
	a, ok := d.actuators[b.ActuatorID]
	if !ok {
		a = &actuator{binding: b, state: models.ActuatorState{ActuatorID: b.ActuatorID}}
		d.actuators[b.ActuatorID] = a
	}
	return a
}

type nopRecorder struct{}

func (nopRecorder) CommandOutcome(string, string)      {}
func (nopRecorder) WriteLatency(string, time.Duration) {}
