// Package subscription multiplexes local listeners onto one remote feed subscription per topic.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"fieldsync/internal/feed"
	"fieldsync/internal/logger"
	"fieldsync/internal/models"
)

// Listener receives every accepted reading of a topic, in ascending ordering time.
// It runs on the topic's goroutine and must not block.
type Listener func(models.SensorReading)

// Handle identifies one registered listener.
type Handle string

// History stores accepted readings.
type History interface {
	Append(models.SensorReading) bool
}

// Monitor is the connectivity tracker fed by accepted readings and subscribe failures.
type Monitor interface {
	Observe(models.SensorReading)
	MarkOffline(models.Topic)
	Forget(models.Topic)
}

// Reconciler updates actuator state from authoritative readings.
type Reconciler interface {
	Reconcile(models.SensorReading)
}

// Recorder receives ingest counters.
type Recorder interface {
	ReadingAccepted(topic models.Topic)
	ReadingDropped(topic models.Topic, reason string)
	SubscribeFailed(topic models.Topic)
}

// Drop reasons reported to the Recorder.
const (
	DropDecode = "decode"
	DropStale  = "stale"
)

type listener struct {
	handle   Handle
	fn       Listener
	onRemove func()

	mu      sync.Mutex // serializes delivery to this listener
	last    time.Time
	hasLast bool
	removed atomic.Bool
}

// deliver hands r to the listener unless it has already seen an equal or newer reading.
func (l *listener) deliver(r models.SensorReading) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.removed.Load() {
		return
	}
	ts := r.OrderingTime()
	if l.hasLast && !ts.After(l.last) {
		return
	}
	l.last, l.hasLast = ts, true
	l.fn(r.Clone())
}

type topicSub struct {
	listeners []*listener
	latest    models.SensorReading
	hasLatest bool
	skew      time.Duration // receipt minus device time of the last stamped reading
	hasSkew   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// Manager owns the remote subscriptions. The zero value is not usable; use NewManager.
type Manager struct {
	feed       feed.Subscriber
	history    History
	monitor    Monitor
	reconciler Reconciler
	metrics    Recorder
	base       time.Duration
	limit      time.Duration
	log        *logger.Logger

	mu       sync.Mutex
	topics   map[models.Topic]*topicSub
	handles  map[Handle]models.Topic
	draining map[models.Topic]chan struct{}
}

type Option func(*Manager)

func WithHistory(h History) Option { return func(m *Manager) { m.history = h } }

func WithMonitor(mon Monitor) Option { return func(m *Manager) { m.monitor = mon } }

func WithReconciler(r Reconciler) Option { return func(m *Manager) { m.reconciler = r } }

func WithRecorder(r Recorder) Option { return func(m *Manager) { m.metrics = r } }

// WithBackoff sets the bounds of the subscribe retry backoff.
func WithBackoff(base, limit time.Duration) Option {
	return func(m *Manager) { m.base, m.limit = base, limit }
}

func NewManager(f feed.Subscriber, log *logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		feed:     f,
		base:     DefaultBackoffBase,
		limit:    DefaultBackoffCap,
		log:      log.Named("subscription"),
		topics:   make(map[models.Topic]*topicSub),
		handles:  make(map[Handle]models.Topic),
		draining: make(map[models.Topic]chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = nopRecorder{}
	}
	return m
}

// Subscribe registers fn for topic, opening the remote subscription if this is the first listener.
// If the topic already has an accepted reading, fn receives it before returning.
func (m *Manager) Subscribe(topic models.Topic, fn Listener) Handle {
	return m.subscribe(topic, fn, nil)
}

// SubscribeChan adapts Subscribe to a buffered channel. Readings are dropped, not queued,
// when the channel is full. The channel is closed on Unsubscribe.
func (m *Manager) SubscribeChan(topic models.Topic, buffer int) (<-chan models.SensorReading, Handle) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan models.SensorReading, buffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	send := func(r models.SensorReading) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- r:
		default:
			m.log.Warnw("listener_channel_full", "topic", topic, "ts", r.OrderingTime())
		}
	}
	closeCh := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
	return ch, m.subscribe(topic, send, closeCh)
}

func (m *Manager) subscribe(topic models.Topic, fn Listener, onRemove func()) Handle {
	l := &listener{handle: Handle(uuid.NewString()), fn: fn, onRemove: onRemove}

	m.mu.Lock()
	sub, ok := m.topics[topic]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		sub = &topicSub{cancel: cancel, done: make(chan struct{})}
		m.topics[topic] = sub
		prev := m.draining[topic]
		delete(m.draining, topic)
		go m.run(ctx, topic, sub, prev)
		m.log.Infow("topic_opened", "topic", topic)
	}
	sub.listeners = append(sub.listeners, l)
	m.handles[l.handle] = topic
	latest, replay := sub.latest, sub.hasLatest
	m.mu.Unlock()

	if replay {
		l.deliver(latest)
	}
	return l.handle
}

// Unsubscribe removes a listener. Removing the last listener of a topic tears the topic down.
// Unknown handles are ignored.
func (m *Manager) Unsubscribe(h Handle) {
	m.mu.Lock()
	topic, ok := m.handles[h]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.handles, h)

	sub := m.topics[topic]
	var removed *listener
	for i, l := range sub.listeners {
		if l.handle == h {
			removed = l
			sub.listeners = append(sub.listeners[:i:i], sub.listeners[i+1:]...)
			break
		}
	}
	if len(sub.listeners) == 0 {
		m.teardownLocked(topic, sub)
	}
	m.mu.Unlock()

	if removed != nil {
		removed.removed.Store(true)
		if removed.onRemove != nil {
			removed.onRemove()
		}
	}
}

// teardownLocked must be called with m.mu held.
func (m *Manager) teardownLocked(topic models.Topic, sub *topicSub) {
	sub.cancel()
	delete(m.topics, topic)
	m.draining[topic] = sub.done
	if m.monitor != nil {
		m.monitor.Forget(topic)
	}
	m.log.Infow("topic_closed", "topic", topic)
}

// Close tears down every topic and waits for their goroutines. It must not be called from a Listener.
func (m *Manager) Close() {
	m.mu.Lock()
	var (
		removed []*listener
		waits   []chan struct{}
	)
	for topic, sub := range m.topics {
		removed = append(removed, sub.listeners...)
		m.teardownLocked(topic, sub)
	}
	for topic, done := range m.draining {
		waits = append(waits, done)
		delete(m.draining, topic)
	}
	m.handles = make(map[Handle]models.Topic)
	m.mu.Unlock()

	for _, l := range removed {
		l.removed.Store(true)
		if l.onRemove != nil {
			l.onRemove()
		}
	}
	for _, done := range waits {
		<-done
	}
}

// Latest returns the most recently accepted reading of an active topic.
func (m *Manager) Latest(topic models.Topic) (models.SensorReading, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.topics[topic]
	if !ok || !sub.hasLatest {
		return models.SensorReading{}, false
	}
	return sub.latest.Clone(), true
}

// ListenerCount reports how many listeners a topic has.
func (m *Manager) ListenerCount(topic models.Topic) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.topics[topic]; ok {
		return len(sub.listeners)
	}
	return 0
}

// run is the topic actor: it opens the remote stream with backoff, consumes it,
// and resubscribes when the stream ends while the topic is still active.
func (m *Manager) run(ctx context.Context, topic models.Topic, sub *topicSub, prev <-chan struct{}) {
	defer close(sub.done)
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}
	defer func() {
		if err := m.feed.Close(topic); err != nil {
			m.log.Warnw("feed_close_failed", "topic", topic, "err", err)
		}
	}()

	bo := newFullJitter(m.base, m.limit)
	for {
		stream, err := m.open(ctx, topic, sub, bo)
		if err != nil {
			return
		}
		m.consume(ctx, topic, sub, stream)
		if ctx.Err() != nil {
			return
		}

		m.log.Warnw("stream_ended", "topic", topic)
		m.markOffline(topic, sub)

		wait := time.NewTimer(bo.NextBackOff())
		select {
		case <-ctx.Done():
			wait.Stop()
			return
		case <-wait.C:
		}
	}
}

func (m *Manager) open(ctx context.Context, topic models.Topic, sub *topicSub, bo *fullJitter) (<-chan feed.RawSnapshot, error) {
	var stream <-chan feed.RawSnapshot
	op := func() error {
		s, err := m.feed.Open(ctx, topic)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", models.ErrSubscribe, topic, err)
		}
		stream = s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		if ctx.Err() != nil {
			return
		}
		m.log.Warnw("subscribe_failed", "topic", topic, "retry_in", wait, "err", err)
		m.metrics.SubscribeFailed(topic)
		m.markOffline(topic, sub)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.log.Errorw("subscribe_abandoned", "topic", topic, "err", err)
		}
		return nil, err
	}
	m.log.Debugw("subscribed", "topic", topic)
	return stream, nil
}

func (m *Manager) consume(ctx context.Context, topic models.Topic, sub *topicSub, stream <-chan feed.RawSnapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-stream:
			if !ok {
				return
			}
			m.accept(topic, sub, raw)
		}
	}
}

func (m *Manager) accept(topic models.Topic, sub *topicSub, raw feed.RawSnapshot) {
	raw.Topic = topic
	r, err := feed.Decode(raw)
	if err != nil {
		m.log.Warnw("snapshot_decode_failed", "topic", topic, "err", err)
		m.metrics.ReadingDropped(topic, DropDecode)
		return
	}

	m.mu.Lock()
	if m.topics[topic] != sub {
		m.mu.Unlock()
		return
	}
	if !r.HasSourceTime() && sub.hasSkew {
		r.EstimatedTime = r.ReceivedAt.Round(0).Add(-sub.skew).Truncate(time.Second)
	}
	ts := r.OrderingTime()
	if sub.hasLatest && !ts.After(sub.latest.OrderingTime()) {
		m.mu.Unlock()
		m.log.Debugw("reading_dropped", "topic", topic, "ts", ts, "last", sub.latest.OrderingTime())
		m.metrics.ReadingDropped(topic, DropStale)
		return
	}
	sub.latest, sub.hasLatest = r, true
	if r.HasSourceTime() {
		sub.skew, sub.hasSkew = r.ReceivedAt.Round(0).Sub(r.SourceTime), true
	}

	if m.history != nil {
		m.history.Append(r)
	}
	if m.monitor != nil {
		m.monitor.Observe(r)
	}
	if m.reconciler != nil {
		m.reconciler.Reconcile(r)
	}
	listeners := append([]*listener(nil), sub.listeners...)
	m.mu.Unlock()

	m.metrics.ReadingAccepted(topic)
	for _, l := range listeners {
		l.deliver(r)
	}
}

func (m *Manager) markOffline(topic models.Topic, sub *topicSub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.monitor != nil && m.topics[topic] == sub {
		m.monitor.MarkOffline(topic)
	}
}

type nopRecorder struct{}

func (nopRecorder) ReadingAccepted(models.Topic)        {}
func (nopRecorder) ReadingDropped(models.Topic, string) {}
func (nopRecorder) SubscribeFailed(models.Topic)        {}
