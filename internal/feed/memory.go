package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"fieldsync/internal/models"
)

const memoryStreamBuffer = 256

// WriteCall records one Write made against the in-memory feed.
type WriteCall struct {
	Path  string
	Value any
	At    time.Time
}

// WriteFunc decides the outcome of a write; it may block until ctx is done.
type WriteFunc func(ctx context.Context, path string, value any) error

// Memory is an in-process feed used by the simulator driver and by tests.
type Memory struct {
	mu       sync.Mutex
	streams  map[models.Topic]chan RawSnapshot
	opens    map[models.Topic]int
	closes   map[models.Topic]int
	openErrs []error
	writes   []WriteCall
	writeFn  WriteFunc
	onWrite  []func(path string, value any)
	now      func() time.Time
}

// NewMemory returns an empty in-memory feed.
func NewMemory() *Memory {
	return &Memory{
		streams: make(map[models.Topic]chan RawSnapshot),
		opens:   make(map[models.Topic]int),
		closes:  make(map[models.Topic]int),
		now:     time.Now,
	}
}

var errStreamExists = errors.New("memory feed: topic already open")

// Open starts a stream for topic. Queued failures from FailOpens are returned first.
func (m *Memory) Open(_ context.Context, topic models.Topic) (<-chan RawSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.opens[topic]++
	if len(m.openErrs) > 0 {
		err := m.openErrs[0]
		m.openErrs = m.openErrs[1:]
		return nil, err
	}
	if _, ok := m.streams[topic]; ok {
		return nil, errStreamExists
	}
	ch := make(chan RawSnapshot, memoryStreamBuffer)
	m.streams[topic] = ch
	return ch, nil
}

// Close ends the topic's stream. Closing a topic that is not open is a no-op.
func (m *Memory) Close(topic models.Topic) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closes[topic]++
	if ch, ok := m.streams[topic]; ok {
		close(ch)
		delete(m.streams, topic)
	}
	return nil
}

// EndStream simulates the remote side dropping a live stream.
func (m *Memory) EndStream(topic models.Topic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.streams[topic]; ok {
		close(ch)
		delete(m.streams, topic)
	}
}

// FailOpens queues errors returned by the next len(errs) Open calls.
func (m *Memory) FailOpens(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErrs = append(m.openErrs, errs...)
}

// Push delivers a raw payload to the topic's stream. It reports false when no stream is open or the buffer is full.
func (m *Memory) Push(topic models.Topic, payload []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.streams[topic]
	if !ok {
		return false
	}
	select {
	case ch <- RawSnapshot{Topic: topic, Payload: payload, ReceivedAt: m.now()}:
		return true
	default:
		return false
	}
}

// PushJSON marshals doc and pushes it.
func (m *Memory) PushJSON(topic models.Topic, doc map[string]any) bool {
	b, err := json.Marshal(doc)
	if err != nil {
		return false
	}
	return m.Push(topic, b)
}

// Write records the call, then applies the configured WriteFunc and notifies write observers on success.
func (m *Memory) Write(ctx context.Context, path string, value any) error {
	m.mu.Lock()
	m.writes = append(m.writes, WriteCall{Path: path, Value: value, At: m.now()})
	fn := m.writeFn
	observers := append([]func(string, any){}, m.onWrite...)
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, path, value); err != nil {
			return err
		}
	}
	for _, o := range observers {
		o(path, value)
	}
	return nil
}

// SetWriteFunc installs the outcome policy for subsequent writes.
func (m *Memory) SetWriteFunc(fn WriteFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeFn = fn
}

// SetClock replaces the clock used to stamp receipt and write times.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// OnWrite registers an observer for successful writes.
func (m *Memory) OnWrite(fn func(path string, value any)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWrite = append(m.onWrite, fn)
}

// Writes returns a copy of every recorded write.
func (m *Memory) Writes() []WriteCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WriteCall, len(m.writes))
	copy(out, m.writes)
	return out
}

// OpenCount reports how many times Open was called for topic.
func (m *Memory) OpenCount(topic models.Topic) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[topic]
}

// CloseCount reports how many times Close was called for topic.
func (m *Memory) CloseCount(topic models.Topic) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes[topic]
}

// IsOpen reports whether topic currently has a live stream.
func (m *Memory) IsOpen(topic models.Topic) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.streams[topic]
	return ok
}

var _ Client = (*Memory)(nil)
