// Package history keeps a bounded, chronologically ordered window of readings per topic.
package history

import (
	"sync"

	"fieldsync/internal/models"
)

// DefaultCapacity is one day of five-minute samples.
const DefaultCapacity = 288

// Ring is a fixed-capacity circular buffer of history entries.
// Timestamps are strictly ascending; the oldest entry is evicted on overflow.
type Ring struct {
	mu    sync.RWMutex
	buf   []models.HistoryEntry
	head  int // index of the oldest entry
	count int
}

// NewRing returns an empty ring. A non-positive capacity falls back to DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]models.HistoryEntry, capacity)}
}

// Append inserts r at the tail if its ordering time is strictly after the tail's.
func (r *Ring) Append(reading models.SensorReading) bool {
	ts := reading.OrderingTime()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count > 0 {
		tail := r.buf[(r.head+r.count-1)%len(r.buf)]
		if !ts.After(tail.Timestamp) {
			return false
		}
	}

	entry := models.HistoryEntry{Timestamp: ts, Reading: reading.Clone()}
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = entry
		r.count++
		return true
	}
	r.buf[r.head] = entry
	r.head = (r.head + 1) % len(r.buf)
	return true
}

// Snapshot returns a deep copy of the entries, oldest first.
func (r *Ring) Snapshot() []models.HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.HistoryEntry, r.count)
	for i := 0; i < r.count; i++ {
		e := r.buf[(r.head+i)%len(r.buf)]
		out[i] = models.HistoryEntry{Timestamp: e.Timestamp, Reading: e.Reading.Clone()}
	}
	return out
}

func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

func (r *Ring) Cap() int { return len(r.buf) }
