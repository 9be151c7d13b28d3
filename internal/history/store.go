package history

import (
	"sync"

	"fieldsync/internal/models"
)

// Store owns one Ring per topic, created on first append.
type Store struct {
	mu       sync.RWMutex
	capacity int
	rings    map[models.Topic]*Ring
}

func NewStore(capacity int) *Store {
	return &Store{capacity: capacity, rings: make(map[models.Topic]*Ring)}
}

// Append routes the reading to its topic's ring.
func (s *Store) Append(reading models.SensorReading) bool {
	s.mu.Lock()
	ring, ok := s.rings[reading.Topic]
	if !ok {
		ring = NewRing(s.capacity)
		s.rings[reading.Topic] = ring
	}
	s.mu.Unlock()
	return ring.Append(reading)
}

// Snapshot returns the topic's history, or an empty slice for an unknown topic.
func (s *Store) Snapshot(topic models.Topic) []models.HistoryEntry {
	s.mu.RLock()
	ring, ok := s.rings[topic]
	s.mu.RUnlock()
	if !ok {
		return []models.HistoryEntry{}
	}
	return ring.Snapshot()
}

// Drop discards a topic's history.
func (s *Store) Drop(topic models.Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rings, topic)
}
