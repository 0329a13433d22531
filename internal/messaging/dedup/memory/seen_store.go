package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Apurer/order-saga/internal/messaging/consumer"
)

var _ consumer.SeenStore = (*SeenStore)(nil)

// SeenStore provides an in-memory deduplication set for development and tests.
type SeenStore struct {
	mu      sync.RWMutex
	records map[key]consumer.SeenRecord
	now     func() time.Time
}

type key struct {
	group   string
	eventID string
}

// NewSeenStore constructs an empty in-memory store.
func NewSeenStore() *SeenStore {
	return &SeenStore{
		records: map[key]consumer.SeenRecord{},
		now:     time.Now,
	}
}

// WithClock overrides the time source for deterministic testing.
func (s *SeenStore) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Remember stores rec unless the (group, event id) pair is already known.
func (s *SeenStore) Remember(_ context.Context, rec consumer.SeenRecord) (consumer.SeenRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{group: rec.Group, eventID: rec.EventID}
	if existing, ok := s.records[k]; ok {
		return existing, false, nil
	}
	if rec.SeenAt.IsZero() {
		rec.SeenAt = s.now()
	}
	s.records[k] = rec
	return rec, true, nil
}

func (s *SeenStore) Forget(_ context.Context, group, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key{group: group, eventID: eventID})
	return nil
}

func (s *SeenStore) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for k, rec := range s.records {
		if rec.SeenAt.Before(cutoff) {
			delete(s.records, k)
			purged++
		}
	}
	return purged, nil
}

// Len reports how many entries are held.
func (s *SeenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
