package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Apurer/order-saga/internal/messaging/outbox"
)

var _ outbox.Store = (*Store)(nil)

// Store is an in-memory outbox for development and tests.
type Store struct {
	mu      sync.Mutex
	records []outbox.Record
	nextID  int64
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, records ...outbox.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.nextID++
		rec.ID = s.nextID
		rec.Envelope = append([]byte(nil), rec.Envelope...)
		s.records = append(s.records, rec)
	}
	return nil
}

func (s *Store) Pending(_ context.Context, limit int) ([]outbox.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Record, 0, len(s.records))
	for _, rec := range s.records {
		if rec.PublishedAt != nil {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkPublished(_ context.Context, id int64, at time.Time) error {
	return s.update(id, func(rec *outbox.Record) {
		published := at
		rec.PublishedAt = &published
		rec.Attempts++
	})
}

func (s *Store) MarkFailed(_ context.Context, id int64, reason string) error {
	return s.update(id, func(rec *outbox.Record) {
		rec.Attempts++
		rec.LastError = reason
	})
}

func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rec := range s.records {
		if rec.ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return nil
		}
	}
	return outbox.ErrNotFound
}

func (s *Store) PurgePublished(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	var purged int64
	for _, rec := range s.records {
		if rec.PublishedAt != nil && rec.PublishedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return purged, nil
}

// All returns every retained record, published or not.
func (s *Store) All() []outbox.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Store) update(id int64, fn func(rec *outbox.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			fn(&s.records[i])
			return nil
		}
	}
	return outbox.ErrNotFound
}
