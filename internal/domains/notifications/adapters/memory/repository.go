package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Apurer/order-saga/internal/domains/notifications/domain"
	"github.com/Apurer/order-saga/internal/domains/notifications/ports"
)

var _ ports.Repository = (*Repository)(nil)

// Repository keeps notifications in process memory.
type Repository struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Notification
	byEvent map[string]string
}

func NewRepository() *Repository {
	return &Repository{byID: map[string]*domain.Notification{}, byEvent: map[string]string{}}
}

func eventKey(userID, eventID string) string { return userID + "|" + eventID }

func (r *Repository) Create(_ context.Context, n *domain.Notification) error {
	if n == nil {
		return errors.New("notification is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := eventKey(n.UserID, n.EventID)
	if _, ok := r.byEvent[key]; ok {
		return fmt.Errorf("%w: %s", ports.ErrAlreadyExists, n.EventID)
	}
	r.byID[n.ID] = n.Clone()
	r.byEvent[key] = n.ID
	return nil
}

func (r *Repository) Update(_ context.Context, n *domain.Notification) error {
	if n == nil {
		return errors.New("notification is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[n.ID]; !ok {
		return ports.ErrNotFound
	}
	r.byID[n.ID] = n.Clone()
	return nil
}

func (r *Repository) Get(_ context.Context, id string) (*domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.byID[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return n.Clone(), nil
}

// ListForUser returns newest first.
func (r *Repository) ListForUser(_ context.Context, userID string, filter ports.ListFilter) ([]*domain.Notification, error) {
	r.mu.RLock()
	var out []*domain.Notification
	for _, n := range r.byID {
		if n.UserID != userID || (filter.UnreadOnly && n.Read) {
			continue
		}
		out = append(out, n.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
