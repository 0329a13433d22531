package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/messaging/outbox"
	platformpostgres "github.com/Apurer/order-saga/internal/platform/postgres"
)

var _ outbox.Store = (*Store)(nil)

// Store persists one service's outbox in the shared outbox_records table.
type Store struct {
	db     *gorm.DB
	source string
}

// NewStore scopes the table to records produced by source. Caller manages DB lifecycle.
func NewStore(db *gorm.DB, source string) *Store {
	return &Store{db: db, source: source}
}

// record is the outbox_records row.
type record struct {
	ID          int64      `gorm:"primaryKey;autoIncrement;column:id"`
	Source      string     `gorm:"column:source;size:64;index:idx_outbox_pending,priority:1"`
	EventID     string     `gorm:"column:event_id;size:64;uniqueIndex"`
	Topic       string     `gorm:"column:topic;size:128"`
	SubjectID   string     `gorm:"column:subject_id;size:64"`
	Kind        string     `gorm:"column:kind;size:64"`
	Envelope    []byte     `gorm:"column:envelope;type:jsonb"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	PublishedAt *time.Time `gorm:"column:published_at;index:idx_outbox_pending,priority:2"`
	Attempts    int        `gorm:"column:attempts"`
	LastError   string     `gorm:"column:last_error;type:text"`
}

func (record) TableName() string { return "outbox_records" }

func (s *Store) Append(ctx context.Context, records ...outbox.Record) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	rows := make([]record, 0, len(records))
	for _, rec := range records {
		row := toRow(rec)
		// one process may commit envelopes of several sources; its relay drains by scope
		row.Source = s.source
		rows = append(rows, row)
	}
	return platformpostgres.Conn(ctx, s.db).Create(&rows).Error
}

func (s *Store) Pending(ctx context.Context, limit int) ([]outbox.Record, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	q := platformpostgres.Conn(ctx, s.db).
		Where("source = ? AND published_at IS NULL", s.source).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []record
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]outbox.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toPort())
	}
	return out, nil
}

func (s *Store) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	return s.update(ctx, id, map[string]any{
		"published_at": at,
		"attempts":     gorm.Expr("attempts + 1"),
	})
}

func (s *Store) MarkFailed(ctx context.Context, id int64, reason string) error {
	return s.update(ctx, id, map[string]any{
		"last_error": reason,
		"attempts":   gorm.Expr("attempts + 1"),
	})
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	result := platformpostgres.Conn(ctx, s.db).Delete(&record{}, "id = ? AND source = ?", id, s.source)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return outbox.ErrNotFound
	}
	return nil
}

func (s *Store) PurgePublished(ctx context.Context, before time.Time) (int64, error) {
	if err := s.ensureDB(); err != nil {
		return 0, err
	}
	result := platformpostgres.Conn(ctx, s.db).
		Delete(&record{}, "source = ? AND published_at IS NOT NULL AND published_at < ?", s.source, before)
	return result.RowsAffected, result.Error
}

func (s *Store) update(ctx context.Context, id int64, values map[string]any) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	result := platformpostgres.Conn(ctx, s.db).
		Model(&record{}).
		Where("id = ? AND source = ?", id, s.source).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return outbox.ErrNotFound
	}
	return nil
}

func (s *Store) ensureDB() error {
	if s == nil || s.db == nil {
		return errors.New("postgres outbox store not configured")
	}
	return nil
}

func toRow(rec outbox.Record) record {
	return record{
		ID:          rec.ID,
		Source:      rec.Source,
		EventID:     rec.EventID,
		Topic:       rec.Topic,
		SubjectID:   rec.SubjectID,
		Kind:        string(rec.Kind),
		Envelope:    rec.Envelope,
		CreatedAt:   rec.CreatedAt,
		PublishedAt: rec.PublishedAt,
		Attempts:    rec.Attempts,
		LastError:   rec.LastError,
	}
}

func (r record) toPort() outbox.Record {
	return outbox.Record{
		ID:          r.ID,
		Source:      r.Source,
		EventID:     r.EventID,
		Topic:       r.Topic,
		SubjectID:   r.SubjectID,
		Kind:        events.Kind(r.Kind),
		Envelope:    r.Envelope,
		CreatedAt:   r.CreatedAt,
		PublishedAt: r.PublishedAt,
		Attempts:    r.Attempts,
		LastError:   r.LastError,
	}
}
