package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/messaging/consumer"
	platformpostgres "github.com/Apurer/order-saga/internal/platform/postgres"
)

var _ consumer.SeenStore = (*SeenStore)(nil)

// SeenStore persists consumer deduplication sets in PostgreSQL.
type SeenStore struct {
	db *gorm.DB
}

// NewSeenStore wires a PostgreSQL-backed seen store. Caller manages DB lifecycle.
func NewSeenStore(db *gorm.DB) *SeenStore {
	return &SeenStore{db: db}
}

// seenRecord is keyed by (consumer_group, event_id).
type seenRecord struct {
	ConsumerGroup string    `gorm:"primaryKey;column:consumer_group;size:128"`
	EventID       string    `gorm:"primaryKey;column:event_id;size:64"`
	Kind          string    `gorm:"column:kind;size:64"`
	SubjectID     string    `gorm:"column:subject_id;size:64"`
	PayloadHash   string    `gorm:"column:payload_hash;size:64"`
	SeenAt        time.Time `gorm:"column:seen_at;index"`
}

func (seenRecord) TableName() string { return "consumer_seen_events" }

// Remember inserts the record with ON CONFLICT DO NOTHING; a conflict loads the stored row.
// Concurrent deliveries of one id serialize on the primary key until the first transaction ends.
func (s *SeenStore) Remember(ctx context.Context, rec consumer.SeenRecord) (consumer.SeenRecord, bool, error) {
	if err := s.ensureDB(); err != nil {
		return consumer.SeenRecord{}, false, err
	}
	if rec.SeenAt.IsZero() {
		rec.SeenAt = time.Now().UTC()
	}
	row := toRecord(rec)
	result := platformpostgres.Conn(ctx, s.db).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return consumer.SeenRecord{}, false, result.Error
	}
	if result.RowsAffected == 1 {
		return rec, true, nil
	}
	var existing seenRecord
	err := platformpostgres.Conn(ctx, s.db).
		First(&existing, "consumer_group = ? AND event_id = ?", rec.Group, rec.EventID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return consumer.SeenRecord{}, false, errors.New("seen record vanished after conflict")
		}
		return consumer.SeenRecord{}, false, err
	}
	return existing.toPort(), false, nil
}

func (s *SeenStore) Forget(ctx context.Context, group, eventID string) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	return platformpostgres.Conn(ctx, s.db).
		Delete(&seenRecord{}, "consumer_group = ? AND event_id = ?", group, eventID).Error
}

func (s *SeenStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.ensureDB(); err != nil {
		return 0, err
	}
	result := platformpostgres.Conn(ctx, s.db).Delete(&seenRecord{}, "seen_at < ?", cutoff)
	return result.RowsAffected, result.Error
}

func (s *SeenStore) ensureDB() error {
	if s == nil || s.db == nil {
		return errors.New("postgres seen store not configured")
	}
	return nil
}

func toRecord(rec consumer.SeenRecord) seenRecord {
	return seenRecord{
		ConsumerGroup: rec.Group,
		EventID:       rec.EventID,
		Kind:          string(rec.Kind),
		SubjectID:     rec.SubjectID,
		PayloadHash:   rec.PayloadHash,
		SeenAt:        rec.SeenAt,
	}
}

func (r seenRecord) toPort() consumer.SeenRecord {
	return consumer.SeenRecord{
		Group:       r.ConsumerGroup,
		EventID:     r.EventID,
		Kind:        events.Kind(r.Kind),
		SubjectID:   r.SubjectID,
		PayloadHash: r.PayloadHash,
		SeenAt:      r.SeenAt,
	}
}
