package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Apurer/order-saga/internal/domains/notifications/domain"
	"github.com/Apurer/order-saga/internal/domains/notifications/ports"
	platformpostgres "github.com/Apurer/order-saga/internal/platform/postgres"
)

var _ ports.Repository = (*Repository)(nil)

// Repository persists notifications in PostgreSQL using GORM.
type Repository struct {
	db *gorm.DB
}

// NewRepository wires a PostgreSQL-backed repository. Caller manages DB lifecycle and schema.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type notificationRecord struct {
	ID        string            `gorm:"primaryKey;column:id;size:36"`
	UserID    string            `gorm:"column:user_id;size:64;uniqueIndex:idx_notifications_user_event;index:idx_notifications_user_read"`
	EventID   string            `gorm:"column:event_id;size:64;uniqueIndex:idx_notifications_user_event"`
	Type      string            `gorm:"column:type;type:varchar(32)"`
	Channel   string            `gorm:"column:channel;type:varchar(16)"`
	Title     string            `gorm:"column:title;size:200"`
	Message   string            `gorm:"column:message;type:text"`
	Data      map[string]string `gorm:"column:data;type:jsonb;serializer:json"`
	Read      bool              `gorm:"column:read;index:idx_notifications_user_read"`
	ReadAt    *time.Time        `gorm:"column:read_at"`
	SentAt    *time.Time        `gorm:"column:sent_at"`
	CreatedAt time.Time         `gorm:"column:created_at"`
	UpdatedAt time.Time         `gorm:"column:updated_at"`
}

func (notificationRecord) TableName() string { return "notifications" }

func (r *Repository) Create(ctx context.Context, n *domain.Notification) error {
	if err := r.ensureDB(); err != nil {
		return err
	}
	if n == nil {
		return errors.New("notification is nil")
	}
	record := toRecord(n)
	if err := platformpostgres.Conn(ctx, r.db).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", ports.ErrAlreadyExists, n.EventID)
		}
		return err
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, n *domain.Notification) error {
	if err := r.ensureDB(); err != nil {
		return err
	}
	if n == nil {
		return errors.New("notification is nil")
	}
	result := platformpostgres.Conn(ctx, r.db).
		Model(&notificationRecord{}).
		Where("id = ?", n.ID).
		Updates(map[string]any{
			"read":       n.Read,
			"read_at":    n.ReadAt,
			"sent_at":    n.SentAt,
			"updated_at": n.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Notification, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	var record notificationRecord
	if err := platformpostgres.Conn(ctx, r.db).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	return record.toDomain(), nil
}

func (r *Repository) ListForUser(ctx context.Context, userID string, filter ports.ListFilter) ([]*domain.Notification, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	query := platformpostgres.Conn(ctx, r.db).Where("user_id = ?", userID)
	if filter.UnreadOnly {
		query = query.Where("read = ?", false)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var records []notificationRecord
	if err := query.Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Notification, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.toDomain())
	}
	return out, nil
}

func (r *Repository) ensureDB() error {
	if r == nil || r.db == nil {
		return errors.New("postgres notification repository not configured")
	}
	return nil
}

func toRecord(n *domain.Notification) notificationRecord {
	return notificationRecord{
		ID:        n.ID,
		UserID:    n.UserID,
		EventID:   n.EventID,
		Type:      string(n.Type),
		Channel:   string(n.Channel),
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		Read:      n.Read,
		ReadAt:    n.ReadAt,
		SentAt:    n.SentAt,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func (r notificationRecord) toDomain() *domain.Notification {
	n := &domain.Notification{
		ID:        r.ID,
		UserID:    r.UserID,
		EventID:   r.EventID,
		Type:      domain.Type(r.Type),
		Channel:   domain.Channel(r.Channel),
		Title:     r.Title,
		Message:   r.Message,
		Data:      r.Data,
		Read:      r.Read,
		ReadAt:    r.ReadAt,
		SentAt:    r.SentAt,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if n.Data == nil {
		n.Data = map[string]string{}
	}
	return n
}
