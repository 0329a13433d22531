package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Apurer/order-saga/internal/domains/saga/domain"
	"github.com/Apurer/order-saga/internal/domains/saga/ports"
	"github.com/Apurer/order-saga/internal/events"
	platformpostgres "github.com/Apurer/order-saga/internal/platform/postgres"
	"github.com/Apurer/order-saga/internal/shared/faults"
)

var _ ports.Repository = (*Repository)(nil)

// Repository persists saga state in PostgreSQL using GORM.
type Repository struct {
	db *gorm.DB
}

// NewRepository wires a PostgreSQL-backed repository. Caller manages DB lifecycle and schema.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type sagaRecord struct {
	OrderID         string           `gorm:"primaryKey;column:order_id;size:36"`
	OrderNumber     string           `gorm:"column:order_number;size:32"`
	CustomerID      string           `gorm:"column:customer_id;size:64"`
	Amount          decimal.Decimal  `gorm:"column:amount;type:numeric(10,2)"`
	Status          string           `gorm:"column:status;type:varchar(32);index"`
	OrderStatus     string           `gorm:"column:order_status;type:varchar(32)"`
	PaymentStatus   string           `gorm:"column:payment_status;type:varchar(32)"`
	PaymentID       string           `gorm:"column:payment_id;size:64"`
	PendingCommand  *events.Envelope `gorm:"column:pending_command;type:jsonb;serializer:json"`
	PendingAwaiting pq.StringArray   `gorm:"column:pending_awaiting;type:text[]"`
	PendingAttempts int              `gorm:"column:pending_attempts"`
	PendingIssuedAt *time.Time       `gorm:"column:pending_issued_at"`
	PendingDeadline *time.Time       `gorm:"column:pending_deadline;index"`
	Compensations   pq.StringArray   `gorm:"column:compensations;type:text[]"`
	RefundRequested bool             `gorm:"column:refund_requested"`
	StuckReason     string           `gorm:"column:stuck_reason;type:text"`
	Version         int64            `gorm:"column:version"`
	CreatedAt       time.Time        `gorm:"column:created_at"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;index"`
}

func (sagaRecord) TableName() string { return "sagas" }

func (r *Repository) Create(ctx context.Context, saga *domain.Saga) error {
	if err := r.ensureDB(); err != nil {
		return err
	}
	if saga == nil {
		return errors.New("saga is nil")
	}
	record := toRecord(saga)
	record.Version = 1
	if err := platformpostgres.Conn(ctx, r.db).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", ports.ErrAlreadyExists, saga.OrderID)
		}
		return err
	}
	saga.Version = record.Version
	return nil
}

func (r *Repository) Update(ctx context.Context, saga *domain.Saga) error {
	if err := r.ensureDB(); err != nil {
		return err
	}
	if saga == nil {
		return errors.New("saga is nil")
	}
	record := toRecord(saga)
	result := platformpostgres.Conn(ctx, r.db).
		Model(&sagaRecord{}).
		Where("order_id = ? AND version = ?", saga.OrderID, saga.Version).
		Updates(map[string]any{
			"order_number":      record.OrderNumber,
			"customer_id":       record.CustomerID,
			"amount":            record.Amount,
			"status":            record.Status,
			"order_status":      record.OrderStatus,
			"payment_status":    record.PaymentStatus,
			"payment_id":        record.PaymentID,
			"pending_command":   gorm.Expr("?::jsonb", pendingJSON(saga)),
			"pending_awaiting":  record.PendingAwaiting,
			"pending_attempts":  record.PendingAttempts,
			"pending_issued_at": record.PendingIssuedAt,
			"pending_deadline":  record.PendingDeadline,
			"compensations":     record.Compensations,
			"refund_requested":  record.RefundRequested,
			"stuck_reason":      record.StuckReason,
			"version":           gorm.Expr("version + 1"),
			"updated_at":        record.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := platformpostgres.Conn(ctx, r.db).Model(&sagaRecord{}).Where("order_id = ?", saga.OrderID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ports.ErrNotFound
		}
		return fmt.Errorf("%w: saga %s changed since version %d", faults.ErrConcurrentUpdate, saga.OrderID, saga.Version)
	}
	saga.Version++
	return nil
}

func (r *Repository) Get(ctx context.Context, orderID string) (*domain.Saga, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	var record sagaRecord
	if err := platformpostgres.Conn(ctx, r.db).First(&record, "order_id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	return record.toDomain(), nil
}

func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Saga, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	var records []sagaRecord
	err := platformpostgres.Conn(ctx, r.db).
		Where("pending_deadline IS NOT NULL AND pending_deadline <= ? AND status <> ?", now.UTC(), string(domain.StatusStuck)).
		Order("pending_deadline ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return toDomainList(records), nil
}

func (r *Repository) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.Saga, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	var records []sagaRecord
	err := platformpostgres.Conn(ctx, r.db).
		Where("status = ?", string(status)).
		Order("updated_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return toDomainList(records), nil
}

func (r *Repository) ensureDB() error {
	if r == nil || r.db == nil {
		return errors.New("postgres saga repository not configured")
	}
	return nil
}

func pendingJSON(saga *domain.Saga) any {
	if saga.Pending == nil {
		return nil
	}
	body, err := events.Marshal(saga.Pending.Command)
	if err != nil {
		return nil
	}
	return string(body)
}

func toRecord(s *domain.Saga) sagaRecord {
	rec := sagaRecord{
		OrderID:         s.OrderID,
		OrderNumber:     s.OrderNumber,
		CustomerID:      s.CustomerID,
		Amount:          s.Amount,
		Status:          string(s.Status),
		OrderStatus:     s.OrderStatus,
		PaymentStatus:   string(s.PaymentStatus),
		PaymentID:       s.PaymentID,
		Compensations:   pq.StringArray(append([]string{}, s.Compensations...)),
		RefundRequested: s.RefundRequested,
		StuckReason:     s.StuckReason,
		Version:         s.Version,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if s.Pending != nil {
		cmd := s.Pending.Command
		issued, deadline := s.Pending.IssuedAt, s.Pending.Deadline
		rec.PendingCommand = &cmd
		rec.PendingAttempts = s.Pending.Attempts
		rec.PendingIssuedAt = &issued
		rec.PendingDeadline = &deadline
		for _, kind := range s.Pending.Awaiting {
			rec.PendingAwaiting = append(rec.PendingAwaiting, string(kind))
		}
	}
	return rec
}

func (r sagaRecord) toDomain() *domain.Saga {
	s := &domain.Saga{
		OrderID:         r.OrderID,
		OrderNumber:     r.OrderNumber,
		CustomerID:      r.CustomerID,
		Amount:          r.Amount,
		Status:          domain.Status(r.Status),
		OrderStatus:     r.OrderStatus,
		PaymentStatus:   domain.PaymentStatus(r.PaymentStatus),
		PaymentID:       r.PaymentID,
		Compensations:   []string(r.Compensations),
		RefundRequested: r.RefundRequested,
		StuckReason:     r.StuckReason,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.PendingCommand != nil && r.PendingDeadline != nil {
		step := &domain.Step{
			Command:  *r.PendingCommand,
			Attempts: r.PendingAttempts,
			Deadline: r.PendingDeadline.UTC(),
		}
		if r.PendingIssuedAt != nil {
			step.IssuedAt = r.PendingIssuedAt.UTC()
		}
		for _, kind := range r.PendingAwaiting {
			step.Awaiting = append(step.Awaiting, events.Kind(kind))
		}
		s.Pending = step
	}
	return s
}

func toDomainList(records []sagaRecord) []*domain.Saga {
	out := make([]*domain.Saga, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.toDomain())
	}
	return out
}
