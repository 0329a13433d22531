package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Apurer/order-saga/internal/domains/payments/domain"
	"github.com/Apurer/order-saga/internal/domains/payments/ports"
	platformpostgres "github.com/Apurer/order-saga/internal/platform/postgres"
	"github.com/Apurer/order-saga/internal/shared/faults"
)

var _ ports.Repository = (*Repository)(nil)

// Repository persists payments in PostgreSQL using GORM.
type Repository struct {
	db *gorm.DB
}

// NewRepository wires a PostgreSQL-backed repository. Caller manages DB lifecycle and schema.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type paymentRecord struct {
	ID            string          `gorm:"primaryKey;column:id;size:36"`
	OrderID       string          `gorm:"column:order_id;size:36;uniqueIndex"`
	CustomerID    string          `gorm:"column:customer_id;size:64"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(10,2)"`
	Currency      string          `gorm:"column:currency;size:3"`
	Status        string          `gorm:"column:status;type:varchar(32)"`
	ExternalRef   string          `gorm:"column:external_ref;size:64"`
	RefundRef     string          `gorm:"column:refund_ref;size:64"`
	FailureReason string          `gorm:"column:failure_reason;type:text"`
	AuthorizedAt  *time.Time      `gorm:"column:authorized_at"`
	CapturedAt    *time.Time      `gorm:"column:captured_at"`
	RefundedAt    *time.Time      `gorm:"column:refunded_at"`
	Version       int64           `gorm:"column:version"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at"`
}

func (paymentRecord) TableName() string { return "payments" }

func (r *Repository) Create(ctx context.Context, payment *domain.Payment) error {
	if err := r.ensureDB(); err != nil {
		return err
	}
	if payment == nil {
		return errors.New("payment is nil")
	}
	record := toRecord(payment)
	record.Version = 1
	if err := platformpostgres.Conn(ctx, r.db).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", ports.ErrAlreadyExists, payment.OrderID)
		}
		return err
	}
	payment.Version = record.Version
	return nil
}

func (r *Repository) Update(ctx context.Context, payment *domain.Payment) error {
	if err := r.ensureDB(); err != nil {
		return err
	}
	if payment == nil {
		return errors.New("payment is nil")
	}
	record := toRecord(payment)
	result := platformpostgres.Conn(ctx, r.db).
		Model(&paymentRecord{}).
		Where("id = ? AND version = ?", payment.ID, payment.Version).
		Updates(map[string]any{
			"status":         record.Status,
			"external_ref":   record.ExternalRef,
			"refund_ref":     record.RefundRef,
			"failure_reason": record.FailureReason,
			"authorized_at":  record.AuthorizedAt,
			"captured_at":    record.CapturedAt,
			"refunded_at":    record.RefundedAt,
			"version":        gorm.Expr("version + 1"),
			"updated_at":     record.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := platformpostgres.Conn(ctx, r.db).Model(&paymentRecord{}).Where("id = ?", payment.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ports.ErrNotFound
		}
		return fmt.Errorf("%w: payment %s changed since version %d", faults.ErrConcurrentUpdate, payment.ID, payment.Version)
	}
	payment.Version++
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Payment, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *Repository) GetByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	return r.first(ctx, "order_id = ?", orderID)
}

func (r *Repository) first(ctx context.Context, query string, arg string) (*domain.Payment, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	var record paymentRecord
	if err := platformpostgres.Conn(ctx, r.db).First(&record, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	return record.toDomain(), nil
}

func (r *Repository) ensureDB() error {
	if r == nil || r.db == nil {
		return errors.New("postgres payment repository not configured")
	}
	return nil
}

func toRecord(p *domain.Payment) paymentRecord {
	return paymentRecord{
		ID:            p.ID,
		OrderID:       p.OrderID,
		CustomerID:    p.CustomerID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Status:        string(p.Status),
		ExternalRef:   p.ExternalRef,
		RefundRef:     p.RefundRef,
		FailureReason: p.FailureReason,
		AuthorizedAt:  p.AuthorizedAt,
		CapturedAt:    p.CapturedAt,
		RefundedAt:    p.RefundedAt,
		Version:       p.Version,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func (r paymentRecord) toDomain() *domain.Payment {
	return &domain.Payment{
		ID:            r.ID,
		OrderID:       r.OrderID,
		CustomerID:    r.CustomerID,
		Amount:        r.Amount,
		Currency:      r.Currency,
		Status:        domain.Status(r.Status),
		ExternalRef:   r.ExternalRef,
		RefundRef:     r.RefundRef,
		FailureReason: r.FailureReason,
		AuthorizedAt:  utc(r.AuthorizedAt),
		CapturedAt:    utc(r.CapturedAt),
		RefundedAt:    utc(r.RefundedAt),
		Version:       r.Version,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
