package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Apurer/order-saga/internal/domains/orders/domain"
	"github.com/Apurer/order-saga/internal/domains/orders/ports"
	platformpostgres "github.com/Apurer/order-saga/internal/platform/postgres"
	"github.com/Apurer/order-saga/internal/shared/faults"
)

var _ ports.Repository = (*Repository)(nil)

// Repository persists orders in PostgreSQL using GORM.
type Repository struct {
	db *gorm.DB
}

// NewRepository wires a PostgreSQL-backed repository. Caller manages DB lifecycle and schema.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type geoPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	Address   string  `json:"address,omitempty"`
}

// orderRecord maps the order aggregate to a relational table.
type orderRecord struct {
	ID                    string          `gorm:"primaryKey;column:id;size:36"`
	OrderNumber           string          `gorm:"column:order_number;size:32;uniqueIndex"`
	CustomerID            string          `gorm:"column:customer_id;size:64;index"`
	ShopID                string          `gorm:"column:shop_id;size:64;index"`
	DriverID              string          `gorm:"column:driver_id;size:64"`
	Type                  string          `gorm:"column:type;type:varchar(32)"`
	Status                string          `gorm:"column:status;type:varchar(32);index"`
	Subtotal              decimal.Decimal `gorm:"column:subtotal;type:numeric(10,2)"`
	TaxAmount             decimal.Decimal `gorm:"column:tax_amount;type:numeric(10,2)"`
	DeliveryFee           decimal.Decimal `gorm:"column:delivery_fee;type:numeric(10,2)"`
	TotalAmount           decimal.Decimal `gorm:"column:total_amount;type:numeric(10,2)"`
	PickupLocation        *geoPoint       `gorm:"column:pickup_location;serializer:json"`
	DeliveryLocation      *geoPoint       `gorm:"column:delivery_location;serializer:json"`
	RequestedPickupTime   *time.Time      `gorm:"column:requested_pickup_time"`
	RequestedDeliveryTime *time.Time      `gorm:"column:requested_delivery_time"`
	ActualPickupTime      *time.Time      `gorm:"column:actual_pickup_time"`
	ActualDeliveryTime    *time.Time      `gorm:"column:actual_delivery_time"`
	PaymentID             string          `gorm:"column:payment_id;size:64"`
	Notes                 string          `gorm:"column:notes;type:text"`
	CancellationReason    string          `gorm:"column:cancellation_reason;type:text"`
	Version               int64           `gorm:"column:version"`
	CreatedAt             time.Time       `gorm:"column:created_at;index"`
	UpdatedAt             time.Time       `gorm:"column:updated_at"`
	Items                 []itemRecord    `gorm:"foreignKey:OrderID;references:ID"`
}

func (orderRecord) TableName() string { return "orders" }

type itemRecord struct {
	ID          string            `gorm:"primaryKey;column:id;size:36"`
	OrderID     string            `gorm:"column:order_id;size:36;index"`
	Position    int               `gorm:"column:position"`
	ServiceName string            `gorm:"column:service_name;size:100"`
	Description string            `gorm:"column:description;type:text"`
	Quantity    int32             `gorm:"column:quantity"`
	UnitPrice   decimal.Decimal   `gorm:"column:unit_price;type:numeric(10,2)"`
	TotalPrice  decimal.Decimal   `gorm:"column:total_price;type:numeric(10,2)"`
	Metadata    map[string]string `gorm:"column:metadata;serializer:json"`
}

func (itemRecord) TableName() string { return "order_items" }

// Create inserts the order and its items. Items never change afterwards.
func (r *Repository) Create(ctx context.Context, order *domain.Order) error {
	if err := r.ensureDB(); err != nil {
		return err
	}
	if order == nil {
		return errors.New("order is nil")
	}
	record := toRecord(order)
	record.Version = 1
	if err := platformpostgres.Conn(ctx, r.db).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("order %s already exists: %w", order.OrderNumber, err)
		}
		return err
	}
	order.Version = record.Version
	return nil
}

// Update writes the mutable columns guarded by the version read earlier.
func (r *Repository) Update(ctx context.Context, order *domain.Order) error {
	if err := r.ensureDB(); err != nil {
		return err
	}
	if order == nil {
		return errors.New("order is nil")
	}
	record := toRecord(order)
	result := platformpostgres.Conn(ctx, r.db).
		Model(&orderRecord{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(map[string]any{
			"status":               record.Status,
			"driver_id":            record.DriverID,
			"actual_pickup_time":   record.ActualPickupTime,
			"actual_delivery_time": record.ActualDeliveryTime,
			"payment_id":           record.PaymentID,
			"cancellation_reason":  record.CancellationReason,
			"version":              gorm.Expr("version + 1"),
			"updated_at":           record.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := platformpostgres.Conn(ctx, r.db).Model(&orderRecord{}).Where("id = ?", order.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ports.ErrNotFound
		}
		return fmt.Errorf("%w: order %s changed since version %d", faults.ErrConcurrentUpdate, order.ID, order.Version)
	}
	order.Version++
	return nil
}

// GetByID fetches an order with its items.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.first(ctx, "id = ?", id)
}

// GetByNumber fetches an order by its human-readable number.
func (r *Repository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return r.first(ctx, "order_number = ?", number)
}

func (r *Repository) first(ctx context.Context, query string, arg any) (*domain.Order, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	var record orderRecord
	err := platformpostgres.Conn(ctx, r.db).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&record, query, arg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	return record.toDomain(), nil
}

func (r *Repository) ensureDB() error {
	if r == nil || r.db == nil {
		return errors.New("postgres order repository not configured")
	}
	return nil
}

func toRecord(order *domain.Order) orderRecord {
	rec := orderRecord{
		ID:                    order.ID,
		OrderNumber:           order.OrderNumber,
		CustomerID:            order.CustomerID,
		ShopID:                order.ShopID,
		DriverID:              order.DriverID,
		Type:                  string(order.Type),
		Status:                string(order.Status),
		Subtotal:              order.Subtotal,
		TaxAmount:             order.TaxAmount,
		DeliveryFee:           order.DeliveryFee,
		TotalAmount:           order.TotalAmount,
		PickupLocation:        fromPoint(order.PickupLocation),
		DeliveryLocation:      fromPoint(order.DeliveryLocation),
		RequestedPickupTime:   order.RequestedPickupTime,
		RequestedDeliveryTime: order.RequestedDeliveryTime,
		ActualPickupTime:      order.ActualPickupTime,
		ActualDeliveryTime:    order.ActualDeliveryTime,
		PaymentID:             order.PaymentID,
		Notes:                 order.Notes,
		CancellationReason:    order.CancellationReason,
		Version:               order.Version,
		CreatedAt:             order.CreatedAt,
		UpdatedAt:             order.UpdatedAt,
	}
	for i, item := range order.Items {
		rec.Items = append(rec.Items, itemRecord{
			ID:          item.ID,
			OrderID:     order.ID,
			Position:    i,
			ServiceName: item.ServiceName,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
			Metadata:    item.Metadata,
		})
	}
	return rec
}

func (r orderRecord) toDomain() *domain.Order {
	order := &domain.Order{
		ID:                    r.ID,
		OrderNumber:           r.OrderNumber,
		CustomerID:            r.CustomerID,
		ShopID:                r.ShopID,
		DriverID:              r.DriverID,
		Type:                  domain.Type(r.Type),
		Status:                domain.Status(r.Status),
		Subtotal:              r.Subtotal,
		TaxAmount:             r.TaxAmount,
		DeliveryFee:           r.DeliveryFee,
		TotalAmount:           r.TotalAmount,
		PickupLocation:        toPoint(r.PickupLocation),
		DeliveryLocation:      toPoint(r.DeliveryLocation),
		RequestedPickupTime:   r.RequestedPickupTime,
		RequestedDeliveryTime: r.RequestedDeliveryTime,
		ActualPickupTime:      r.ActualPickupTime,
		ActualDeliveryTime:    r.ActualDeliveryTime,
		PaymentID:             r.PaymentID,
		Notes:                 r.Notes,
		CancellationReason:    r.CancellationReason,
		Version:               r.Version,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
	for _, item := range r.Items {
		order.Items = append(order.Items, domain.Item{
			ID:          item.ID,
			ServiceName: item.ServiceName,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
			Metadata:    item.Metadata,
		})
	}
	return order
}

func fromPoint(p *domain.GeoPoint) *geoPoint {
	if p == nil {
		return nil
	}
	return &geoPoint{Latitude: p.Latitude, Longitude: p.Longitude, Address: p.Address}
}

func toPoint(p *geoPoint) *domain.GeoPoint {
	if p == nil {
		return nil
	}
	return &domain.GeoPoint{Latitude: p.Latitude, Longitude: p.Longitude, Address: p.Address}
}
