package migrations

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Run applies the schema for every service. Each service owns its tables; sharing one
// database in development is a deployment choice, not a coupling.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	return db.AutoMigrate(
		&orderRecord{},
		&orderItemRecord{},
		&sagaRecord{},
		&paymentRecord{},
		&notificationRecord{},
		&outboxRecord{},
		&seenRecord{},
	)
}

type geoPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	Address   string  `json:"address,omitempty"`
}

// Order schema mirrors the orders Postgres adapter.
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
}

func (orderRecord) TableName() string { return "orders" }

type orderItemRecord struct {
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

func (orderItemRecord) TableName() string { return "order_items" }

// Saga schema mirrors the saga Postgres adapter.
type sagaRecord struct {
	OrderID         string          `gorm:"primaryKey;column:order_id;size:36"`
	OrderNumber     string          `gorm:"column:order_number;size:32"`
	CustomerID      string          `gorm:"column:customer_id;size:64"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(10,2)"`
	Status          string          `gorm:"column:status;type:varchar(32);index"`
	OrderStatus     string          `gorm:"column:order_status;type:varchar(32)"`
	PaymentStatus   string          `gorm:"column:payment_status;type:varchar(32)"`
	PaymentID       string          `gorm:"column:payment_id;size:64"`
	PendingCommand  []byte          `gorm:"column:pending_command;type:jsonb"`
	PendingAwaiting pq.StringArray  `gorm:"column:pending_awaiting;type:text[]"`
	PendingAttempts int             `gorm:"column:pending_attempts"`
	PendingIssuedAt *time.Time      `gorm:"column:pending_issued_at"`
	PendingDeadline *time.Time      `gorm:"column:pending_deadline;index"`
	Compensations   pq.StringArray  `gorm:"column:compensations;type:text[]"`
	RefundRequested bool            `gorm:"column:refund_requested"`
	StuckReason     string          `gorm:"column:stuck_reason;type:text"`
	Version         int64           `gorm:"column:version"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;index"`
}

func (sagaRecord) TableName() string { return "sagas" }

// Payment schema mirrors the payments Postgres adapter.
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

// Notification schema mirrors the notifications Postgres adapter.
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

// Outbox schema mirrors the outbox Postgres store.
type outboxRecord struct {
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

func (outboxRecord) TableName() string { return "outbox_records" }

// Seen-set schema mirrors the dedup Postgres store.
type seenRecord struct {
	ConsumerGroup string    `gorm:"primaryKey;column:consumer_group;size:128"`
	EventID       string    `gorm:"primaryKey;column:event_id;size:64"`
	Kind          string    `gorm:"column:kind;size:64"`
	SubjectID     string    `gorm:"column:subject_id;size:64"`
	PayloadHash   string    `gorm:"column:payload_hash;size:64"`
	SeenAt        time.Time `gorm:"column:seen_at;index"`
}

func (seenRecord) TableName() string { return "consumer_seen_events" }
