package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Status is the lifecycle status of an order. An order in StatusCart is a
// mutable draft ("cart"); every other status belongs to the finalized phase.
type Status string

const (
	StatusCart       Status = "cart"
	StatusAccepted   Status = "accepted"
	StatusOngoing    Status = "ongoing"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
	StatusIncomplete Status = "incomplete"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusIncomplete
}

// Actor identifies who drove a status transition.
type Actor string

const (
	ActorSystem   Actor = "system"
	ActorBusiness Actor = "business"
	ActorCustomer Actor = "customer"
)

// DeliveryMode is how the customer receives the order.
type DeliveryMode string

const (
	DeliveryModePickup   DeliveryMode = "pickup"
	DeliveryModeDelivery DeliveryMode = "delivery"
	DeliveryModeOnSite   DeliveryMode = "on_site"
)

// Scope is the (business, operating unit) pair that owns an order. BranchID
// is nil when the business has no branches and operates as a single unit.
type Scope struct {
	BusinessID uuid.UUID
	BranchID   *uuid.UUID
}

// Business represents a tenant on the platform.
type Business struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Name      string         `gorm:"not null" json:"name"`
	Timezone  string         `gorm:"not null;default:'UTC'" json:"timezone"`
	Currency  string         `gorm:"not null;default:'USD'" json:"currency"`
	// DeliveryFee is the flat fee added to the order total when the
	// delivery mode is "delivery".
	DeliveryFee decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"delivery_fee"`
	// MenuURL points at the menu document sent to customers on request.
	MenuURL string `json:"menu_url"`
}

// Branch is an operating unit of a business.
type Branch struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
	BusinessID uuid.UUID      `gorm:"type:uuid;not null;index" json:"business_id"`
	Name       string         `gorm:"not null" json:"name"`
	Address    string         `json:"address"`
	Business   Business       `gorm:"foreignKey:BusinessID" json:"-"`
}

// OperatingHours is one weekday row of a unit's opening schedule. Rows with a
// nil BranchID apply business-wide; a branch row overrides the business row
// for the same weekday. Open and close are minutes from midnight local time.
type OperatingHours struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	BusinessID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"business_id"`
	BranchID    *uuid.UUID `gorm:"type:uuid;index" json:"branch_id"`
	Weekday     int        `gorm:"not null" json:"weekday"`
	OpenMinute  int        `gorm:"not null" json:"open_minute"`
	CloseMinute int        `gorm:"not null" json:"close_minute"`
	Closed      bool       `gorm:"not null;default:false" json:"closed"`
}

// CatalogItem is a sellable item. The scheduling fields are read-only from
// this service's perspective; catalog writes happen elsewhere.
type CatalogItem struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt  `gorm:"index" json:"-"`
	BusinessID      uuid.UUID       `gorm:"type:uuid;not null;index" json:"business_id"`
	Name            string          `gorm:"not null" json:"name"`
	Price           decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Available       bool            `gorm:"not null;default:true" json:"available"`
	Schedulable     bool            `gorm:"not null;default:false" json:"schedulable"`
	ScheduleOnly    bool            `gorm:"not null;default:false" json:"schedule_only"`
	Exclusive       bool            `gorm:"not null;default:false" json:"exclusive"`
	MinLeadHours    int             `gorm:"not null;default:0" json:"min_lead_hours"`
	DurationMinutes int             `gorm:"not null;default:60" json:"duration_minutes"`
	// AvailableFrom/To bound the bookable time of day in minutes from
	// midnight; nil means unbounded on that side.
	AvailableFrom *int `json:"available_from"`
	AvailableTo   *int `json:"available_to"`
	// AvailableWeekdays is a bitmask with bit n set for time.Weekday(n);
	// zero means every weekday is allowed.
	AvailableWeekdays int `gorm:"not null;default:0" json:"available_weekdays"`
	// Capacity is the number of concurrent bookings the item supports at
	// overlapping times; nil means unlimited.
	Capacity      *int           `json:"capacity"`
	DurationTiers []DurationTier `gorm:"foreignKey:CatalogItemID" json:"-"`
}

// WeekdayAllowed reports whether the item can be booked on the given weekday.
func (c *CatalogItem) WeekdayAllowed(d time.Weekday) bool {
	if c.AvailableWeekdays == 0 {
		return true
	}
	return c.AvailableWeekdays&(1<<uint(d)) != 0
}

// DurationTier is a price-by-duration variant of a schedulable item.
type DurationTier struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt  `gorm:"index" json:"-"`
	CatalogItemID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"catalog_item_id"`
	DurationMinutes int             `gorm:"not null" json:"duration_minutes"`
	Price           decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
}

// Order is the central entity, used in two phases of the same schema: a
// mutable draft while Status is StatusCart, a finalized order afterwards.
// At most one open cart exists per (scope, customer) at any time.
type Order struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
	BusinessID uuid.UUID      `gorm:"type:uuid;not null;index:idx_orders_scope" json:"business_id"`
	BranchID   *uuid.UUID     `gorm:"type:uuid;index:idx_orders_scope" json:"branch_id"`
	// CustomerKey is the channel-qualified customer identifier, e.g.
	// "whatsapp:+15551234567".
	CustomerKey     string           `gorm:"not null;index:idx_orders_scope" json:"customer_key"`
	Channel         string           `gorm:"not null" json:"channel"`
	Status          Status           `gorm:"not null;default:'cart';index" json:"status"`
	DeliveryMode    *DeliveryMode    `json:"delivery_mode"`
	DeliveryAddress *string          `json:"delivery_address"`
	ScheduledFor    *time.Time       `json:"scheduled_for"`
	Notes           string           `json:"notes"`
	Subtotal        decimal.Decimal  `gorm:"type:numeric(12,2);not null;default:0" json:"subtotal"`
	DeliveryFee     decimal.Decimal  `gorm:"type:numeric(12,2);not null;default:0" json:"delivery_fee"`
	Total           decimal.Decimal  `gorm:"type:numeric(12,2);not null;default:0" json:"total"`
	CompletedAt     *time.Time       `json:"completed_at"`
	CancelledAt     *time.Time       `json:"cancelled_at"`
	Items           []OrderItem      `gorm:"foreignKey:OrderID" json:"items"`
	StatusLogs      []OrderStatusLog `gorm:"foreignKey:OrderID" json:"-"`
}

// Scope returns the owning (business, unit) pair.
func (o *Order) Scope() Scope {
	return Scope{BusinessID: o.BusinessID, BranchID: o.BranchID}
}

// RecalculateTotals recomputes subtotal and total from the line items.
func (o *Order) RecalculateTotals() {
	subtotal := decimal.Zero
	for i := range o.Items {
		line := o.Items[i].UnitPrice.Mul(decimal.NewFromInt(int64(o.Items[i].Quantity)))
		subtotal = subtotal.Add(line)
	}
	o.Subtotal = subtotal
	o.Total = subtotal.Add(o.DeliveryFee)
}

// OrderItem is a line item. Name and UnitPrice are snapshots taken when the
// item was added so that later catalog edits never change historical totals.
type OrderItem struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	OrderID        uuid.UUID       `gorm:"type:uuid;not null;index" json:"order_id"`
	CatalogItemID  uuid.UUID       `gorm:"type:uuid;not null;index" json:"catalog_item_id"`
	DurationTierID *uuid.UUID      `gorm:"type:uuid" json:"duration_tier_id"`
	Name           string          `gorm:"not null" json:"name"`
	UnitPrice      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price"`
	Quantity       int             `gorm:"not null;default:1" json:"quantity"`
}

// OrderStatusLog is an append-only audit record of a status transition.
// Rows are never updated or deleted.
type OrderStatusLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	OrderID   uuid.UUID `gorm:"type:uuid;not null;index" json:"order_id"`
	Status    Status    `gorm:"not null" json:"status"`
	Actor     Actor     `gorm:"not null" json:"actor"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Business{},
		&Branch{},
		&OperatingHours{},
		&CatalogItem{},
		&DurationTier{},
		&Order{},
		&OrderItem{},
		&OrderStatusLog{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
