package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusRefunded  OrderStatus = "refunded"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is the header row synced from the marketplace ingestion collaborator.
type Order struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	OrgID             snowflake.ID `gorm:"not null;index"`
	Currency          string       `gorm:"type:text;not null"`
	Status            OrderStatus  `gorm:"type:text;not null"`
	ExternalCreatedAt time.Time    `gorm:"not null"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Order) TableName() string { return "orders" }

// OrderItem carries the post-discount pre-tax subtotal the split is computed on.
// Immutable once ingested; refunds and voids go through the ledger cancel flow.
type OrderItem struct {
	ID        snowflake.ID    `gorm:"primaryKey"`
	OrderID   snowflake.ID    `gorm:"not null;index"`
	OrgID     snowflake.ID    `gorm:"not null;index"`
	SKUID     snowflake.ID    `gorm:"not null;index"`
	ProductID snowflake.ID    `gorm:"not null;index"`
	Subtotal  decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Quantity  int             `gorm:"not null;default:1"`
	Currency  string          `gorm:"type:text;not null"`
	CreatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (OrderItem) TableName() string { return "order_items" }

var (
	ErrOrderNotFound     = errors.New("order_not_found")
	ErrOrderItemNotFound = errors.New("order_item_not_found")
)
