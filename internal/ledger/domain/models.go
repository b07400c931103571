// Package domain contains the journal models and contracts.
//
// Entries are append-mostly: amount and currency are write-once, only the
// lifecycle status and its timestamps ever change. That is what keeps the
// audit trail trustworthy.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type EntryType string

const (
	EntryTypeSale        EntryType = "sale"
	EntryTypePlatformFee EntryType = "platform_fee"
	EntryTypeCommission  EntryType = "commission"
	EntryTypePaymentFee  EntryType = "payment_fee"
	EntryTypePayout      EntryType = "payout"
	EntryTypeRefund      EntryType = "refund"
	EntryTypeAdjustment  EntryType = "adjustment"
)

type EntryStatus string

const (
	EntryStatusReserved  EntryStatus = "reserved"
	EntryStatusCleared   EntryStatus = "cleared"
	EntryStatusPaid      EntryStatus = "paid"
	EntryStatusCancelled EntryStatus = "cancelled"
)

// Terminal reports whether no further transition may leave the status.
func (s EntryStatus) Terminal() bool {
	return s == EntryStatusPaid || s == EntryStatusCancelled
}

// LedgerEntry is one immutable-amount record of money movement.
type LedgerEntry struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	OrgID       snowflake.ID      `gorm:"not null;index"`
	OrderID     snowflake.ID      `gorm:"not null;index"`
	OrderItemID *snowflake.ID     `gorm:"index;uniqueIndex:ux_ledger_entries_item_type,priority:1"`
	PayoutID    *snowflake.ID     `gorm:"index"`
	CreatorID   *snowflake.ID     `gorm:"index"`
	EntryType   EntryType         `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_item_type,priority:2"`
	Amount      decimal.Decimal   `gorm:"type:decimal(20,2);not null"`
	Currency    string            `gorm:"type:text;not null"`
	Status      EntryStatus       `gorm:"type:text;not null;index"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"not null;index"`
	ClearedAt   *time.Time
	PaidAt      *time.Time
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// SaleSplit is the four-way monetary breakdown committed as one atomic batch.
// Seller take is implicit: Sale - PlatformFee - Commission - PaymentFee.
type SaleSplit struct {
	OrgID       snowflake.ID
	OrderID     snowflake.ID
	OrderItemID snowflake.ID
	CreatorID   snowflake.ID
	Currency    string

	Sale        decimal.Decimal
	PlatformFee decimal.Decimal
	Commission  decimal.Decimal
	PaymentFee  decimal.Decimal

	AppliedRuleID    snowflake.ID
	AppliedRuleScope string
}

// SellerTake derives the implicit seller remainder of the split.
func (s SaleSplit) SellerTake() decimal.Decimal {
	return s.Sale.Sub(s.PlatformFee).Sub(s.Commission).Sub(s.PaymentFee)
}

type ListEntriesRequest struct {
	OrgID     snowflake.ID
	OrderID   snowflake.ID
	CreatorID snowflake.ID
	EntryType EntryType
	Status    EntryStatus
	Limit     int
}

type Service interface {
	// RecordSaleSplit writes the four entries of a processed order item in
	// one transaction, all RESERVED. A partial batch is never observable.
	RecordSaleSplit(ctx context.Context, split SaleSplit) ([]LedgerEntry, error)

	// Clear transitions every RESERVED entry of the order to CLEARED with a
	// single timestamp. Returns the updated entries; empty when none were
	// RESERVED.
	Clear(ctx context.Context, orderID snowflake.ID) ([]LedgerEntry, error)

	// Cancel transitions the order's RESERVED and CLEARED entries to
	// CANCELLED, keeping prior metadata and recording the reason. Fails
	// with ErrStatusConflict when any entry is already PAID.
	Cancel(ctx context.Context, orderID snowflake.ID, reason string) ([]LedgerEntry, error)

	// FindClearedCommissions returns unclaimed CLEARED commission entries
	// for the creator in FIFO order (created_at, id ascending).
	FindClearedCommissions(ctx context.Context, creatorID snowflake.ID, currency string) ([]LedgerEntry, error)

	// MarkPaid transitions the given entries from CLEARED to PAID, stamping
	// paid_at and the payout id. Entries already PAID under the same payout
	// are skipped; any other state is a conflict.
	MarkPaid(ctx context.Context, entryIDs []snowflake.ID, payoutID snowflake.ID) ([]LedgerEntry, error)

	// ListEntries is the read-only reporting query.
	ListEntries(ctx context.Context, req ListEntriesRequest) ([]LedgerEntry, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidOrder        = errors.New("invalid_order")
	ErrInvalidCreator      = errors.New("invalid_creator")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrUnbalancedSplit     = errors.New("unbalanced_split")
	ErrSplitExists         = errors.New("split_exists")
	ErrEntryNotFound       = errors.New("entry_not_found")
	ErrStatusConflict      = errors.New("status_conflict")
)

// ValidateSplit checks the split before anything is written: every component
// non-negative, including the implicit seller take.
func ValidateSplit(split SaleSplit) error {
	if split.OrgID == 0 {
		return ErrInvalidOrganization
	}
	if split.OrderID == 0 || split.OrderItemID == 0 {
		return ErrInvalidOrder
	}
	if split.CreatorID == 0 {
		return ErrInvalidCreator
	}
	if split.Currency == "" {
		return ErrInvalidCurrency
	}
	for _, amount := range []decimal.Decimal{split.Sale, split.PlatformFee, split.Commission, split.PaymentFee} {
		if amount.IsNegative() {
			return ErrInvalidAmount
		}
	}
	if split.SellerTake().IsNegative() {
		return ErrUnbalancedSplit
	}
	return nil
}
