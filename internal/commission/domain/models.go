// Package domain contains the split calculation contracts.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ruledomain "github.com/smallbiznis/creatorpay/internal/commissionrule/domain"
	ledgerdomain "github.com/smallbiznis/creatorpay/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/creatorpay/internal/order/domain"
)

// Breakdown is the four-way split of an order item subtotal. The components
// always sum back to the subtotal exactly; Clamped marks that the creator
// commission was reduced to keep the seller take non-negative.
type Breakdown struct {
	Subtotal          decimal.Decimal
	PlatformFee       decimal.Decimal
	CreatorCommission decimal.Decimal
	PaymentFee        decimal.Decimal
	SellerTake        decimal.Decimal
	Clamped           bool
}

type ProcessOrderItemRequest struct {
	Order      orderdomain.Order
	Item       orderdomain.OrderItem
	CampaignID *snowflake.ID
	// CreatorID may be omitted when the resolved campaign rule names one.
	CreatorID *snowflake.ID
}

type ProcessResult struct {
	Breakdown   Breakdown
	AppliedRule *ruledomain.CommissionRule
	Entries     []ledgerdomain.LedgerEntry
}

type Service interface {
	// Calculate turns (order item, rule) into the four-way split in exact
	// decimal arithmetic. Pure; it never touches storage.
	Calculate(item orderdomain.OrderItem, rule ruledomain.CommissionRule) (Breakdown, error)

	// ProcessOrderItem resolves the governing rule, calculates the split
	// and commits it to the journal as one RESERVED batch.
	ProcessOrderItem(ctx context.Context, req ProcessOrderItemRequest) (*ProcessResult, error)
}

var (
	ErrInvalidSubtotal = errors.New("invalid_subtotal")
	ErrMissingCreator  = errors.New("missing_creator")
)
