// Package domain contains payout models and the transfer provider contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type RecipientType string

const (
	RecipientTypeCreator RecipientType = "creator"
	RecipientTypeSeller  RecipientType = "seller"
)

type PayoutStatus string

const (
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusSucceeded  PayoutStatus = "succeeded"
	PayoutStatusFailed     PayoutStatus = "failed"
)

// Payout is one settlement batch: a single recipient, a single currency,
// aggregating the cleared commission entries claimed for it. Its status is
// driven by the provider confirmation, never inferred locally.
type Payout struct {
	ID            snowflake.ID    `gorm:"primaryKey"`
	OrgID         snowflake.ID    `gorm:"not null;index"`
	RecipientID   snowflake.ID    `gorm:"not null;index"`
	RecipientType RecipientType   `gorm:"type:text;not null"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Fee           decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Currency      string          `gorm:"type:text;not null"`
	Status        PayoutStatus    `gorm:"type:text;not null;index"`
	ProviderRef   *string         `gorm:"type:text"`
	FailureReason *string         `gorm:"type:text"`
	EntryCount    int             `gorm:"not null"`
	PeriodStart   time.Time       `gorm:"not null"`
	PeriodEnd     time.Time       `gorm:"not null"`
	ScheduledDate time.Time       `gorm:"not null"`
	ProcessedDate *time.Time
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Payout) TableName() string { return "payouts" }

// TransferRequest is handed to the external banking collaborator.
type TransferRequest struct {
	PayoutID    snowflake.ID
	RecipientID snowflake.ID
	Amount      decimal.Decimal
	Currency    string
}

// TransferProvider initiates transfers with the external payment rail.
// Initiation never implies settlement; the provider confirms asynchronously.
type TransferProvider interface {
	Provider() string
	InitiateTransfer(ctx context.Context, req TransferRequest) (providerRef string, err error)
}

type Service interface {
	// ProcessCreator aggregates the creator's unclaimed CLEARED commission
	// entries into one PROCESSING payout per currency. Entries are claimed
	// inside the same transaction; they stay CLEARED until the provider
	// confirms settlement.
	ProcessCreator(ctx context.Context, creatorID snowflake.ID) ([]Payout, error)

	// ConfirmSettlement marks the payout's entries PAID and the payout
	// succeeded. Re-confirming a succeeded payout is a no-op.
	ConfirmSettlement(ctx context.Context, payoutID snowflake.ID, providerRef string) (*Payout, error)

	// FailSettlement releases the claimed entries back to the payable pool
	// and marks the payout failed.
	FailSettlement(ctx context.Context, payoutID snowflake.ID, reason string) (*Payout, error)

	Get(ctx context.Context, payoutID snowflake.ID) (*Payout, error)
	ListForRecipient(ctx context.Context, recipientID snowflake.ID) ([]Payout, error)
}

var (
	ErrInvalidCreator   = errors.New("invalid_creator")
	ErrPayoutNotFound   = errors.New("payout_not_found")
	ErrPayoutConflict   = errors.New("payout_conflict")
	ErrProviderNotFound = errors.New("provider_not_found")
)
