// Package domain contains the reconciliation report contracts.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type ReportStatus string

const (
	ReportStatusBalanced    ReportStatus = "balanced"
	ReportStatusDiscrepancy ReportStatus = "discrepancy"
)

// CurrencyTotals reconciles one currency of the report window. Commission
// is every non-cancelled commission amount; paid and pending partition it
// by lifecycle status. Delta is commission minus paid minus pending and is
// zero when the journal is internally consistent.
type CurrencyTotals struct {
	Currency        string          `json:"currency"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	TotalPaid       decimal.Decimal `json:"total_paid"`
	TotalPending    decimal.Decimal `json:"total_pending"`
	Delta           decimal.Decimal `json:"delta"`
	Status          ReportStatus    `json:"status"`
	EntryCount      int64           `json:"entry_count"`
}

type Report struct {
	OrgID       snowflake.ID     `json:"org_id"`
	PeriodStart time.Time        `json:"period_start"`
	PeriodEnd   time.Time        `json:"period_end"`
	Status      ReportStatus     `json:"status"`
	Currencies  []CurrencyTotals `json:"currencies"`
	GeneratedAt time.Time        `json:"generated_at"`
}

type Service interface {
	// Reconcile sums commission entries created inside [start, end) per
	// currency and reports whether paid plus pending accounts for every
	// non-cancelled commission amount.
	Reconcile(ctx context.Context, orgID snowflake.ID, start, end time.Time) (*Report, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPeriod       = errors.New("invalid_period")
)
