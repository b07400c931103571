package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creatorpay/internal/clock"
	ledgerdomain "github.com/smallbiznis/creatorpay/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/creatorpay/internal/observability/metrics"
	recondomain "github.com/smallbiznis/creatorpay/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) recondomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("reconciliation.service"),
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Reconcile(ctx context.Context, orgID snowflake.ID, start, end time.Time) (*recondomain.Report, error) {
	if orgID == 0 {
		return nil, recondomain.ErrInvalidOrganization
	}
	if !end.After(start) {
		return nil, recondomain.ErrInvalidPeriod
	}

	var entries []ledgerdomain.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND entry_type = ? AND created_at >= ? AND created_at < ?",
			orgID, ledgerdomain.EntryTypeCommission, start, end).
		Order("currency ASC, created_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	// Sums run in exact decimal arithmetic in-process rather than SQL
	// aggregates, so sqlite and postgres report identical cents.
	totalsByCurrency := map[string]*recondomain.CurrencyTotals{}
	var order []string
	for _, entry := range entries {
		totals, ok := totalsByCurrency[entry.Currency]
		if !ok {
			totals = &recondomain.CurrencyTotals{Currency: entry.Currency}
			totalsByCurrency[entry.Currency] = totals
			order = append(order, entry.Currency)
		}
		totals.EntryCount++

		switch entry.Status {
		case ledgerdomain.EntryStatusCancelled:
			// Cancelled amounts owe nobody anything.
		case ledgerdomain.EntryStatusPaid:
			totals.TotalCommission = totals.TotalCommission.Add(entry.Amount)
			totals.TotalPaid = totals.TotalPaid.Add(entry.Amount)
		case ledgerdomain.EntryStatusReserved, ledgerdomain.EntryStatusCleared:
			totals.TotalCommission = totals.TotalCommission.Add(entry.Amount)
			totals.TotalPending = totals.TotalPending.Add(entry.Amount)
		default:
			// An unrecognized status still owes the creator money but sits
			// in no bucket, which is exactly what the delta should expose.
			totals.TotalCommission = totals.TotalCommission.Add(entry.Amount)
		}
	}

	report := &recondomain.Report{
		OrgID:       orgID,
		PeriodStart: start,
		PeriodEnd:   end,
		Status:      recondomain.ReportStatusBalanced,
		GeneratedAt: s.clock.Now(),
	}
	for _, currency := range order {
		totals := totalsByCurrency[currency]
		totals.Delta = totals.TotalCommission.Sub(totals.TotalPaid).Sub(totals.TotalPending)
		if totals.Delta.Equal(decimal.Zero) {
			totals.Status = recondomain.ReportStatusBalanced
		} else {
			totals.Status = recondomain.ReportStatusDiscrepancy
			report.Status = recondomain.ReportStatusDiscrepancy
		}
		report.Currencies = append(report.Currencies, *totals)
	}

	if report.Status == recondomain.ReportStatusDiscrepancy {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordDiscrepancy()
		}
		s.log.Warn("reconciliation discrepancy",
			zap.String("org_id", orgID.String()),
			zap.Time("period_start", start),
			zap.Time("period_end", end),
		)
	}
	return report, nil
}
