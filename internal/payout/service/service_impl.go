package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/creatorpay/internal/audit/domain"
	"github.com/smallbiznis/creatorpay/internal/clock"
	"github.com/smallbiznis/creatorpay/internal/config"
	"github.com/smallbiznis/creatorpay/internal/events"
	ledgerdomain "github.com/smallbiznis/creatorpay/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/creatorpay/internal/observability/metrics"
	payoutdomain "github.com/smallbiznis/creatorpay/internal/payout/domain"
	"github.com/smallbiznis/creatorpay/internal/payout/providers"
	pkgdb "github.com/smallbiznis/creatorpay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Registry   *providers.Registry
	LedgerSvc  ledgerdomain.Service
	AuditSvc   auditdomain.Service
	Outbox     *events.Outbox      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	provider   payoutdomain.TransferProvider
	ledgerSvc  ledgerdomain.Service
	auditSvc   auditdomain.Service
	outbox     *events.Outbox
	obsMetrics *obsmetrics.Metrics

	// feePercent is withheld from every payout batch, e.g. 1 for 1%.
	feePercent decimal.Decimal
	chunkSize  int
}

func NewService(p Params) (payoutdomain.Service, error) {
	feePercent, err := decimal.NewFromString(p.Cfg.PayoutFeePercent)
	if err != nil {
		return nil, fmt.Errorf("parse payout fee percent %q: %w", p.Cfg.PayoutFeePercent, err)
	}

	provider, err := p.Registry.Provider(p.Cfg.PayoutProvider)
	if err != nil {
		return nil, fmt.Errorf("payout provider %q: %w", p.Cfg.PayoutProvider, err)
	}

	chunkSize := p.Cfg.BulkChunkSize
	if chunkSize <= 0 {
		chunkSize = 500
	}

	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payout.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		provider:   provider,
		ledgerSvc:  p.LedgerSvc,
		auditSvc:   p.AuditSvc,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
		feePercent: feePercent,
		chunkSize:  chunkSize,
	}, nil
}

// claimGroup is one (org, currency) bucket of claimed commission entries.
type claimGroup struct {
	orgID    snowflake.ID
	currency string
	entries  []ledgerdomain.LedgerEntry
}

func (s *Service) ProcessCreator(ctx context.Context, creatorID snowflake.ID) ([]payoutdomain.Payout, error) {
	if creatorID == 0 {
		return nil, payoutdomain.ErrInvalidCreator
	}

	now := s.clock.Now()
	var payouts []payoutdomain.Payout
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// SKIP LOCKED keeps concurrent runs for the same creator from
		// blocking on each other; an entry is claimed by exactly one run.
		var claimed []ledgerdomain.LedgerEntry
		if err := pkgdb.LockForUpdateSkipLocked(tx.WithContext(ctx)).
			Where("creator_id = ? AND entry_type = ? AND status = ? AND payout_id IS NULL",
				creatorID, ledgerdomain.EntryTypeCommission, ledgerdomain.EntryStatusCleared).
			Order("created_at ASC, id ASC").
			Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		for _, group := range groupClaims(claimed) {
			payout := s.buildPayout(creatorID, group, now)

			if err := tx.WithContext(ctx).Create(&payout).Error; err != nil {
				return err
			}

			ids := make([]snowflake.ID, 0, len(group.entries))
			for _, entry := range group.entries {
				ids = append(ids, entry.ID)
			}
			for _, chunk := range chunkIDs(ids, s.chunkSize) {
				if err := tx.WithContext(ctx).
					Model(&ledgerdomain.LedgerEntry{}).
					Where("id IN ? AND payout_id IS NULL", chunk).
					Update("payout_id", payout.ID).Error; err != nil {
					return err
				}
			}

			payouts = append(payouts, payout)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(payouts) == 0 {
		return nil, nil
	}

	for i := range payouts {
		s.initiateTransfer(ctx, &payouts[i], creatorID)
	}

	creatorIDStr := creatorID.String()
	for _, payout := range payouts {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordPayoutCreated()
		}
		if auditErr := s.auditSvc.AuditLog(ctx, &payout.OrgID, "", nil, "payout.created", "payout", &creatorIDStr, map[string]any{
			"payout_id":   payout.ID.String(),
			"amount":      payout.Amount.String(),
			"fee":         payout.Fee.String(),
			"currency":    payout.Currency,
			"entry_count": payout.EntryCount,
		}); auditErr != nil {
			s.log.Warn("failed to write payout audit log", zap.Error(auditErr))
		}
	}
	return payouts, nil
}

func (s *Service) buildPayout(creatorID snowflake.ID, group claimGroup, now time.Time) payoutdomain.Payout {
	total := decimal.Zero
	periodStart := group.entries[0].CreatedAt
	periodEnd := group.entries[0].CreatedAt
	for _, entry := range group.entries {
		total = total.Add(entry.Amount)
		if entry.CreatedAt.Before(periodStart) {
			periodStart = entry.CreatedAt
		}
		if entry.CreatedAt.After(periodEnd) {
			periodEnd = entry.CreatedAt
		}
	}

	return payoutdomain.Payout{
		ID:            s.genID.Generate(),
		OrgID:         group.orgID,
		RecipientID:   creatorID,
		RecipientType: payoutdomain.RecipientTypeCreator,
		Amount:        total,
		Fee:           total.Mul(s.feePercent).Div(hundred).Round(2),
		Currency:      group.currency,
		Status:        payoutdomain.PayoutStatusProcessing,
		EntryCount:    len(group.entries),
		PeriodStart:   periodStart,
		PeriodEnd:     periodEnd,
		ScheduledDate: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// initiateTransfer runs after the claim transaction committed. A failed
// initiation releases the claim immediately instead of stranding the batch.
func (s *Service) initiateTransfer(ctx context.Context, payout *payoutdomain.Payout, creatorID snowflake.ID) {
	ref, err := s.provider.InitiateTransfer(ctx, payoutdomain.TransferRequest{
		PayoutID:    payout.ID,
		RecipientID: creatorID,
		Amount:      payout.Amount.Sub(payout.Fee),
		Currency:    payout.Currency,
	})
	if err != nil {
		s.log.Error("transfer initiation failed",
			zap.String("payout_id", payout.ID.String()),
			zap.Error(err),
		)
		if _, failErr := s.FailSettlement(ctx, payout.ID, "transfer_initiation_failed"); failErr != nil {
			s.log.Error("failed to release payout after initiation failure",
				zap.String("payout_id", payout.ID.String()),
				zap.Error(failErr),
			)
		}
		return
	}

	if err := s.db.WithContext(ctx).
		Model(&payoutdomain.Payout{}).
		Where("id = ?", payout.ID).
		Update("provider_ref", ref).Error; err != nil {
		s.log.Warn("failed to record provider reference",
			zap.String("payout_id", payout.ID.String()),
			zap.Error(err),
		)
		return
	}
	payout.ProviderRef = &ref
}

func (s *Service) ConfirmSettlement(ctx context.Context, payoutID snowflake.ID, providerRef string) (*payoutdomain.Payout, error) {
	now := s.clock.Now()
	var (
		payout payoutdomain.Payout
		replay bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The row lock serializes opposite-outcome webhooks for the same
		// payout: whichever arrives second re-reads the decided status here.
		if err := pkgdb.LockForUpdate(tx.WithContext(ctx)).
			Where("id = ?", payoutID).
			First(&payout).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return payoutdomain.ErrPayoutNotFound
			}
			return err
		}

		switch payout.Status {
		case payoutdomain.PayoutStatusSucceeded:
			// Settlement replay from the provider.
			replay = true
			return nil
		case payoutdomain.PayoutStatusFailed:
			return payoutdomain.ErrPayoutConflict
		}

		if err := tx.WithContext(ctx).
			Model(&payoutdomain.Payout{}).
			Where("id = ?", payoutID).
			Updates(map[string]any{
				"status":         payoutdomain.PayoutStatusSucceeded,
				"provider_ref":   providerRef,
				"processed_date": now,
				"updated_at":     now,
			}).Error; err != nil {
			return err
		}

		if s.outbox != nil {
			return s.outbox.PublishTx(ctx, tx, events.Event{
				OrgID: payout.OrgID,
				Type:  events.EventPayoutSucceeded,
				Payload: map[string]any{
					"payout_id":    payoutID.String(),
					"recipient_id": payout.RecipientID.String(),
					"amount":       payout.Amount.String(),
					"currency":     payout.Currency,
					"provider_ref": providerRef,
				},
				DedupeKey: "payout_settled:" + payoutID.String(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Entries flip after the payout row committed. A crash in between is
	// healed because replays reach this point too and MarkPaid skips entries
	// already PAID under the same payout.
	var entryIDs []snowflake.ID
	if err := s.db.WithContext(ctx).
		Model(&ledgerdomain.LedgerEntry{}).
		Where("payout_id = ? AND entry_type = ?", payoutID, ledgerdomain.EntryTypeCommission).
		Order("created_at ASC, id ASC").
		Pluck("id", &entryIDs).Error; err != nil {
		return nil, err
	}
	if len(entryIDs) > 0 {
		if _, err := s.ledgerSvc.MarkPaid(ctx, entryIDs, payoutID); err != nil {
			return nil, err
		}
	}

	if !replay {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordSettlement("succeeded")
		}
		s.log.Info("payout settled",
			zap.String("payout_id", payoutID.String()),
			zap.String("provider_ref", providerRef),
			zap.Int("entry_count", len(entryIDs)),
		)
	}
	return s.Get(ctx, payoutID)
}

func (s *Service) FailSettlement(ctx context.Context, payoutID snowflake.ID, reason string) (*payoutdomain.Payout, error) {
	now := s.clock.Now()
	var (
		payout payoutdomain.Payout
		replay bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := pkgdb.LockForUpdate(tx.WithContext(ctx)).
			Where("id = ?", payoutID).
			First(&payout).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return payoutdomain.ErrPayoutNotFound
			}
			return err
		}

		switch payout.Status {
		case payoutdomain.PayoutStatusFailed:
			replay = true
			return nil
		case payoutdomain.PayoutStatusSucceeded:
			return payoutdomain.ErrPayoutConflict
		}

		// Releasing the claim returns the entries to the payable pool for
		// the next run. Only CLEARED rows are released; nothing was PAID.
		if err := tx.WithContext(ctx).
			Model(&ledgerdomain.LedgerEntry{}).
			Where("payout_id = ? AND status = ?", payoutID, ledgerdomain.EntryStatusCleared).
			Update("payout_id", nil).Error; err != nil {
			return err
		}

		if err := tx.WithContext(ctx).
			Model(&payoutdomain.Payout{}).
			Where("id = ?", payoutID).
			Updates(map[string]any{
				"status":         payoutdomain.PayoutStatusFailed,
				"failure_reason": reason,
				"processed_date": now,
				"updated_at":     now,
			}).Error; err != nil {
			return err
		}

		if s.outbox != nil {
			return s.outbox.PublishTx(ctx, tx, events.Event{
				OrgID: payout.OrgID,
				Type:  events.EventPayoutFailed,
				Payload: map[string]any{
					"payout_id":    payoutID.String(),
					"recipient_id": payout.RecipientID.String(),
					"amount":       payout.Amount.String(),
					"currency":     payout.Currency,
					"reason":       reason,
				},
				DedupeKey: "payout_failed:" + payoutID.String(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if replay {
		return &payout, nil
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordSettlement("failed")
	}
	s.log.Warn("payout failed",
		zap.String("payout_id", payoutID.String()),
		zap.String("reason", reason),
	)
	return s.Get(ctx, payoutID)
}

func (s *Service) Get(ctx context.Context, payoutID snowflake.ID) (*payoutdomain.Payout, error) {
	var payout payoutdomain.Payout
	err := s.db.WithContext(ctx).Where("id = ?", payoutID).First(&payout).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, payoutdomain.ErrPayoutNotFound
		}
		return nil, err
	}
	return &payout, nil
}

func (s *Service) ListForRecipient(ctx context.Context, recipientID snowflake.ID) ([]payoutdomain.Payout, error) {
	var payouts []payoutdomain.Payout
	err := s.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC, id DESC").
		Find(&payouts).Error
	return payouts, err
}

func groupClaims(entries []ledgerdomain.LedgerEntry) []claimGroup {
	var groups []claimGroup
	index := map[string]int{}
	for _, entry := range entries {
		key := entry.OrgID.String() + "/" + entry.Currency
		pos, ok := index[key]
		if !ok {
			pos = len(groups)
			index[key] = pos
			groups = append(groups, claimGroup{orgID: entry.OrgID, currency: entry.Currency})
		}
		groups[pos].entries = append(groups[pos].entries, entry)
	}
	return groups
}

func chunkIDs(ids []snowflake.ID, size int) [][]snowflake.ID {
	if size <= 0 {
		size = len(ids)
	}
	var chunks [][]snowflake.ID
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
