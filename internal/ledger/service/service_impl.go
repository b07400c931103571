package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/creatorpay/internal/audit/domain"
	"github.com/smallbiznis/creatorpay/internal/clock"
	"github.com/smallbiznis/creatorpay/internal/config"
	"github.com/smallbiznis/creatorpay/internal/events"
	ledgerdomain "github.com/smallbiznis/creatorpay/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/creatorpay/internal/observability/metrics"
	pkgdb "github.com/smallbiznis/creatorpay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	AuditSvc   auditdomain.Service
	Outbox     *events.Outbox      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	chunkSize  int
	auditSvc   auditdomain.Service
	outbox     *events.Outbox
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	chunkSize := p.Cfg.BulkChunkSize
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		chunkSize:  chunkSize,
		auditSvc:   p.AuditSvc,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) RecordSaleSplit(ctx context.Context, split ledgerdomain.SaleSplit) ([]ledgerdomain.LedgerEntry, error) {
	if err := ledgerdomain.ValidateSplit(split); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	itemID := split.OrderItemID
	creatorID := split.CreatorID
	meta := datatypes.JSONMap{
		"applied_rule_id":    split.AppliedRuleID.String(),
		"applied_rule_scope": split.AppliedRuleScope,
	}
	commissionMeta := datatypes.JSONMap{
		"applied_rule_id":    split.AppliedRuleID.String(),
		"applied_rule_scope": split.AppliedRuleScope,
		"creator_id":         creatorID.String(),
	}

	entries := []ledgerdomain.LedgerEntry{
		{
			ID:          s.genID.Generate(),
			OrgID:       split.OrgID,
			OrderID:     split.OrderID,
			OrderItemID: &itemID,
			EntryType:   ledgerdomain.EntryTypeSale,
			Amount:      split.Sale,
			Currency:    split.Currency,
			Status:      ledgerdomain.EntryStatusReserved,
			Metadata:    meta,
			CreatedAt:   now,
		},
		{
			ID:          s.genID.Generate(),
			OrgID:       split.OrgID,
			OrderID:     split.OrderID,
			OrderItemID: &itemID,
			EntryType:   ledgerdomain.EntryTypePlatformFee,
			Amount:      split.PlatformFee,
			Currency:    split.Currency,
			Status:      ledgerdomain.EntryStatusReserved,
			Metadata:    meta,
			CreatedAt:   now,
		},
		{
			ID:          s.genID.Generate(),
			OrgID:       split.OrgID,
			OrderID:     split.OrderID,
			OrderItemID: &itemID,
			CreatorID:   &creatorID,
			EntryType:   ledgerdomain.EntryTypeCommission,
			Amount:      split.Commission,
			Currency:    split.Currency,
			Status:      ledgerdomain.EntryStatusReserved,
			Metadata:    commissionMeta,
			CreatedAt:   now,
		},
		{
			ID:          s.genID.Generate(),
			OrgID:       split.OrgID,
			OrderID:     split.OrderID,
			OrderItemID: &itemID,
			EntryType:   ledgerdomain.EntryTypePaymentFee,
			Amount:      split.PaymentFee,
			Currency:    split.Currency,
			Status:      ledgerdomain.EntryStatusReserved,
			Metadata:    meta,
			CreatedAt:   now,
		},
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Create(&entries).Error; err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return ledgerdomain.ErrSplitExists
			}
			return err
		}

		if s.outbox != nil {
			if err := s.outbox.PublishTx(ctx, tx, events.Event{
				OrgID: split.OrgID,
				Type:  events.EventLedgerEntryCreated,
				Payload: map[string]any{
					"order_id":      split.OrderID.String(),
					"order_item_id": itemID.String(),
					"creator_id":    creatorID.String(),
					"currency":      split.Currency,
				},
				DedupeKey: "sale_split:" + itemID.String(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	itemIDStr := itemID.String()
	if auditErr := s.auditSvc.AuditLog(ctx, &split.OrgID, "", nil, "ledger.sale_split_recorded", "order_item", &itemIDStr, map[string]any{
		"order_id":         split.OrderID.String(),
		"applied_rule_id":  split.AppliedRuleID.String(),
		"sale_amount":      split.Sale.String(),
		"commission":       split.Commission.String(),
		"platform_fee":     split.PlatformFee.String(),
		"payment_fee":      split.PaymentFee.String(),
		"seller_take":      split.SellerTake().String(),
		"currency":         split.Currency,
		"creator_id":       creatorID.String(),
		"entry_count":      len(entries),
		"applied_at_epoch": now.Unix(),
	}); auditErr != nil {
		s.log.Warn("failed to write ledger audit log", zap.Error(auditErr))
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordSaleSplit()
	}
	return entries, nil
}

func (s *Service) Clear(ctx context.Context, orderID snowflake.ID) ([]ledgerdomain.LedgerEntry, error) {
	if orderID == 0 {
		return nil, ledgerdomain.ErrInvalidOrder
	}

	now := s.clock.Now()
	var updated []ledgerdomain.LedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids, err := s.collectEntryIDs(ctx, tx, orderID, []ledgerdomain.EntryStatus{ledgerdomain.EntryStatusReserved})
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		for _, chunk := range chunkIDs(ids, s.chunkSize) {
			if err := tx.WithContext(ctx).
				Model(&ledgerdomain.LedgerEntry{}).
				Where("id IN ? AND status = ?", chunk, ledgerdomain.EntryStatusReserved).
				Updates(map[string]any{
					"status":     ledgerdomain.EntryStatusCleared,
					"cleared_at": now,
				}).Error; err != nil {
				return err
			}
		}

		return tx.WithContext(ctx).
			Where("id IN ?", ids).
			Order("created_at ASC, id ASC").
			Find(&updated).Error
	})
	if err != nil {
		return nil, err
	}

	if len(updated) > 0 {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordClear(len(updated))
		}
		s.log.Info("ledger entries cleared",
			zap.String("order_id", orderID.String()),
			zap.Int("entry_count", len(updated)),
		)
	}
	return updated, nil
}

func (s *Service) Cancel(ctx context.Context, orderID snowflake.ID, reason string) ([]ledgerdomain.LedgerEntry, error) {
	if orderID == 0 {
		return nil, ledgerdomain.ErrInvalidOrder
	}

	now := s.clock.Now()
	var updated []ledgerdomain.LedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var paidCount int64
		if err := tx.WithContext(ctx).
			Model(&ledgerdomain.LedgerEntry{}).
			Where("order_id = ? AND status = ?", orderID, ledgerdomain.EntryStatusPaid).
			Count(&paidCount).Error; err != nil {
			return err
		}
		if paidCount > 0 {
			return ledgerdomain.ErrStatusConflict
		}

		var targets []ledgerdomain.LedgerEntry
		if err := pkgdb.LockForUpdate(tx.WithContext(ctx)).
			Where("order_id = ? AND status IN ?", orderID, []ledgerdomain.EntryStatus{
				ledgerdomain.EntryStatusReserved,
				ledgerdomain.EntryStatusCleared,
			}).
			Order("created_at ASC, id ASC").
			Find(&targets).Error; err != nil {
			return err
		}
		if len(targets) == 0 {
			return nil
		}

		// Metadata differs per row, so cancellation merges row by row
		// instead of one bulk UPDATE.
		for i := range targets {
			meta := targets[i].Metadata
			if meta == nil {
				meta = datatypes.JSONMap{}
			}
			meta["cancel_reason"] = reason
			meta["cancelled_at"] = now.Format(time.RFC3339)

			if err := tx.WithContext(ctx).
				Model(&ledgerdomain.LedgerEntry{}).
				Where("id = ?", targets[i].ID).
				Updates(map[string]any{
					"status":   ledgerdomain.EntryStatusCancelled,
					"metadata": meta,
				}).Error; err != nil {
				return err
			}
			targets[i].Status = ledgerdomain.EntryStatusCancelled
			targets[i].Metadata = meta
		}
		updated = targets
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(updated) > 0 {
		orderIDStr := orderID.String()
		if auditErr := s.auditSvc.AuditLog(ctx, &updated[0].OrgID, "", nil, "ledger.entries_cancelled", "order", &orderIDStr, map[string]any{
			"reason":      reason,
			"entry_count": len(updated),
		}); auditErr != nil {
			s.log.Warn("failed to write ledger audit log", zap.Error(auditErr))
		}
		if s.obsMetrics != nil {
			s.obsMetrics.RecordCancel(len(updated))
		}
	}
	return updated, nil
}

func (s *Service) FindClearedCommissions(ctx context.Context, creatorID snowflake.ID, currency string) ([]ledgerdomain.LedgerEntry, error) {
	if creatorID == 0 {
		return nil, ledgerdomain.ErrInvalidCreator
	}

	stmt := s.db.WithContext(ctx).
		Where("creator_id = ? AND entry_type = ? AND status = ? AND payout_id IS NULL",
			creatorID, ledgerdomain.EntryTypeCommission, ledgerdomain.EntryStatusCleared)
	if currency != "" {
		stmt = stmt.Where("currency = ?", currency)
	}

	var entries []ledgerdomain.LedgerEntry
	err := stmt.Order("created_at ASC, id ASC").Find(&entries).Error
	return entries, err
}

func (s *Service) MarkPaid(ctx context.Context, entryIDs []snowflake.ID, payoutID snowflake.ID) ([]ledgerdomain.LedgerEntry, error) {
	if len(entryIDs) == 0 || payoutID == 0 {
		return nil, ledgerdomain.ErrEntryNotFound
	}

	now := s.clock.Now()
	var updated []ledgerdomain.LedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var targets []ledgerdomain.LedgerEntry
		if err := pkgdb.LockForUpdate(tx.WithContext(ctx)).
			Where("id IN ?", entryIDs).
			Order("created_at ASC, id ASC").
			Find(&targets).Error; err != nil {
			return err
		}
		if len(targets) != len(entryIDs) {
			return ledgerdomain.ErrEntryNotFound
		}

		pending := make([]snowflake.ID, 0, len(targets))
		for _, entry := range targets {
			switch entry.Status {
			case ledgerdomain.EntryStatusCleared:
				pending = append(pending, entry.ID)
			case ledgerdomain.EntryStatusPaid:
				// Idempotent settlement replay for the same payout.
				if entry.PayoutID == nil || *entry.PayoutID != payoutID {
					return ledgerdomain.ErrStatusConflict
				}
			default:
				return ledgerdomain.ErrStatusConflict
			}
		}

		for _, chunk := range chunkIDs(pending, s.chunkSize) {
			if err := tx.WithContext(ctx).
				Model(&ledgerdomain.LedgerEntry{}).
				Where("id IN ? AND status = ?", chunk, ledgerdomain.EntryStatusCleared).
				Updates(map[string]any{
					"status":    ledgerdomain.EntryStatusPaid,
					"paid_at":   now,
					"payout_id": payoutID,
				}).Error; err != nil {
				return err
			}
		}

		return tx.WithContext(ctx).
			Where("id IN ?", entryIDs).
			Order("created_at ASC, id ASC").
			Find(&updated).Error
	})
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordMarkPaid(len(updated))
	}
	return updated, nil
}

func (s *Service) ListEntries(ctx context.Context, req ledgerdomain.ListEntriesRequest) ([]ledgerdomain.LedgerEntry, error) {
	if req.OrgID == 0 {
		return nil, ledgerdomain.ErrInvalidOrganization
	}

	stmt := s.db.WithContext(ctx).Where("org_id = ?", req.OrgID)
	if req.OrderID != 0 {
		stmt = stmt.Where("order_id = ?", req.OrderID)
	}
	if req.CreatorID != 0 {
		stmt = stmt.Where("creator_id = ?", req.CreatorID)
	}
	if req.EntryType != "" {
		stmt = stmt.Where("entry_type = ?", req.EntryType)
	}
	if req.Status != "" {
		stmt = stmt.Where("status = ?", req.Status)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	var entries []ledgerdomain.LedgerEntry
	err := stmt.Order("created_at ASC, id ASC").Limit(limit).Find(&entries).Error
	return entries, err
}

func (s *Service) collectEntryIDs(ctx context.Context, tx *gorm.DB, orderID snowflake.ID, statuses []ledgerdomain.EntryStatus) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := pkgdb.LockForUpdate(tx.WithContext(ctx)).
		Model(&ledgerdomain.LedgerEntry{}).
		Where("order_id = ? AND status IN ?", orderID, statuses).
		Order("created_at ASC, id ASC").
		Pluck("id", &ids).Error
	return ids, err
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
