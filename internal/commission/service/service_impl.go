package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	commissiondomain "github.com/smallbiznis/creatorpay/internal/commission/domain"
	ruledomain "github.com/smallbiznis/creatorpay/internal/commissionrule/domain"
	"github.com/smallbiznis/creatorpay/internal/config"
	ledgerdomain "github.com/smallbiznis/creatorpay/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/creatorpay/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

type Params struct {
	fx.In

	Log       *zap.Logger
	Cfg       config.Config
	RuleSvc   ruledomain.Service
	LedgerSvc ledgerdomain.Service
}

type Service struct {
	log       *zap.Logger
	ruleSvc   ruledomain.Service
	ledgerSvc ledgerdomain.Service

	// paymentFeePercent is the processor share of every sale, e.g. 2.9.
	paymentFeePercent decimal.Decimal
}

func NewService(p Params) (commissiondomain.Service, error) {
	feePercent, err := decimal.NewFromString(p.Cfg.PaymentFeePercent)
	if err != nil {
		return nil, fmt.Errorf("parse payment fee percent %q: %w", p.Cfg.PaymentFeePercent, err)
	}

	return &Service{
		log:               p.Log.Named("commission.service"),
		ruleSvc:           p.RuleSvc,
		ledgerSvc:         p.LedgerSvc,
		paymentFeePercent: feePercent,
	}, nil
}

func (s *Service) Calculate(item orderdomain.OrderItem, rule ruledomain.CommissionRule) (commissiondomain.Breakdown, error) {
	subtotal := item.Subtotal
	if subtotal.IsNegative() {
		return commissiondomain.Breakdown{}, commissiondomain.ErrInvalidSubtotal
	}

	platformFee := subtotal.Mul(rule.PlatformFeePercent).Div(hundred).Round(2)
	commission := subtotal.Mul(rule.CreatorPercent).Div(hundred).Round(2)
	paymentFee := subtotal.Mul(s.paymentFeePercent).Div(hundred).Round(2)

	if rule.MinCommission != nil && commission.LessThan(*rule.MinCommission) {
		commission = *rule.MinCommission
	}
	if rule.MaxCommission != nil && commission.GreaterThan(*rule.MaxCommission) {
		commission = *rule.MaxCommission
	}

	sellerTake := subtotal.Sub(platformFee).Sub(commission).Sub(paymentFee)

	clamped := false
	if sellerTake.IsNegative() {
		// Percentages summing above 100 signal a misconfigured rule.
		// The split stays deterministic: the creator absorbs the excess
		// and the seller never goes below zero.
		clamped = true
		commission = decimal.Max(decimal.Zero, subtotal.Sub(platformFee).Sub(paymentFee))
		sellerTake = decimal.Max(decimal.Zero, subtotal.Sub(platformFee).Sub(commission).Sub(paymentFee))

		s.log.Warn("commission clamped to keep seller take non-negative",
			zap.String("order_item_id", item.ID.String()),
			zap.String("rule_id", rule.ID.String()),
			zap.String("creator_percent", rule.CreatorPercent.String()),
			zap.String("platform_fee_percent", rule.PlatformFeePercent.String()),
			zap.String("clamped_commission", commission.String()),
		)
	}

	return commissiondomain.Breakdown{
		Subtotal:          subtotal,
		PlatformFee:       platformFee,
		CreatorCommission: commission,
		PaymentFee:        paymentFee,
		SellerTake:        sellerTake,
		Clamped:           clamped,
	}, nil
}

func (s *Service) ProcessOrderItem(ctx context.Context, req commissiondomain.ProcessOrderItemRequest) (*commissiondomain.ProcessResult, error) {
	rule, err := s.ruleSvc.Resolve(ctx, req.Item, req.Order.OrgID, req.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("resolve rule for order %s item %s: %w",
			req.Order.ID.String(), req.Item.ID.String(), err)
	}

	creatorID, err := resolveCreator(req, rule)
	if err != nil {
		return nil, fmt.Errorf("order %s item %s: %w",
			req.Order.ID.String(), req.Item.ID.String(), err)
	}

	breakdown, err := s.Calculate(req.Item, *rule)
	if err != nil {
		return nil, fmt.Errorf("calculate split for order %s item %s: %w",
			req.Order.ID.String(), req.Item.ID.String(), err)
	}

	entries, err := s.ledgerSvc.RecordSaleSplit(ctx, ledgerdomain.SaleSplit{
		OrgID:            req.Order.OrgID,
		OrderID:          req.Order.ID,
		OrderItemID:      req.Item.ID,
		CreatorID:        creatorID,
		Currency:         req.Item.Currency,
		Sale:             breakdown.Subtotal,
		PlatformFee:      breakdown.PlatformFee,
		Commission:       breakdown.CreatorCommission,
		PaymentFee:       breakdown.PaymentFee,
		AppliedRuleID:    rule.ID,
		AppliedRuleScope: string(rule.Scope),
	})
	if err != nil {
		return nil, fmt.Errorf("record split for order %s item %s: %w",
			req.Order.ID.String(), req.Item.ID.String(), err)
	}

	return &commissiondomain.ProcessResult{
		Breakdown:   breakdown,
		AppliedRule: rule,
		Entries:     entries,
	}, nil
}

// resolveCreator prefers the explicitly attributed creator and falls back to
// the creator named on the resolved rule (campaign rules carry one).
func resolveCreator(req commissiondomain.ProcessOrderItemRequest, rule *ruledomain.CommissionRule) (snowflake.ID, error) {
	if req.CreatorID != nil && *req.CreatorID != 0 {
		return *req.CreatorID, nil
	}
	if rule.CreatorID != nil && *rule.CreatorID != 0 {
		return *rule.CreatorID, nil
	}
	return 0, commissiondomain.ErrMissingCreator
}
