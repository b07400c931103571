package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creatorpay/internal/clock"
	ruledomain "github.com/smallbiznis/creatorpay/internal/commissionrule/domain"
	orderdomain "github.com/smallbiznis/creatorpay/internal/order/domain"
	"github.com/smallbiznis/creatorpay/pkg/db/option"
	"github.com/smallbiznis/creatorpay/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	rulerepo repository.Repository[ruledomain.CommissionRule]
}

func NewService(p Params) ruledomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("commissionrule.service"),
		genID: p.GenID,
		clock: p.Clock,

		rulerepo: repository.ProvideStore[ruledomain.CommissionRule](p.DB),
	}
}

// resolutionTier is one step of the priority chain. ref returns the scope
// reference to match, or nil to skip the tier for this sale.
type resolutionTier struct {
	scope ruledomain.RuleScope
	ref   func(item orderdomain.OrderItem, campaignID *snowflake.ID) *snowflake.ID
}

// tiers is the fixed resolution order. Reordering is a config error, not a
// feature: campaign beats sku beats product beats the org default.
var tiers = []resolutionTier{
	{
		scope: ruledomain.ScopeCampaign,
		ref: func(_ orderdomain.OrderItem, campaignID *snowflake.ID) *snowflake.ID {
			return campaignID
		},
	},
	{
		scope: ruledomain.ScopeSKU,
		ref: func(item orderdomain.OrderItem, _ *snowflake.ID) *snowflake.ID {
			return &item.SKUID
		},
	},
	{
		scope: ruledomain.ScopeProduct,
		ref: func(item orderdomain.OrderItem, _ *snowflake.ID) *snowflake.ID {
			return &item.ProductID
		},
	},
	{
		scope: ruledomain.ScopeDefault,
		ref: func(_ orderdomain.OrderItem, _ *snowflake.ID) *snowflake.ID {
			// The default tier matches without a reference.
			zero := snowflake.ID(0)
			return &zero
		},
	},
}

func (s *Service) Resolve(ctx context.Context, item orderdomain.OrderItem, orgID snowflake.ID, campaignID *snowflake.ID) (*ruledomain.CommissionRule, error) {
	if orgID == 0 {
		return nil, ruledomain.ErrInvalidOrganization
	}

	now := s.clock.Now()
	for _, tier := range tiers {
		ref := tier.ref(item, campaignID)
		if ref == nil || (*ref == 0 && tier.scope != ruledomain.ScopeDefault) {
			continue
		}

		rule, err := s.findActiveRule(ctx, orgID, tier.scope, *ref, now)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			return rule, nil
		}
	}

	s.log.Warn("no commission rule matched",
		zap.String("org_id", orgID.String()),
		zap.String("order_item_id", item.ID.String()),
		zap.String("sku_id", item.SKUID.String()),
	)
	return nil, ruledomain.ErrNoRuleMatched
}

func (s *Service) findActiveRule(ctx context.Context, orgID snowflake.ID, scope ruledomain.RuleScope, ref snowflake.ID, now time.Time) (*ruledomain.CommissionRule, error) {
	stmt := s.db.WithContext(ctx).
		Where("org_id = ? AND scope = ? AND active = ?", orgID, scope, true).
		Where("start_date <= ? AND end_date >= ?", now, now)

	if scope == ruledomain.ScopeDefault {
		stmt = stmt.Where("scope_ref IS NULL")
	} else {
		stmt = stmt.Where("scope_ref = ?", ref)
	}

	var rules []ruledomain.CommissionRule
	if err := stmt.Order("start_date DESC").Limit(1).Find(&rules).Error; err != nil {
		return nil, err
	}
	// Timestamp comparison in SQL differs per dialect; the window is
	// re-checked in Go so every engine agrees on the boundary instants.
	if len(rules) == 0 || !rules[0].CoversInstant(now) {
		return nil, nil
	}
	return &rules[0], nil
}

func (s *Service) Create(ctx context.Context, req ruledomain.CreateRuleRequest) (*ruledomain.CommissionRule, error) {
	if req.OrgID == 0 {
		return nil, ruledomain.ErrInvalidOrganization
	}
	switch req.Scope {
	case ruledomain.ScopeCampaign, ruledomain.ScopeSKU, ruledomain.ScopeProduct:
		if req.ScopeRef == nil || *req.ScopeRef == 0 {
			return nil, ruledomain.ErrInvalidScopeRef
		}
	case ruledomain.ScopeDefault:
		if req.ScopeRef != nil {
			return nil, ruledomain.ErrInvalidScopeRef
		}
	default:
		return nil, ruledomain.ErrInvalidScope
	}

	if !percentInRange(req.CreatorPercent) || !percentInRange(req.PlatformFeePercent) {
		return nil, ruledomain.ErrInvalidPercent
	}
	if req.MinCommission != nil && req.MinCommission.IsNegative() {
		return nil, ruledomain.ErrInvalidCaps
	}
	if req.MaxCommission != nil && req.MaxCommission.IsNegative() {
		return nil, ruledomain.ErrInvalidCaps
	}
	if req.MinCommission != nil && req.MaxCommission != nil && req.MinCommission.GreaterThan(*req.MaxCommission) {
		return nil, ruledomain.ErrInvalidCaps
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, ruledomain.ErrInvalidCurrency
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() || !req.EndDate.After(req.StartDate) {
		return nil, ruledomain.ErrInvalidWindow
	}

	now := s.clock.Now()
	rule := &ruledomain.CommissionRule{
		ID:                 s.genID.Generate(),
		OrgID:              req.OrgID,
		Scope:              req.Scope,
		ScopeRef:           req.ScopeRef,
		CreatorID:          req.CreatorID,
		CreatorPercent:     req.CreatorPercent,
		PlatformFeePercent: req.PlatformFeePercent,
		MinCommission:      req.MinCommission,
		MaxCommission:      req.MaxCommission,
		Currency:           currency,
		Active:             true,
		StartDate:          req.StartDate.UTC(),
		EndDate:            req.EndDate.UTC(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.rulerepo.Create(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *Service) List(ctx context.Context, req ruledomain.ListRulesRequest) ([]*ruledomain.CommissionRule, error) {
	if req.OrgID == 0 {
		return nil, ruledomain.ErrInvalidOrganization
	}

	filter := &ruledomain.CommissionRule{OrgID: req.OrgID}
	if req.Scope != "" {
		filter.Scope = req.Scope
	}
	return s.rulerepo.Find(ctx, filter, option.WithOrder("created_at DESC"))
}

func (s *Service) Deactivate(ctx context.Context, orgID, ruleID snowflake.ID) error {
	if orgID == 0 {
		return ruledomain.ErrInvalidOrganization
	}

	result := s.db.WithContext(ctx).
		Model(&ruledomain.CommissionRule{}).
		Where("id = ? AND org_id = ? AND active = ?", ruleID, orgID, true).
		Updates(map[string]any{
			"active":     false,
			"updated_at": s.clock.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ruledomain.ErrRuleNotFound
	}
	return nil
}

func percentInRange(v decimal.Decimal) bool {
	return !v.IsNegative() && v.LessThanOrEqual(decimal.NewFromInt(100))
}
