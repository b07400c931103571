// Package domain contains commission policy models and contracts.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	orderdomain "github.com/smallbiznis/creatorpay/internal/order/domain"
)

// RuleScope orders commission rules by specificity. Resolution walks the
// scopes campaign → sku → product → default and stops at the first match.
type RuleScope string

const (
	ScopeCampaign RuleScope = "campaign"
	ScopeSKU      RuleScope = "sku"
	ScopeProduct  RuleScope = "product"
	ScopeDefault  RuleScope = "default"
)

// CommissionRule fixes the creator and platform percentages for one scope.
// At most one active rule per (org, scope, scope_ref) may cover an instant;
// overlapping validity windows are a configuration error upstream.
type CommissionRule struct {
	ID                 snowflake.ID     `gorm:"primaryKey"`
	OrgID              snowflake.ID     `gorm:"not null;index:ix_commission_rules_org_scope,priority:1"`
	Scope              RuleScope        `gorm:"type:text;not null;index:ix_commission_rules_org_scope,priority:2"`
	ScopeRef           *snowflake.ID    `gorm:"index:ix_commission_rules_org_scope,priority:3"`
	CreatorID          *snowflake.ID    `gorm:"index"`
	CreatorPercent     decimal.Decimal  `gorm:"type:decimal(5,2);not null"`
	PlatformFeePercent decimal.Decimal  `gorm:"type:decimal(5,2);not null"`
	MinCommission      *decimal.Decimal `gorm:"type:decimal(20,2)"`
	MaxCommission      *decimal.Decimal `gorm:"type:decimal(20,2)"`
	Currency           string           `gorm:"type:text;not null"`
	Active             bool             `gorm:"not null;default:true"`
	StartDate          time.Time        `gorm:"not null"`
	EndDate            time.Time        `gorm:"not null"`
	CreatedAt          time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CommissionRule) TableName() string { return "commission_rules" }

// CoversInstant reports whether the rule is live at t.
func (r CommissionRule) CoversInstant(t time.Time) bool {
	return r.Active && !t.Before(r.StartDate) && !t.After(r.EndDate)
}

type CreateRuleRequest struct {
	OrgID              snowflake.ID
	Scope              RuleScope
	ScopeRef           *snowflake.ID
	CreatorID          *snowflake.ID
	CreatorPercent     decimal.Decimal
	PlatformFeePercent decimal.Decimal
	MinCommission      *decimal.Decimal
	MaxCommission      *decimal.Decimal
	Currency           string
	StartDate          time.Time
	EndDate            time.Time
}

type ListRulesRequest struct {
	OrgID snowflake.ID
	Scope RuleScope
}

type Service interface {
	// Resolve picks the one rule governing a sale, walking scopes in
	// fixed priority order. Returns ErrNoRuleMatched when every tier,
	// including the org default, misses.
	Resolve(ctx context.Context, item orderdomain.OrderItem, orgID snowflake.ID, campaignID *snowflake.ID) (*CommissionRule, error)

	Create(ctx context.Context, req CreateRuleRequest) (*CommissionRule, error)
	List(ctx context.Context, req ListRulesRequest) ([]*CommissionRule, error)
	Deactivate(ctx context.Context, orgID, ruleID snowflake.ID) error
}

var (
	ErrNoRuleMatched       = errors.New("no_rule_matched")
	ErrRuleNotFound        = errors.New("rule_not_found")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidScope        = errors.New("invalid_scope")
	ErrInvalidScopeRef     = errors.New("invalid_scope_ref")
	ErrInvalidPercent      = errors.New("invalid_percent")
	ErrInvalidCaps         = errors.New("invalid_caps")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidWindow       = errors.New("invalid_window")
)
