package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creatorpay/internal/clock"
	ruledomain "github.com/smallbiznis/creatorpay/internal/commissionrule/domain"
	orderdomain "github.com/smallbiznis/creatorpay/internal/order/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *gorm.DB, *snowflake.Node, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ruledomain.CommissionRule{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(testNow)
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	}).(*Service)
	return svc, db, node, fake
}

func seedRule(t *testing.T, db *gorm.DB, node *snowflake.Node, orgID snowflake.ID, scope ruledomain.RuleScope, scopeRef *snowflake.ID, creatorPct, platformPct string, mutate ...func(*ruledomain.CommissionRule)) ruledomain.CommissionRule {
	t.Helper()

	rule := ruledomain.CommissionRule{
		ID:                 node.Generate(),
		OrgID:              orgID,
		Scope:              scope,
		ScopeRef:           scopeRef,
		CreatorPercent:     decimal.RequireFromString(creatorPct),
		PlatformFeePercent: decimal.RequireFromString(platformPct),
		Currency:           "USD",
		Active:             true,
		StartDate:          testNow.Add(-24 * time.Hour),
		EndDate:            testNow.Add(24 * time.Hour),
		CreatedAt:          testNow,
		UpdatedAt:          testNow,
	}
	for _, fn := range mutate {
		fn(&rule)
	}
	require.NoError(t, db.Create(&rule).Error)
	return rule
}

func testItem(node *snowflake.Node) orderdomain.OrderItem {
	return orderdomain.OrderItem{
		ID:        node.Generate(),
		OrderID:   node.Generate(),
		OrgID:     1,
		SKUID:     node.Generate(),
		ProductID: node.Generate(),
		Subtotal:  decimal.RequireFromString("100"),
		Quantity:  1,
		Currency:  "USD",
	}
}

func TestResolve_CampaignBeatsDefault(t *testing.T) {
	svc, db, node, _ := newTestService(t)
	orgID := snowflake.ID(1)
	item := testItem(node)
	campaignID := node.Generate()

	seedRule(t, db, node, orgID, ruledomain.ScopeDefault, nil, "10", "5")
	campaignRule := seedRule(t, db, node, orgID, ruledomain.ScopeCampaign, &campaignID, "15", "5")

	got, err := svc.Resolve(context.Background(), item, orgID, &campaignID)
	require.NoError(t, err)
	assert.Equal(t, campaignRule.ID, got.ID)
	assert.Equal(t, ruledomain.ScopeCampaign, got.Scope)
}

func TestResolve_SKUBeatsDefault(t *testing.T) {
	svc, db, node, _ := newTestService(t)
	orgID := snowflake.ID(1)
	item := testItem(node)

	seedRule(t, db, node, orgID, ruledomain.ScopeDefault, nil, "10", "5")
	skuRule := seedRule(t, db, node, orgID, ruledomain.ScopeSKU, &item.SKUID, "20", "5")

	got, err := svc.Resolve(context.Background(), item, orgID, nil)
	require.NoError(t, err)
	assert.Equal(t, skuRule.ID, got.ID)
	assert.True(t, got.CreatorPercent.Equal(decimal.RequireFromString("20")))
}

func TestResolve_ProductBeatsDefault(t *testing.T) {
	svc, db, node, _ := newTestService(t)
	orgID := snowflake.ID(1)
	item := testItem(node)

	seedRule(t, db, node, orgID, ruledomain.ScopeDefault, nil, "10", "5")
	productRule := seedRule(t, db, node, orgID, ruledomain.ScopeProduct, &item.ProductID, "12", "5")

	got, err := svc.Resolve(context.Background(), item, orgID, nil)
	require.NoError(t, err)
	assert.Equal(t, productRule.ID, got.ID)
}

func TestResolve_FallsBackToDefault(t *testing.T) {
	svc, db, node, _ := newTestService(t)
	orgID := snowflake.ID(1)
	item := testItem(node)

	// SKU rule for a different sku must not match.
	otherSKU := node.Generate()
	seedRule(t, db, node, orgID, ruledomain.ScopeSKU, &otherSKU, "20", "5")
	defaultRule := seedRule(t, db, node, orgID, ruledomain.ScopeDefault, nil, "10", "5")

	got, err := svc.Resolve(context.Background(), item, orgID, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultRule.ID, got.ID)
}

func TestResolve_NoRuleMatched(t *testing.T) {
	svc, _, node, _ := newTestService(t)

	_, err := svc.Resolve(context.Background(), testItem(node), 1, nil)
	assert.ErrorIs(t, err, ruledomain.ErrNoRuleMatched)
}

func TestResolve_SkipsInactiveAndExpired(t *testing.T) {
	svc, db, node, _ := newTestService(t)
	orgID := snowflake.ID(1)
	item := testItem(node)

	seedRule(t, db, node, orgID, ruledomain.ScopeSKU, &item.SKUID, "20", "5", func(r *ruledomain.CommissionRule) {
		r.Active = false
	})
	seedRule(t, db, node, orgID, ruledomain.ScopeProduct, &item.ProductID, "12", "5", func(r *ruledomain.CommissionRule) {
		r.EndDate = testNow.Add(-time.Hour)
	})
	defaultRule := seedRule(t, db, node, orgID, ruledomain.ScopeDefault, nil, "10", "5")

	got, err := svc.Resolve(context.Background(), item, orgID, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultRule.ID, got.ID)
}

func TestResolve_WindowBoundsInclusive(t *testing.T) {
	svc, db, node, _ := newTestService(t)
	orgID := snowflake.ID(1)
	item := testItem(node)

	// Both window endpoints are live instants.
	rule := seedRule(t, db, node, orgID, ruledomain.ScopeDefault, nil, "10", "5", func(r *ruledomain.CommissionRule) {
		r.StartDate = testNow
		r.EndDate = testNow
	})

	got, err := svc.Resolve(context.Background(), item, orgID, nil)
	require.NoError(t, err)
	assert.Equal(t, rule.ID, got.ID)
}

func TestResolve_OrgIsolation(t *testing.T) {
	svc, db, node, _ := newTestService(t)
	item := testItem(node)

	seedRule(t, db, node, 2, ruledomain.ScopeDefault, nil, "10", "5")

	_, err := svc.Resolve(context.Background(), item, 1, nil)
	assert.ErrorIs(t, err, ruledomain.ErrNoRuleMatched)
}

func TestCreate_Validation(t *testing.T) {
	svc, _, node, _ := newTestService(t)
	ctx := context.Background()
	ref := node.Generate()

	base := ruledomain.CreateRuleRequest{
		OrgID:              1,
		Scope:              ruledomain.ScopeSKU,
		ScopeRef:           &ref,
		CreatorPercent:     decimal.RequireFromString("10"),
		PlatformFeePercent: decimal.RequireFromString("5"),
		Currency:           "usd",
		StartDate:          testNow,
		EndDate:            testNow.Add(24 * time.Hour),
	}

	t.Run("ok normalizes currency", func(t *testing.T) {
		rule, err := svc.Create(ctx, base)
		require.NoError(t, err)
		assert.Equal(t, "USD", rule.Currency)
		assert.True(t, rule.Active)
	})

	t.Run("percent above 100", func(t *testing.T) {
		req := base
		req.CreatorPercent = decimal.RequireFromString("101")
		_, err := svc.Create(ctx, req)
		assert.ErrorIs(t, err, ruledomain.ErrInvalidPercent)
	})

	t.Run("scoped rule without ref", func(t *testing.T) {
		req := base
		req.ScopeRef = nil
		_, err := svc.Create(ctx, req)
		assert.ErrorIs(t, err, ruledomain.ErrInvalidScopeRef)
	})

	t.Run("default rule with ref", func(t *testing.T) {
		req := base
		req.Scope = ruledomain.ScopeDefault
		_, err := svc.Create(ctx, req)
		assert.ErrorIs(t, err, ruledomain.ErrInvalidScopeRef)
	})

	t.Run("min above max", func(t *testing.T) {
		req := base
		minCap := decimal.RequireFromString("10")
		maxCap := decimal.RequireFromString("5")
		req.MinCommission = &minCap
		req.MaxCommission = &maxCap
		_, err := svc.Create(ctx, req)
		assert.ErrorIs(t, err, ruledomain.ErrInvalidCaps)
	})

	t.Run("window ends before it starts", func(t *testing.T) {
		req := base
		req.EndDate = req.StartDate.Add(-time.Hour)
		_, err := svc.Create(ctx, req)
		assert.ErrorIs(t, err, ruledomain.ErrInvalidWindow)
	})
}

func TestDeactivate(t *testing.T) {
	svc, db, node, _ := newTestService(t)
	ctx := context.Background()
	orgID := snowflake.ID(1)
	item := testItem(node)

	rule := seedRule(t, db, node, orgID, ruledomain.ScopeSKU, &item.SKUID, "20", "5")

	require.NoError(t, svc.Deactivate(ctx, orgID, rule.ID))

	_, err := svc.Resolve(ctx, item, orgID, nil)
	assert.ErrorIs(t, err, ruledomain.ErrNoRuleMatched)

	// A second deactivation finds no active row.
	assert.ErrorIs(t, svc.Deactivate(ctx, orgID, rule.ID), ruledomain.ErrRuleNotFound)
}
