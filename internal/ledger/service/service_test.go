package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/creatorpay/internal/audit/domain"
	auditrepository "github.com/smallbiznis/creatorpay/internal/audit/repository"
	auditservice "github.com/smallbiznis/creatorpay/internal/audit/service"
	"github.com/smallbiznis/creatorpay/internal/clock"
	"github.com/smallbiznis/creatorpay/internal/config"
	"github.com/smallbiznis/creatorpay/internal/events"
	ledgerdomain "github.com/smallbiznis/creatorpay/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/creatorpay/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc   ledgerdomain.Service
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&ledgerdomain.LedgerEntry{},
		&events.OutboxMessage{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(testNow)
	logger := zap.NewNop()

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   logger,
		GenID: node,
		Repo:  auditrepository.NewRepository(),
	})

	svc := NewService(Params{
		DB:         db,
		Log:        logger,
		GenID:      node,
		Clock:      fake,
		Cfg:        config.Config{BulkChunkSize: 500},
		AuditSvc:   auditSvc,
		Outbox:     events.NewOutbox(logger, node, fake),
		ObsMetrics: obsmetrics.NewWithRegisterer(prometheus.NewRegistry()),
	})

	return testEnv{svc: svc, db: db, node: node, clock: fake}
}

func testSplit(node *snowflake.Node) ledgerdomain.SaleSplit {
	return ledgerdomain.SaleSplit{
		OrgID:            1,
		OrderID:          node.Generate(),
		OrderItemID:      node.Generate(),
		CreatorID:        node.Generate(),
		Currency:         "USD",
		Sale:             decimal.RequireFromString("100"),
		PlatformFee:      decimal.RequireFromString("5"),
		Commission:       decimal.RequireFromString("10"),
		PaymentFee:       decimal.RequireFromString("2.90"),
		AppliedRuleID:    node.Generate(),
		AppliedRuleScope: "default",
	}
}

func TestRecordSaleSplit_AtomicBatch(t *testing.T) {
	env := newTestEnv(t)
	split := testSplit(env.node)

	entries, err := env.svc.RecordSaleSplit(context.Background(), split)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	byType := map[ledgerdomain.EntryType]ledgerdomain.LedgerEntry{}
	total := decimal.Zero
	for _, entry := range entries {
		byType[entry.EntryType] = entry
		assert.Equal(t, ledgerdomain.EntryStatusReserved, entry.Status)
		assert.Equal(t, testNow, entry.CreatedAt.UTC())
		assert.Equal(t, "USD", entry.Currency)
		if entry.EntryType != ledgerdomain.EntryTypeSale {
			total = total.Add(entry.Amount)
		}
	}

	assert.True(t, byType[ledgerdomain.EntryTypeSale].Amount.Equal(decimal.RequireFromString("100")))
	assert.True(t, byType[ledgerdomain.EntryTypePlatformFee].Amount.Equal(decimal.RequireFromString("5")))
	assert.True(t, byType[ledgerdomain.EntryTypeCommission].Amount.Equal(decimal.RequireFromString("10")))
	assert.True(t, byType[ledgerdomain.EntryTypePaymentFee].Amount.Equal(decimal.RequireFromString("2.90")))

	// Only the commission entry carries the creator.
	require.NotNil(t, byType[ledgerdomain.EntryTypeCommission].CreatorID)
	assert.Equal(t, split.CreatorID, *byType[ledgerdomain.EntryTypeCommission].CreatorID)
	assert.Nil(t, byType[ledgerdomain.EntryTypeSale].CreatorID)

	// Fees never exceed the sale amount.
	assert.True(t, total.LessThanOrEqual(split.Sale))

	var outboxCount int64
	require.NoError(t, env.db.Model(&events.OutboxMessage{}).Count(&outboxCount).Error)
	assert.Equal(t, int64(1), outboxCount)
}

func TestRecordSaleSplit_DuplicateItem(t *testing.T) {
	env := newTestEnv(t)
	split := testSplit(env.node)
	ctx := context.Background()

	_, err := env.svc.RecordSaleSplit(ctx, split)
	require.NoError(t, err)

	_, err = env.svc.RecordSaleSplit(ctx, split)
	assert.ErrorIs(t, err, ledgerdomain.ErrSplitExists)

	var count int64
	require.NoError(t, env.db.Model(&ledgerdomain.LedgerEntry{}).Count(&count).Error)
	assert.Equal(t, int64(4), count)
}

func TestRecordSaleSplit_Unbalanced(t *testing.T) {
	env := newTestEnv(t)
	split := testSplit(env.node)
	split.Commission = decimal.RequireFromString("95")

	_, err := env.svc.RecordSaleSplit(context.Background(), split)
	assert.ErrorIs(t, err, ledgerdomain.ErrUnbalancedSplit)
}

func TestClear_TransitionsReservedBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	split := testSplit(env.node)
	_, err := env.svc.RecordSaleSplit(ctx, split)
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	cleared, err := env.svc.Clear(ctx, split.OrderID)
	require.NoError(t, err)
	require.Len(t, cleared, 4)
	for _, entry := range cleared {
		assert.Equal(t, ledgerdomain.EntryStatusCleared, entry.Status)
		require.NotNil(t, entry.ClearedAt)
		assert.Equal(t, testNow.Add(time.Hour), entry.ClearedAt.UTC())
	}

	// Re-clearing finds nothing RESERVED.
	again, err := env.svc.Clear(ctx, split.OrderID)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestCancel_RecordsReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	split := testSplit(env.node)
	_, err := env.svc.RecordSaleSplit(ctx, split)
	require.NoError(t, err)

	cancelled, err := env.svc.Cancel(ctx, split.OrderID, "order refunded")
	require.NoError(t, err)
	require.Len(t, cancelled, 4)
	for _, entry := range cancelled {
		assert.Equal(t, ledgerdomain.EntryStatusCancelled, entry.Status)
		assert.Equal(t, "order refunded", entry.Metadata["cancel_reason"])
		// Prior metadata survives the merge.
		assert.Equal(t, split.AppliedRuleID.String(), entry.Metadata["applied_rule_id"])
	}
}

func TestCancel_PaidEntryConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	split := testSplit(env.node)
	entries, err := env.svc.RecordSaleSplit(ctx, split)
	require.NoError(t, err)

	_, err = env.svc.Clear(ctx, split.OrderID)
	require.NoError(t, err)

	var commissionID snowflake.ID
	for _, entry := range entries {
		if entry.EntryType == ledgerdomain.EntryTypeCommission {
			commissionID = entry.ID
		}
	}
	_, err = env.svc.MarkPaid(ctx, []snowflake.ID{commissionID}, env.node.Generate())
	require.NoError(t, err)

	_, err = env.svc.Cancel(ctx, split.OrderID, "too late")
	assert.ErrorIs(t, err, ledgerdomain.ErrStatusConflict)
}

func TestMarkPaid_StampsPayout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	split := testSplit(env.node)
	entries, err := env.svc.RecordSaleSplit(ctx, split)
	require.NoError(t, err)
	_, err = env.svc.Clear(ctx, split.OrderID)
	require.NoError(t, err)

	ids := make([]snowflake.ID, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}
	payoutID := env.node.Generate()

	env.clock.Advance(2 * time.Hour)
	paid, err := env.svc.MarkPaid(ctx, ids, payoutID)
	require.NoError(t, err)
	require.Len(t, paid, 4)
	for _, entry := range paid {
		assert.Equal(t, ledgerdomain.EntryStatusPaid, entry.Status)
		require.NotNil(t, entry.PaidAt)
		assert.Equal(t, testNow.Add(2*time.Hour), entry.PaidAt.UTC())
		require.NotNil(t, entry.PayoutID)
		assert.Equal(t, payoutID, *entry.PayoutID)
	}
}

func TestMarkPaid_IdempotentForSamePayout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	split := testSplit(env.node)
	entries, err := env.svc.RecordSaleSplit(ctx, split)
	require.NoError(t, err)
	_, err = env.svc.Clear(ctx, split.OrderID)
	require.NoError(t, err)

	ids := []snowflake.ID{entries[0].ID}
	payoutID := env.node.Generate()

	_, err = env.svc.MarkPaid(ctx, ids, payoutID)
	require.NoError(t, err)

	// Replay under the same payout is a no-op.
	paid, err := env.svc.MarkPaid(ctx, ids, payoutID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.EntryStatusPaid, paid[0].Status)

	// A different payout may not take the entry.
	_, err = env.svc.MarkPaid(ctx, ids, env.node.Generate())
	assert.ErrorIs(t, err, ledgerdomain.ErrStatusConflict)
}

func TestMarkPaid_ReservedConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	split := testSplit(env.node)
	entries, err := env.svc.RecordSaleSplit(ctx, split)
	require.NoError(t, err)

	_, err = env.svc.MarkPaid(ctx, []snowflake.ID{entries[0].ID}, env.node.Generate())
	assert.ErrorIs(t, err, ledgerdomain.ErrStatusConflict)
}

func TestMarkPaid_MissingEntry(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.MarkPaid(context.Background(), []snowflake.ID{env.node.Generate()}, env.node.Generate())
	assert.ErrorIs(t, err, ledgerdomain.ErrEntryNotFound)
}

func TestFindClearedCommissions_FIFO(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creatorID := env.node.Generate()

	var orderIDs []snowflake.ID
	for i := 0; i < 3; i++ {
		split := testSplit(env.node)
		split.CreatorID = creatorID
		_, err := env.svc.RecordSaleSplit(ctx, split)
		require.NoError(t, err)
		_, err = env.svc.Clear(ctx, split.OrderID)
		require.NoError(t, err)
		orderIDs = append(orderIDs, split.OrderID)
		env.clock.Advance(time.Minute)
	}

	// One split for another creator must not appear.
	other := testSplit(env.node)
	_, err := env.svc.RecordSaleSplit(ctx, other)
	require.NoError(t, err)
	_, err = env.svc.Clear(ctx, other.OrderID)
	require.NoError(t, err)

	found, err := env.svc.FindClearedCommissions(ctx, creatorID, "USD")
	require.NoError(t, err)
	require.Len(t, found, 3)
	for i, entry := range found {
		assert.Equal(t, ledgerdomain.EntryTypeCommission, entry.EntryType)
		assert.Equal(t, orderIDs[i], entry.OrderID)
		assert.Nil(t, entry.PayoutID)
	}
}
