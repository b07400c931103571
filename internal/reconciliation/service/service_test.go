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
	ledgerdomain "github.com/smallbiznis/creatorpay/internal/ledger/domain"
	recondomain "github.com/smallbiznis/creatorpay/internal/reconciliation/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc  recondomain.Service
	db   *gorm.DB
	node *snowflake.Node
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ledgerdomain.LedgerEntry{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(testNow),
	})
	return testEnv{svc: svc, db: db, node: node}
}

func (e testEnv) seedCommission(t *testing.T, amount, currency string, status ledgerdomain.EntryStatus, createdAt time.Time) {
	t.Helper()

	itemID := e.node.Generate()
	creatorID := e.node.Generate()
	entry := ledgerdomain.LedgerEntry{
		ID:          e.node.Generate(),
		OrgID:       1,
		OrderID:     e.node.Generate(),
		OrderItemID: &itemID,
		CreatorID:   &creatorID,
		EntryType:   ledgerdomain.EntryTypeCommission,
		Amount:      decimal.RequireFromString(amount),
		Currency:    currency,
		Status:      status,
		CreatedAt:   createdAt,
	}
	require.NoError(t, e.db.Create(&entry).Error)
}

func window() (time.Time, time.Time) {
	return testNow.Add(-24 * time.Hour), testNow
}

func TestReconcile_Balanced(t *testing.T) {
	env := newTestEnv(t)
	start, end := window()

	env.seedCommission(t, "10.00", "USD", ledgerdomain.EntryStatusReserved, testNow.Add(-3*time.Hour))
	env.seedCommission(t, "20.00", "USD", ledgerdomain.EntryStatusCleared, testNow.Add(-2*time.Hour))
	env.seedCommission(t, "30.00", "USD", ledgerdomain.EntryStatusPaid, testNow.Add(-time.Hour))

	report, err := env.svc.Reconcile(context.Background(), 1, start, end)
	require.NoError(t, err)
	assert.Equal(t, recondomain.ReportStatusBalanced, report.Status)
	require.Len(t, report.Currencies, 1)

	usd := report.Currencies[0]
	assert.Equal(t, "USD", usd.Currency)
	assert.True(t, usd.TotalCommission.Equal(decimal.RequireFromString("60.00")))
	assert.True(t, usd.TotalPaid.Equal(decimal.RequireFromString("30.00")))
	assert.True(t, usd.TotalPending.Equal(decimal.RequireFromString("30.00")))
	assert.True(t, usd.Delta.IsZero())
	assert.Equal(t, int64(3), usd.EntryCount)
}

func TestReconcile_ExcludesCancelled(t *testing.T) {
	env := newTestEnv(t)
	start, end := window()

	env.seedCommission(t, "10.00", "USD", ledgerdomain.EntryStatusCleared, testNow.Add(-2*time.Hour))
	env.seedCommission(t, "99.00", "USD", ledgerdomain.EntryStatusCancelled, testNow.Add(-time.Hour))

	report, err := env.svc.Reconcile(context.Background(), 1, start, end)
	require.NoError(t, err)
	require.Len(t, report.Currencies, 1)
	assert.True(t, report.Currencies[0].TotalCommission.Equal(decimal.RequireFromString("10.00")))
	assert.Equal(t, recondomain.ReportStatusBalanced, report.Status)
}

func TestReconcile_WindowBounds(t *testing.T) {
	env := newTestEnv(t)
	start, end := window()

	// Outside [start, end) in both directions.
	env.seedCommission(t, "11.00", "USD", ledgerdomain.EntryStatusCleared, start.Add(-time.Minute))
	env.seedCommission(t, "22.00", "USD", ledgerdomain.EntryStatusCleared, end)
	env.seedCommission(t, "33.00", "USD", ledgerdomain.EntryStatusCleared, start)

	report, err := env.svc.Reconcile(context.Background(), 1, start, end)
	require.NoError(t, err)
	require.Len(t, report.Currencies, 1)
	assert.True(t, report.Currencies[0].TotalCommission.Equal(decimal.RequireFromString("33.00")))
}

func TestReconcile_PerCurrencyRows(t *testing.T) {
	env := newTestEnv(t)
	start, end := window()

	env.seedCommission(t, "10.00", "USD", ledgerdomain.EntryStatusPaid, testNow.Add(-2*time.Hour))
	env.seedCommission(t, "15.00", "EUR", ledgerdomain.EntryStatusCleared, testNow.Add(-time.Hour))

	report, err := env.svc.Reconcile(context.Background(), 1, start, end)
	require.NoError(t, err)
	require.Len(t, report.Currencies, 2)

	byCurrency := map[string]recondomain.CurrencyTotals{}
	for _, row := range report.Currencies {
		byCurrency[row.Currency] = row
	}
	assert.True(t, byCurrency["USD"].TotalPaid.Equal(decimal.RequireFromString("10.00")))
	assert.True(t, byCurrency["EUR"].TotalPending.Equal(decimal.RequireFromString("15.00")))
}

func TestReconcile_FlagsUnaccountedStatus(t *testing.T) {
	env := newTestEnv(t)
	start, end := window()

	env.seedCommission(t, "10.00", "USD", ledgerdomain.EntryStatusCleared, testNow.Add(-2*time.Hour))
	// A row in a status no lifecycle transition produces.
	env.seedCommission(t, "5.00", "USD", ledgerdomain.EntryStatus("limbo"), testNow.Add(-time.Hour))

	report, err := env.svc.Reconcile(context.Background(), 1, start, end)
	require.NoError(t, err)
	assert.Equal(t, recondomain.ReportStatusDiscrepancy, report.Status)
	require.Len(t, report.Currencies, 1)
	assert.True(t, report.Currencies[0].Delta.Equal(decimal.RequireFromString("5.00")))
}

func TestReconcile_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	start, end := window()

	_, err := env.svc.Reconcile(context.Background(), 0, start, end)
	assert.ErrorIs(t, err, recondomain.ErrInvalidOrganization)

	_, err = env.svc.Reconcile(context.Background(), 1, end, start)
	assert.ErrorIs(t, err, recondomain.ErrInvalidPeriod)
}
