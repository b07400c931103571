package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/creatorpay/internal/audit/domain"
	auditrepository "github.com/smallbiznis/creatorpay/internal/audit/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc  auditdomain.Service
	db   *gorm.DB
	node *snowflake.Node
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepository.NewRepository(),
	})
	return testEnv{svc: svc, db: db, node: node}
}

func (e testEnv) seedLog(t *testing.T, orgID snowflake.ID, action, targetType string, createdAt time.Time) auditdomain.AuditLog {
	t.Helper()

	entry := auditdomain.AuditLog{
		ID:         e.node.Generate(),
		OrgID:      &orgID,
		ActorType:  string(auditdomain.ActorTypeSystem),
		Action:     action,
		TargetType: targetType,
		Metadata:   datatypes.JSONMap{},
		CreatedAt:  createdAt,
	}
	require.NoError(t, e.db.Create(&entry).Error)
	return entry
}

func TestAuditLog_WritesEntry(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()
	actor := "  scheduler  "

	err := env.svc.AuditLog(context.Background(), &orgID, "", &actor, "payout.created", "", nil, map[string]any{"payout_id": "1"})
	require.NoError(t, err)

	var stored auditdomain.AuditLog
	require.NoError(t, env.db.First(&stored).Error)
	assert.Equal(t, string(auditdomain.ActorTypeSystem), stored.ActorType)
	require.NotNil(t, stored.ActorID)
	assert.Equal(t, "scheduler", *stored.ActorID)
	assert.Equal(t, "unknown", stored.TargetType)
}

func TestAuditLog_RequiresAction(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()

	err := env.svc.AuditLog(context.Background(), &orgID, "", nil, "   ", "payout", nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestList_FiltersByActionAndWindow(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()
	otherOrg := env.node.Generate()

	match := env.seedLog(t, orgID, "payout.created", "payout", testNow.Add(-time.Hour))
	env.seedLog(t, orgID, "ledger.sale_split", "order", testNow.Add(-time.Hour))
	env.seedLog(t, orgID, "payout.created", "payout", testNow.Add(-48*time.Hour))
	env.seedLog(t, otherOrg, "payout.created", "payout", testNow.Add(-time.Hour))

	start := testNow.Add(-24 * time.Hour)
	end := testNow
	logs, err := env.svc.List(context.Background(), auditdomain.ListFilter{
		OrgID:   orgID,
		Action:  "payout.created",
		StartAt: &start,
		EndAt:   &end,
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, match.ID, logs[0].ID)
}

func TestList_NewestFirstWithLimit(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()

	for i := 0; i < 3; i++ {
		env.seedLog(t, orgID, "payout.created", "payout", testNow.Add(time.Duration(i)*time.Minute))
	}

	logs, err := env.svc.List(context.Background(), auditdomain.ListFilter{OrgID: orgID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].CreatedAt.After(logs[1].CreatedAt))
}

func TestList_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()

	_, err := env.svc.List(context.Background(), auditdomain.ListFilter{})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidOrganization)

	start := testNow
	end := testNow.Add(-time.Hour)
	_, err = env.svc.List(context.Background(), auditdomain.ListFilter{OrgID: orgID, StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
