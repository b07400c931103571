package migration

import (
	auditdomain "github.com/smallbiznis/creatorpay/internal/audit/domain"
	ruledomain "github.com/smallbiznis/creatorpay/internal/commissionrule/domain"
	"github.com/smallbiznis/creatorpay/internal/events"
	ledgerdomain "github.com/smallbiznis/creatorpay/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/creatorpay/internal/order/domain"
	payoutdomain "github.com/smallbiznis/creatorpay/internal/payout/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		if conn.Dialector.Name() != "postgres" {
			// Versioned migrations target postgres; other dialects cover
			// local and embedded setups where the ORM schema suffices.
			return conn.AutoMigrate(
				&ruledomain.CommissionRule{},
				&orderdomain.Order{},
				&orderdomain.OrderItem{},
				&ledgerdomain.LedgerEntry{},
				&payoutdomain.Payout{},
				&events.OutboxMessage{},
				&auditdomain.AuditLog{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
