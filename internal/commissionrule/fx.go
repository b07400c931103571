package commissionrule

import (
	"github.com/smallbiznis/creatorpay/internal/commissionrule/service"
	"go.uber.org/fx"
)

var Module = fx.Module("commissionrule.service",
	fx.Provide(service.NewService),
)
