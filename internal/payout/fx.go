package payout

import (
	"github.com/smallbiznis/creatorpay/internal/payout/providers"
	"github.com/smallbiznis/creatorpay/internal/payout/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payout.service",
	fx.Provide(
		NewProviderRegistry,
		service.NewService,
	),
)

func NewProviderRegistry(log *zap.Logger) *providers.Registry {
	return providers.NewRegistry(
		providers.NewManual(log),
	)
}
