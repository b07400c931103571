// Package server hosts the HTTP surface of the commission engine.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/creatorpay/internal/audit"
	auditdomain "github.com/smallbiznis/creatorpay/internal/audit/domain"
	"github.com/smallbiznis/creatorpay/internal/commission"
	commissiondomain "github.com/smallbiznis/creatorpay/internal/commission/domain"
	"github.com/smallbiznis/creatorpay/internal/commissionrule"
	ruledomain "github.com/smallbiznis/creatorpay/internal/commissionrule/domain"
	"github.com/smallbiznis/creatorpay/internal/config"
	"github.com/smallbiznis/creatorpay/internal/events"
	"github.com/smallbiznis/creatorpay/internal/ledger"
	ledgerdomain "github.com/smallbiznis/creatorpay/internal/ledger/domain"
	obslogger "github.com/smallbiznis/creatorpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creatorpay/internal/observability/metrics"
	"github.com/smallbiznis/creatorpay/internal/payout"
	payoutdomain "github.com/smallbiznis/creatorpay/internal/payout/domain"
	"github.com/smallbiznis/creatorpay/internal/reconciliation"
	recondomain "github.com/smallbiznis/creatorpay/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	obsmetrics.Module,
	fx.Provide(registerGin),
	audit.Module,
	events.Module,
	commissionrule.Module,
	commission.Module,
	ledger.Module,
	payout.Module,
	reconciliation.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log.Named("http"))
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	genID         *snowflake.Node
	auditSvc      auditdomain.Service
	ruleSvc       ruledomain.Service
	commissionSvc commissiondomain.Service
	ledgerSvc     ledgerdomain.Service
	payoutSvc     payoutdomain.Service
	reconSvc      recondomain.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	GenID         *snowflake.Node
	AuditSvc      auditdomain.Service
	RuleSvc       ruledomain.Service
	CommissionSvc commissiondomain.Service
	LedgerSvc     ledgerdomain.Service
	PayoutSvc     payoutdomain.Service
	ReconSvc      recondomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		genID:         p.GenID,
		auditSvc:      p.AuditSvc,
		ruleSvc:       p.RuleSvc,
		commissionSvc: p.CommissionSvc,
		ledgerSvc:     p.LedgerSvc,
		payoutSvc:     p.PayoutSvc,
		reconSvc:      p.ReconSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Commission rules --------
	api.GET("/commission-rules", s.ListCommissionRules)
	api.POST("/commission-rules", s.CreateCommissionRule)
	api.POST("/commission-rules/:id/deactivate", s.DeactivateCommissionRule)

	// -------- Orders / ledger --------
	api.POST("/orders/:id/items/:item_id/commission", s.ProcessOrderItemCommission)
	api.POST("/orders/:id/clear", s.ClearOrderEntries)
	api.POST("/orders/:id/cancel", s.CancelOrderEntries)
	api.GET("/ledger/entries", s.ListLedgerEntries)

	// -------- Payouts --------
	api.POST("/payouts/creators/:creator_id", s.ProcessCreatorPayouts)
	api.GET("/payouts/:id", s.GetPayout)
	api.GET("/payouts", s.ListPayouts)
	api.POST("/payouts/webhooks/provider", s.HandleProviderWebhook)

	// -------- Reconciliation --------
	api.GET("/reconciliation", s.RunReconciliation)

	// -------- Audit trail --------
	api.GET("/audit-logs", s.ListAuditLogs)
}
