package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/storetax/internal/audit"
	auditdomain "github.com/smallbiznis/storetax/internal/audit/domain"
	"github.com/smallbiznis/storetax/internal/authorization"
	"github.com/smallbiznis/storetax/internal/config"
	"github.com/smallbiznis/storetax/internal/observability"
	obslogger "github.com/smallbiznis/storetax/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/storetax/internal/observability/metrics"
	obstracing "github.com/smallbiznis/storetax/internal/observability/tracing"
	"github.com/smallbiznis/storetax/internal/ratelimit"
	"github.com/smallbiznis/storetax/internal/tax"
	taxdomain "github.com/smallbiznis/storetax/internal/tax/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	authorization.Module,
	audit.Module,
	tax.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log, obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware(obstracing.MiddlewareConfig{ErrorClassifier: classifyErrorForLog}))
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log = log.Named("http.server")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
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
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	authzSvc    authorization.Service
	auditSvc    auditdomain.Service
	taxSvc      taxdomain.Service
	calcSvc     taxdomain.CalculationService
	obsMetrics  *obsmetrics.Metrics
	calcLimiter *ratelimit.CalculateLimiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	AuthzSvc    authorization.Service
	AuditSvc    auditdomain.Service
	TaxSvc      taxdomain.Service
	CalcSvc     taxdomain.CalculationService
	ObsMetrics  *obsmetrics.Metrics         `optional:"true"`
	CalcLimiter *ratelimit.CalculateLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		authzSvc:    p.AuthzSvc,
		auditSvc:    p.AuditSvc,
		taxSvc:      p.TaxSvc,
		calcSvc:     p.CalcSvc,
		obsMetrics:  p.ObsMetrics,
		calcLimiter: p.CalcLimiter,
	}

	svc.registerAPIRoutes()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(StaffActor())

	api.GET("/tax-rules", s.authorize(authorization.ObjectTaxRule, authorization.ActionTaxRuleView), s.ListTaxRules)
	api.POST("/tax-rules", s.authorize(authorization.ObjectTaxRule, authorization.ActionTaxRuleCreate), s.CreateTaxRule)
	api.GET("/tax-rules/:id", s.authorize(authorization.ObjectTaxRule, authorization.ActionTaxRuleView), s.GetTaxRule)
	api.PATCH("/tax-rules/:id", s.authorize(authorization.ObjectTaxRule, authorization.ActionTaxRuleUpdate), s.UpdateTaxRule)
	api.POST("/tax-rules/:id/disable", s.authorize(authorization.ObjectTaxRule, authorization.ActionTaxRuleUpdate), s.DisableTaxRule)
	api.POST("/tax-rules/:id/enable", s.authorize(authorization.ObjectTaxRule, authorization.ActionTaxRuleUpdate), s.EnableTaxRule)
	api.DELETE("/tax-rules/:id", s.authorize(authorization.ObjectTaxRule, authorization.ActionTaxRuleDelete), s.DeleteTaxRule)

	api.POST("/tax/calculate", s.authorize(authorization.ObjectTax, authorization.ActionTaxCalculate), s.CalculateRateLimit(), s.CalculateTax)
	api.GET("/tax/catalog", s.authorize(authorization.ObjectTaxRule, authorization.ActionTaxRuleView), s.GetCatalogInfo)

	api.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}
