package server

import (
	"context"
	"net/http"
	"time"

	chargedomain "github.com/cvforge/creditengine/internal/charge/domain"
	"github.com/cvforge/creditengine/internal/config"
	ledgerdomain "github.com/cvforge/creditengine/internal/ledger/domain"
	paymentdomain "github.com/cvforge/creditengine/internal/payment/domain"
	plandomain "github.com/cvforge/creditengine/internal/plan/domain"
	pricingdomain "github.com/cvforge/creditengine/internal/pricing/domain"
	userdomain "github.com/cvforge/creditengine/internal/user/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Server struct {
	cfg config.Config
	db  *gorm.DB
	log *zap.Logger

	chargesvc    chargedomain.Service
	ledgersvc    ledgerdomain.Service
	pricingsvc   pricingdomain.Service
	synchronizer paymentdomain.Synchronizer
	checkoutsvc  paymentdomain.CheckoutService
	planRepo     plandomain.Repository
	userRepo     userdomain.Repository

	registry *prometheus.Registry
	engine   *gin.Engine
	http     *http.Server
}

type Param struct {
	fx.In

	Cfg config.Config
	DB  *gorm.DB
	Log *zap.Logger

	ChargeSvc    chargedomain.Service
	LedgerSvc    ledgerdomain.Service
	PricingSvc   pricingdomain.Service
	Synchronizer paymentdomain.Synchronizer
	CheckoutSvc  paymentdomain.CheckoutService
	PlanRepo     plandomain.Repository
	UserRepo     userdomain.Repository

	Registry *prometheus.Registry
}

func New(p Param) *Server {
	s := &Server{
		cfg: p.Cfg,
		db:  p.DB,
		log: p.Log.Named("server"),

		chargesvc:    p.ChargeSvc,
		ledgersvc:    p.LedgerSvc,
		pricingsvc:   p.PricingSvc,
		synchronizer: p.Synchronizer,
		checkoutsvc:  p.CheckoutSvc,
		planRepo:     p.PlanRepo,
		userRepo:     p.UserRepo,

		registry: p.Registry,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	s.registerRoutes(engine)
	s.engine = engine
	s.http = &http.Server{
		Addr:              p.Cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(engine *gin.Engine) {
	engine.GET("/healthz", s.Healthz)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	// Webhooks authenticate by signature, not API key.
	engine.POST("/webhooks/stripe", s.StripeWebhook)

	v1 := engine.Group("/v1", s.APIKeyRequired())
	{
		v1.POST("/charges/authorize", s.AuthorizeCharge)
		v1.POST("/charges/consume", s.ConsumeCharge)
		v1.POST("/charges/estimate", s.EstimateCharge)

		v1.GET("/users/:id/balance", s.GetBalance)
		v1.GET("/users/:id/transactions", s.ListTransactions)
		v1.GET("/users/:id/ai-config", s.GetAIConfig)
		v1.PUT("/users/:id/ai-config", s.UpdateAIConfig)

		v1.POST("/grants", s.GrantCredits)
		v1.POST("/refunds", s.RefundCredits)

		v1.GET("/plans", s.ListPlans)
		v1.POST("/checkout/sessions", s.CreateCheckoutSession)

		v1.GET("/pricing/rules", s.ListPricingRules)
		v1.POST("/pricing/rules", s.CreatePricingRule)
		v1.DELETE("/pricing/rules/:id", s.DeactivatePricingRule)
	}
}

func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

var Module = fx.Module("server",
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, s *Server, log *zap.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				log.Info("http server starting", zap.String("addr", s.http.Addr))
				go func() {
					if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Error("http server stopped", zap.Error(err))
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return s.http.Shutdown(ctx)
			},
		})
	}),
)
