package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	allocationdomain "github.com/smallbiznis/drawline/internal/allocation/domain"
	"github.com/smallbiznis/drawline/internal/authorization"
	"github.com/smallbiznis/drawline/internal/config"
	drawdomain "github.com/smallbiznis/drawline/internal/draw/domain"
	"github.com/smallbiznis/drawline/internal/observability"
	obsmiddleware "github.com/smallbiznis/drawline/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/drawline/internal/observability/metrics"
	obstracing "github.com/smallbiznis/drawline/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/drawline/internal/payment/domain"
	payoutdomain "github.com/smallbiznis/drawline/internal/payout/domain"
	raffledomain "github.com/smallbiznis/drawline/internal/raffle/domain"
	"github.com/smallbiznis/drawline/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
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
	raffleSvc     raffledomain.Service
	allocationSvc allocationdomain.Service
	paymentSvc    paymentdomain.Service
	webhookSvc    paymentdomain.WebhookService
	drawSvc       drawdomain.Service
	payoutSvc     payoutdomain.Service
	authzSvc      authorization.Service
	guard         *ratelimit.Guard
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	RaffleSvc     raffledomain.Service
	AllocationSvc allocationdomain.Service
	PaymentSvc    paymentdomain.Service
	WebhookSvc    paymentdomain.WebhookService
	DrawSvc       drawdomain.Service
	PayoutSvc     payoutdomain.Service
	AuthzSvc      authorization.Service
	Guard         *ratelimit.Guard `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		raffleSvc:     p.RaffleSvc,
		allocationSvc: p.AllocationSvc,
		paymentSvc:    p.PaymentSvc,
		webhookSvc:    p.WebhookSvc,
		drawSvc:       p.DrawSvc,
		payoutSvc:     p.PayoutSvc,
		authzSvc:      p.AuthzSvc,
		guard:         p.Guard,
	}

	svc.registerAPIRoutes()
	svc.registerInternalRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Raffles --------
	raffles := api.Group("/raffles", s.ActorRequired())
	{
		raffles.POST("",
			s.authorizeRaffleAction(authorization.ObjectRaffle, authorization.ActionRaffleCreate),
			s.RateLimit(config.RateLimitActionRaffleCreate),
			s.CreateRaffle,
		)
		raffles.GET("/:id", s.authorizeRaffleAction(authorization.ObjectRaffle, authorization.ActionRaffleView), s.GetRaffle)
		raffles.GET("/:id/draw", s.authorizeRaffleAction(authorization.ObjectRaffle, authorization.ActionRaffleView), s.GetDraw)
		// Authorization depends on the action path segment and is checked in the handler.
		raffles.POST("/:id/transitions/:action", s.TransitionRaffle)

		// -------- Reservations --------
		raffles.POST("/:id/reservations",
			s.authorizeRaffleAction(authorization.ObjectTicket, authorization.ActionTicketReserve),
			s.RateLimit(config.RateLimitActionTicketReserve),
			s.ReserveTickets,
		)
	}

	// -------- Payment Webhooks --------
	// Authenticated by the provider signature, not by actor headers.
	api.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal", s.ActorRequired(), RequireRole(authorization.RoleSystem))

	internal.POST("/payments/confirmations", s.ApplyPaymentConfirmation)
	internal.POST("/rate-limits/check", s.CheckRateLimit)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.ActorRequired())

	admin.POST("/raffles/:id/draw", s.authorizeRaffleAction(authorization.ObjectDraw, authorization.ActionDrawResolve), s.ResolveDraw)
	admin.PUT("/raffles/:id/manual-draw", s.authorizeRaffleAction(authorization.ObjectDraw, authorization.ActionDrawOverride), s.SetManualDraw)

	admin.POST("/raffles/:id/payout", s.authorizeRaffleAction(authorization.ObjectPayout, authorization.ActionPayoutFinalize), s.FinalizePayout)
	admin.GET("/raffles/:id/payout", s.authorizeRaffleAction(authorization.ObjectPayout, authorization.ActionPayoutView), s.GetPayout)
	admin.GET("/raffles/:id/payout/statement", s.authorizeRaffleAction(authorization.ObjectPayout, authorization.ActionPayoutView), s.GetPayoutStatement)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
