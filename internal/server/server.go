package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/glidestudio/glide/internal/account"
	accountdomain "github.com/glidestudio/glide/internal/account/domain"
	"github.com/glidestudio/glide/internal/config"
	"github.com/glidestudio/glide/internal/credit"
	creditdomain "github.com/glidestudio/glide/internal/credit/domain"
	"github.com/glidestudio/glide/internal/dispatch"
	"github.com/glidestudio/glide/internal/identity"
	"github.com/glidestudio/glide/internal/observability"
	obsmiddleware "github.com/glidestudio/glide/internal/observability/logger"
	obsmetrics "github.com/glidestudio/glide/internal/observability/metrics"
	obstracing "github.com/glidestudio/glide/internal/observability/tracing"
	"github.com/glidestudio/glide/internal/project"
	projectdomain "github.com/glidestudio/glide/internal/project/domain"
	"github.com/glidestudio/glide/internal/projection"
	"github.com/glidestudio/glide/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	identity.Module,
	account.Module,
	credit.Module,
	project.Module,
	projection.Module,
	webhook.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Log:             log,
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger, obsCfg observability.Config) *gin.Engine {
	return NewEngine(log, obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
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
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	genID      *snowflake.Node
	verifier   *identity.Verifier
	accountSvc accountdomain.Service
	creditSvc  creditdomain.Service
	projectSvc projectdomain.Service
	publisher  *projection.Publisher
	hub        *projection.Hub
	webhookSvc *webhook.Service
	queue      *dispatch.Queue
	guard      *dispatch.InflightGuard
	obsMetrics *obsmetrics.Metrics
	log        *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	GenID      *snowflake.Node
	Log        *zap.Logger
	Verifier   *identity.Verifier
	AccountSvc accountdomain.Service
	CreditSvc  creditdomain.Service
	ProjectSvc projectdomain.Service
	Publisher  *projection.Publisher
	Hub        *projection.Hub
	WebhookSvc *webhook.Service
	Queue      *dispatch.Queue
	Guard      *dispatch.InflightGuard
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		genID:      p.GenID,
		verifier:   p.Verifier,
		accountSvc: p.AccountSvc,
		creditSvc:  p.CreditSvc,
		projectSvc: p.ProjectSvc,
		publisher:  p.Publisher,
		hub:        p.Hub,
		webhookSvc: p.WebhookSvc,
		queue:      p.Queue,
		guard:      p.Guard,
		obsMetrics: p.ObsMetrics,
		log:        p.Log.Named("http.server"),
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()
	svc.registerInternalRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")
	api.Use(s.AuthRequired())

	api.POST("/projects", s.CreateProject)
	api.GET("/projects/:id", s.GetProject)
	api.DELETE("/projects/:id", s.DeleteProject)
	api.POST("/projects/:id/name", s.GenerateProjectName)
	api.GET("/projects/:id/events", s.StreamProjectEvents)
	api.PUT("/projects/:id/frames/:frameID", s.UpdateFrame)
	api.POST("/projects/:id/frames/:frameID/regenerate", s.RegenerateFrame)

	api.GET("/credits", s.GetCredits)
	api.GET("/credits/transactions", s.ListCreditTransactions)
	api.GET("/account/events", s.StreamAccountEvents)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/billing", s.HandleBillingWebhook)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal")
	internal.Use(s.ServiceKeyRequired())

	internal.POST("/projections/status", s.PublishStatusProjection)
	internal.POST("/projections/frame", s.PublishFrameProjection)
	internal.POST("/projections/balance", s.PublishBalanceProjection)
	internal.POST("/projections/transaction", s.PublishTransactionProjection)
}
