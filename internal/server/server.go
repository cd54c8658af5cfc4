package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hookforge/hookforge/internal/config"
	formuladomain "github.com/hookforge/hookforge/internal/formula/domain"
	performancedomain "github.com/hookforge/hookforge/internal/performance/domain"
	plandomain "github.com/hookforge/hookforge/internal/plan/domain"
	profiledomain "github.com/hookforge/hookforge/internal/profile/domain"
	quotadomain "github.com/hookforge/hookforge/internal/quota/domain"
	"github.com/hookforge/hookforge/internal/ratelimit"
	trenddomain "github.com/hookforge/hookforge/internal/trend/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogMiddleware(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
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
	engine *gin.Engine
	cfg    config.Config

	planSvc         plandomain.Service
	quotaSvc        quotadomain.Service
	performanceSvc  performancedomain.Service
	formulaSvc      formuladomain.Service
	trendSvc        trenddomain.Service
	profileSvc      profiledomain.Service
	feedbackLimiter *ratelimit.FeedbackIngestLimiter
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	PlanSvc        plandomain.Service
	QuotaSvc       quotadomain.Service
	PerformanceSvc performancedomain.Service
	FormulaSvc     formuladomain.Service
	TrendSvc       trenddomain.Service
	ProfileSvc     profiledomain.Service

	FeedbackLimiter *ratelimit.FeedbackIngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine: p.Gin,
		cfg:    p.Cfg,

		planSvc:         p.PlanSvc,
		quotaSvc:        p.QuotaSvc,
		performanceSvc:  p.PerformanceSvc,
		formulaSvc:      p.FormulaSvc,
		trendSvc:        p.TrendSvc,
		profileSvc:      p.ProfileSvc,
		feedbackLimiter: p.FeedbackLimiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	// -------- Plans --------
	api.GET("/plans", s.ListPlans)

	// -------- Quota --------
	api.POST("/users/:user_id/quota/period", s.EnsureCurrentPeriod)
	api.POST("/users/:user_id/quota/consume", s.ConsumeQuota)
	api.POST("/users/:user_id/quota/refund", s.RefundQuota)
	api.POST("/users/:user_id/quota/overage", s.RecordOverage)
	api.GET("/users/:user_id/quota", s.GetQuotaSnapshot)

	// -------- Performance feedback --------
	api.POST("/performance/records", s.FeedbackIngestRateLimit(), s.RecordPerformance)

	// -------- Formulas & trends --------
	api.GET("/formulas", s.ListFormulas)
	api.GET("/trends", s.ListTrends)
	api.GET("/trends/:formula_code", s.ListTrendsByFormula)

	// -------- Creator profiles --------
	api.GET("/users/:user_id/profile", s.GetCreatorProfile)
}
