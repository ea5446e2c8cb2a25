package router

import (
	"time"

	"pettycash/internal/config"
	"pettycash/internal/handler"
	"pettycash/internal/infra"
	"pettycash/internal/metrics"
	"pettycash/internal/middleware"
	"pettycash/internal/model"
	"pettycash/internal/repository"
	"pettycash/internal/service"
	"pettycash/internal/worker"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// New wires all dependencies and returns a configured Gin engine.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis.
// rdb, limiter and m may be nil: without Redis, idempotency falls back to the
// unique column and closure reports are not queued; without m there is no
// /metrics route.
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, limiter *middleware.RateLimiter, m *metrics.Metrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(m.Middleware())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.ErrorHandler())
	if limiter != nil {
		r.Use(limiter.Middleware())
	}

	// ── Infrastructure ───────────────────────────────────────────────────────
	var (
		keys     service.KeyStore
		notifier service.ClosureNotifier
	)
	if rdb != nil {
		keys = infra.NewIdempotencyStore(rdb)
		notifier = worker.NewDispatcher(rdb)
	}

	// ── Repositories / services ──────────────────────────────────────────────
	cashRepo := repository.NewCashRepository(db)
	authz := service.RoleAuthorizer{}

	sessionSvc := service.NewSessionService(cashRepo, authz, notifier)
	var observer service.LedgerObserver
	if m != nil {
		observer = m
	}
	ledgerSvc := service.NewLedgerService(cashRepo, authz, keys, time.Duration(cfg.IdempotencyTTLHours)*time.Hour, observer)
	reconSvc := service.NewReconciliationService(cashRepo)

	cashH := handler.NewCashHandler(sessionSvc, ledgerSvc, reconSvc, m)

	// ── Routes ───────────────────────────────────────────────────────────────
	r.GET("/health", handler.Health(db, rdb))
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	operators := middleware.RequireRole(model.RoleCashier, model.RoleSupervisor, model.RoleAdministrator)
	managers := middleware.RequireRole(model.RoleSupervisor, model.RoleAdministrator)
	admins := middleware.RequireRole(model.RoleAdministrator)

	cash := r.Group("/v1/cash", middleware.JWTAuth(cfg.JWTSecret))
	{
		cash.GET("/registers/:register/active", cashH.Active)
		cash.GET("/registers/:register/last-closed", cashH.LastClosed)

		cash.POST("/sessions", operators, cashH.Open)
		cash.GET("/sessions", managers, cashH.List)
		cash.GET("/sessions/stats", managers, cashH.Stats)
		cash.DELETE("/sessions/:id", admins, cashH.Delete)

		cash.GET("/sessions/:id/summary", cashH.Summary)
		cash.GET("/sessions/:id/transactions", cashH.Transactions)
		cash.POST("/sessions/:id/expenses", operators, cashH.RecordExpense)
		cash.POST("/sessions/:id/purchases", operators, cashH.RecordPurchase)
		cash.POST("/sessions/:id/incomes", operators, cashH.RecordIncome)
		cash.GET("/sessions/:id/incomes/summary", cashH.IncomeSummary)
		cash.POST("/sessions/:id/suspend", operators, cashH.Suspend)
		cash.POST("/sessions/:id/resume", operators, cashH.Resume)
		cash.POST("/sessions/:id/close", operators, cashH.Close)

		cash.GET("/closures", managers, cashH.Closures)
		cash.GET("/closures/:id", cashH.Closure)
		cash.GET("/reports/daily", managers, cashH.DailyReport)
	}

	// Swagger UI, only outside production
	if !cfg.IsProduction() {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}
