package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/armory-ledger/api/controllers"
	"github.com/angelmondragon/armory-ledger/api/middleware"
	"github.com/angelmondragon/armory-ledger/internal/assets"
	"github.com/angelmondragon/armory-ledger/internal/movements"
	"github.com/angelmondragon/armory-ledger/internal/purchases"
	"github.com/angelmondragon/armory-ledger/internal/transfers"
	"github.com/angelmondragon/armory-ledger/pkg/config"
	"github.com/angelmondragon/armory-ledger/pkg/logger"
	"github.com/angelmondragon/armory-ledger/pkg/metrics"
	pkgredis "github.com/angelmondragon/armory-ledger/pkg/redis"
)

// Services bundles the domain services the router exposes.
type Services struct {
	Assets    assets.Service
	Purchases purchases.Service
	Transfers transfers.Service
	Movements movements.Service
	Summaries controllers.Summarizer
}

// Dependencies are the infrastructure handles the router reads from. Redis is
// nil when not configured.
type Dependencies struct {
	DB          controllers.Pinger
	Redis       *pkgredis.Client
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTPMetrics
	Clock       func() time.Time
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies, svc Services) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	checks := map[string]controllers.Pinger{}
	if deps.DB != nil {
		checks["database"] = deps.DB
	}
	policy := middleware.RateLimitPolicy{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}
	limiter := middleware.NewRateLimiter(policy, nil, logg)
	var idempotencyStore pkgredis.IdempotencyStore
	if deps.Redis != nil {
		checks["redis"] = deps.Redis
		idempotencyStore = deps.Redis
		limiter = middleware.NewRateLimiter(policy, deps.Redis, logg)
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, checks))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity(logg))
		r.Use(limiter.Handler)
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Route("/assets", func(r chi.Router) {
			r.Get("/", controllers.AssetList(svc.Assets, logg))
			r.Post("/", controllers.AssetCreate(svc.Assets, logg))
			r.Get("/{assetId}", controllers.AssetDetail(svc.Assets, logg))
		})
		r.Route("/purchases", func(r chi.Router) {
			r.Get("/", controllers.PurchaseList(svc.Purchases, logg))
			r.Post("/", controllers.PurchaseCreate(svc.Purchases, logg))
		})
		r.Route("/transfers", func(r chi.Router) {
			r.Get("/", controllers.TransferList(svc.Transfers, logg))
			r.Post("/", controllers.TransferCreate(svc.Transfers, logg))
		})
		r.Post("/assignments", controllers.AssignmentCreate(svc.Movements, logg))
		r.Post("/expenditures", controllers.ExpenditureCreate(svc.Movements, logg))
		r.Post("/transactions/{transactionId}/reverse", controllers.TransactionReverse(svc.Movements, logg))
		r.Get("/dashboard", controllers.Dashboard(svc.Summaries, deps.Clock, logg))
	})

	return r
}
