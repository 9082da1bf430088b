package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/leafsense-cart/internal/api"
	"github.com/xenking/leafsense-cart/internal/domain/coupon"
	"github.com/xenking/leafsense-cart/internal/domain/order"
	"github.com/xenking/leafsense-cart/internal/handler"
	"github.com/xenking/leafsense-cart/internal/storage/postgres"
	"github.com/xenking/leafsense-cart/internal/storage/redis"
	"github.com/xenking/leafsense-cart/pkg/health"
	"github.com/xenking/leafsense-cart/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	rdb, err := redis.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return errors.Wrap(err, "connect redis")
	}
	defer func() { _ = rdb.Close() }()

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.Ping("postgres", pool.Ping))
	healthSvc.AddReadinessCheck("redis", 2*time.Second, health.Ping("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}))
	healthSvc.AddLivenessCheck("runtime", time.Second, health.Runtime(10000, time.Second))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)

	validator := coupon.NewRuleValidator(couponRepo)
	orderService := order.NewService(orderRepo, validator,
		order.WithGuard(redis.NewGuard(rdb, cfg.GuardTTL)),
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	)

	h, err := handler.NewHandler(validator, orderService,
		handler.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create handler")
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           newRouter(ctx, cfg, m, healthSvc, h),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newRouter mounts the health probes and the API behind the middleware chain.
// Route-aware middlewares run inside chi so the matched pattern is known.
func newRouter(
	ctx context.Context,
	cfg *Config,
	m httpmiddleware.Telemetry,
	healthSvc *health.Health,
	h *handler.Handler,
) http.Handler {
	limit := httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	}
	if cfg.RateLimit.PerCustomer {
		limit.KeyFunc = httpmiddleware.CustomerKey
	}

	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins: cfg.CORS.Origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{
				"Content-Type",
				api.HeaderCustomerID,
				api.HeaderIdempotencyKey,
				api.HeaderRequestID,
			},
			ExposeHeaders:    []string{api.HeaderIdempotentReplayed, api.HeaderRequestID},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
	)
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)

	r.Group(func(r chi.Router) {
		r.Use(
			httpmiddleware.RateLimitWithCleanup(ctx, limit),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("leafsense-api", httpmiddleware.ChiRoutes, m),
			httpmiddleware.LogRequests(httpmiddleware.ChiRoutes),
			httpmiddleware.Labeler(httpmiddleware.ChiRoutes),
		)
		h.Routes(r)
	})
	return r
}
