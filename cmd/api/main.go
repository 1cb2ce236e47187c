package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
	limitermw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/viur-framework/viur-shop-sub000/internal/address"
	"github.com/viur-framework/viur-shop-sub000/internal/cart"
	"github.com/viur-framework/viur-shop-sub000/internal/catalog"
	"github.com/viur-framework/viur-shop-sub000/internal/config"
	"github.com/viur-framework/viur-shop-sub000/internal/discount"
	"github.com/viur-framework/viur-shop-sub000/internal/health"
	"github.com/viur-framework/viur-shop-sub000/internal/hooks"
	"github.com/viur-framework/viur-shop-sub000/internal/notify"
	"github.com/viur-framework/viur-shop-sub000/internal/obs"
	"github.com/viur-framework/viur-shop-sub000/internal/order"
	"github.com/viur-framework/viur-shop-sub000/internal/payment"
	"github.com/viur-framework/viur-shop-sub000/internal/price"
	"github.com/viur-framework/viur-shop-sub000/internal/session"
	"github.com/viur-framework/viur-shop-sub000/internal/shipping"
	"github.com/viur-framework/viur-shop-sub000/internal/store"
	"github.com/viur-framework/viur-shop-sub000/internal/vat"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.SetupTracing(context.Background(), obs.Tracing{
			Service:     "shop-api",
			Environment: cfg.AppEnv,
			Endpoint:    envOrDefault("OBS_OTLP_ENDPOINT", ""),
			SampleRatio: 1.0,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.QueryTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "shop-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	metrics := obs.NewMetrics(prometheus.DefaultRegisterer)

	st := store.NewPostgres(pool)
	registry := hooks.NewRegistry(logger)
	vatSvc := vat.NewService(vat.DefaultRates)

	catalogSvc := catalog.NewService(st, catalog.NewCache(redisClient, cfg.ArticleCacheTTL), logger)
	addressSvc := address.NewService(st, logger)
	shippingSvc := shipping.NewService(st, logger)

	discountSvc := discount.NewService(st, logger, discount.ServiceConfig{
		ConditionCacheSize: cfg.ConditionCacheSize,
		ConditionCacheTTL:  cfg.ConditionCacheTTL,
		AutomaticTTL:       cfg.AutomaticDiscountTTL,
	})
	engine := discount.NewEngine(registry, discountSvc, logger)
	discountSvc.SetEngine(engine)

	calc := price.NewCalculator(engine, discountSvc, vatSvc, registry, metrics, logger)
	cartSvc := cart.NewService(st, catalogSvc, vatSvc, shippingSvc, calc, discountSvc, engine, registry, metrics, logger, cfg.ChildrenPageSize)
	discountSvc.SetCart(cartSvc)
	calc.SetDiscountSource(cartSvc)

	providers := payment.NewRegistry(payment.NewInvoice(), payment.NewPrepayment(nil))
	orderSvc := order.NewService(st, cartSvc, addressSvc, providers, registry, metrics, logger, cfg.Currency, cfg.PaymentTimeout)
	engine.SetCustomerHistory(orderSvc)

	redisConn, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for task queue")
	}
	asynqClient := asynq.NewClient(redisConn)
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task queue client")
		}
	}()
	enqueuer := notify.NewEnqueuer(asynqClient, logger)

	registerOrderObservers(registry, cartSvc, discountSvc, enqueuer, logger)

	cartHandler := &cart.Handler{Svc: cartSvc}
	catalogHandler := &catalog.Handler{Svc: catalogSvc}
	addressHandler := &address.Handler{Svc: addressSvc}
	shippingHandler := &shipping.Handler{Svc: shippingSvc}
	discountHandler := &discount.Handler{Svc: discountSvc}
	orderHandler := &order.Handler{Svc: orderSvc}

	rate, err := limiter.NewRateFromFormatted(cfg.RateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse rate limit")
	}
	limiterStore, err := limiterredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "shop:limiter"})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter store")
	}
	rateLimiter := limitermw.NewMiddleware(limiter.New(limiterStore, rate))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(session.Middleware(cfg.DefaultLanguage, cfg.DefaultCountry))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Session-Id", "X-User-Key", "X-Country"},
		ExposedHeaders:   []string{"X-Session-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    500 * time.Millisecond,
		RedisTimeout: 300 * time.Millisecond,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(rateLimiter.Handler)

		v.Route("/articles", func(a chi.Router) {
			a.Get("/", catalogHandler.List)
			a.Post("/", catalogHandler.Upsert)
			a.Get("/{id}", catalogHandler.Get)
			a.Delete("/{id}", catalogHandler.Delete)
		})

		v.Route("/addresses", func(a chi.Router) {
			a.Get("/", addressHandler.List)
			a.Post("/", addressHandler.Upsert)
			a.Get("/{id}", addressHandler.Get)
			a.Delete("/{id}", addressHandler.Delete)
		})

		v.Route("/shipping", func(sh chi.Router) {
			sh.Get("/", shippingHandler.List)
			sh.Post("/", shippingHandler.Upsert)
			sh.Get("/{id}", shippingHandler.Get)
		})

		v.Route("/carts", func(c chi.Router) {
			c.Get("/", cartHandler.List)
			c.Post("/", cartHandler.Add)
			c.Get("/basket", cartHandler.Basket)
			c.Post("/add-article", cartHandler.AddArticle)
			c.Post("/move-article", cartHandler.MoveArticle)
			c.Post("/remove-article", cartHandler.RemoveArticle)
			c.Route("/{id}", func(n chi.Router) {
				n.Get("/", cartHandler.Get)
				n.Get("/children", cartHandler.Children)
				n.Patch("/", cartHandler.Update)
				n.Delete("/", cartHandler.Remove)
			})
		})

		v.Route("/discounts", func(d chi.Router) {
			d.Get("/search", discountHandler.Search)
			d.Get("/automatic", discountHandler.Automatic)
			d.Post("/apply", discountHandler.Apply)
			d.Post("/remove", discountHandler.Remove)
			d.Post("/", discountHandler.UpsertDiscount)
			d.Get("/{id}", discountHandler.GetDiscount)
			d.Delete("/{id}", discountHandler.DeleteDiscount)
			d.Route("/conditions", func(c chi.Router) {
				c.Post("/", discountHandler.UpsertCondition)
				c.Get("/{id}", discountHandler.GetCondition)
				c.Delete("/{id}", discountHandler.DeleteCondition)
				c.Post("/{id}/subcodes", discountHandler.GenerateSubCode)
			})
		})

		v.Route("/orders", func(o chi.Router) {
			o.Get("/", orderHandler.List)
			o.Post("/", orderHandler.Add)
			o.Route("/{id}", func(one chi.Router) {
				one.Get("/", orderHandler.Get)
				one.Patch("/", orderHandler.Update)
				one.Get("/can-checkout", orderHandler.CanCheckout)
				one.Post("/checkout/start", orderHandler.CheckoutStart)
				one.Get("/can-order", orderHandler.CanOrder)
				one.Post("/checkout/order", orderHandler.CheckoutOrder)
				one.Post("/set-paid", orderHandler.SetPaid)
				one.Post("/set-rts", orderHandler.SetRTS)
			})
		})
	})

	var handler http.Handler = r
	if tracingEnabled {
		handler = otelhttp.NewHandler(r, "shop-api")
	}

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: handler,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	<-shutdownCtx.Done()
	logger.Info().Msg("shutting down")
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()
	if err := srv.Shutdown(ctxTimeout); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

// registerOrderObservers wires the side effects of the order
// lifecycle: usage counters move and notifications go out only after
// the corresponding event fired.
func registerOrderObservers(
	registry *hooks.Registry,
	cartSvc *cart.Service,
	discountSvc *discount.Service,
	enqueuer *notify.Enqueuer,
	logger zerolog.Logger,
) {
	orderPayload := func(payload any) (*order.Order, bool) {
		ev, ok := payload.(*order.Event)
		if !ok || ev.Order == nil {
			return nil, false
		}
		return ev.Order, true
	}

	registry.On(hooks.EventOrderOrdered, func(ctx context.Context, _ hooks.Event, payload any) error {
		o, ok := orderPayload(payload)
		if !ok {
			return nil
		}
		if o.CartKey == nil {
			return nil
		}
		redemptions, err := cartSvc.Redemptions(ctx, *o.CartKey)
		if err != nil {
			return err
		}
		for _, red := range redemptions {
			if err := discountSvc.MarkUsed(ctx, red.Discount, red.Code); err != nil {
				logger.Error().Err(err).Str("discount", red.Discount.Key.String()).Msg("mark discount used")
			}
		}
		return enqueuer.Enqueue(ctx, notify.TaskOrderConfirmation, notify.OrderPayload{
			OrderKey: o.Key, OrderUID: o.UID, Email: o.Email,
		})
	})

	registry.On(hooks.EventOrderPaid, func(ctx context.Context, _ hooks.Event, payload any) error {
		o, ok := orderPayload(payload)
		if !ok {
			return nil
		}
		return enqueuer.Enqueue(ctx, notify.TaskOrderPaid, notify.OrderPayload{
			OrderKey: o.Key, OrderUID: o.UID, Email: o.Email,
		})
	})

	registry.On(hooks.EventOrderRTS, func(ctx context.Context, _ hooks.Event, payload any) error {
		o, ok := orderPayload(payload)
		if !ok {
			return nil
		}
		return enqueuer.Enqueue(ctx, notify.TaskOrderRTS, notify.OrderPayload{
			OrderKey: o.Key, OrderUID: o.UID, Email: o.Email,
		})
	})
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}
