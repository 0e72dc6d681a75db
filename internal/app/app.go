package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/learnhub/internal/domain/certificate"
	"github.com/xenking/learnhub/internal/domain/checkout"
	"github.com/xenking/learnhub/internal/domain/coupon"
	"github.com/xenking/learnhub/internal/domain/course"
	"github.com/xenking/learnhub/internal/domain/dashboard"
	"github.com/xenking/learnhub/internal/domain/enrollment"
	"github.com/xenking/learnhub/internal/domain/instructor"
	"github.com/xenking/learnhub/internal/domain/pricing"
	"github.com/xenking/learnhub/internal/handler"
	"github.com/xenking/learnhub/internal/notify"
	"github.com/xenking/learnhub/internal/payment"
	"github.com/xenking/learnhub/internal/scheduler"
	"github.com/xenking/learnhub/internal/storage/postgres"
	"github.com/xenking/learnhub/internal/storage/redis"
	"github.com/xenking/learnhub/pkg/health"
	"github.com/xenking/learnhub/pkg/httpmiddleware"
)

const webhookPath = "/api/payments/webhook"

// Telemetry provides the tracer and meter providers. *app.Telemetry from
// go-faster/sdk satisfies it.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// Run creates all dependencies, starts the HTTP server and background jobs,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Redis holds live checkout sessions.
	rdb, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return errors.Wrap(err, "connect redis")
	}
	defer func() { _ = rdb.Close() }()

	// Health check service.
	healthSvc := health.New(lg.Named("health"))
	healthSvc.Add(health.Readiness, health.Check{Name: "postgres", Timeout: 5 * time.Second, Fn: health.PingCheck(pool)})
	healthSvc.Add(health.Readiness, health.Check{Name: "redis", Timeout: 2 * time.Second, Fn: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}})
	healthSvc.Add(health.Liveness, health.Check{Name: "goroutines", Fn: health.GoroutineCountCheck(10000)})
	healthSvc.Add(health.Liveness, health.Check{Name: "gc", Fn: health.GCMaxPauseCheck(time.Second)})

	// Repositories.
	instructorRepo := postgres.NewInstructorRepository(pool)
	courseRepo := postgres.NewCourseRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	enrollmentRepo := postgres.NewEnrollmentRepository(pool)
	certificateRepo := postgres.NewCertificateRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)
	sessions := redis.NewSessionStore(rdb, cfg.KeyPrefix)

	couponGuard := coupon.NewGuard(couponRepo, cfg.Coupons.FilterCapacity, cfg.Coupons.FilterFPRate)
	n, err := couponGuard.Warm(ctx)
	if err != nil {
		return errors.Wrap(err, "warm coupon filter")
	}
	lg.Info("Coupon filter warmed", zap.Int("codes", n))
	go couponGuard.Follow(zctx.Base(ctx, lg.Named("coupons")), postgres.NewCouponFeed(pool), cfg.Coupons.FeedRetry)

	// Domain services.
	gate := instructor.NewGate(instructorRepo, notify.New(notify.Config{
		APIKey:    cfg.Mail.SendGridAPIKey,
		FromEmail: cfg.Mail.FromEmail,
		FromName:  cfg.Mail.FromName,
	}))
	courses := course.NewService(courseRepo, gate)
	coupons := coupon.NewService(couponGuard)
	engine := pricing.NewEngine(courses, coupon.NewRepoValidator(couponGuard), cfg.Payment.Currency)
	certificates := certificate.NewService(certificateRepo)
	enrollments := enrollment.NewMachine(enrollmentRepo, enrollmentRepo, certificates)
	dash := dashboard.NewResolver(gate, courseRepo, enrollments, certificates, courseRepo)

	share, err := cfg.revenueShare()
	if err != nil {
		return err
	}
	orchestrator, err := checkout.NewOrchestrator(checkout.Deps{
		Courses:     courseRepo,
		Pricer:      engine,
		Enrollments: enrollments,
		Processor: payment.New(payment.Config{
			BaseURL:    cfg.Payment.BaseURL,
			APIKey:     cfg.Payment.APIKey,
			SuccessURL: cfg.Payment.SuccessURL,
			CancelURL:  cfg.Payment.CancelURL,
			Timeout:    cfg.Payment.Timeout,
			Retries:    cfg.Payment.Retries,
		}, m.TracerProvider()),
		Sessions: sessions,
		Repo:     paymentRepo,
	}, checkout.Config{
		RevenueShare: decimal.NewNullDecimal(share),
		SessionTTL:   cfg.Payment.SessionTTL,
	}, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create checkout orchestrator")
	}

	// Background jobs.
	jobs := scheduler.New(ctx, lg.Named("jobs"))
	for _, j := range []scheduler.Job{
		{
			Name: "expire-checkouts",
			Spec: cfg.Jobs.ExpireCheckouts,
			Run: func(ctx context.Context) error {
				n, err := orchestrator.ExpireStale(ctx)
				if n > 0 {
					zctx.From(ctx).Info("Expired stale payments", zap.Int64("count", n))
				}
				return err
			},
		},
		{
			Name: "reconcile-certificates",
			Spec: cfg.Jobs.ReconcileCerts,
			Run: func(ctx context.Context) error {
				n, err := certificates.Reconcile(ctx, cfg.Jobs.ReconcileBatch)
				if n > 0 {
					zctx.From(ctx).Info("Issued missing certificates", zap.Int("count", n))
				}
				return err
			},
		},
		{
			Name: "refresh-coupon-filter",
			Spec: cfg.Jobs.RefreshCouponFilter,
			Run: func(ctx context.Context) error {
				_, err := couponGuard.Warm(ctx)
				return err
			},
		},
	} {
		j.Timeout = cfg.Jobs.Timeout
		if err := jobs.Add(j); err != nil {
			return errors.Wrap(err, "add job")
		}
		if j.Spec != "" && cfg.Jobs.StaleAfter > 0 {
			name := j.Name
			healthSvc.Add(health.Liveness, health.Check{
				Name: "job:" + name,
				Fn:   health.StalenessCheck(func() time.Time { return jobs.LastSuccess(name) }, cfg.Jobs.StaleAfter),
			})
		}
	}
	jobs.Start()
	healthSvc.Start(ctx, 10*time.Second)

	// HTTP handlers.
	h := handler.New(
		handler.Config{WebhookSecret: []byte(cfg.Payment.WebhookSecret)},
		handler.NewTokenVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer),
		handler.Services{
			Pricing:      engine,
			Checkout:     orchestrator,
			Enrollments:  enrollments,
			Instructors:  gate,
			Courses:      courses,
			Coupons:      coupons,
			Certificates: certificates,
			Dashboard:    dash,
		},
	)

	var rateStore httpmiddleware.RateStore
	if cfg.RateLimit.Backend == "redis" {
		rateStore = redis.NewRateStore(rdb, cfg.KeyPrefix)
	}

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Payment.Timeout*time.Duration(cfg.Payment.Retries+1) + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Retry-After", "X-RateLimit-Remaining"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				Store:  rateStore,
				Skip: func(r *http.Request) bool {
					return r.URL.Path == webhookPath
				},
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("learnhub-api", routeFinder, m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
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
		jobs.Stop(shutdownCtx)
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
