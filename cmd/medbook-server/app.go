package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/config"
	"github.com/medbook/medbook/internal/domain/doctor"
	"github.com/medbook/medbook/internal/domain/identity"
	paymentdomain "github.com/medbook/medbook/internal/domain/payment"
	"github.com/medbook/medbook/internal/domain/reference"
	"github.com/medbook/medbook/internal/domain/reservation"
	"github.com/medbook/medbook/internal/domain/review"
	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/internal/platform/db"
	"github.com/medbook/medbook/internal/platform/jobs"
	"github.com/medbook/medbook/internal/platform/live"
	"github.com/medbook/medbook/internal/platform/middleware"
	"github.com/medbook/medbook/internal/platform/notification"
	"github.com/medbook/medbook/internal/platform/payment"
	"github.com/medbook/medbook/internal/platform/redisx"
	"github.com/medbook/medbook/internal/platform/validate"
)

const otpCleanupCron = "@every 10m"

// app holds the process wide dependencies shared by serve and worker.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	pool  *pgxpool.Pool
	redis *redis.Client
	amqp  *amqp.Connection

	dispatcher *jobs.Dispatcher
	scheduler  jobs.Scheduler
	memory     *jobs.MemoryScheduler
	delay      *jobs.RedisDelayStore
	queue      *jobs.AMQPQueue

	hub *live.Hub

	identity    *identity.Service
	reference   *reference.Service
	doctors     *doctor.Service
	reservation *reservation.Service
	payments    *paymentdomain.Service
	reviews     *review.Service
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newApp connects to every backing service and builds the domain services.
// Without AMQP_URL jobs run in-process on timers.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &app{
		cfg:        cfg,
		logger:     logger,
		dispatcher: jobs.NewDispatcher(),
		hub: live.NewHub(
			live.WithTopicPrefixes(reservation.TopicPrefix),
			live.WithLogger(logger.With().Str("component", "live").Logger()),
		),
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.pool = pool
	logger.Info().Msg("connected to database")

	if cfg.RedisURL == "" {
		a.close()
		return nil, errors.New("REDIS_URL is required")
	}
	rdb, err := redisx.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		a.close()
		return nil, err
	}
	a.redis = rdb
	logger.Info().Msg("connected to redis")

	if cfg.AMQPURL != "" {
		conn, err := jobs.Dial(cfg.AMQPURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.amqp = conn
		queue, err := jobs.NewAMQPQueue(conn, logger.With().Str("component", "jobs").Logger(), 10)
		if err != nil {
			a.close()
			return nil, err
		}
		a.queue = queue
		a.delay = jobs.NewRedisDelayStore(rdb)
		a.scheduler = a.delay
		logger.Info().Msg("connected to rabbitmq")
	} else {
		a.memory = jobs.NewMemoryScheduler(a.dispatcher, logger.With().Str("component", "jobs").Logger())
		a.scheduler = a.memory
		logger.Warn().Msg("AMQP_URL not set, running jobs in-process")
	}

	a.buildServices()
	return a, nil
}

func (a *app) buildServices() {
	cfg, logger := a.cfg, a.logger
	loc := cfg.Location()
	tx := db.NewTxManager(a.pool)

	notifier := notification.NewNotifier(notification.NewLogSender(logger), nil)
	issuer := auth.NewIssuer(auth.JWTConfig{Issuer: cfg.JWTIssuer, SigningKey: []byte(cfg.JWTSecret)},
		cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	a.identity = identity.NewService(
		identity.NewAccountRepoPG(a.pool),
		identity.NewPatientRepoPG(a.pool),
		identity.NewOTPRepoPG(a.pool),
		tx,
		redisx.NewLimiter(a.redis, "otp", 1, cfg.OTPRateWindow),
		notifier,
		issuer,
		identity.WithOTPTTL(cfg.OTPTTL),
		identity.WithLogger(logger.With().Str("component", "identity").Logger()),
	)
	a.reference = reference.NewService(reference.NewItemRepoPG(a.pool), reference.NewCityRepoPG(a.pool))
	a.doctors = doctor.NewService(doctor.NewDoctorRepoPG(a.pool), tx, loc)
	a.reservation = reservation.NewService(
		reservation.NewReserveRepoPG(a.pool), tx, a.doctors, a.scheduler,
		reservation.WithLocation(loc),
		reservation.WithPaymentWindow(cfg.PaymentWindow),
		reservation.WithLogger(logger.With().Str("component", "reservation").Logger()),
		reservation.WithPublisher(live.NewRedisPublisher(a.redis, live.DefaultChannel)),
	)
	a.reservation.RegisterJobs(a.dispatcher)

	gateway := payment.NewClient(payment.Config{
		MerchantID: cfg.PaymentMerchantID,
		RequestURL: cfg.PaymentRequestURL,
		VerifyURL:  cfg.PaymentVerifyURL,
		PageURL:    cfg.PaymentPageURL,
		Timeout:    cfg.PaymentTimeout,
	})
	a.payments = paymentdomain.NewService(a.reservation, gateway, notifier, cfg.PaymentCallbackURL, loc,
		logger.With().Str("component", "payment").Logger())
	a.reviews = review.NewService(review.NewCommentRepoPG(a.pool), a.identity, a.doctors, loc)
}

func (a *app) close() {
	if a.memory != nil {
		a.memory.Close()
	}
	if a.queue != nil {
		a.queue.Close()
	}
	if a.amqp != nil {
		a.amqp.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// routeRegistrar is implemented by every domain handler.
type routeRegistrar interface {
	RegisterPublicRoutes(api *echo.Group)
	RegisterRoutes(api *echo.Group)
}

func (a *app) handlers() []routeRegistrar {
	return []routeRegistrar{
		identity.NewHandler(a.identity),
		reference.NewHandler(a.reference),
		doctor.NewHandler(a.doctors),
		reservation.NewHandler(a.reservation),
		paymentdomain.NewHandler(a.payments),
		review.NewHandler(a.reviews),
		live.NewHandler(a.hub, a.cfg.CORSOrigins, a.logger.With().Str("component", "live").Logger()),
	}
}

// newEcho builds the HTTP server: global middleware, a public API group and
// a JWT protected one under the same prefix.
func newEcho(cfg *config.Config, logger zerolog.Logger, handlers []routeRegistrar) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	apiV1 := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg))
	protected := apiV1.Group("", auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: []byte(cfg.JWTSecret),
	}))

	for _, h := range handlers {
		h.RegisterPublicRoutes(apiV1)
		h.RegisterRoutes(protected)
	}
	return e
}

// startWorker runs the promoter, the consumer and the sweepers until ctx is
// done. The returned function waits for them to stop.
func (a *app) startWorker(ctx context.Context) func() {
	var wg sync.WaitGroup
	log := a.logger.With().Str("component", "worker").Logger()

	if a.queue != nil {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := jobs.NewPromoter(a.delay, a.queue, log).Run(ctx); err != nil {
				log.Error().Err(err).Msg("job promoter stopped")
			}
		}()
		go func() {
			defer wg.Done()
			if err := a.queue.Consume(ctx, a.dispatcher, a.delay); err != nil {
				log.Error().Err(err).Msg("job consumer stopped")
			}
		}()
	}

	locker := redisx.NewLocker(a.redis)
	sweepers := []*jobs.Sweeper{
		jobs.NewSweeper("stale-claims", a.cfg.SweepCron, a.reservation.SweepStale, locker, log),
		jobs.NewSweeper("otp-cleanup", otpCleanupCron, a.identity.PurgeExpiredOTPs, locker, log),
	}
	for _, s := range sweepers {
		s.Start(ctx)
	}
	log.Info().Bool("broker", a.queue != nil).Msg("worker started")

	return func() {
		for _, s := range sweepers {
			s.Stop()
		}
		wg.Wait()
	}
}

func runServer(ctx context.Context, withWorker bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.close()

	e := newEcho(cfg, logger, a.handlers())
	e.GET("/health", db.HealthHandler(a.pool, db.Check{Name: "redis", Ping: redisx.Ping(a.redis)}))

	if withWorker {
		stop := a.startWorker(ctx)
		defer stop()
	}

	go func() {
		if err := live.Relay(ctx, a.redis, live.DefaultChannel, a.hub, logger); err != nil {
			logger.Error().Err(err).Msg("live relay stopped")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runWorkerOnly(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.close()

	stop := a.startWorker(ctx)
	<-ctx.Done()
	logger.Info().Msg("shutting down worker")
	stop()
	return nil
}
