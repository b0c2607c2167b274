package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pillarhealth/remit/remit-backend/internal/config"
	"github.com/pillarhealth/remit/remit-backend/internal/crypto"
	"github.com/pillarhealth/remit/remit-backend/internal/edi"
	"github.com/pillarhealth/remit/remit-backend/internal/event"
	"github.com/pillarhealth/remit/remit-backend/internal/handler"
	"github.com/pillarhealth/remit/remit-backend/internal/repository/postgres"
	"github.com/pillarhealth/remit/remit-backend/internal/service"
	"github.com/pillarhealth/remit/remit-backend/internal/sftpx"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Initialize zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Connect to database
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()

	// Verify database connection
	if err := pool.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Connected to database")

	// Initialize repositories
	txManager := postgres.NewTxManager(pool)
	bucketRepo := postgres.NewBucketRepository(pool)
	claimLogRepo := postgres.NewClaimLogRepository(pool)
	ruleRepo := postgres.NewRuleRepository(pool)
	thresholdRepo := postgres.NewThresholdRepository(pool)
	criteriaRepo := postgres.NewCommitCriteriaRepository(pool)
	workflowRepo := postgres.NewWorkflowConfigRepository(pool)
	templateRepo := postgres.NewTemplateRepository(pool)
	sequenceRepo := postgres.NewSequenceRepository(pool)
	payerRepo := postgres.NewPayerRepository(pool)
	payeeRepo := postgres.NewPayeeRepository(pool)
	reservationRepo := postgres.NewReservationRepository(pool)
	checkRepo := postgres.NewCheckPaymentRepository(pool)
	auditRepo := postgres.NewCheckAuditRepository(pool)
	approvalRepo := postgres.NewApprovalLogRepository(pool)
	historyRepo := postgres.NewFileHistoryRepository(pool)
	settingsRepo := postgres.NewSettingsRepository(pool)

	// Encryption boundary for persisted SFTP passwords
	encryptor, err := crypto.New(cfg.EncryptionKey, cfg.EncryptionSalt)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption")
	}

	// Initialize services
	bus := event.NewBus()
	settings := service.NewSettingsService(settingsRepo, cfg)
	manager := service.NewBucketManager(
		bucketRepo, thresholdRepo, criteriaRepo, workflowRepo,
		txManager, bus, settings, log.Logger,
	)
	reservationSvc := service.NewReservationService(
		reservationRepo, settings, txManager,
		cfg.CheckPayment.UseSeparateTransaction, log.Logger,
	)
	paymentSvc := service.NewCheckPaymentService(
		checkRepo, auditRepo, bucketRepo, payerRepo,
		reservationSvc, settings, txManager, log.Logger,
	)
	// BucketManager and CheckPaymentService call each other; wire the
	// narrow capabilities after construction.
	paymentSvc.SetGenerationTrigger(manager)
	manager.SetCheckAssigner(paymentSvc)

	aggregatorSvc := service.NewAggregatorService(
		bucketRepo, claimLogRepo, payerRepo, payeeRepo, templateRepo, criteriaRepo,
		manager, txManager, log.Logger,
	)

	fileNameSvc := service.NewFileNameService(templateRepo, sequenceRepo, txManager, log.Logger)
	ediSvc := service.NewEdiService(
		bucketRepo, claimLogRepo, payerRepo, payeeRepo, checkRepo, historyRepo,
		fileNameSvc, edi.NewWriter(), manager, txManager,
		cfg.Env == "production", log.Logger,
	)
	uploader := sftpx.NewClient(cfg.Delivery.SftpTimeout, cfg.Delivery.InsecureHostKey)
	deliverySvc := service.NewDeliveryService(
		historyRepo, bucketRepo, payerRepo, uploader, encryptor, settings, log.Logger,
	)

	// Event subscriptions: the generator follows GENERATING, the delivery
	// engine follows COMPLETED.
	bus.Subscribe(ediSvc.HandleStatusChange)
	bus.Subscribe(deliverySvc.HandleStatusChange)

	// Threshold monitor: fast loop plus cron entries.
	monitor := service.NewThresholdMonitor(
		bucketRepo, manager, settings, txManager, cfg.Monitor, log.Logger,
	)
	monitor.Start(context.Background())

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	mustSchedule(scheduler, cfg.Monitor.TimeBasedCron, func() {
		monitor.EvaluateAllBuckets(context.Background())
	})
	mustSchedule(scheduler, "0 * * * *", func() {
		monitor.InspectPendingApprovals(context.Background())
	})
	mustSchedule(scheduler, cfg.Monitor.CleanupCron, func() {
		monitor.WarnStaleBuckets(context.Background())
	})
	mustSchedule(scheduler, cfg.Delivery.SchedulerCron, func() {
		if _, err := deliverySvc.ProcessPendingDeliveries(context.Background()); err != nil {
			log.Error().Err(err).Msg("Pending delivery sweep failed")
		}
	})
	mustSchedule(scheduler, cfg.Delivery.RetryCron, func() {
		if _, err := deliverySvc.RetryFailedDeliveries(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed delivery retry sweep failed")
		}
	})
	scheduler.Start()

	approvalSvc := service.NewApprovalService(
		bucketRepo, approvalRepo, thresholdRepo, workflowRepo,
		manager, paymentSvc, txManager, log.Logger,
	)

	// Initialize handlers
	claimHandler := handler.NewClaimHandler(aggregatorSvc, ruleRepo)
	bucketHandler := handler.NewBucketHandler(manager, approvalSvc, paymentSvc, bucketRepo)
	deliveryHandler := handler.NewDeliveryHandler(deliverySvc, historyRepo)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomiddleware.RequestID())
	e.Use(zerologMiddleware())
	e.Use(echomiddleware.Recover())

	// Health check endpoint
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	handler.RegisterRoutes(e, claimHandler, bucketHandler, deliveryHandler)

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	cronCtx := scheduler.Stop()
	<-cronCtx.Done()
	monitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Drain queued events only after no publisher can still be running.
	bus.Close()

	log.Info().Msg("Server exited")
}

func mustSchedule(scheduler *cron.Cron, spec string, job func()) {
	if _, err := scheduler.AddFunc(spec, job); err != nil {
		log.Fatal().Err(err).Str("cron", spec).Msg("Invalid cron expression")
	}
}

// zerologMiddleware returns a middleware that logs requests using zerolog
func zerologMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			log.Info().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", res.Status).
				Dur("latency", time.Since(start)).
				Str("request_id", res.Header().Get(echo.HeaderXRequestID)).
				Msg("request")

			return nil
		}
	}
}
