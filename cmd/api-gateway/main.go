package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-fee-ledger/api/swagger"
	"github.com/noah-isme/sma-fee-ledger/internal/handler"
	"github.com/noah-isme/sma-fee-ledger/internal/repository"
	"github.com/noah-isme/sma-fee-ledger/internal/service"
	"github.com/noah-isme/sma-fee-ledger/pkg/cache"
	"github.com/noah-isme/sma-fee-ledger/pkg/config"
	"github.com/noah-isme/sma-fee-ledger/pkg/database"
	"github.com/noah-isme/sma-fee-ledger/pkg/events"
	"github.com/noah-isme/sma-fee-ledger/pkg/jobs"
	"github.com/noah-isme/sma-fee-ledger/pkg/logger"
	"github.com/noah-isme/sma-fee-ledger/pkg/notify"
	"github.com/noah-isme/sma-fee-ledger/pkg/storage"
)

// @title School Fee Ledger API
// @version 1.0.0
// @description Annual fee, installment and extra fee ledger for school administrators
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(db); err != nil {
			logr.Sugar().Fatalw("failed to run migrations", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, db, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to build application", "error", err)
	}
	defer app.close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, app, logr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}

// application bundles the wired handlers and the resources that need closing.
type application struct {
	auth      *handler.AuthHandler
	students  *handler.StudentHandler
	extraFees *handler.ExtraFeeHandler
	rollover  *handler.RolloverHandler
	reports   *handler.ReportHandler
	audit     *handler.AuditHandler
	receipts  *handler.ReceiptHandler
	ops       *handler.MetricsHandler

	authSvc *service.AuthService
	metrics *service.MetricsService
	closers []func()
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, db *sqlx.DB, logr *zap.Logger) (*application, error) {
	app := &application{metrics: service.NewMetricsService()}
	validate := validator.New()

	checks := map[string]handler.ReadinessCheck{
		"database": db.PingContext,
	}

	var locker cache.Locker = cache.NewLocalLocker()
	if cfg.Redis.Enabled {
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, rollover lock is process-local", zap.Error(err))
		} else {
			locker = cache.NewRedisLocker(client, "fee-ledger:lock:")
			checks["redis"] = func(ctx context.Context) error { return pingRedis(ctx, client) }
			app.closers = append(app.closers, func() { _ = client.Close() })
		}
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, cfg.Events.Queue, logr)
		if err != nil {
			logr.Warn("event broker unavailable, ledger events disabled", zap.Error(err))
		} else {
			publisher = amqpPublisher
			app.closers = append(app.closers, func() { _ = amqpPublisher.Close() })
		}
	}

	store, err := storage.NewLocalStorage(cfg.Receipts.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("receipt storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Receipts.SignedURLSecret, cfg.Receipts.SignedURLTTL)

	studentRepo := repository.NewStudentRepository(db)
	extraFeeRepo := repository.NewExtraFeeRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	adminRepo := repository.NewAdminRepository(db)
	reportRepo := repository.NewReportRepository(db)

	auditSvc := service.NewAuditService(auditRepo, app.metrics, logr)
	receiptSvc := service.NewReceiptService(store, signer, service.ReceiptConfig{
		PublicBaseURL: cfg.Receipts.PublicBaseURL,
		SchoolName:    cfg.School.Name,
		Tagline:       cfg.School.Tagline,
		IssueTimeout:  cfg.Receipts.IssueTimeout,
		ResultTTL:     cfg.Receipts.SignedURLTTL,
	}, logr, nil)
	receiptSvc.StartCleanup(ctx, cfg.Receipts.CleanupInterval)

	retrier := service.NewReceiptRetrier(receiptSvc, studentRepo, extraFeeRepo, app.metrics, logr)
	queue := jobs.NewQueue("receipts", retrier.Handle, jobs.QueueConfig{
		Workers:    cfg.Receipts.RetryWorkers,
		MaxRetries: cfg.Receipts.RetryAttempts,
		RetryDelay: cfg.Receipts.RetryDelay,
		Logger:     logr,
		OnDrop:     retrier.Dropped,
	})
	retrier.SetQueue(queue)
	queue.Start(ctx)
	app.closers = append(app.closers, queue.Stop)

	collab := service.LedgerCollaborators{
		Audit:    auditSvc,
		Receipts: receiptSvc,
		Retries:  retrier,
		Events:   publisher,
		Links:    notify.NewWhatsApp(cfg.Notify.CountryCode, cfg.School.Name),
		Metrics:  app.metrics,
	}

	studentSvc := service.NewStudentService(studentRepo, validate, logr, collab)
	extraFeeSvc := service.NewExtraFeeService(extraFeeRepo, studentRepo, validate, logr, collab)
	rolloverSvc := service.NewRolloverService(studentRepo, extraFeeRepo, locker, collab, logr, service.RolloverConfig{
		Concurrency: cfg.Rollover.Concurrency,
		LockTTL:     cfg.Rollover.LockTTL,
	})
	reportSvc := service.NewReportService(reportRepo, extraFeeRepo, service.NewExportService(logr, nil, nil), logr)
	app.authSvc = service.NewAuthService(adminRepo, auditSvc, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	app.auth = handler.NewAuthHandler(app.authSvc)
	app.students = handler.NewStudentHandler(studentSvc)
	app.extraFees = handler.NewExtraFeeHandler(extraFeeSvc)
	app.rollover = handler.NewRolloverHandler(rolloverSvc)
	app.reports = handler.NewReportHandler(reportSvc)
	app.audit = handler.NewAuditHandler(auditSvc)
	app.receipts = handler.NewReceiptHandler(receiptSvc)
	app.ops = handler.NewMetricsHandler(app.metrics, checks)
	return app, nil
}

func pingRedis(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}
