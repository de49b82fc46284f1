package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/config"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/handler"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/infra/postgresql"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/infra/postgresql/migrations"
	infraredis "github.com/vinaykumarvk/PS-WMS-sub003/internal/infra/redis"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/observability"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/provider"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/queue"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/repository"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/service"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	startupTimeout   = 15 * time.Second
	shutdownTimeout  = 30 * time.Second
	consumerPrefetch = 10
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(ctx, startupTimeout)
	defer cancelStart()

	db, err := postgresql.NewPostgres(startCtx, cfg.PostgresPool())
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(startCtx, cfg.RedisURL, cfg.RedisOpTimeout)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	mq, err := queue.NewRabbitMQ(startCtx, cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer mq.Close()
	publisher := queue.NewRabbitMQPublisher(mq)
	defer publisher.Close()
	consumer := queue.NewRabbitMQConsumer(mq, consumerPrefetch, logger)
	defer consumer.Close()

	orders, err := provider.NewOrderClient(cfg.OrderServiceURL)
	if err != nil {
		return fmt.Errorf("order client initialization failed: %w", err)
	}
	prices, err := provider.NewPriceClient(cfg.PriceServiceURL)
	if err != nil {
		return fmt.Errorf("price client initialization failed: %w", err)
	}

	metrics := observability.NewMetrics()
	notifier := service.NewOwnerNotifier(queue.NewNotifier(publisher), logger)
	logs := repository.NewGormExecutionLogRepo(db)

	coordinator, err := service.NewBatchCoordinator(repository.NewGormBatchRepo(db), logs, orders, service.BatchCoordinatorConfig{
		MaxUnits:   cfg.BatchMaxUnits,
		UnitPause:  cfg.BatchUnitPause,
		MaxRunning: cfg.BatchConcurrency,
	}, logger)
	if err != nil {
		return err
	}
	coordinator.SetMetrics(metrics)

	engine, err := service.NewDeliveryEngine(
		repository.NewGormEndpointRepo(db),
		repository.NewGormDeliveryRepo(db),
		provider.NewWebhookClient(cfg.WebhookTimeout),
		limiter,
		notifier,
		service.DeliveryEngineConfig{
			Policy:       cfg.WebhookRetryPolicy(),
			AutoRetry:    cfg.WebhookAutoRetry,
			PendingGrace: cfg.WebhookGrace,
		},
		logger,
	)
	if err != nil {
		return err
	}
	engine.SetMetrics(metrics)

	plans, err := service.NewPlanScheduler(repository.NewGormPlanRepo(db), logs, prices, orders, notifier, cfg.PlanRetryPolicy(), logger)
	if err != nil {
		return err
	}
	plans.SetMetrics(metrics)

	scheduler, err := service.NewScheduler(plans, cfg.PlanRunSchedule, cfg.PlanRetrySchedule, logger)
	if err != nil {
		return err
	}
	scanner, err := service.NewRetryScanner(engine, cfg.RetryScanInterval, 0, logger)
	if err != nil {
		return err
	}
	listener, err := service.NewEventListener(consumer, engine, cfg.WorkerConcurrency, logger)
	if err != nil {
		return err
	}

	if resumed, err := coordinator.ResumeInterrupted(ctx); err != nil {
		logger.Error("failed to resume interrupted batches", zap.Error(err))
	} else if resumed > 0 {
		logger.Info("resumed interrupted batches", zap.Int("count", resumed))
	}

	app := fiber.New(fiber.Config{
		AppName:               observability.ServiceName,
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(transport.CorrelationID())
	app.Use(metrics.HTTPMiddleware(transport.StatusFor))
	handler.RegisterHealthRoutes(app, handler.PostgresCheck(sqlDB), handler.RedisCheck(rdb))
	handler.RegisterMetricsRoute(app, metrics)
	if err := handler.RegisterBatchRoutes(app, coordinator); err != nil {
		return err
	}
	if err := handler.RegisterWebhookRoutes(app, engine); err != nil {
		return err
	}
	if err := handler.RegisterPlanRoutes(app, plans); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Start(gctx) })
	g.Go(func() error { return scanner.Start(gctx) })
	g.Go(func() error { return listener.Start(gctx) })
	g.Go(func() error {
		logger.Info("wms jobs api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(
			app.ShutdownWithContext(shutdownCtx),
			coordinator.Shutdown(shutdownCtx),
			engine.Shutdown(shutdownCtx),
		)
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
