package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/whatsapp-helpdesk/internal/api/http"
	"github.com/spec-kit/whatsapp-helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/whatsapp-helpdesk/internal/auth"
	"github.com/spec-kit/whatsapp-helpdesk/internal/config"
	"github.com/spec-kit/whatsapp-helpdesk/internal/events"
	"github.com/spec-kit/whatsapp-helpdesk/internal/gateway"
	"github.com/spec-kit/whatsapp-helpdesk/internal/media"
	"github.com/spec-kit/whatsapp-helpdesk/internal/observability"
	"github.com/spec-kit/whatsapp-helpdesk/internal/persistence"
	"github.com/spec-kit/whatsapp-helpdesk/internal/repository"
	"github.com/spec-kit/whatsapp-helpdesk/internal/service"
	"github.com/spec-kit/whatsapp-helpdesk/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)

	broker, err := events.NewAMQPSink(cfg.Broker, logger)
	if err != nil {
		logger.Warn("broker unavailable; continuing without it", zap.Error(err))
		broker = nil
	}
	defer broker.Close()
	worker.StartNotificationWorker(dispatcher, events.NewRedisPublisher(redis.Client), broker, logger)

	pool := pg.PoolHandle()
	connectionRepo := repository.NewConnectionRepository(pool)
	contactRepo := repository.NewContactRepository(pool)
	ticketRepo := repository.NewTicketRepository(pool)
	messageRepo := repository.NewMessageRepository(pool)
	historyRepo := repository.NewTicketHistoryRepository(pool)
	memberRepo := repository.NewMemberRepository(pool)

	gatewayClient := gateway.NewClient(cfg.Gateway, logger)

	ingestionDeps := service.IngestionDependencies{
		ConnectionRepo: connectionRepo,
		ContactRepo:    contactRepo,
		TicketRepo:     ticketRepo,
		MessageRepo:    messageRepo,
		HistoryRepo:    historyRepo,
		Tracker:        redis.DeliveryTracker(),
		Gateway:        gatewayClient,
		Dispatcher:     dispatcher,
		Metrics:        metrics,
		Logger:         logger,
	}
	if cfg.Media.ArchiveEnabled {
		ingestionDeps.Archiver = media.NewS3Archiver(media.NewS3Client(cfg.Media), cfg.Media, logger)
	}
	ingestionService := service.NewIngestionService(ingestionDeps)

	connectionService := service.NewConnectionService(service.ConnectionDependencies{
		ConnectionRepo: connectionRepo,
		Gateway:        gatewayClient,
		Dispatcher:     dispatcher,
		Logger:         logger,
		GatewayConfig:  cfg.Gateway,
		WebhookConfig:  cfg.Webhook,
		RestartConfig:  cfg.Restart,
	})
	dispatchService := service.NewDispatchService(service.DispatchDependencies{
		TicketRepo:     ticketRepo,
		ContactRepo:    contactRepo,
		MessageRepo:    messageRepo,
		ConnectionRepo: connectionRepo,
		Gateway:        gatewayClient,
		Dispatcher:     dispatcher,
		Logger:         logger,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  ticketRepo,
		MessageRepo: messageRepo,
		ContactRepo: contactRepo,
		HistoryRepo: historyRepo,
		Dispatcher:  dispatcher,
		Logger:      logger,
	})
	contactService := service.NewContactService(contactRepo)

	if cfg.AutoClose.Enabled {
		autoClose, err := worker.NewAutoCloseWorker(ticketService, cfg.AutoClose, logger)
		if err != nil {
			logger.Fatal("invalid auto close schedule", zap.String("schedule", cfg.AutoClose.Schedule), zap.Error(err))
		}
		autoClose.Start()
		defer autoClose.Stop()
	}

	verifier := auth.NewWebhookVerifier(cfg.Webhook.Secret)
	if !verifier.Enabled() {
		logger.Warn("WEBHOOK_SECRET not set; webhook accepts unauthenticated calls")
	}
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:          handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, metrics),
		Webhook:         handlers.NewWebhookHandler(ingestionService, logger),
		Actions:         handlers.NewActionsHandler(connectionService, dispatchService),
		Tickets:         handlers.NewTicketsHandler(ticketService),
		Contacts:        handlers.NewContactsHandler(contactService),
		AuthMiddleware:  auth.NewAuthMiddleware(tokens, memberRepo),
		WebhookVerifier: verifier,
		WebhookPath:     cfg.Webhook.Path,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
