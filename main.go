package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"conversation-service/internal/cache"
	"conversation-service/internal/config"
	"conversation-service/internal/db"
	"conversation-service/internal/errs"
	grpcserver "conversation-service/internal/grpc"
	"conversation-service/internal/handlers"
	"conversation-service/internal/logger"
	"conversation-service/internal/middleware"
	"conversation-service/internal/observability"
	"conversation-service/internal/rabbitmq"
	"conversation-service/internal/realtime"
	"conversation-service/internal/repositories"
	"conversation-service/internal/repositories/memory"
	"conversation-service/internal/services"
	"conversation-service/internal/telemetry"
	"conversation-service/internal/ws"
)

const serviceName = "conversation-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logg, err := logger.New(cfg.Environment)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, cfg.Environment)
	if err != nil {
		logg.Fatal("failed to init tracing", zap.Error(err))
	}

	store, ping, closeStore := openStore(ctx, cfg, logg)
	defer closeStore()

	conversationCache := openCache(ctx, cfg, logg)

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logg)
	defer publisher.Close()
	logg.Info("broker publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))

	bus := realtime.NewBus(64, logg)
	var forwarder realtime.Forwarder
	if rabbitmq.PublisherMode(publisher) == "amqp" {
		forwarder = publisher
	}
	fanout := realtime.NewFanout(bus, forwarder, logg)
	go fanout.Run(ctx)
	startConsumer(ctx, cfg, fanout, logg)

	deps := services.Deps{
		Store:  store,
		Cache:  conversationCache,
		Fanout: fanout,
		Audit:  telemetry.NewAuditEmitter(publisher, "audit.conversation", serviceName, cfg.Environment, logg),
		Log:    logg,
		Now:    time.Now,
		Options: services.Options{
			EditWindow:           cfg.EditWindow,
			FeedConcurrency:      cfg.FeedConcurrency,
			MessageMaxLength:     cfg.MessageMaxLength,
			SendRatePerSecond:    cfg.SendRatePerSecond,
			SendBurst:            cfg.SendBurst,
			ConversationsTTL:     cfg.ConversationsTTL,
			MessagesTTL:          cfg.MessagesTTL,
			UsersTTL:             cfg.UsersTTL,
			StaleTTL:             cfg.StaleTTL,
			RetryMaxAttempts:     cfg.RetryMaxAttempts,
			RetryInitialInterval: cfg.RetryInitialInterval,
		},
	}

	receipts := services.NewReceiptTracker(deps)
	identity := services.NewIdentityResolver(deps)
	reconciler := services.NewReconciler(deps)
	go reconciler.Start(ctx, cfg.ReconcileInterval)

	conversationHandler := handlers.NewConversationHandler(
		services.NewConversationResolver(deps),
		services.NewMembershipManager(deps),
		services.NewFeedAssembler(deps, receipts),
		receipts,
		logg,
	)
	messageHandler := handlers.NewMessageHandler(
		services.NewMessageService(deps, receipts, services.NewSenderLimiter(cfg.SendRatePerSecond, cfg.SendBurst)),
		receipts,
		logg,
	)
	wsHandler := ws.NewHandler(ws.NewHub(), bus, store.Participants, logg)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.RequestID())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if err := ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	verifier := middleware.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	handlers.RegisterRoutes(router, middleware.AuthMiddleware(verifier, identity, logg), conversationHandler, messageHandler)
	router.GET("/ws", middleware.WSAuthMiddleware(verifier, identity, logg), wsHandler.Handle)
	handlers.RegisterDebugRoutes(router, reconciler, logg, cfg.DebugRoutes)

	health := grpcserver.NewHealthServer(grpcserver.Pinger(ping), logg)
	go health.Watch(ctx, 15*time.Second)
	grpcListener, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logg.Fatal("failed to listen for grpc", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}
	go func() {
		logg.Info("grpc health server listening", zap.String("port", cfg.GRPCPort))
		if err := health.Serve(grpcListener); err != nil {
			logg.Error("grpc server stopped", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logg.Info("http server listening", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Warn("http shutdown failed", zap.Error(err))
	}
	health.GracefulStop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logg.Warn("tracing shutdown failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, logg *zap.Logger) (repositories.Store, func(context.Context) error, func()) {
	if cfg.StoreDriver == "memory" {
		logg.Warn("using in-memory store, data is lost on restart")
		return memory.New().Repositories(), func(context.Context) error { return nil }, func() {}
	}

	var database *sqlx.DB
	err := services.NewRetrier(5, time.Second, logg).Do(ctx, "connect_db", func(ctx context.Context) error {
		var err error
		database, err = db.Connect(ctx, cfg.DatabaseDSN, logg)
		if err != nil {
			// The database may still be starting; every connect failure is retried.
			return errs.Store("connect db", err, true)
		}
		return nil
	})
	if err != nil {
		logg.Fatal("failed to connect to db", zap.Error(err))
	}
	return repositories.NewPostgresStore(database), database.PingContext, func() { _ = database.Close() }
}

func openCache(ctx context.Context, cfg *config.Config, logg *zap.Logger) cache.Cache {
	if cfg.RedisAddr == "" {
		logg.Info("using in-process cache")
		return cache.NewMemory()
	}
	client, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logg.Warn("redis unavailable, falling back to in-process cache", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		return cache.NewMemory()
	}
	return cache.NewRedis(client, cfg.StaleTTL)
}

func startConsumer(ctx context.Context, cfg *config.Config, fanout *realtime.Fanout, logg *zap.Logger) {
	if cfg.AMQPURL == "" {
		return
	}
	consumer, err := rabbitmq.NewConsumer(cfg.AMQPURL, cfg.AMQPExchange, []string{"conversation.#", "user.#"}, logg)
	if err != nil {
		logg.Warn("broker consumer unavailable, realtime stays local", zap.Error(err))
		return
	}
	go func() {
		defer consumer.Close()
		if err := consumer.Run(ctx, fanout.Relay); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error("broker consumer stopped", zap.Error(err))
		}
	}()
}
