package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"ms-activity/internal/activity"
	"ms-activity/internal/activity/activity_api"
	activitydb "ms-activity/internal/activity/db"
	rediswrap "ms-activity/internal/activity/redis"
	"ms-activity/internal/auth"
	"ms-activity/internal/database"
	"ms-activity/internal/database/migrations"
	"ms-activity/internal/kafka"
	"ms-activity/internal/natsbus"
	"ms-activity/internal/notify"
	"ms-activity/internal/pass"
	"ms-activity/internal/payment"
	"ms-activity/internal/sse"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, notification fan-out and payment consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	log.Info("APP", "Starting activity service initialization")
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	bunDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer bunDB.Close()

	if cfg.Database.AutoMigrate {
		if err := migrateSchema(ctx, bunDB); err != nil {
			return err
		}
	}

	locks, closeLocks, err := newLocker(ctx)
	if err != nil {
		return err
	}
	defer closeLocks()

	publisher, err := newPublisher(ctx)
	if err != nil {
		return err
	}
	defer publisher.Close()

	hub := sse.NewHub(32)
	notifications := notify.NewStore(bunDB)
	dispatcher := notify.NewDispatcher(notifications, hub, publisher, notify.Topics{
		Notifications: cfg.Kafka.Topics.Notifications,
		Broadcasts:    cfg.Kafka.Topics.Broadcasts,
		Reconcile:     cfg.Kafka.Topics.PaymentReconcile,
	}, log, notify.Options{Workers: cfg.Notify.Workers, QueueSize: cfg.Notify.QueueSize})
	defer dispatcher.Close()

	service := activity.NewService(activitydb.New(bunDB), locks, dispatcher, log, cfg.Coordinator.MaxRetries)

	verifier, err := auth.NewVerifier(ctx, cfg.Auth.OIDCIssuer, cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}
	handler := &activity_api.Handler{
		Service:       service,
		Notifications: notifications,
		Hub:           hub,
		Passes:        pass.NewGenerator(cfg.Pass.Secret),
		Logger:        log,
	}

	// No WriteTimeout: SSE responses stay open.
	server := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     activity_api.NewRouter(handler, verifier, log),
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	confirmer := payment.NewConfirmer(service, log)
	var wg sync.WaitGroup

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.PaymentConfirmed, cfg.Kafka.GroupID, log)
		defer consumer.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.LogKafka("CONSUME", cfg.Kafka.Topics.PaymentConfirmed, "payment confirmation consumer started")
			if err := consumer.Start(ctx, confirmer.KafkaHandler()); err != nil {
				log.Error("KAFKA", fmt.Sprintf("consumer stopped: %v", err))
			}
		}()
	}

	var webhookServer *http.Server
	if !cfg.Kafka.Enabled && cfg.Stripe.WebhookSecret != "" {
		gin.SetMode(gin.ReleaseMode)
		r := gin.New()
		r.Use(gin.Recovery())
		payment.NewWebhookHandler(cfg.Stripe.WebhookSecret, confirmer, log).RegisterRoutes(r)
		webhookServer = &http.Server{Addr: cfg.Server.PaymentAddr, Handler: r}
		go listen(webhookServer, "payment webhook")
	}

	go listen(server, "activity API")
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	if webhookServer != nil {
		if err := webhookServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP", fmt.Sprintf("Webhook server Shutdown Failed: %v", err))
		}
	}
	wg.Wait()
	log.Info("HTTP", "✅ Activity service shutdown complete")
	return nil
}

func listen(server *http.Server, name string) {
	log.Info("HTTP", fmt.Sprintf("🚀 %s running on %s", name, server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("HTTP", fmt.Sprintf("%s server error: %v", name, err))
	}
}

func migrateSchema(ctx context.Context, bunDB *bun.DB) error {
	if database.IsSQLite(cfg.Database.DSN) {
		return database.CreateSchema(ctx, bunDB)
	}
	runner := migrations.NewRunner(bunDB, log)
	defer runner.Close()
	return runner.MigrateUp()
}

// newLocker uses Redis when configured, else an in-process keyed locker
// (single instance deployments only).
func newLocker(ctx context.Context) (activity.Locker, func(), error) {
	if cfg.Redis.Addr == "" {
		log.Warn("REDIS", "REDIS_ADDR not set, using in-process event locks")
		return activity.NewKeyedLocker(cfg.Redis.LockWait), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis connection error: %w", err)
	}
	log.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s", cfg.Redis.Addr))
	return rediswrap.NewRedis(client, log, cfg.Redis.LockTTL, cfg.Redis.LockWait), func() { client.Close() }, nil
}

func newPublisher(ctx context.Context) (notify.Publisher, error) {
	switch cfg.Notify.Broker {
	case "kafka":
		topics := []string{
			cfg.Kafka.Topics.Notifications,
			cfg.Kafka.Topics.Broadcasts,
			cfg.Kafka.Topics.PaymentConfirmed,
			cfg.Kafka.Topics.PaymentReconcile,
		}
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		return kafka.NewProducer(cfg.Kafka.Brokers, log), nil
	case "nats":
		pub, err := natsbus.NewPublisher(cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		log.Info("NATS", fmt.Sprintf("✅ NATS connection successful to %s", cfg.NATS.URL))
		return pub, nil
	}
	log.Info("NOTIFY", "No broker configured, notifications stay in-process")
	return notify.NopPublisher{}, nil
}
