package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"ms-activity/internal/config"
	"ms-activity/internal/kafka"
	"ms-activity/internal/logger"
	"ms-activity/internal/payment"
)

func main() {
	log := logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("CONFIG", err.Error())
	}
	if cfg.Stripe.WebhookSecret == "" {
		log.Fatal("CONFIG", "STRIPE_WEBHOOK_SECRET not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	topic := cfg.Kafka.Topics.PaymentConfirmed
	if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, []string{topic}, log); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	}
	producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
	defer producer.Close()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	payment.NewWebhookHandler(cfg.Stripe.WebhookSecret, &payment.KafkaSink{Publisher: producer, Topic: topic}, log).RegisterRoutes(r)

	server := &http.Server{
		Addr:         cfg.Server.PaymentAddr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Payment bridge running on %s", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP", fmt.Sprintf("HTTP server error: %v", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	log.Info("HTTP", "✅ Payment bridge shutdown complete")
}
