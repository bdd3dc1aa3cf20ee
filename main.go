package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sos-service/config"
	"sos-service/internal/device"
	"sos-service/internal/handler"
	"sos-service/internal/messaging"
	"sos-service/internal/repository"
	"sos-service/internal/service"

	_ "github.com/lib/pq"
)

func main() {
	configPath := "config/config.json"
	if p := os.Getenv("SOS_CONFIG"); p != "" {
		configPath = p
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	// Connect to RabbitMQ
	rmq, err := messaging.NewRabbitMQ(
		cfg.RabbitMQ.Host,
		cfg.RabbitMQ.Port,
		cfg.RabbitMQ.User,
		cfg.RabbitMQ.Password,
	)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer rmq.Close()
	log.Println("Connected to RabbitMQ")

	hub := messaging.NewHub()
	go hub.Run()
	defer hub.Stop()

	// Initialize repositories
	alertRepo := repository.NewAlertRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	processedRepo := repository.NewProcessedRepository(db)

	// Start outbox relay
	outboxWorker := messaging.NewOutboxWorker(outboxRepo, rmq, messaging.OutboxWorkerConfig{
		Interval:  cfg.Outbox.Interval.Duration,
		BatchSize: cfg.Outbox.BatchSize,
		Retention: cfg.Outbox.Retention.Duration,
	})
	outboxWorker.Start()
	defer outboxWorker.Stop()

	// Start dispatch consumer
	consumer := messaging.NewDispatchConsumer(rmq, notificationRepo, processedRepo, hub)
	consumer.Start()
	defer consumer.Stop()

	// Initialize services
	alertService := service.NewAlertService(alertRepo, outboxRepo)
	notificationService := service.NewNotificationService(notificationRepo, hub)
	locations := device.NewLocationStore(cfg.Location.MaxFixAge.Duration)
	// Per-user controllers, idle ones are evicted
	sessions := service.NewSessionService(alertService, locations, hub, service.ControllerOptions(cfg.Controller))
	sessions.StartEviction(cfg.Sessions.IdleTTL.Duration, cfg.Sessions.EvictInterval.Duration)
	defer sessions.Close()

	router := handler.SetupRouter(handler.Handlers{
		Session:      handler.NewSessionHandler(sessions),
		Stream:       handler.NewStreamHandler(sessions, notificationService),
		Alert:        handler.NewAlertHandler(alertService),
		Notification: handler.NewNotificationHandler(notificationService),
		Health:       handler.NewHealthHandler(db, outboxWorker, rmq),
	}, cfg.JWT.Secret)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("SOS service starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
}
