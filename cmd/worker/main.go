// cmd/worker/main.go
package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/shop-backend/internal/config"
	"github.com/javajoker/shop-backend/internal/database"
	"github.com/javajoker/shop-backend/internal/services"
	"github.com/javajoker/shop-backend/internal/tasks"
	"github.com/javajoker/shop-backend/internal/utils"
	"github.com/javajoker/shop-backend/pkg/events"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	utils.ConfigureLogger(cfg.Environment, cfg.LogLevel)

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close(db)

	redisClient, err := tasks.NewRedisClient(cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to redis")
	}
	defer redisClient.Close()
	queue := tasks.NewRedisQueue(redisClient, cfg.Worker.Stream, cfg.Worker.Group, cfg.Worker.Consumer)

	publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix)
	defer publisher.Close()

	storage, err := services.NewStorageService(cfg.AWS)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize receipt storage")
	}
	notifications := services.NewNotificationService(services.NewMailer(cfg.Email), cfg.Store)
	receipts := services.NewReceiptService(db, storage, notifications, cfg.Store)
	outbox := services.NewOutboxService(db, queue, publisher, cfg.Worker.OutboxBatch, cfg.Worker.OutboxInterval)

	worker := tasks.NewWorker(queue, cfg.Worker.MaxAttempts)
	worker.SetRetryBackoff(cfg.Worker.RetryBackoff, cfg.Worker.RetryBackoffMax)
	worker.Handle(tasks.TypeGenerateReceipt, receipts.HandleTask)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		outbox.Relay(ctx)
	}()

	logrus.WithFields(logrus.Fields{
		"stream":   cfg.Worker.Stream,
		"group":    cfg.Worker.Group,
		"consumer": cfg.Worker.Consumer,
	}).Info("Starting receipt worker")

	if err := worker.Run(ctx); err != nil {
		logrus.WithError(err).Error("Worker stopped with error")
	}
	wg.Wait()

	logrus.Info("Worker exited")
}
