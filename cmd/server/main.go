// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/shop-backend/internal/config"
	"github.com/javajoker/shop-backend/internal/database"
	"github.com/javajoker/shop-backend/internal/i18n"
	"github.com/javajoker/shop-backend/internal/router"
	"github.com/javajoker/shop-backend/internal/services"
	"github.com/javajoker/shop-backend/internal/tasks"
	"github.com/javajoker/shop-backend/internal/utils"
	"github.com/javajoker/shop-backend/pkg/events"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	utils.ConfigureLogger(cfg.Environment, cfg.LogLevel)

	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close(db)

	// Run database migrations
	if err := database.RunMigrations(db); err != nil {
		logrus.WithError(err).Fatal("Failed to run migrations")
	}

	// Initialize i18n
	if err := i18n.Initialize(); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize i18n")
	}

	gw, err := services.NewGateway(cfg.Payment)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize payment gateway")
	}

	redisClient, err := tasks.NewRedisClient(cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to redis")
	}
	defer redisClient.Close()
	queue := tasks.NewRedisQueue(redisClient, cfg.Worker.Stream, cfg.Worker.Group, cfg.Worker.Consumer)

	publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix)
	defer publisher.Close()

	container, err := services.NewContainer(db, cfg, gw, queue, publisher)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize services")
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	r := router.Initialize(db, cfg, container)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	relayCtx, stopRelay := context.WithCancel(context.Background())
	var relayDone sync.WaitGroup
	if cfg.Server.RunRelay {
		relayDone.Add(1)
		go func() {
			defer relayDone.Done()
			container.Outbox.Relay(relayCtx)
		}()
	}

	// Start server in a goroutine
	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown server
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}
	stopRelay()
	relayDone.Wait()

	logrus.Info("Server exited")
}
