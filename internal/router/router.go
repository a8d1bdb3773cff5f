// internal/router/router.go
package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/javajoker/shop-backend/internal/config"
	"github.com/javajoker/shop-backend/internal/handlers"
	"github.com/javajoker/shop-backend/internal/middleware"
	"github.com/javajoker/shop-backend/internal/services"
	"github.com/javajoker/shop-backend/internal/utils"
	"github.com/javajoker/shop-backend/pkg/metrics"
)

const Version = "1.0.0"

func Initialize(db *gorm.DB, cfg *config.Config, svc *services.Container) *gin.Engine {
	// Initialize handlers
	cartHandler := handlers.NewCartHandler(svc.Carts)
	orderHandler := handlers.NewOrderHandler(svc.Checkout, svc.Orders)
	paymentHandler := handlers.NewPaymentHandler(svc.Payments)
	receiptHandler := handlers.NewReceiptHandler(svc.Payments, svc.Storage)
	adminHandler := handlers.NewAdminHandler(svc.Payments, svc.Orders, svc.Inventory)
	healthHandler := handlers.NewHealthHandler(db, Version)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(metrics.Middleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept-Language", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Total-Count", "X-Page", "X-Per-Page", "X-Total-Pages", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middleware.I18nMiddleware())
	r.Use(middleware.GeneralRateLimit())

	// Health check
	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Cart routes
		cart := v1.Group("/cart")
		cart.Use(middleware.AuthRequired())
		{
			cart.GET("", cartHandler.GetCart)
			cart.DELETE("", cartHandler.ClearCart)
			cart.POST("/items", cartHandler.AddItem)
			cart.PUT("/items/:id", cartHandler.UpdateItem)
			cart.DELETE("/items/:id", cartHandler.RemoveItem)
		}

		v1.POST("/checkout", middleware.AuthRequired(), orderHandler.Checkout)

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.AuthRequired())
		{
			orders.GET("", orderHandler.ListOrders)
			orders.GET("/:id", orderHandler.GetOrder)
			orders.POST("/:id/cancel", orderHandler.CancelOrder)
		}

		// Payment routes
		payments := v1.Group("/payments")
		{
			// Provider redirect and webhook carry no customer token.
			payments.GET("/verify/:tx_ref", middleware.PaymentRateLimit(), paymentHandler.VerifyPayment)
			payments.POST("/callback", middleware.PaymentRateLimit(), paymentHandler.Callback)

			protected := payments.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.POST("/initiate", middleware.PaymentRateLimit(), paymentHandler.InitiatePayment)
				protected.GET("/:tx_ref", paymentHandler.GetPurchase)
				protected.GET("/:tx_ref/receipt", receiptHandler.GetReceiptLink)
			}
		}

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
		{
			admin.POST("/purchases/:id/refund", adminHandler.RefundPurchase)
			admin.POST("/orders/:id/ship", adminHandler.ShipOrder)
			admin.POST("/orders/:id/deliver", adminHandler.DeliverOrder)
			admin.POST("/products/:id/restock", adminHandler.RestockProduct)
		}
	}

	return r
}
