// internal/services/container.go
package services

import (
	"gorm.io/gorm"

	"github.com/javajoker/shop-backend/internal/config"
	"github.com/javajoker/shop-backend/internal/tasks"
	"github.com/javajoker/shop-backend/pkg/events"
	"github.com/javajoker/shop-backend/pkg/gateway"
)

// Container holds the services behind the HTTP API.
type Container struct {
	Inventory *InventoryService
	Outbox    *OutboxService
	Carts     *CartService
	Checkout  *CheckoutService
	Orders    *OrderService
	Payments  *PaymentService
	Storage   *StorageService
}

func NewContainer(db *gorm.DB, cfg *config.Config, gw gateway.Gateway, queue tasks.Queue, publisher events.Publisher) (*Container, error) {
	storage, err := NewStorageService(cfg.AWS)
	if err != nil {
		return nil, err
	}

	inventory := NewInventoryService(db)
	outbox := NewOutboxService(db, queue, publisher, cfg.Worker.OutboxBatch, cfg.Worker.OutboxInterval)

	return &Container{
		Inventory: inventory,
		Outbox:    outbox,
		Carts:     NewCartService(db, inventory, cfg.Payment.Currency),
		Checkout:  NewCheckoutService(db, inventory, outbox, cfg.Payment.Currency),
		Orders:    NewOrderService(db, inventory, outbox),
		Payments:  NewPaymentService(db, cfg.Payment, gw, inventory, outbox),
		Storage:   storage,
	}, nil
}

// NewGateway builds the configured payment provider client.
func NewGateway(cfg config.PaymentConfig) (gateway.Gateway, error) {
	return gateway.New(cfg.Provider,
		gateway.ChapaConfig{
			SecretKey:   cfg.ChapaSecretKey,
			BaseURL:     cfg.ChapaBaseURL,
			ReturnURL:   cfg.ReturnURL,
			CallbackURL: cfg.CallbackURL,
			Timeout:     cfg.RequestTimeout,
		},
		gateway.StripeConfig{
			SecretKey:  cfg.StripeSecretKey,
			SuccessURL: cfg.StripeSuccessURL,
			CancelURL:  cfg.StripeCancelURL,
		},
	)
}
