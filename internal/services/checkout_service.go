// internal/services/checkout_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/shop-backend/internal/database"
	"github.com/javajoker/shop-backend/internal/models"
	"github.com/javajoker/shop-backend/pkg/metrics"
)

type CheckoutService struct {
	db        *gorm.DB
	inventory *InventoryService
	outbox    *OutboxService
	currency  string
}

type CheckoutRequest struct {
	ShippingAddressID uuid.UUID `json:"shipping_address_id" validate:"uuid_not_nil"`
}

func NewCheckoutService(db *gorm.DB, inventory *InventoryService, outbox *OutboxService, currency string) *CheckoutService {
	return &CheckoutService{
		db:        db,
		inventory: inventory,
		outbox:    outbox,
		currency:  currency,
	}
}

// Checkout turns the customer's cart into a pending Order in one
// transaction: stock is reserved, prices are frozen onto the order items and
// the cart is emptied. Any failure leaves nothing behind.
func (s *CheckoutService) Checkout(ctx context.Context, customerID uuid.UUID, req *CheckoutRequest) (*models.Order, error) {
	if req.ShippingAddressID == uuid.Nil {
		return nil, newValidationError("shipping_address_id", "is required")
	}

	var order *models.Order
	var outboxID int64
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		var err error
		order, outboxID, err = s.checkout(tx, customerID, req.ShippingAddressID)
		return err
	})
	if err != nil {
		metrics.Checkouts.WithLabelValues(checkoutResult(err)).Inc()
		logrus.WithError(err).WithField("customer_id", customerID).Warn("Checkout failed")
		return nil, err
	}

	metrics.Checkouts.WithLabelValues("success").Inc()
	logrus.WithFields(logrus.Fields{
		"customer_id": customerID,
		"order_id":    order.ID,
		"total":       order.TotalPrice.String(),
		"items":       len(order.Items),
	}).Info("Order created")

	s.outbox.Dispatch(ctx, outboxID)
	return order, nil
}

func (s *CheckoutService) checkout(tx *gorm.DB, customerID, addressID uuid.UUID) (*models.Order, int64, error) {
	var address models.Address
	if err := tx.Where("id = ? AND customer_id = ?", addressID, customerID).First(&address).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrInvalidAddress
		}
		return nil, 0, fmt.Errorf("database error: %w", err)
	}

	var cart models.Cart
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("customer_id = ?", customerID).First(&cart).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrEmptyCart
		}
		return nil, 0, fmt.Errorf("database error: %w", err)
	}

	var items []models.CartItem
	if err := tx.Where("cart_id = ?", cart.ID).Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to load cart items: %w", err)
	}
	if len(items) == 0 {
		return nil, 0, ErrEmptyCart
	}

	// A fixed lock order keeps concurrent checkouts from deadlocking.
	sort.Slice(items, func(i, j int) bool {
		return items[i].ProductID.String() < items[j].ProductID.String()
	})

	productIDs := make([]uuid.UUID, len(items))
	for i, item := range items {
		productIDs[i] = item.ProductID
	}
	var products []models.Product
	if err := tx.Where("id IN ?", productIDs).Find(&products).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to load products: %w", err)
	}
	byID := make(map[uuid.UUID]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	order := &models.Order{
		CustomerID:        customerID,
		ShippingAddressID: address.ID,
		ShippingAddress:   address.Snapshot(),
		Status:            models.OrderStatusPending,
		Currency:          s.currency,
	}
	order.ID = uuid.New()

	total := decimal.Zero
	orderItems := make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		product, ok := byID[item.ProductID]
		if !ok {
			return nil, 0, ErrProductNotFound
		}
		if !product.IsActive {
			return nil, 0, newValidationError("items", fmt.Sprintf("product %q is no longer available", product.Name))
		}
		if product.Currency != s.currency {
			return nil, 0, newValidationError("items", fmt.Sprintf("product %q is priced in %s, not %s", product.Name, product.Currency, s.currency))
		}

		if err := s.inventory.Reserve(tx, product.ID, item.Quantity); err != nil {
			return nil, 0, err
		}

		subtotal := product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(subtotal)
		orderItems = append(orderItems, models.OrderItem{
			OrderID:             order.ID,
			ProductID:           product.ID,
			ProductName:         product.Name,
			Quantity:            item.Quantity,
			UnitPriceAtPurchase: product.Price,
			Subtotal:            subtotal,
		})
	}
	order.TotalPrice = total

	if err := tx.Omit(clause.Associations).Create(order).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to create order: %w", err)
	}
	if err := tx.Omit(clause.Associations).Create(&orderItems).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to create order items: %w", err)
	}
	order.Items = orderItems

	outboxID, err := s.outbox.Add(tx, TopicOrderCreated, order.ID.String(), orderEventPayload(order))
	if err != nil {
		return nil, 0, err
	}

	if err := tx.Unscoped().Where("cart_id = ?", cart.ID).Delete(&models.CartItem{}).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to clear cart: %w", err)
	}

	return order, outboxID, nil
}

func orderEventPayload(order *models.Order) map[string]interface{} {
	items := make([]interface{}, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, map[string]interface{}{
			"product_id": item.ProductID.String(),
			"quantity":   item.Quantity,
			"unit_price": item.UnitPriceAtPurchase.StringFixed(2),
		})
	}
	return map[string]interface{}{
		"order_id":    order.ID.String(),
		"customer_id": order.CustomerID.String(),
		"status":      order.Status.String(),
		"total_price": order.TotalPrice.StringFixed(2),
		"currency":    order.Currency,
		"items":       items,
	}
}

func checkoutResult(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
