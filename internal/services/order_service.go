// internal/services/order_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/shop-backend/internal/database"
	"github.com/javajoker/shop-backend/internal/models"
	"github.com/javajoker/shop-backend/internal/utils"
)

type OrderService struct {
	db        *gorm.DB
	inventory *InventoryService
	outbox    *OutboxService
}

func NewOrderService(db *gorm.DB, inventory *InventoryService, outbox *OutboxService) *OrderService {
	return &OrderService{
		db:        db,
		inventory: inventory,
		outbox:    outbox,
	}
}

func (s *OrderService) GetOrder(customerID, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("product_name, id") }).
		Preload("Purchase").
		Preload("Purchase.Verification").
		Where("id = ? AND customer_id = ?", orderID, customerID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &order, nil
}

func (s *OrderService) ListOrders(customerID uuid.UUID, params utils.PaginationParams) ([]models.Order, int64, error) {
	query := s.db.Model(&models.Order{}).Where("customer_id = ?", customerID)
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	allowedSortFields := []string{"created_at", "total_price", "status"}
	query = utils.ApplySort(query, params, allowedSortFields)
	query = utils.ApplyPagination(query, params)

	var orders []models.Order
	if err := query.Preload("Items").Preload("Purchase").Find(&orders).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch orders: %w", err)
	}

	return orders, total, nil
}

// CancelOrder cancels an unpaid order and gives its reservations back.
// Orders with a payment attempt still in flight cannot be cancelled.
func (s *OrderService) CancelOrder(ctx context.Context, customerID, orderID uuid.UUID) (*models.Order, error) {
	var outboxID int64
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		order, err := lockOrder(tx, orderID, &customerID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending {
			return &TransitionError{Entity: "order", From: order.Status.String(), To: models.OrderStatusCancelled.String()}
		}

		var pending int64
		if err := tx.Model(&models.Purchase{}).
			Where("order_id = ? AND status = ?", order.ID, models.PurchaseStatusPending).
			Count(&pending).Error; err != nil {
			return fmt.Errorf("database error: %w", err)
		}
		if pending > 0 {
			return ErrPaymentInProgress
		}

		if err := s.releaseItems(tx, order.ID); err != nil {
			return err
		}
		if err := setOrderStatus(tx, order, models.OrderStatusCancelled); err != nil {
			return err
		}

		outboxID, err = s.outbox.Add(tx, TopicOrderCancelled, order.ID.String(), map[string]interface{}{
			"order_id":    order.ID.String(),
			"customer_id": order.CustomerID.String(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"order_id": orderID, "customer_id": customerID}).Info("Order cancelled")
	s.outbox.Dispatch(ctx, outboxID)
	return s.GetOrder(customerID, orderID)
}

// MarkShipped moves a paid order to shipped; its reserved stock leaves inventory.
func (s *OrderService) MarkShipped(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.advance(ctx, orderID, models.OrderStatusShipped, TopicOrderShipped, func(tx *gorm.DB, order *models.Order) error {
		items, err := orderItems(tx, order.ID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := s.inventory.Fulfill(tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *OrderService) MarkDelivered(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.advance(ctx, orderID, models.OrderStatusDelivered, TopicOrderDelivered, nil)
}

func (s *OrderService) advance(ctx context.Context, orderID uuid.UUID, next models.OrderStatus, topic string, effect func(*gorm.DB, *models.Order) error) (*models.Order, error) {
	var order *models.Order
	var outboxID int64
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		var err error
		order, err = lockOrder(tx, orderID, nil)
		if err != nil {
			return err
		}
		if !order.Status.CanTransitionTo(next) {
			return &TransitionError{Entity: "order", From: order.Status.String(), To: next.String()}
		}
		if effect != nil {
			if err := effect(tx, order); err != nil {
				return err
			}
		}
		if err := setOrderStatus(tx, order, next); err != nil {
			return err
		}

		outboxID, err = s.outbox.Add(tx, topic, order.ID.String(), map[string]interface{}{
			"order_id":    order.ID.String(),
			"customer_id": order.CustomerID.String(),
			"status":      next.String(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"order_id": orderID, "status": next}).Info("Order status updated")
	s.outbox.Dispatch(ctx, outboxID)
	return s.GetOrder(order.CustomerID, orderID)
}

func (s *OrderService) releaseItems(tx *gorm.DB, orderID uuid.UUID) error {
	items, err := orderItems(tx, orderID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := s.inventory.Release(tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// lockOrder loads an order FOR UPDATE, optionally scoped to its owner.
func lockOrder(tx *gorm.DB, orderID uuid.UUID, customerID *uuid.UUID) (*models.Order, error) {
	query := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", orderID)
	if customerID != nil {
		query = query.Where("customer_id = ?", *customerID)
	}

	var order models.Order
	if err := query.First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &order, nil
}

func setOrderStatus(tx *gorm.DB, order *models.Order, next models.OrderStatus) error {
	if !order.Status.CanTransitionTo(next) {
		return &TransitionError{Entity: "order", From: order.Status.String(), To: next.String()}
	}
	if err := tx.Model(order).Update("status", next).Error; err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	order.Status = next
	return nil
}

func orderItems(tx *gorm.DB, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	if err := tx.Where("order_id = ?", orderID).Order("product_id").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	return items, nil
}
