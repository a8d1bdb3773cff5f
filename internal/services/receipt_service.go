// internal/services/receipt_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/shop-backend/internal/config"
	"github.com/javajoker/shop-backend/internal/models"
	"github.com/javajoker/shop-backend/internal/receipt"
	"github.com/javajoker/shop-backend/internal/tasks"
	"github.com/javajoker/shop-backend/pkg/metrics"
)

type ReceiptService struct {
	db           *gorm.DB
	storage      *StorageService
	notification *NotificationService
	store        config.StoreConfig
}

func NewReceiptService(db *gorm.DB, storage *StorageService, notification *NotificationService, store config.StoreConfig) *ReceiptService {
	return &ReceiptService{
		db:           db,
		storage:      storage,
		notification: notification,
		store:        store,
	}
}

// HandleTask adapts GenerateAndSend to the worker's task handler signature.
func (s *ReceiptService) HandleTask(ctx context.Context, task tasks.Task) error {
	raw, err := task.PurchaseID()
	if err != nil {
		return tasks.Permanent(err)
	}
	purchaseID, err := uuid.Parse(raw)
	if err != nil {
		return tasks.Permanent(fmt.Errorf("invalid purchase id %q: %w", raw, err))
	}
	return s.GenerateAndSend(ctx, purchaseID)
}

// GenerateAndSend renders the receipt for a paid purchase, archives it and
// emails it to the customer. Missing or unpaid purchases are permanent
// failures; storage and mail errors are returned for retry.
func (s *ReceiptService) GenerateAndSend(ctx context.Context, purchaseID uuid.UUID) error {
	purchase, err := s.load(purchaseID)
	if err != nil {
		if errors.Is(err, ErrPurchaseNotFound) {
			metrics.Receipts.WithLabelValues("not_found").Inc()
			return tasks.Permanent(err)
		}
		return err
	}

	if !purchase.Status.ReceiptReady() {
		metrics.Receipts.WithLabelValues("not_ready").Inc()
		return tasks.Permanent(fmt.Errorf("%w: purchase %s is %s", ErrReceiptNotReady, purchase.ID, purchase.Status))
	}

	pdf, err := receipt.Render(s.receiptData(purchase))
	if err != nil {
		metrics.Receipts.WithLabelValues("render_failed").Inc()
		return fmt.Errorf("failed to render receipt: %w", err)
	}

	stored, err := s.storage.StoreReceipt(ctx, purchase.TransactionReference, pdf)
	if err != nil {
		metrics.Receipts.WithLabelValues("store_failed").Inc()
		return fmt.Errorf("failed to store receipt: %w", err)
	}

	customer := purchase.Order.Customer
	err = s.notification.SendReceipt(ctx, &ReceiptEmail{
		To:           customer.Email,
		CustomerName: customer.FullName(),
		TxRef:        purchase.TransactionReference,
		OrderID:      purchase.OrderID.String(),
		Amount:       purchase.Amount.StringFixed(2),
		Currency:     purchase.Currency,
		PDF:          pdf,
	})
	if err != nil {
		metrics.Receipts.WithLabelValues("send_failed").Inc()
		return fmt.Errorf("failed to send receipt email: %w", err)
	}

	metrics.Receipts.WithLabelValues("sent").Inc()
	logrus.WithFields(logrus.Fields{
		"purchase_id": purchase.ID,
		"tx_ref":      purchase.TransactionReference,
		"location":    stored.Location,
		"size":        stored.Size,
	}).Info("Receipt sent")

	return nil
}

func (s *ReceiptService) load(purchaseID uuid.UUID) (*models.Purchase, error) {
	var purchase models.Purchase
	err := s.db.
		Preload("Verification").
		Preload("Order.Customer").
		Preload("Order.Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		First(&purchase, "id = ?", purchaseID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPurchaseNotFound, purchaseID)
		}
		return nil, err
	}
	return &purchase, nil
}

func (s *ReceiptService) receiptData(purchase *models.Purchase) receipt.Data {
	purchasedAt := purchase.InitiatedAt
	if purchase.Verification != nil && !purchase.Verification.VerifiedAt.IsZero() {
		purchasedAt = purchase.Verification.VerifiedAt
	}

	order := purchase.Order
	lines := make([]receipt.Line, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, receipt.Line{
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPriceAtPurchase,
			Subtotal:    item.Subtotal,
		})
	}

	return receipt.Data{
		Store: receipt.Store{
			Name:         s.store.Name,
			AddressLine1: s.store.AddressLine1,
			AddressLine2: s.store.AddressLine2,
			SupportEmail: s.store.SupportEmail,
			Phone:        s.store.Phone,
		},
		TxRef:           purchase.TransactionReference,
		Provider:        string(purchase.Provider),
		Status:          string(purchase.Status),
		Amount:          purchase.Amount,
		Currency:        purchase.Currency,
		PurchasedAt:     purchasedAt.UTC(),
		CustomerName:    order.Customer.FullName(),
		CustomerEmail:   order.Customer.Email,
		ShippingAddress: order.ShippingAddress.String(),
		Lines:           lines,
	}
}
