// internal/services/payment_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/shop-backend/internal/config"
	"github.com/javajoker/shop-backend/internal/database"
	"github.com/javajoker/shop-backend/internal/models"
	"github.com/javajoker/shop-backend/internal/tasks"
	"github.com/javajoker/shop-backend/internal/utils"
	"github.com/javajoker/shop-backend/pkg/gateway"
	"github.com/javajoker/shop-backend/pkg/metrics"
)

// providerOutcomes maps the gateway vocabulary onto purchase states.
// Anything not listed stays pending.
var providerOutcomes = map[gateway.ProviderStatus]models.PurchaseStatus{
	gateway.StatusSuccess: models.PurchaseStatusCompleted,
	gateway.StatusFailed:  models.PurchaseStatusFailed,
	gateway.StatusPending: models.PurchaseStatusPending,
}

func PurchaseStatusFor(status gateway.ProviderStatus) models.PurchaseStatus {
	if s, ok := providerOutcomes[status]; ok {
		return s
	}
	return models.PurchaseStatusPending
}

// Identity is the authenticated customer as supplied by the auth layer.
type Identity struct {
	CustomerID uuid.UUID
	Email      string
}

type PaymentService struct {
	db        *gorm.DB
	config    config.PaymentConfig
	gateway   gateway.Gateway
	inventory *InventoryService
	outbox    *OutboxService
	now       func() time.Time
}

type InitiatePaymentRequest struct {
	OrderID   uuid.UUID `json:"order_id" validate:"uuid_not_nil"`
	FirstName string    `json:"first_name,omitempty" validate:"omitempty,max=100"`
	LastName  string    `json:"last_name,omitempty" validate:"omitempty,max=100"`
	Email     string    `json:"email,omitempty" validate:"omitempty,email"`
}

type InitiatePaymentResponse struct {
	CheckoutURL string                `json:"checkout_url"`
	TxRef       string                `json:"tx_ref"`
	PurchaseID  uuid.UUID             `json:"purchase_id"`
	Status      models.PurchaseStatus `json:"status"`
}

type RefundPurchaseRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func NewPaymentService(db *gorm.DB, cfg config.PaymentConfig, gw gateway.Gateway, inventory *InventoryService, outbox *OutboxService) *PaymentService {
	return &PaymentService{
		db:        db,
		config:    cfg,
		gateway:   gw,
		inventory: inventory,
		outbox:    outbox,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// InitiatePayment starts a payment attempt for an order. The order row stays
// locked across the gateway call, so two concurrent initiations cannot both
// succeed. If the gateway does not report success nothing is written.
func (s *PaymentService) InitiatePayment(ctx context.Context, who Identity, req *InitiatePaymentRequest) (*InitiatePaymentResponse, error) {
	if req.OrderID == uuid.Nil {
		return nil, newValidationError("order_id", "is required")
	}

	log := logrus.WithFields(logrus.Fields{
		"order_id":    req.OrderID,
		"customer_id": who.CustomerID,
		"provider":    s.gateway.Provider(),
	})

	var resp *InitiatePaymentResponse
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		order, err := lockOrder(tx, req.OrderID, &who.CustomerID)
		if err != nil {
			return err
		}
		switch {
		case order.Status.IsPaid():
			return ErrOrderAlreadyPaid
		case order.Status != models.OrderStatusPending:
			return ErrOrderNotPayable
		}

		existing, err := s.existingPurchase(tx, order.ID)
		if err != nil {
			return err
		}

		txRef, err := utils.GenerateTxRef(s.config.TransactionRefPrefix)
		if err != nil {
			return fmt.Errorf("failed to generate transaction reference: %w", err)
		}
		log = log.WithField("tx_ref", txRef)

		payer, err := s.payer(tx, who, req)
		if err != nil {
			return err
		}

		gwCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
		result, err := s.gateway.Initiate(gwCtx, gateway.InitiateRequest{
			Payer:       payer,
			Amount:      order.TotalPrice,
			Currency:    order.Currency,
			TxRef:       txRef,
			Title:       s.config.CheckoutTitle,
			Description: s.config.CheckoutDescription,
		})
		if err != nil {
			log.WithError(err).Error("Payment gateway rejected initiation")
			return fmt.Errorf("%w: %w", ErrPaymentInitiationFailed, err)
		}

		purchase := existing
		details := models.JSONB{}
		if purchase == nil {
			purchase = &models.Purchase{OrderID: order.ID}
		} else {
			details = supersede(purchase)
		}
		details["initiate"] = result.Raw

		purchase.Provider = models.PaymentProvider(s.gateway.Provider())
		purchase.Amount = order.TotalPrice
		purchase.Currency = order.Currency
		purchase.Status = models.PurchaseStatusPending
		purchase.TransactionReference = txRef
		purchase.PaymentDetails = details
		purchase.CheckoutURL = result.CheckoutURL
		purchase.InitiatedAt = s.now()

		if err := tx.Omit(clause.Associations).Save(purchase).Error; err != nil {
			return fmt.Errorf("failed to save purchase: %w", err)
		}
		attempt := &models.PaymentAttempt{
			PurchaseID:           purchase.ID,
			TransactionReference: txRef,
			CheckoutURL:          result.CheckoutURL,
			InitiatedAt:          purchase.InitiatedAt,
		}
		if err := tx.Create(attempt).Error; err != nil {
			return fmt.Errorf("failed to record payment attempt: %w", err)
		}

		resp = &InitiatePaymentResponse{
			CheckoutURL: result.CheckoutURL,
			TxRef:       txRef,
			PurchaseID:  purchase.ID,
			Status:      purchase.Status,
		}
		return nil
	})
	if err != nil {
		metrics.PaymentInitiations.WithLabelValues(s.gateway.Provider(), initiationResult(err)).Inc()
		return nil, err
	}

	metrics.PaymentInitiations.WithLabelValues(s.gateway.Provider(), "success").Inc()
	log.Info("Payment initiated")
	return resp, nil
}

// existingPurchase applies the retry policy for an order that already has a
// payment attempt. It returns the row to reuse, or nil when there is none.
func (s *PaymentService) existingPurchase(tx *gorm.DB, orderID uuid.UUID) (*models.Purchase, error) {
	var purchase models.Purchase
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("order_id = ?", orderID).First(&purchase).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	switch purchase.Status {
	case models.PurchaseStatusFailed:
		return &purchase, nil
	case models.PurchaseStatusPending:
		if s.now().Sub(purchase.InitiatedAt) < s.config.PendingAttemptTTL {
			return nil, ErrPaymentInProgress
		}
		return &purchase, nil
	case models.PurchaseStatusCompleted, models.PurchaseStatusVerified:
		return nil, ErrOrderAlreadyPaid
	default:
		return nil, ErrOrderNotPayable
	}
}

// supersede starts the details of a replacement attempt. The replaced
// references and any results already seen for them are carried over.
func supersede(purchase *models.Purchase) models.JSONB {
	details := models.JSONB{
		"superseded_tx_refs": appendRef(purchase.PaymentDetails["superseded_tx_refs"], purchase.TransactionReference),
	}
	for _, key := range []string{"superseded_results", "unreconciled_tx_refs"} {
		if v, ok := purchase.PaymentDetails[key]; ok {
			details[key] = v
		}
	}
	return details
}

func appendRef(list interface{}, ref string) []interface{} {
	var refs []interface{}
	if prev, ok := list.([]interface{}); ok {
		refs = append(refs, prev...)
	}
	for _, r := range refs {
		if r == ref {
			return refs
		}
	}
	return append(refs, ref)
}

func (s *PaymentService) payer(tx *gorm.DB, who Identity, req *InitiatePaymentRequest) (gateway.Payer, error) {
	payer := gateway.Payer{FirstName: req.FirstName, LastName: req.LastName, Email: req.Email}

	var customer models.Customer
	err := tx.First(&customer, "id = ?", who.CustomerID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return payer, fmt.Errorf("database error: %w", err)
	}
	if payer.FirstName == "" {
		payer.FirstName = customer.FirstName
	}
	if payer.LastName == "" {
		payer.LastName = customer.LastName
	}
	if payer.Email == "" {
		payer.Email = who.Email
	}
	if payer.Email == "" {
		payer.Email = customer.Email
	}
	if payer.Email == "" {
		return payer, newValidationError("email", "is required")
	}
	return payer, nil
}

// VerifyPayment asks the provider for the authoritative status of txRef and
// reconciles the purchase. Only a pending purchase changes state; the first
// pending -> completed transition marks the order paid, records the
// verification and schedules the receipt. Repeated calls are harmless.
//
// txRef may belong to an attempt that was replaced by a later initiation,
// including one that happened while the provider call was in flight. Such a
// result never touches the current attempt; see reconcileSuperseded.
func (s *PaymentService) VerifyPayment(ctx context.Context, txRef string) (*models.Purchase, error) {
	if txRef == "" {
		return nil, newValidationError("tx_ref", "is required")
	}

	var attempt models.PaymentAttempt
	if err := s.db.WithContext(ctx).Where("transaction_reference = ?", txRef).First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	log := logrus.WithFields(logrus.Fields{
		"purchase_id": attempt.PurchaseID,
		"tx_ref":      txRef,
	})

	gwCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()
	result, err := s.gateway.Verify(gwCtx, txRef)
	if err != nil {
		log.WithError(err).Error("Payment verification request failed")
		return nil, err
	}

	var purchase models.Purchase
	var outboxIDs []int64
	err = database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&purchase, "id = ?", attempt.PurchaseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPurchaseNotFound
			}
			return fmt.Errorf("database error: %w", err)
		}
		if purchase.PaymentDetails == nil {
			purchase.PaymentDetails = models.JSONB{}
		}

		next := PurchaseStatusFor(result.Status)
		if purchase.TransactionReference != txRef {
			ids, err := s.reconcileSuperseded(tx, &purchase, txRef, next, result.Raw, log)
			if err != nil {
				return err
			}
			outboxIDs = ids
		} else {
			purchase.PaymentDetails["verify"] = result.Raw
			purchase.PaymentDetails["provider_status"] = string(result.Status)

			if purchase.Status == models.PurchaseStatusPending && next != models.PurchaseStatusPending {
				switch next {
				case models.PurchaseStatusCompleted:
					ids, err := s.complete(tx, &purchase, result.Raw)
					if err != nil {
						return err
					}
					outboxIDs = ids
				case models.PurchaseStatusFailed:
					purchase.Status = models.PurchaseStatusFailed
				}
			}
		}

		return tx.Model(&purchase).
			Select("status", "transaction_reference", "payment_details", "updated_at").
			Updates(&purchase).Error
	})
	if err != nil {
		log.WithError(err).Error("Failed to record payment verification")
		return nil, err
	}

	metrics.PaymentVerifications.WithLabelValues(purchase.Status.String()).Inc()
	log.WithFields(logrus.Fields{
		"order_id":        purchase.OrderID,
		"provider_status": result.Status,
		"status":          purchase.Status,
	}).Info("Payment verified")

	s.outbox.Dispatch(ctx, outboxIDs...)
	return &purchase, nil
}

// reconcileSuperseded applies a provider result for a replaced tx_ref. The
// result is stored for audit and only a success changes anything: it is
// adopted when the order is still awaiting payment, otherwise the reference
// is flagged as unreconciled so the extra payment can be refunded by hand.
func (s *PaymentService) reconcileSuperseded(tx *gorm.DB, purchase *models.Purchase, txRef string, next models.PurchaseStatus, raw map[string]interface{}, log *logrus.Entry) ([]int64, error) {
	details := purchase.PaymentDetails
	results, _ := details["superseded_results"].(map[string]interface{})
	if results == nil {
		results = map[string]interface{}{}
	}
	results[txRef] = raw
	details["superseded_results"] = results

	if next != models.PurchaseStatusCompleted {
		log.WithField("status", next).Info("Ignoring result for superseded payment attempt")
		return nil, nil
	}

	order, err := lockOrder(tx, purchase.OrderID, nil)
	if err != nil {
		return nil, err
	}
	awaiting := order.Status == models.OrderStatusPending &&
		(purchase.Status == models.PurchaseStatusPending || purchase.Status == models.PurchaseStatusFailed)
	if !awaiting {
		details["unreconciled_tx_refs"] = appendRef(details["unreconciled_tx_refs"], txRef)
		log.WithFields(logrus.Fields{
			"order_status":    order.Status,
			"purchase_status": purchase.Status,
		}).Error("Payment received on superseded attempt needs a manual refund")
		return nil, nil
	}

	log.WithField("replaced_tx_ref", purchase.TransactionReference).Warn("Adopting payment made on superseded attempt")
	details["superseded_tx_refs"] = appendRef(details["superseded_tx_refs"], purchase.TransactionReference)
	details["verify"] = raw
	details["provider_status"] = string(gateway.StatusSuccess)
	purchase.TransactionReference = txRef
	return s.complete(tx, purchase, raw)
}

// HandleCallback processes the provider's webhook for txRef.
func (s *PaymentService) HandleCallback(ctx context.Context, txRef string) (*models.Purchase, error) {
	return s.VerifyPayment(ctx, txRef)
}

func (s *PaymentService) complete(tx *gorm.DB, purchase *models.Purchase, raw map[string]interface{}) ([]int64, error) {
	order, err := lockOrder(tx, purchase.OrderID, nil)
	if err != nil {
		return nil, err
	}
	if err := setOrderStatus(tx, order, models.OrderStatusPaid); err != nil {
		return nil, err
	}
	purchase.Status = models.PurchaseStatusCompleted

	verification := &models.PurchaseVerification{
		PurchaseID:          purchase.ID,
		IsVerified:          true,
		VerifiedAt:          s.now(),
		VerificationDetails: models.JSONB(raw),
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "purchase_id"}},
		DoNothing: true,
	}).Create(verification).Error; err != nil {
		return nil, fmt.Errorf("failed to record verification: %w", err)
	}
	if purchase.Status.CanTransitionTo(models.PurchaseStatusVerified) {
		purchase.Status = models.PurchaseStatusVerified
	}

	receiptID, err := s.outbox.Add(tx, tasks.TypeGenerateReceipt, purchase.ID.String(), map[string]interface{}{
		"purchase_id": purchase.ID.String(),
	})
	if err != nil {
		return nil, err
	}
	paidID, err := s.outbox.Add(tx, TopicOrderPaid, order.ID.String(), map[string]interface{}{
		"order_id":    order.ID.String(),
		"customer_id": order.CustomerID.String(),
		"purchase_id": purchase.ID.String(),
		"tx_ref":      purchase.TransactionReference,
		"amount":      purchase.Amount.StringFixed(2),
		"currency":    purchase.Currency,
	})
	if err != nil {
		return nil, err
	}
	return []int64{receiptID, paidID}, nil
}

func (s *PaymentService) GetPurchase(customerID uuid.UUID, txRef string) (*models.Purchase, error) {
	var purchase models.Purchase
	err := s.db.
		Joins("JOIN orders ON orders.id = purchases.order_id").
		Where("purchases.transaction_reference = ? AND orders.customer_id = ?", txRef, customerID).
		Preload("Order").
		Preload("Order.Items").
		Preload("Verification").
		First(&purchase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &purchase, nil
}

// RefundPurchase records a refund settled outside the system. The order is
// cancelled and its reservations released unless it already shipped.
func (s *PaymentService) RefundPurchase(ctx context.Context, purchaseID uuid.UUID, req *RefundPurchaseRequest) (*models.Purchase, error) {
	if req.Reason == "" {
		return nil, newValidationError("reason", "is required")
	}

	var purchase models.Purchase
	var outboxID int64
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&purchase, "id = ?", purchaseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPurchaseNotFound
			}
			return fmt.Errorf("database error: %w", err)
		}
		if !purchase.Status.CanTransitionTo(models.PurchaseStatusRefunded) {
			return &TransitionError{Entity: "purchase", From: purchase.Status.String(), To: models.PurchaseStatusRefunded.String()}
		}

		order, err := lockOrder(tx, purchase.OrderID, nil)
		if err != nil {
			return err
		}
		if order.Status == models.OrderStatusPaid {
			items, err := orderItems(tx, order.ID)
			if err != nil {
				return err
			}
			for _, item := range items {
				if err := s.inventory.Release(tx, item.ProductID, item.Quantity); err != nil {
					return err
				}
			}
			if err := setOrderStatus(tx, order, models.OrderStatusCancelled); err != nil {
				return err
			}
		}

		now := s.now()
		purchase.Status = models.PurchaseStatusRefunded
		purchase.RefundedAt = &now
		purchase.RefundReason = req.Reason
		if err := tx.Model(&purchase).Select("status", "refunded_at", "refund_reason", "updated_at").Updates(&purchase).Error; err != nil {
			return fmt.Errorf("failed to update purchase: %w", err)
		}

		outboxID, err = s.outbox.Add(tx, TopicOrderRefunded, purchase.ID.String(), map[string]interface{}{
			"order_id":    order.ID.String(),
			"purchase_id": purchase.ID.String(),
			"tx_ref":      purchase.TransactionReference,
			"amount":      purchase.Amount.StringFixed(2),
			"reason":      req.Reason,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"purchase_id": purchase.ID,
		"order_id":    purchase.OrderID,
		"tx_ref":      purchase.TransactionReference,
	}).Info("Purchase refunded")
	s.outbox.Dispatch(ctx, outboxID)
	return &purchase, nil
}

func initiationResult(err error) string {
	switch {
	case errors.Is(err, ErrPaymentInitiationFailed):
		return "gateway_error"
	case errors.Is(err, ErrOrderAlreadyPaid), errors.Is(err, ErrOrderNotPayable), errors.Is(err, ErrPaymentInProgress):
		return "rejected"
	default:
		return "error"
	}
}
