package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/shop-backend/internal/database/dbtest"
	"github.com/javajoker/shop-backend/internal/models"
	"github.com/javajoker/shop-backend/internal/tasks"
	"github.com/javajoker/shop-backend/pkg/gateway"
)

type PaymentServiceTestSuite struct {
	serviceSuite
}

func TestPaymentService(t *testing.T) {
	suite.Run(t, new(PaymentServiceTestSuite))
}

func (s *PaymentServiceTestSuite) identity(customer *models.Customer) Identity {
	return Identity{CustomerID: customer.ID, Email: customer.Email}
}

func (s *PaymentServiceTestSuite) TestInitiatePaymentCreatesPendingPurchase() {
	customer, address := s.customer()
	product := s.product("Shirt", "6.50", 10)
	order := s.placeOrder(customer, address, product, 2)

	resp, err := s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
	s.Require().NoError(err)

	s.True(strings.HasPrefix(resp.TxRef, "TX-"))
	s.Len(resp.TxRef, len("TX-")+12)
	s.Equal("https://checkout.example.test/"+resp.TxRef, resp.CheckoutURL)
	s.Equal(models.PurchaseStatusPending, resp.Status)

	s.Require().Equal(1, s.gateway.initiateCount())
	sent := s.gateway.initiated[0]
	s.Equal("13.00", sent.Amount.StringFixed(2))
	s.Equal(testCurrency, sent.Currency)
	s.Equal(resp.TxRef, sent.TxRef)
	s.Equal(customer.Email, sent.Payer.Email)
	s.Equal("Ada", sent.Payer.FirstName)

	var purchase models.Purchase
	s.Require().NoError(s.db.First(&purchase, "id = ?", resp.PurchaseID).Error)
	s.True(purchase.Amount.Equal(order.TotalPrice))
	s.Equal(order.Currency, purchase.Currency)
	s.Equal(models.PaymentProvider("chapa"), purchase.Provider)
	s.Equal(models.OrderStatusPending, s.reload(order).Status)
}

func (s *PaymentServiceTestSuite) TestInitiatePaymentPayerOverrides() {
	customer, address := s.customer()
	order := s.placeOrder(customer, address, s.product("Hat", "5.00", 3), 1)

	_, err := s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{
		OrderID:   order.ID,
		FirstName: "Grace",
		LastName:  "Hopper",
		Email:     "grace@example.com",
	})
	s.Require().NoError(err)

	payer := s.gateway.initiated[0].Payer
	s.Equal("Grace", payer.FirstName)
	s.Equal("Hopper", payer.LastName)
	s.Equal("grace@example.com", payer.Email)
}

func (s *PaymentServiceTestSuite) TestInitiatePaymentGatewayFailureWritesNothing() {
	customer, address := s.customer()
	order := s.placeOrder(customer, address, s.product("Bag", "30.00", 3), 1)
	s.gateway.initiateErr = &gateway.Error{Op: "initiate", StatusCode: 400, Message: "Invalid currency"}

	_, err := s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
	s.Require().Error(err)
	s.ErrorIs(err, ErrPaymentInitiationFailed)
	s.ErrorIs(err, gateway.ErrGateway)
	s.Contains(err.Error(), "Invalid currency")

	s.Equal(int64(0), s.count(&models.Purchase{}, "order_id = ?", order.ID))
	s.Equal(models.OrderStatusPending, s.reload(order).Status)
}

func (s *PaymentServiceTestSuite) TestInitiatePaymentOnPaidOrder() {
	customer, address := s.customer()
	order := s.placeOrder(customer, address, s.product("Book", "12.00", 3), 1)
	s.Require().NoError(s.db.Model(&models.Order{}).Where("id = ?", order.ID).Update("status", models.OrderStatusPaid).Error)

	_, err := s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
	s.ErrorIs(err, ErrOrderAlreadyPaid)
	s.Equal(0, s.gateway.initiateCount())
	s.Equal(int64(0), s.count(&models.Purchase{}, ""))
}

func (s *PaymentServiceTestSuite) TestInitiatePaymentAfterSuccessfulPayment() {
	customer, address := s.customer()
	order := s.placeOrder(customer, address, s.product("Book", "12.00", 3), 1)
	s.payOrder(customer, order)

	_, err := s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
	s.ErrorIs(err, ErrOrderAlreadyPaid)
	s.Equal(1, s.gateway.initiateCount())
	s.Equal(int64(1), s.count(&models.Purchase{}, ""))
}

func (s *PaymentServiceTestSuite) TestInitiatePaymentForeignOrder() {
	owner, address := s.customer()
	stranger, _ := s.customer()
	order := s.placeOrder(owner, address, s.product("Book", "12.00", 3), 1)

	_, err := s.payments.InitiatePayment(context.Background(), s.identity(stranger), &InitiatePaymentRequest{OrderID: order.ID})
	s.ErrorIs(err, ErrOrderNotFound)
}

func (s *PaymentServiceTestSuite) TestInitiatePaymentCancelledOrder() {
	customer, address := s.customer()
	order := s.placeOrder(customer, address, s.product("Book", "12.00", 3), 1)
	_, err := s.orders.CancelOrder(context.Background(), customer.ID, order.ID)
	s.Require().NoError(err)

	_, err = s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
	s.ErrorIs(err, ErrOrderNotPayable)
}

func (s *PaymentServiceTestSuite) TestInitiatePaymentWhilePending() {
	customer, address := s.customer()
	order := s.placeOrder(customer, address, s.product("Book", "12.00", 3), 1)

	_, err := s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
	s.Require().NoError(err)

	_, err = s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
	s.ErrorIs(err, ErrPaymentInProgress)
	s.Equal(1, s.gateway.initiateCount())
}

func (s *PaymentServiceTestSuite) TestInitiatePaymentReplacesStaleAttempt() {
	customer, address := s.customer()
	order := s.placeOrder(customer, address, s.product("Book", "12.00", 3), 1)

	first, err := s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
	s.Require().NoError(err)

	later := time.Now().UTC().Add(time.Hour)
	s.payments.now = func() time.Time { return later }

	second, err := s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
	s.Require().NoError(err)
	s.NotEqual(first.TxRef, second.TxRef)
	s.Equal(first.PurchaseID, second.PurchaseID)

	var purchase models.Purchase
	s.Require().NoError(s.db.First(&purchase, "id = ?", second.PurchaseID).Error)
	s.Equal(second.TxRef, purchase.TransactionReference)
	s.Equal([]interface{}{first.TxRef}, purchase.PaymentDetails["superseded_tx_refs"])
	s.Equal(int64(2), s.count(&models.PaymentAttempt{}, "purchase_id = ?", purchase.ID))
}

func (s *PaymentServiceTestSuite) TestInitiatePaymentRetriesFailedAttempt() {
	customer, address := s.customer()
	order := s.placeOrder(customer, address, s.product("Book", "12.00", 3), 1)

	first, err := s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
	s.Require().NoError(err)

	s.gateway.setStatus(gateway.StatusFailed)
	purchase, err := s.payments.VerifyPayment(context.Background(), first.TxRef)
	s.Require().NoError(err)
	s.Equal(models.PurchaseStatusFailed, purchase.Status)
	s.Equal(models.OrderStatusPending, s.reload(order).Status)

	second, err := s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
	s.Require().NoError(err)
	s.NotEqual(first.TxRef, second.TxRef)
	s.Equal(models.PurchaseStatusPending, second.Status)
	s.Equal(int64(1), s.count(&models.Purchase{}, ""))

	// A late answer for the replaced reference leaves the new attempt alone.
	stale, err := s.payments.VerifyPayment(context.Background(), first.TxRef)
	s.Require().NoError(err)
	s.Equal(second.TxRef, stale.TransactionReference)
	s.Equal(models.PurchaseStatusPending, stale.Status)
}

// replaceAttempt initiates a payment, lets it go stale and initiates again.
func (s *PaymentServiceTestSuite) replaceAttempt(customer *models.Customer, order *models.Order) (first, second *InitiatePaymentResponse) {
	first, err := s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
	s.Require().NoError(err)

	later := time.Now().UTC().Add(time.Hour)
	s.payments.now = func() time.Time { return later }

	second, err = s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
	s.Require().NoError(err)
	return first, second
}

func (s *PaymentServiceTestSuite) TestVerifyReplacedDuringProviderCall() {
	customer, address := s.customer()
	order := s.placeOrder(customer, address, s.product("Lamp", "40.00", 3), 1)

	first, err := s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
	s.Require().NoError(err)
	later := time.Now().UTC().Add(time.Hour)
	s.payments.now = func() time.Time { return later }

	var second *InitiatePaymentResponse
	s.gateway.setStatus(gateway.StatusFailed)
	s.gateway.onNextVerify(func(string) {
		var err error
		second, err = s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
		s.Require().NoError(err)
	})

	purchase, err := s.payments.VerifyPayment(context.Background(), first.TxRef)
	s.Require().NoError(err)
	s.Require().NotNil(second)

	var stored models.Purchase
	s.Require().NoError(s.db.First(&stored, "id = ?", purchase.ID).Error)
	s.Equal(second.TxRef, stored.TransactionReference)
	s.Equal(models.PurchaseStatusPending, stored.Status)
	s.Nil(stored.PaymentDetails["provider_status"])
	s.Contains(stored.PaymentDetails["superseded_results"], first.TxRef)
	s.Equal(models.OrderStatusPending, s.reload(order).Status)
}

func (s *PaymentServiceTestSuite) TestVerifyAdoptsPaymentOnReplacedAttempt() {
	customer, address := s.customer()
	order := s.placeOrder(customer, address, s.product("Lamp", "40.00", 3), 1)
	first, second := s.replaceAttempt(customer, order)

	s.gateway.setStatus(gateway.StatusSuccess)
	purchase, err := s.payments.VerifyPayment(context.Background(), first.TxRef)
	s.Require().NoError(err)
	s.Equal(first.TxRef, purchase.TransactionReference)
	s.Equal(models.PurchaseStatusVerified, purchase.Status)
	s.Contains(purchase.PaymentDetails["superseded_tx_refs"], second.TxRef)
	s.Equal(models.OrderStatusPaid, s.reload(order).Status)
	s.Equal(1, s.queue.Len())

	// The replacement link was paid as well.
	again, err := s.payments.VerifyPayment(context.Background(), second.TxRef)
	s.Require().NoError(err)
	s.Equal(first.TxRef, again.TransactionReference)
	s.Equal(models.PurchaseStatusVerified, again.Status)
	s.Equal([]interface{}{second.TxRef}, again.PaymentDetails["unreconciled_tx_refs"])

	s.Equal(int64(1), s.count(&models.PurchaseVerification{}, "purchase_id = ?", purchase.ID))
	s.Equal(1, s.queue.Len())
}

func (s *PaymentServiceTestSuite) TestVerifyFlagsLatePaymentOnCancelledOrder() {
	customer, address := s.customer()
	product := s.product("Lamp", "40.00", 3)
	order := s.placeOrder(customer, address, product, 1)

	resp, err := s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
	s.Require().NoError(err)
	s.gateway.setStatus(gateway.StatusFailed)
	_, err = s.payments.VerifyPayment(context.Background(), resp.TxRef)
	s.Require().NoError(err)
	retry, err := s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
	s.Require().NoError(err)
	s.gateway.setStatus(gateway.StatusFailed)
	_, err = s.payments.VerifyPayment(context.Background(), retry.TxRef)
	s.Require().NoError(err)
	_, err = s.orders.CancelOrder(context.Background(), customer.ID, order.ID)
	s.Require().NoError(err)

	s.gateway.setStatus(gateway.StatusSuccess)
	purchase, err := s.payments.VerifyPayment(context.Background(), resp.TxRef)
	s.Require().NoError(err)
	s.Equal(models.PurchaseStatusFailed, purchase.Status)
	s.Equal([]interface{}{resp.TxRef}, purchase.PaymentDetails["unreconciled_tx_refs"])
	s.Equal(models.OrderStatusCancelled, s.reload(order).Status)
	s.Equal(0, dbtest.GetInventory(s.T(), s.db, product.ID).ReservedQuantity)
	s.Equal(0, s.queue.Len())
}

func (s *PaymentServiceTestSuite) TestVerifyPaymentSuccess() {
	customer, address := s.customer()
	product := s.product("Shirt", "6.50", 10)
	order := s.placeOrder(customer, address, product, 2)

	purchase := s.payOrder(customer, order)

	s.Equal(models.PurchaseStatusVerified, purchase.Status)
	s.Equal("success", purchase.PaymentDetails["provider_status"])
	s.NotNil(purchase.PaymentDetails["verify"])
	s.Equal(models.OrderStatusPaid, s.reload(order).Status)

	var verification models.PurchaseVerification
	s.Require().NoError(s.db.First(&verification, "purchase_id = ?", purchase.ID).Error)
	s.True(verification.IsVerified)
	s.False(verification.VerifiedAt.IsZero())

	s.Require().Equal(1, s.queue.Len())
	task := s.queue.Snapshot()[0]
	s.Equal(tasks.TypeGenerateReceipt, task.Type)
	id, err := task.PurchaseID()
	s.Require().NoError(err)
	s.Equal(purchase.ID.String(), id)

	s.Contains(s.publisher.topics(), TopicOrderPaid)

	// Reservation is held until shipping.
	s.Equal(2, dbtest.GetInventory(s.T(), s.db, product.ID).ReservedQuantity)
}

func (s *PaymentServiceTestSuite) TestVerifyPaymentIsIdempotent() {
	customer, address := s.customer()
	order := s.placeOrder(customer, address, s.product("Shirt", "6.50", 10), 1)
	purchase := s.payOrder(customer, order)

	for i := 0; i < 3; i++ {
		again, err := s.payments.VerifyPayment(context.Background(), purchase.TransactionReference)
		s.Require().NoError(err)
		s.Equal(models.PurchaseStatusVerified, again.Status)
	}

	s.Equal(int64(1), s.count(&models.PurchaseVerification{}, "purchase_id = ?", purchase.ID))
	s.Equal(int64(1), s.count(&models.OutboxEvent{}, "topic = ? AND key = ?", tasks.TypeGenerateReceipt, purchase.ID.String()))
	s.Equal(1, s.queue.Len())

	sent, err := s.outbox.RelayOnce(context.Background())
	s.Require().NoError(err)
	s.Equal(0, sent)
	s.Equal(1, s.queue.Len())
}

func (s *PaymentServiceTestSuite) TestVerifyPaymentPendingLeavesStateAlone() {
	customer, address := s.customer()
	order := s.placeOrder(customer, address, s.product("Shirt", "6.50", 10), 1)
	resp, err := s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
	s.Require().NoError(err)

	for _, status := range []gateway.ProviderStatus{gateway.StatusPending, gateway.StatusUnknown} {
		s.gateway.setStatus(status)
		purchase, err := s.payments.VerifyPayment(context.Background(), resp.TxRef)
		s.Require().NoError(err)
		s.Equal(models.PurchaseStatusPending, purchase.Status)
		s.Equal(string(status), purchase.PaymentDetails["provider_status"])
	}

	s.Equal(models.OrderStatusPending, s.reload(order).Status)
	s.Equal(0, s.queue.Len())
}

func (s *PaymentServiceTestSuite) TestVerifyPaymentDoesNotRegressVerified() {
	customer, address := s.customer()
	order := s.placeOrder(customer, address, s.product("Shirt", "6.50", 10), 1)
	purchase := s.payOrder(customer, order)

	s.gateway.setStatus(gateway.StatusFailed)
	again, err := s.payments.VerifyPayment(context.Background(), purchase.TransactionReference)
	s.Require().NoError(err)
	s.Equal(models.PurchaseStatusVerified, again.Status)
	s.Equal("failed", again.PaymentDetails["provider_status"])
	s.Equal(models.OrderStatusPaid, s.reload(order).Status)
}

func (s *PaymentServiceTestSuite) TestVerifyPaymentGatewayError() {
	customer, address := s.customer()
	order := s.placeOrder(customer, address, s.product("Shirt", "6.50", 10), 1)
	resp, err := s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
	s.Require().NoError(err)

	s.gateway.verifyErr = &gateway.Error{Op: "verify", StatusCode: 502}
	_, err = s.payments.VerifyPayment(context.Background(), resp.TxRef)
	s.ErrorIs(err, gateway.ErrGateway)

	var purchase models.Purchase
	s.Require().NoError(s.db.First(&purchase, "id = ?", resp.PurchaseID).Error)
	s.Equal(models.PurchaseStatusPending, purchase.Status)
}

func (s *PaymentServiceTestSuite) TestVerifyUnknownReference() {
	_, err := s.payments.VerifyPayment(context.Background(), "TX-DOESNOTEXIST")
	s.ErrorIs(err, ErrPurchaseNotFound)

	_, err = s.payments.VerifyPayment(context.Background(), "")
	s.ErrorIs(err, ErrValidation)
}

func (s *PaymentServiceTestSuite) TestGetPurchaseScopedToCustomer() {
	customer, address := s.customer()
	stranger, _ := s.customer()
	order := s.placeOrder(customer, address, s.product("Shirt", "6.50", 10), 1)
	purchase := s.payOrder(customer, order)

	found, err := s.payments.GetPurchase(customer.ID, purchase.TransactionReference)
	s.Require().NoError(err)
	s.Equal(purchase.ID, found.ID)
	s.Require().NotNil(found.Verification)
	s.Len(found.Order.Items, 1)

	_, err = s.payments.GetPurchase(stranger.ID, purchase.TransactionReference)
	s.ErrorIs(err, ErrPurchaseNotFound)
}

func (s *PaymentServiceTestSuite) TestRefundPaidOrderReleasesStock() {
	customer, address := s.customer()
	product := s.product("Shirt", "6.50", 10)
	order := s.placeOrder(customer, address, product, 3)
	purchase := s.payOrder(customer, order)

	refunded, err := s.payments.RefundPurchase(context.Background(), purchase.ID, &RefundPurchaseRequest{Reason: "damaged"})
	s.Require().NoError(err)
	s.Equal(models.PurchaseStatusRefunded, refunded.Status)
	s.Equal("damaged", refunded.RefundReason)
	s.NotNil(refunded.RefundedAt)

	s.Equal(models.OrderStatusCancelled, s.reload(order).Status)
	s.Equal(0, dbtest.GetInventory(s.T(), s.db, product.ID).ReservedQuantity)
	s.Contains(s.publisher.topics(), TopicOrderRefunded)

	_, err = s.payments.RefundPurchase(context.Background(), purchase.ID, &RefundPurchaseRequest{Reason: "again"})
	var transitionErr *TransitionError
	s.Require().True(errors.As(err, &transitionErr))
	s.ErrorIs(err, ErrInvalidTransition)
}

func (s *PaymentServiceTestSuite) TestRefundShippedOrderKeepsStock() {
	customer, address := s.customer()
	product := s.product("Shirt", "6.50", 10)
	order := s.placeOrder(customer, address, product, 3)
	purchase := s.payOrder(customer, order)
	_, err := s.orders.MarkShipped(context.Background(), order.ID)
	s.Require().NoError(err)

	_, err = s.payments.RefundPurchase(context.Background(), purchase.ID, &RefundPurchaseRequest{Reason: "returned"})
	s.Require().NoError(err)

	s.Equal(models.OrderStatusShipped, s.reload(order).Status)
	inventory := dbtest.GetInventory(s.T(), s.db, product.ID)
	s.Equal(7, inventory.Quantity)
	s.Equal(0, inventory.ReservedQuantity)
}

func (s *PaymentServiceTestSuite) TestRefundRequiresCompletedPurchase() {
	customer, address := s.customer()
	order := s.placeOrder(customer, address, s.product("Shirt", "6.50", 10), 1)
	resp, err := s.payments.InitiatePayment(context.Background(), s.identity(customer), &InitiatePaymentRequest{OrderID: order.ID})
	s.Require().NoError(err)

	_, err = s.payments.RefundPurchase(context.Background(), resp.PurchaseID, &RefundPurchaseRequest{Reason: "changed mind"})
	s.ErrorIs(err, ErrInvalidTransition)

	_, err = s.payments.RefundPurchase(context.Background(), uuid.New(), &RefundPurchaseRequest{Reason: "x"})
	s.ErrorIs(err, ErrPurchaseNotFound)

	_, err = s.payments.RefundPurchase(context.Background(), resp.PurchaseID, &RefundPurchaseRequest{})
	s.ErrorIs(err, ErrValidation)
}

func (s *PaymentServiceTestSuite) TestPurchaseStatusFor() {
	s.Equal(models.PurchaseStatusCompleted, PurchaseStatusFor(gateway.StatusSuccess))
	s.Equal(models.PurchaseStatusFailed, PurchaseStatusFor(gateway.StatusFailed))
	s.Equal(models.PurchaseStatusPending, PurchaseStatusFor(gateway.StatusPending))
	s.Equal(models.PurchaseStatusPending, PurchaseStatusFor(gateway.StatusUnknown))
	s.Equal(models.PurchaseStatusPending, PurchaseStatusFor(gateway.ProviderStatus("refunded")))
}
