package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/javajoker/shop-backend/internal/config"
	"github.com/javajoker/shop-backend/internal/database/dbtest"
	"github.com/javajoker/shop-backend/internal/models"
	"github.com/javajoker/shop-backend/internal/tasks"
	"github.com/javajoker/shop-backend/pkg/events"
	"github.com/javajoker/shop-backend/pkg/gateway"
)

const testCurrency = "ETB"

type fakeGateway struct {
	mu          sync.Mutex
	status      gateway.ProviderStatus
	initiateErr error
	verifyErr   error
	initiated   []gateway.InitiateRequest
	verified    []string
	// afterVerify runs once, after the provider answered and before the
	// result is returned to the caller.
	afterVerify func(txRef string)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{status: gateway.StatusPending}
}

func (g *fakeGateway) Provider() string { return "chapa" }

func (g *fakeGateway) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	g.initiated = append(g.initiated, req)
	return &gateway.InitiateResult{
		CheckoutURL: "https://checkout.example.test/" + req.TxRef,
		Status:      "success",
		Raw:         map[string]interface{}{"status": "success"},
	}, nil
}

func (g *fakeGateway) Verify(ctx context.Context, txRef string) (*gateway.VerifyResult, error) {
	g.mu.Lock()
	if g.verifyErr != nil {
		err := g.verifyErr
		g.mu.Unlock()
		return nil, err
	}
	g.verified = append(g.verified, txRef)
	result := &gateway.VerifyResult{
		Status: g.status,
		Raw: map[string]interface{}{
			"status": "success",
			"data":   map[string]interface{}{"tx_ref": txRef, "status": string(g.status)},
		},
	}
	hook := g.afterVerify
	g.afterVerify = nil
	g.mu.Unlock()

	if hook != nil {
		hook(txRef)
	}
	return result, nil
}

func (g *fakeGateway) setStatus(status gateway.ProviderStatus) {
	g.mu.Lock()
	g.status = status
	g.mu.Unlock()
}

func (g *fakeGateway) onNextVerify(fn func(txRef string)) {
	g.mu.Lock()
	g.afterVerify = fn
	g.mu.Unlock()
}

func (g *fakeGateway) initiateCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.initiated)
}

type recordingPublisher struct {
	mu        sync.Mutex
	err       error
	onPublish func()
	events    []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onPublish != nil {
		p.onPublish()
	}
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Topic)
	}
	return out
}

func (p *recordingPublisher) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// serviceSuite wires every service against a fresh sqlite database.
type serviceSuite struct {
	suite.Suite
	db        *gorm.DB
	queue     *tasks.MemoryQueue
	publisher *recordingPublisher
	gateway   *fakeGateway
	logHook   *logtest.Hook

	inventory *InventoryService
	outbox    *OutboxService
	carts     *CartService
	checkout  *CheckoutService
	orders    *OrderService
	payments  *PaymentService
}

func (s *serviceSuite) SetupSuite() {
	s.logHook = logtest.NewGlobal()
	logrus.SetLevel(logrus.DebugLevel)
}

func (s *serviceSuite) SetupTest() {
	s.db = dbtest.New(s.T())
	s.queue = tasks.NewMemoryQueue()
	s.publisher = &recordingPublisher{}
	s.gateway = newFakeGateway()

	s.inventory = NewInventoryService(s.db)
	s.outbox = NewOutboxService(s.db, s.queue, s.publisher, 10, time.Second)
	s.carts = NewCartService(s.db, s.inventory, testCurrency)
	s.checkout = NewCheckoutService(s.db, s.inventory, s.outbox, testCurrency)
	s.orders = NewOrderService(s.db, s.inventory, s.outbox)
	s.payments = NewPaymentService(s.db, config.PaymentConfig{
		Currency:             testCurrency,
		RequestTimeout:       time.Second,
		PendingAttemptTTL:    30 * time.Minute,
		CheckoutTitle:        "Payment for Order",
		CheckoutDescription:  "Payment for purchasing products",
		TransactionRefPrefix: "TX-",
	}, s.gateway, s.inventory, s.outbox)
}

func (s *serviceSuite) TearDownTest() {
	s.logHook.Reset()
}

func (s *serviceSuite) customer() (*models.Customer, *models.Address) {
	customer := dbtest.CreateCustomer(s.T(), s.db, uuid.NewString()+"@example.com")
	address := dbtest.CreateAddress(s.T(), s.db, customer.ID)
	return customer, address
}

func (s *serviceSuite) product(name, price string, stock int) *models.Product {
	return dbtest.CreateProduct(s.T(), s.db, name, price, testCurrency, stock)
}

func (s *serviceSuite) addToCart(customerID, productID uuid.UUID, quantity int) {
	_, err := s.carts.AddItem(customerID, &AddCartItemRequest{ProductID: productID, Quantity: quantity})
	s.Require().NoError(err)
}

// placeOrder checks out a single-product cart.
func (s *serviceSuite) placeOrder(customer *models.Customer, address *models.Address, product *models.Product, quantity int) *models.Order {
	s.addToCart(customer.ID, product.ID, quantity)
	order, err := s.checkout.Checkout(context.Background(), customer.ID, &CheckoutRequest{ShippingAddressID: address.ID})
	s.Require().NoError(err)
	return order
}

// payOrder initiates and verifies a successful payment.
func (s *serviceSuite) payOrder(customer *models.Customer, order *models.Order) *models.Purchase {
	resp, err := s.payments.InitiatePayment(context.Background(), Identity{CustomerID: customer.ID, Email: customer.Email}, &InitiatePaymentRequest{OrderID: order.ID})
	s.Require().NoError(err)

	s.gateway.setStatus(gateway.StatusSuccess)
	purchase, err := s.payments.VerifyPayment(context.Background(), resp.TxRef)
	s.Require().NoError(err)
	return purchase
}

func (s *serviceSuite) count(model interface{}, query string, args ...interface{}) int64 {
	var n int64
	q := s.db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	s.Require().NoError(q.Count(&n).Error)
	return n
}

func (s *serviceSuite) reload(order *models.Order) *models.Order {
	var fresh models.Order
	s.Require().NoError(s.db.First(&fresh, "id = ?", order.ID).Error)
	return &fresh
}
