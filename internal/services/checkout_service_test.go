package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/shop-backend/internal/database/dbtest"
	"github.com/javajoker/shop-backend/internal/models"
)

type CheckoutServiceTestSuite struct {
	serviceSuite
}

func TestCheckoutService(t *testing.T) {
	suite.Run(t, new(CheckoutServiceTestSuite))
}

func (s *CheckoutServiceTestSuite) TestCheckoutCreatesPendingOrder() {
	customer, address := s.customer()
	mug := s.product("Mug", "4.50", 10)
	pen := s.product("Pen", "1.25", 10)
	s.addToCart(customer.ID, mug.ID, 2)
	s.addToCart(customer.ID, pen.ID, 3)

	order, err := s.checkout.Checkout(context.Background(), customer.ID, &CheckoutRequest{ShippingAddressID: address.ID})
	s.Require().NoError(err)

	s.Equal(models.OrderStatusPending, order.Status)
	s.Equal(testCurrency, order.Currency)
	s.Equal("12.75", order.TotalPrice.StringFixed(2))
	s.Len(order.Items, 2)
	s.True(order.TotalPrice.Equal(order.ItemsTotal()))
	s.Equal(address.Street, order.ShippingAddress.Street)
	s.Equal(address.City, order.ShippingAddress.City)

	s.Equal(2, dbtest.GetInventory(s.T(), s.db, mug.ID).ReservedQuantity)
	s.Equal(3, dbtest.GetInventory(s.T(), s.db, pen.ID).ReservedQuantity)

	cart, err := s.carts.GetCart(customer.ID)
	s.Require().NoError(err)
	s.True(cart.IsEmpty())

	s.Equal([]string{TopicOrderCreated}, s.publisher.topics())
}

func (s *CheckoutServiceTestSuite) TestCheckoutFreezesPrices() {
	customer, address := s.customer()
	product := s.product("Lamp", "20.00", 5)
	order := s.placeOrder(customer, address, product, 2)

	dbtest.SetPrice(s.T(), s.db, product.ID, "99.99")

	stored, err := s.orders.GetOrder(customer.ID, order.ID)
	s.Require().NoError(err)
	s.Require().Len(stored.Items, 1)
	s.Equal("20.00", stored.Items[0].UnitPriceAtPurchase.StringFixed(2))
	s.Equal("40.00", stored.Items[0].Subtotal.StringFixed(2))
	s.Equal("40.00", stored.TotalPrice.StringFixed(2))
}

func (s *CheckoutServiceTestSuite) TestCheckoutUsesPriceAtCheckout() {
	customer, address := s.customer()
	product := s.product("Kettle", "10.00", 5)
	s.addToCart(customer.ID, product.ID, 1)

	dbtest.SetPrice(s.T(), s.db, product.ID, "15.00")

	order, err := s.checkout.Checkout(context.Background(), customer.ID, &CheckoutRequest{ShippingAddressID: address.ID})
	s.Require().NoError(err)
	s.Require().Len(order.Items, 1)
	s.Equal("15.00", order.Items[0].UnitPriceAtPurchase.StringFixed(2))
	s.Equal("15.00", order.TotalPrice.StringFixed(2))

	dbtest.SetPrice(s.T(), s.db, product.ID, "12.00")

	stored, err := s.orders.GetOrder(customer.ID, order.ID)
	s.Require().NoError(err)
	s.Equal("15.00", stored.Items[0].UnitPriceAtPurchase.StringFixed(2))
	s.Equal("15.00", stored.TotalPrice.StringFixed(2))
}

func (s *CheckoutServiceTestSuite) TestCheckoutIsAllOrNothing() {
	customer, address := s.customer()
	plenty := s.product("Plenty", "1.00", 10)
	scarce := s.product("Scarce", "1.00", 3)
	s.addToCart(customer.ID, plenty.ID, 5)
	s.addToCart(customer.ID, scarce.ID, 3)

	// Someone else takes the stock between add-to-cart and checkout.
	other, otherAddress := s.customer()
	s.placeOrder(other, otherAddress, scarce, 2)

	_, err := s.checkout.Checkout(context.Background(), customer.ID, &CheckoutRequest{ShippingAddressID: address.ID})
	s.Require().Error(err)
	s.True(errors.Is(err, ErrInsufficientStock))

	var stockErr *StockError
	s.Require().True(errors.As(err, &stockErr))
	s.Equal(scarce.ID, stockErr.ProductID)
	s.Equal(3, stockErr.Requested)
	s.Equal(1, stockErr.Available)

	s.Equal(0, dbtest.GetInventory(s.T(), s.db, plenty.ID).ReservedQuantity)
	s.Equal(2, dbtest.GetInventory(s.T(), s.db, scarce.ID).ReservedQuantity)
	s.Equal(int64(0), s.count(&models.Order{}, "customer_id = ?", customer.ID))

	cart, err := s.carts.GetCart(customer.ID)
	s.Require().NoError(err)
	s.Len(cart.Items, 2)
}

func (s *CheckoutServiceTestSuite) TestCheckoutEmptyCart() {
	customer, address := s.customer()

	_, err := s.checkout.Checkout(context.Background(), customer.ID, &CheckoutRequest{ShippingAddressID: address.ID})
	s.ErrorIs(err, ErrEmptyCart)

	_, err = s.carts.GetCart(customer.ID)
	s.Require().NoError(err)
	_, err = s.checkout.Checkout(context.Background(), customer.ID, &CheckoutRequest{ShippingAddressID: address.ID})
	s.ErrorIs(err, ErrEmptyCart)
}

func (s *CheckoutServiceTestSuite) TestCheckoutRejectsForeignAddress() {
	customer, _ := s.customer()
	_, foreign := s.customer()
	product := s.product("Cup", "3.00", 5)
	s.addToCart(customer.ID, product.ID, 1)

	_, err := s.checkout.Checkout(context.Background(), customer.ID, &CheckoutRequest{ShippingAddressID: foreign.ID})
	s.ErrorIs(err, ErrInvalidAddress)

	_, err = s.checkout.Checkout(context.Background(), customer.ID, &CheckoutRequest{})
	s.ErrorIs(err, ErrValidation)

	s.Equal(0, dbtest.GetInventory(s.T(), s.db, product.ID).ReservedQuantity)
}

func (s *CheckoutServiceTestSuite) TestCheckoutRejectsDeactivatedProduct() {
	customer, address := s.customer()
	product := s.product("Retired", "3.00", 5)
	s.addToCart(customer.ID, product.ID, 1)
	s.Require().NoError(s.db.Model(&models.Product{}).Where("id = ?", product.ID).Update("is_active", false).Error)

	_, err := s.checkout.Checkout(context.Background(), customer.ID, &CheckoutRequest{ShippingAddressID: address.ID})
	s.ErrorIs(err, ErrValidation)
	s.Equal(0, dbtest.GetInventory(s.T(), s.db, product.ID).ReservedQuantity)
}

func (s *CheckoutServiceTestSuite) TestCheckoutRejectsForeignCurrency() {
	customer, address := s.customer()
	product := dbtest.CreateProduct(s.T(), s.db, "Import", "3.00", "USD", 5)
	s.addToCart(customer.ID, product.ID, 1)

	_, err := s.checkout.Checkout(context.Background(), customer.ID, &CheckoutRequest{ShippingAddressID: address.ID})
	var validationErr *ValidationError
	s.Require().True(errors.As(err, &validationErr))
	s.Equal("items", validationErr.Field)
}

func (s *CheckoutServiceTestSuite) TestConcurrentCheckoutForLastUnit() {
	product := s.product("Last one", "9.99", 1)

	type buyer struct {
		customerID uuid.UUID
		addressID  uuid.UUID
	}
	buyers := make([]buyer, 2)
	for i := range buyers {
		customer, address := s.customer()
		s.addToCart(customer.ID, product.ID, 1)
		buyers[i] = buyer{customer.ID, address.ID}
	}

	var wg sync.WaitGroup
	errs := make([]error, len(buyers))
	for i, b := range buyers {
		wg.Add(1)
		go func(i int, b buyer) {
			defer wg.Done()
			_, errs[i] = s.checkout.Checkout(context.Background(), b.customerID, &CheckoutRequest{ShippingAddressID: b.addressID})
		}(i, b)
	}
	wg.Wait()

	succeeded, outOfStock := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientStock):
			outOfStock++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, succeeded)
	s.Equal(1, outOfStock)

	inventory := dbtest.GetInventory(s.T(), s.db, product.ID)
	s.Equal(1, inventory.ReservedQuantity)
	s.Equal(0, inventory.Available())
}

func (s *CheckoutServiceTestSuite) TestReservedNeverExceedsQuantity() {
	product := s.product("Widget", "1.00", 5)

	for i := 0; i < 4; i++ {
		customer, address := s.customer()
		s.addToCart(customer.ID, product.ID, 2)
		_, _ = s.checkout.Checkout(context.Background(), customer.ID, &CheckoutRequest{ShippingAddressID: address.ID})

		inventory := dbtest.GetInventory(s.T(), s.db, product.ID)
		s.GreaterOrEqual(inventory.ReservedQuantity, 0)
		s.LessOrEqual(inventory.ReservedQuantity, inventory.Quantity)
	}

	s.Equal(4, dbtest.GetInventory(s.T(), s.db, product.ID).ReservedQuantity)
}

func (s *CheckoutServiceTestSuite) TestOrderTotalMatchesItems() {
	customer, address := s.customer()
	a := s.product("A", "0.10", 100)
	b := s.product("B", "0.20", 100)
	s.addToCart(customer.ID, a.ID, 3)
	s.addToCart(customer.ID, b.ID, 7)

	order, err := s.checkout.Checkout(context.Background(), customer.ID, &CheckoutRequest{ShippingAddressID: address.ID})
	s.Require().NoError(err)

	expected := decimal.RequireFromString("1.70")
	s.True(expected.Equal(order.TotalPrice), order.TotalPrice.String())
	for _, item := range order.Items {
		s.True(item.Subtotal.Equal(item.UnitPriceAtPurchase.Mul(decimal.NewFromInt(int64(item.Quantity)))))
	}
}
