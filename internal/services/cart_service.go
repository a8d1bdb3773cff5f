// internal/services/cart_service.go
package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/shop-backend/internal/database"
	"github.com/javajoker/shop-backend/internal/models"
)

// MaxLineQuantity caps the quantity of a single cart line.
const MaxLineQuantity = 1000

type CartService struct {
	db        *gorm.DB
	inventory *InventoryService
	currency  string
}

type AddCartItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"uuid_not_nil"`
	Quantity  int       `json:"quantity" validate:"required,min=1,max=1000"`
}

// Quantity <= 0 removes the line.
type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"max=1000"`
}

type CartLine struct {
	ID          uuid.UUID       `json:"id"`
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Available   bool            `json:"available"`
}

type CartView struct {
	ID         uuid.UUID       `json:"id"`
	CustomerID uuid.UUID       `json:"customer_id"`
	Items      []CartLine      `json:"items"`
	ItemCount  int             `json:"item_count"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Currency   string          `json:"currency"`
}

func NewCartService(db *gorm.DB, inventory *InventoryService, currency string) *CartService {
	return &CartService{
		db:        db,
		inventory: inventory,
		currency:  currency,
	}
}

// NewCartView prices the cart from the live catalog.
func NewCartView(cart *models.Cart, currency string) *CartView {
	view := &CartView{
		ID:         cart.ID,
		CustomerID: cart.CustomerID,
		Items:      make([]CartLine, 0, len(cart.Items)),
		ItemCount:  cart.ItemCount(),
		TotalPrice: cart.TotalPrice(),
		Currency:   currency,
	}
	for i := range cart.Items {
		item := &cart.Items[i]
		view.Items = append(view.Items, CartLine{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.Product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.Product.Price,
			Subtotal:    item.Subtotal(),
			Available:   item.Product.IsActive,
		})
	}
	return view
}

func (s *CartService) View(cart *models.Cart) *CartView {
	return NewCartView(cart, s.currency)
}

// GetCart returns the customer's cart, creating an empty one on first use.
func (s *CartService) GetCart(customerID uuid.UUID) (*models.Cart, error) {
	cart, err := s.getOrCreate(s.db, customerID)
	if err != nil {
		return nil, err
	}
	return s.load(cart.ID)
}

func (s *CartService) AddItem(customerID uuid.UUID, req *AddCartItemRequest) (*models.Cart, error) {
	if req.Quantity < 1 {
		return nil, newValidationError("quantity", "must be at least 1")
	}
	if req.Quantity > MaxLineQuantity {
		return nil, newValidationError("quantity", fmt.Sprintf("must be at most %d", MaxLineQuantity))
	}

	var cartID uuid.UUID
	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		product, err := s.activeProduct(tx, req.ProductID)
		if err != nil {
			return err
		}

		cart, err := s.getOrCreate(tx, customerID)
		if err != nil {
			return err
		}
		cartID = cart.ID

		var item models.CartItem
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("cart_id = ? AND product_id = ?", cart.ID, product.ID).
			First(&item).Error
		switch {
		case err == nil:
			return s.setQuantity(tx, &item, item.Quantity+req.Quantity)
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := s.checkAvailable(tx, product.ID, req.Quantity); err != nil {
				return err
			}
			item = models.CartItem{CartID: cart.ID, ProductID: product.ID, Quantity: req.Quantity}
			if err := tx.Omit(clause.Associations).Create(&item).Error; err != nil {
				return fmt.Errorf("failed to add cart item: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("database error: %w", err)
		}
	})
	if err != nil {
		return nil, err
	}

	return s.load(cartID)
}

func (s *CartService) UpdateItem(customerID, itemID uuid.UUID, req *UpdateCartItemRequest) (*models.Cart, error) {
	var cartID uuid.UUID
	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		item, err := s.ownedItem(tx, customerID, itemID)
		if err != nil {
			return err
		}
		cartID = item.CartID

		if req.Quantity <= 0 {
			return s.deleteItem(tx, item)
		}
		return s.setQuantity(tx, item, req.Quantity)
	})
	if err != nil {
		return nil, err
	}

	return s.load(cartID)
}

func (s *CartService) RemoveItem(customerID, itemID uuid.UUID) (*models.Cart, error) {
	var cartID uuid.UUID
	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		item, err := s.ownedItem(tx, customerID, itemID)
		if err != nil {
			return err
		}
		cartID = item.CartID
		return s.deleteItem(tx, item)
	})
	if err != nil {
		return nil, err
	}

	return s.load(cartID)
}

func (s *CartService) Clear(customerID uuid.UUID) (*models.Cart, error) {
	cart, err := s.getOrCreate(s.db, customerID)
	if err != nil {
		return nil, err
	}

	if err := s.db.Unscoped().Where("cart_id = ?", cart.ID).Delete(&models.CartItem{}).Error; err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}

	return s.load(cart.ID)
}

func (s *CartService) load(cartID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") }).
		Preload("Items.Product").
		First(&cart, "id = ?", cartID).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	return &cart, nil
}

func (s *CartService) getOrCreate(tx *gorm.DB, customerID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := tx.Where("customer_id = ?", customerID).First(&cart).Error
	if err == nil {
		return &cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("database error: %w", err)
	}

	cart = models.Cart{CustomerID: customerID}
	if err := tx.Omit(clause.Associations).Create(&cart).Error; err != nil {
		if !database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("failed to create cart: %w", err)
		}
		// Lost a race with a concurrent first add.
		if err := tx.Where("customer_id = ?", customerID).First(&cart).Error; err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
	}
	return &cart, nil
}

func (s *CartService) activeProduct(tx *gorm.DB, productID uuid.UUID) (*models.Product, error) {
	if productID == uuid.Nil {
		return nil, newValidationError("product_id", "is required")
	}

	var product models.Product
	if err := tx.First(&product, "id = ?", productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	if !product.IsActive {
		return nil, ErrProductUnavailable
	}
	return &product, nil
}

func (s *CartService) ownedItem(tx *gorm.DB, customerID, itemID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Table: clause.Table{Name: "cart_items"}}).
		Joins("JOIN carts ON carts.id = cart_items.cart_id").
		Where("cart_items.id = ? AND carts.customer_id = ?", itemID, customerID).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCartItemNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &item, nil
}

func (s *CartService) setQuantity(tx *gorm.DB, item *models.CartItem, quantity int) error {
	if quantity > MaxLineQuantity {
		return newValidationError("quantity", fmt.Sprintf("must be at most %d", MaxLineQuantity))
	}
	if err := s.checkAvailable(tx, item.ProductID, quantity); err != nil {
		return err
	}
	if err := tx.Model(item).UpdateColumn("quantity", quantity).Error; err != nil {
		return fmt.Errorf("failed to update cart item: %w", err)
	}
	return nil
}

func (s *CartService) deleteItem(tx *gorm.DB, item *models.CartItem) error {
	if err := tx.Unscoped().Delete(item).Error; err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	return nil
}

// checkAvailable is advisory; checkout's reservation is the real check.
func (s *CartService) checkAvailable(tx *gorm.DB, productID uuid.UUID, quantity int) error {
	inventory, err := s.inventory.get(tx, productID)
	if err != nil {
		return err
	}
	if inventory.Available() < quantity {
		return &StockError{ProductID: productID, Requested: quantity, Available: inventory.Available()}
	}
	return nil
}
