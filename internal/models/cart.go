// internal/models/cart.go
package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Cart struct {
	BaseModel
	CustomerID uuid.UUID `json:"customer_id" gorm:"type:uuid;not null;uniqueIndex"`

	// Relationships
	Customer Customer   `json:"-" gorm:"foreignKey:CustomerID"`
	Items    []CartItem `json:"items" gorm:"foreignKey:CartID"`
}

// CartItem rows are hard deleted so the (cart, product) unique index stays usable.
type CartItem struct {
	BaseModel
	CartID    uuid.UUID `json:"cart_id" gorm:"type:uuid;not null;uniqueIndex:idx_cart_items_cart_product"`
	ProductID uuid.UUID `json:"product_id" gorm:"type:uuid;not null;uniqueIndex:idx_cart_items_cart_product"`
	Quantity  int       `json:"quantity" gorm:"not null"`

	// Relationships
	Product Product `json:"product" gorm:"foreignKey:ProductID"`
}

// Subtotal is priced from the live catalog; Product must be loaded.
func (i *CartItem) Subtotal() decimal.Decimal {
	return i.Product.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// TotalPrice is always derived from the current lines and current product
// prices. Lines whose product has been deactivated do not count.
func (c *Cart) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for i := range c.Items {
		if !c.Items[i].Product.IsActive {
			continue
		}
		total = total.Add(c.Items[i].Subtotal())
	}
	return total
}

func (c *Cart) ItemCount() int {
	count := 0
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}
