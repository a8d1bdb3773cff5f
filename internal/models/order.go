// internal/models/order.go
package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Order struct {
	BaseModel
	CustomerID        uuid.UUID       `json:"customer_id" gorm:"type:uuid;not null;index"`
	ShippingAddressID uuid.UUID       `json:"shipping_address_id" gorm:"type:uuid;not null"`
	ShippingAddress   AddressSnapshot `json:"shipping_address" gorm:"embedded;embeddedPrefix:shipping_"`
	Status            OrderStatus     `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	TotalPrice        decimal.Decimal `json:"total_price" gorm:"type:decimal(12,2);not null"`
	Currency          string          `json:"currency" gorm:"size:3;not null"`

	// Relationships
	Customer Customer    `json:"customer,omitempty" gorm:"foreignKey:CustomerID"`
	Items    []OrderItem `json:"items,omitempty" gorm:"foreignKey:OrderID"`
	Purchase *Purchase   `json:"purchase,omitempty" gorm:"foreignKey:OrderID"`
}

// OrderItem is the audit record of a sale. UnitPriceAtPurchase and Subtotal
// are frozen at checkout and never recomputed from the catalog.
type OrderItem struct {
	BaseModel
	OrderID             uuid.UUID       `json:"order_id" gorm:"type:uuid;not null;index"`
	ProductID           uuid.UUID       `json:"product_id" gorm:"type:uuid;not null;index"`
	ProductName         string          `json:"product_name" gorm:"size:255;not null"`
	Quantity            int             `json:"quantity" gorm:"not null"`
	UnitPriceAtPurchase decimal.Decimal `json:"unit_price_at_purchase" gorm:"type:decimal(12,2);not null"`
	Subtotal            decimal.Decimal `json:"subtotal" gorm:"type:decimal(12,2);not null"`

	// Relationships
	Product Product `json:"-" gorm:"foreignKey:ProductID"`
}

func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal)
	}
	return total
}
