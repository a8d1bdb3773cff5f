// internal/models/product.go
package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	BaseModel
	Name        string          `json:"name" gorm:"size:255;not null;index"`
	Description string          `json:"description" gorm:"type:text"`
	Price       decimal.Decimal `json:"price" gorm:"type:decimal(12,2);not null"`
	Currency    string          `json:"currency" gorm:"size:3;not null"`
	IsActive    bool            `json:"is_active" gorm:"not null;index"`

	// Relationships
	Inventory *Inventory `json:"inventory,omitempty" gorm:"foreignKey:ProductID"`
}

// Inventory is the stock ledger row for a product. ReservedQuantity never
// exceeds Quantity; every mutation goes through a conditional UPDATE.
type Inventory struct {
	BaseModel
	ProductID        uuid.UUID `json:"product_id" gorm:"type:uuid;not null;uniqueIndex"`
	Quantity         int       `json:"quantity" gorm:"not null;default:0;check:chk_inventories_quantity,quantity >= 0"`
	ReservedQuantity int       `json:"reserved_quantity" gorm:"not null;default:0;check:chk_inventories_reserved,reserved_quantity >= 0 AND reserved_quantity <= quantity"`
}

func (i *Inventory) Available() int {
	return i.Quantity - i.ReservedQuantity
}
