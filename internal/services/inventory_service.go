// internal/services/inventory_service.go
package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/shop-backend/internal/models"
)

// InventoryService is the stock ledger. Every write is a single conditional
// UPDATE so concurrent callers can never push reserved_quantity past quantity
// or below zero, with or without row locks.
type InventoryService struct {
	db *gorm.DB
}

func NewInventoryService(db *gorm.DB) *InventoryService {
	return &InventoryService{db: db}
}

func (s *InventoryService) Get(productID uuid.UUID) (*models.Inventory, error) {
	return s.get(s.db, productID)
}

func (s *InventoryService) get(tx *gorm.DB, productID uuid.UUID) (*models.Inventory, error) {
	var inventory models.Inventory
	if err := tx.Where("product_id = ?", productID).First(&inventory).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInventoryNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &inventory, nil
}

// AvailableQuantity is quantity - reserved_quantity.
func (s *InventoryService) AvailableQuantity(productID uuid.UUID) (int, error) {
	inventory, err := s.Get(productID)
	if err != nil {
		return 0, err
	}
	return inventory.Available(), nil
}

// Reserve holds quantity units of a product for an unfulfilled order. Pass
// the surrounding transaction so the hold rolls back with it.
func (s *InventoryService) Reserve(tx *gorm.DB, productID uuid.UUID, quantity int) error {
	if quantity < 1 {
		return newValidationError("quantity", "must be at least 1")
	}

	result := tx.Model(&models.Inventory{}).
		Where("product_id = ? AND reserved_quantity + ? <= quantity", productID, quantity).
		UpdateColumn("reserved_quantity", gorm.Expr("reserved_quantity + ?", quantity))
	if result.Error != nil {
		return fmt.Errorf("failed to reserve inventory: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	inventory, err := s.get(tx, productID)
	if err != nil {
		return err
	}
	return &StockError{ProductID: productID, Requested: quantity, Available: inventory.Available()}
}

// Release gives back a reservation (order cancelled or refunded before shipping).
func (s *InventoryService) Release(tx *gorm.DB, productID uuid.UUID, quantity int) error {
	if quantity < 1 {
		return newValidationError("quantity", "must be at least 1")
	}

	result := tx.Model(&models.Inventory{}).
		Where("product_id = ? AND reserved_quantity >= ?", productID, quantity).
		UpdateColumn("reserved_quantity", gorm.Expr("reserved_quantity - ?", quantity))
	if result.Error != nil {
		return fmt.Errorf("failed to release inventory: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	if _, err := s.get(tx, productID); err != nil {
		return err
	}
	return &TransitionError{Entity: "inventory", From: "reserved", To: fmt.Sprintf("released(%d)", quantity)}
}

// Fulfill turns a reservation into a shipment: stock leaves the building.
func (s *InventoryService) Fulfill(tx *gorm.DB, productID uuid.UUID, quantity int) error {
	if quantity < 1 {
		return newValidationError("quantity", "must be at least 1")
	}

	result := tx.Model(&models.Inventory{}).
		Where("product_id = ? AND reserved_quantity >= ?", productID, quantity).
		UpdateColumns(map[string]interface{}{
			"quantity":          gorm.Expr("quantity - ?", quantity),
			"reserved_quantity": gorm.Expr("reserved_quantity - ?", quantity),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to fulfil inventory: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	if _, err := s.get(tx, productID); err != nil {
		return err
	}
	return &TransitionError{Entity: "inventory", From: "reserved", To: fmt.Sprintf("fulfilled(%d)", quantity)}
}

type RestockRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

func (s *InventoryService) Restock(productID uuid.UUID, quantity int) (*models.Inventory, error) {
	if quantity < 1 {
		return nil, newValidationError("quantity", "must be at least 1")
	}

	result := s.db.Model(&models.Inventory{}).
		Where("product_id = ?", productID).
		UpdateColumn("quantity", gorm.Expr("quantity + ?", quantity))
	if result.Error != nil {
		return nil, fmt.Errorf("failed to restock inventory: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrInventoryNotFound
	}
	return s.Get(productID)
}
