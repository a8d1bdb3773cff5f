// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// BeforeCreate assigns the primary key client side so the same models work
// on databases without gen_random_uuid().
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*j = m
	return nil
}

// Enums
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:    {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped: {OrderStatusDelivered},
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsPaid reports whether money has been collected for the order.
func (s OrderStatus) IsPaid() bool {
	return s == OrderStatusPaid || s == OrderStatusShipped || s == OrderStatusDelivered
}

func (s OrderStatus) String() string {
	return string(s)
}

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
	PurchaseStatusRefunded  PurchaseStatus = "refunded"
	PurchaseStatusVerified  PurchaseStatus = "verified"
)

var purchaseTransitions = map[PurchaseStatus][]PurchaseStatus{
	PurchaseStatusPending:   {PurchaseStatusPending, PurchaseStatusCompleted, PurchaseStatusFailed},
	PurchaseStatusCompleted: {PurchaseStatusVerified, PurchaseStatusRefunded},
	PurchaseStatusVerified:  {PurchaseStatusRefunded},
}

func (s PurchaseStatus) CanTransitionTo(next PurchaseStatus) bool {
	for _, allowed := range purchaseTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ReceiptReady reports whether a receipt may be produced for a purchase in this state.
func (s PurchaseStatus) ReceiptReady() bool {
	return s == PurchaseStatusCompleted || s == PurchaseStatusVerified
}

func (s PurchaseStatus) String() string {
	return string(s)
}

type PaymentProvider string

const (
	PaymentProviderChapa  PaymentProvider = "chapa"
	PaymentProviderStripe PaymentProvider = "stripe"
)
