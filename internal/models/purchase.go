// internal/models/purchase.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Purchase is the payment record of an order. The order_id unique index keeps
// the relationship one-to-one; a retry replaces the attempt in place and the
// issued references are kept in PaymentAttempt.
type Purchase struct {
	BaseModel
	OrderID              uuid.UUID       `json:"order_id" gorm:"type:uuid;not null;uniqueIndex"`
	Provider             PaymentProvider `json:"provider" gorm:"type:varchar(20);not null"`
	Amount               decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null"`
	Currency             string          `json:"currency" gorm:"size:3;not null"`
	Status               PurchaseStatus  `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	TransactionReference string          `json:"transaction_reference" gorm:"size:64;not null;uniqueIndex"`
	PaymentDetails       JSONB           `json:"payment_details" gorm:"type:jsonb"`
	CheckoutURL          string          `json:"checkout_url,omitempty" gorm:"size:1024"`
	InitiatedAt          time.Time       `json:"initiated_at"`
	RefundedAt           *time.Time      `json:"refunded_at"`
	RefundReason         string          `json:"refund_reason,omitempty" gorm:"type:text"`

	// Relationships
	Order        Order                 `json:"order,omitempty" gorm:"foreignKey:OrderID"`
	Verification *PurchaseVerification `json:"verification,omitempty" gorm:"foreignKey:PurchaseID"`
}

type PurchaseVerification struct {
	BaseModel
	PurchaseID          uuid.UUID `json:"purchase_id" gorm:"type:uuid;not null;uniqueIndex"`
	IsVerified          bool      `json:"is_verified" gorm:"not null;default:false"`
	VerifiedAt          time.Time `json:"verified_at"`
	VerificationDetails JSONB     `json:"verification_details" gorm:"type:jsonb"`
}

// PaymentAttempt records every tx_ref issued for a purchase, so a provider
// result for a replaced attempt can still be reconciled.
type PaymentAttempt struct {
	BaseModel
	PurchaseID           uuid.UUID `json:"purchase_id" gorm:"type:uuid;not null;index"`
	TransactionReference string    `json:"transaction_reference" gorm:"size:64;not null;uniqueIndex"`
	CheckoutURL          string    `json:"checkout_url,omitempty" gorm:"size:1024"`
	InitiatedAt          time.Time `json:"initiated_at"`
}
