// internal/models/customer.go
package models

import (
	"strings"

	"github.com/google/uuid"
)

// Customer mirrors the identity supplied by the auth provider. The checkout
// pipeline only reads it.
type Customer struct {
	BaseModel
	Email     string `json:"email" gorm:"uniqueIndex;size:255;not null"`
	FirstName string `json:"first_name" gorm:"size:100"`
	LastName  string `json:"last_name" gorm:"size:100"`

	// Relationships
	Addresses []Address `json:"addresses,omitempty" gorm:"foreignKey:CustomerID"`
}

func (c *Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

type Address struct {
	BaseModel
	CustomerID uuid.UUID `json:"customer_id" gorm:"type:uuid;not null;index"`
	Street     string    `json:"street" gorm:"size:255;not null"`
	City       string    `json:"city" gorm:"size:100;not null"`
	State      string    `json:"state" gorm:"size:100"`
	Country    string    `json:"country" gorm:"size:100;not null"`
	PostalCode string    `json:"postal_code" gorm:"size:20"`
}

// AddressSnapshot is the copy of a shipping address frozen onto an order.
type AddressSnapshot struct {
	Street     string `json:"street" gorm:"size:255"`
	City       string `json:"city" gorm:"size:100"`
	State      string `json:"state" gorm:"size:100"`
	Country    string `json:"country" gorm:"size:100"`
	PostalCode string `json:"postal_code" gorm:"size:20"`
}

func (a *Address) Snapshot() AddressSnapshot {
	return AddressSnapshot{
		Street:     a.Street,
		City:       a.City,
		State:      a.State,
		Country:    a.Country,
		PostalCode: a.PostalCode,
	}
}

func (a AddressSnapshot) String() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Street, a.City, a.State, a.Country, a.PostalCode} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
