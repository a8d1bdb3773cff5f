// Package dbtest opens throwaway sqlite databases with the production schema.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/javajoker/shop-backend/internal/config"
	"github.com/javajoker/shop-backend/internal/database"
	"github.com/javajoker/shop-backend/internal/models"
)

// New returns a migrated in-memory database. A single connection is used, so
// concurrent transactions serialize the way row locks would on postgres.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := database.Initialize(config.DatabaseConfig{
		Driver:       "sqlite",
		Database:     dsn,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(db))

	t.Cleanup(func() { database.Close(db) })
	return db
}

func CreateCustomer(t testing.TB, db *gorm.DB, email string) *models.Customer {
	t.Helper()
	customer := &models.Customer{Email: email, FirstName: "Ada", LastName: "Lovelace"}
	require.NoError(t, db.Create(customer).Error)
	return customer
}

func CreateAddress(t testing.TB, db *gorm.DB, customerID uuid.UUID) *models.Address {
	t.Helper()
	address := &models.Address{
		CustomerID: customerID,
		Street:     "12 Rue Joss",
		City:       "Douala",
		State:      "Littoral",
		Country:    "Cameroon",
		PostalCode: "00237",
	}
	require.NoError(t, db.Create(address).Error)
	return address
}

// CreateProduct creates an active product priced in currency with stock on hand.
func CreateProduct(t testing.TB, db *gorm.DB, name, price, currency string, stock int) *models.Product {
	t.Helper()
	product := &models.Product{
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Currency: currency,
		IsActive: true,
	}
	require.NoError(t, db.Create(product).Error)

	inventory := &models.Inventory{ProductID: product.ID, Quantity: stock}
	require.NoError(t, db.Create(inventory).Error)
	product.Inventory = inventory
	return product
}

func SetPrice(t testing.TB, db *gorm.DB, productID uuid.UUID, price string) {
	t.Helper()
	require.NoError(t, db.Model(&models.Product{}).Where("id = ?", productID).
		Update("price", decimal.RequireFromString(price)).Error)
}

func GetInventory(t testing.TB, db *gorm.DB, productID uuid.UUID) models.Inventory {
	t.Helper()
	var inventory models.Inventory
	require.NoError(t, db.Where("product_id = ?", productID).First(&inventory).Error)
	return inventory
}
