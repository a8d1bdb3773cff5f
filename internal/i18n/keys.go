// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Authentication
	KeyAuthRequired      = "auth.required"
	KeyAuthInvalidToken  = "auth.invalid_token"
	KeyAdminAccessDenied = "admin.access_denied"

	// Cart
	KeyCartItemNotFound = "cart_item.not_found"
	KeyCartEmpty        = "cart.empty"

	// Catalog
	KeyProductNotFound    = "product.not_found"
	KeyProductUnavailable = "product.unavailable"
	KeyInventoryNotFound  = "inventory.not_found"
	KeyInsufficientStock  = "inventory.insufficient_stock"

	// Orders
	KeyOrderNotFound     = "order.not_found"
	KeyInvalidAddress    = "order.invalid_address"
	KeyInvalidTransition = "order.invalid_transition"

	// Payments
	KeyPurchaseNotFound        = "purchase.not_found"
	KeyOrderAlreadyPaid        = "payment.order_already_paid"
	KeyOrderNotPayable         = "payment.order_not_payable"
	KeyPaymentInProgress       = "payment.in_progress"
	KeyPaymentInitiationFailed = "payment.initiation_failed"
	KeyPaymentGatewayError     = "payment.gateway_error"

	// Receipts
	KeyReceiptNotFound = "receipt.not_found"
	KeyReceiptNotReady = "receipt.not_ready"

	// Validation
	KeyValidationRequired = "validation.required"
	KeyValidationInvalid  = "validation.invalid"

	// Errors
	KeyRateLimited   = "error.rate_limited"
	KeyInternalError = "error.internal"
)
