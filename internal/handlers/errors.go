// internal/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/shop-backend/internal/i18n"
	"github.com/javajoker/shop-backend/internal/services"
	"github.com/javajoker/shop-backend/internal/utils"
	"github.com/javajoker/shop-backend/pkg/gateway"
)

var notFoundResources = []struct {
	err      error
	resource string
}{
	{services.ErrCartItemNotFound, "cart_item"},
	{services.ErrProductNotFound, "product"},
	{services.ErrInventoryNotFound, "inventory"},
	{services.ErrOrderNotFound, "order"},
	{services.ErrPurchaseNotFound, "purchase"},
	{services.ErrReceiptUnavailable, "receipt"},
}

var conflictCodes = []struct {
	err  error
	code string
	key  string
}{
	{services.ErrOrderAlreadyPaid, "ORDER_ALREADY_PAID", i18n.KeyOrderAlreadyPaid},
	{services.ErrOrderNotPayable, "ORDER_NOT_PAYABLE", i18n.KeyOrderNotPayable},
	{services.ErrPaymentInProgress, "PAYMENT_IN_PROGRESS", i18n.KeyPaymentInProgress},
	{services.ErrInvalidTransition, "INVALID_TRANSITION", i18n.KeyInvalidTransition},
	{services.ErrProductUnavailable, "PRODUCT_UNAVAILABLE", i18n.KeyProductUnavailable},
	{services.ErrReceiptNotReady, "RECEIPT_NOT_READY", i18n.KeyReceiptNotReady},
}

// respondError maps service errors onto the API envelope.
func respondError(c *gin.Context, err error) {
	lang := utils.GetLangFromContext(c)

	var validationErr *services.ValidationError
	if errors.As(err, &validationErr) {
		utils.ValidationErrorResponse(c, []utils.ValidationError{{
			Field:   validationErr.Field,
			Tag:     "invalid",
			Message: validationErr.Message,
		}})
		return
	}

	var stockErr *services.StockError
	if errors.As(err, &stockErr) {
		utils.ErrorResponse(c, http.StatusConflict, "INSUFFICIENT_STOCK",
			i18n.T(lang, i18n.KeyInsufficientStock, stockErr.ProductID.String()),
			gin.H{
				"product_id": stockErr.ProductID,
				"requested":  stockErr.Requested,
				"available":  stockErr.Available,
			})
		return
	}

	switch {
	case errors.Is(err, services.ErrEmptyCart):
		utils.ErrorResponse(c, http.StatusBadRequest, "EMPTY_CART", i18n.T(lang, i18n.KeyCartEmpty), nil)
		return
	case errors.Is(err, services.ErrInvalidAddress):
		utils.ErrorResponse(c, http.StatusBadRequest, "INVALID_ADDRESS", i18n.T(lang, i18n.KeyInvalidAddress), nil)
		return
	}

	for _, nf := range notFoundResources {
		if errors.Is(err, nf.err) {
			utils.NotFoundResponse(c, nf.resource)
			return
		}
	}

	for _, cc := range conflictCodes {
		if errors.Is(err, cc.err) {
			utils.ConflictResponse(c, cc.code, i18n.T(lang, cc.key))
			return
		}
	}

	if errors.Is(err, services.ErrPaymentInitiationFailed) || errors.Is(err, gateway.ErrGateway) {
		var gwErr *gateway.Error
		details := gin.H{}
		if errors.As(err, &gwErr) {
			details["provider_message"] = gwErr.Message
			details["provider_status"] = gwErr.StatusCode
		}
		utils.ErrorResponse(c, http.StatusBadGateway, "PAYMENT_GATEWAY_ERROR", i18n.T(lang, i18n.KeyPaymentGatewayError), details)
		return
	}

	logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("Unhandled error")
	utils.InternalErrorResponse(c, "")
}

// bindJSON decodes and validates the request body, writing the error
// response itself when it fails.
func bindJSON(c *gin.Context, req interface{}) bool {
	lang := utils.GetLangFromContext(c)

	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}

	// Validate request
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return false
	}
	return true
}

// identity reads the authenticated customer set by middleware.AuthRequired.
func identity(c *gin.Context) (services.Identity, bool) {
	id, exists := utils.GetCustomerIDFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return services.Identity{}, false
	}
	return services.Identity{CustomerID: id, Email: utils.GetEmailFromContext(c)}, true
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		lang := utils.GetLangFromContext(c)
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, name), nil)
		return uuid.Nil, false
	}
	return id, true
}
