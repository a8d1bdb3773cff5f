// internal/handlers/payment.go
package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/shop-backend/internal/i18n"
	"github.com/javajoker/shop-backend/internal/services"
	"github.com/javajoker/shop-backend/internal/utils"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
}

func NewPaymentHandler(paymentService *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

// callbackPayload covers the field names providers use for our reference.
type callbackPayload struct {
	TxRef  string `json:"tx_ref"`
	TrxRef string `json:"trx_ref"`
	Status string `json:"status"`
}

// POST /payments/initiate
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	var req services.InitiatePaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.paymentService.InitiatePayment(c.Request.Context(), who, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, resp)
}

// GET /payments/verify/:tx_ref
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	purchase, err := h.paymentService.VerifyPayment(c.Request.Context(), c.Param("tx_ref"))
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"tx_ref":   purchase.TransactionReference,
		"status":   purchase.Status,
		"order_id": purchase.OrderID,
		"amount":   purchase.Amount,
		"currency": purchase.Currency,
	})
}

// POST /payments/callback
func (h *PaymentHandler) Callback(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var payload callbackPayload
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "payload"), err.Error())
			return
		}
	}

	txRef := firstNonEmpty(payload.TxRef, payload.TrxRef, c.Query("tx_ref"), c.Query("trx_ref"))
	if txRef == "" {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationRequired, "tx_ref"), nil)
		return
	}

	// The provider's own status claim is ignored; verification asks the provider.
	purchase, err := h.paymentService.HandleCallback(c.Request.Context(), txRef)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"tx_ref": purchase.TransactionReference,
		"status": purchase.Status,
	})
}

// GET /payments/:tx_ref
func (h *PaymentHandler) GetPurchase(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	purchase, err := h.paymentService.GetPurchase(who.CustomerID, c.Param("tx_ref"))
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"purchase": purchase,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
