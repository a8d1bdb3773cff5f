// internal/handlers/receipt.go
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/shop-backend/internal/services"
	"github.com/javajoker/shop-backend/internal/utils"
)

const receiptLinkTTL = 15 * time.Minute

type ReceiptHandler struct {
	paymentService *services.PaymentService
	storageService *services.StorageService
}

func NewReceiptHandler(paymentService *services.PaymentService, storageService *services.StorageService) *ReceiptHandler {
	return &ReceiptHandler{
		paymentService: paymentService,
		storageService: storageService,
	}
}

// GET /payments/:tx_ref/receipt
func (h *ReceiptHandler) GetReceiptLink(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	purchase, err := h.paymentService.GetPurchase(who.CustomerID, c.Param("tx_ref"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !purchase.Status.ReceiptReady() {
		respondError(c, services.ErrReceiptNotReady)
		return
	}

	url, err := h.storageService.PresignReceipt(purchase.TransactionReference, receiptLinkTTL)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"tx_ref":     purchase.TransactionReference,
		"url":        url,
		"expires_in": int(receiptLinkTTL.Seconds()),
	})
}
