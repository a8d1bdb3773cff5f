// internal/handlers/admin.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/shop-backend/internal/services"
	"github.com/javajoker/shop-backend/internal/utils"
)

type AdminHandler struct {
	paymentService   *services.PaymentService
	orderService     *services.OrderService
	inventoryService *services.InventoryService
}

func NewAdminHandler(paymentService *services.PaymentService, orderService *services.OrderService, inventoryService *services.InventoryService) *AdminHandler {
	return &AdminHandler{
		paymentService:   paymentService,
		orderService:     orderService,
		inventoryService: inventoryService,
	}
}

// POST /admin/purchases/:id/refund
func (h *AdminHandler) RefundPurchase(c *gin.Context) {
	purchaseID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req services.RefundPurchaseRequest
	if !bindJSON(c, &req) {
		return
	}

	purchase, err := h.paymentService.RefundPurchase(c.Request.Context(), purchaseID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"purchase": purchase,
	})
}

// POST /admin/orders/:id/ship
func (h *AdminHandler) ShipOrder(c *gin.Context) {
	orderID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	order, err := h.orderService.MarkShipped(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"order": order,
	})
}

// POST /admin/orders/:id/deliver
func (h *AdminHandler) DeliverOrder(c *gin.Context) {
	orderID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	order, err := h.orderService.MarkDelivered(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"order": order,
	})
}

// POST /admin/products/:id/restock
func (h *AdminHandler) RestockProduct(c *gin.Context) {
	productID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req services.RestockRequest
	if !bindJSON(c, &req) {
		return
	}

	inventory, err := h.inventoryService.Restock(productID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"inventory": inventory,
		"available": inventory.Available(),
	})
}
