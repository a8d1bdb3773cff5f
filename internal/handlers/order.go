// internal/handlers/order.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/shop-backend/internal/services"
	"github.com/javajoker/shop-backend/internal/utils"
)

type OrderHandler struct {
	checkoutService *services.CheckoutService
	orderService    *services.OrderService
}

func NewOrderHandler(checkoutService *services.CheckoutService, orderService *services.OrderService) *OrderHandler {
	return &OrderHandler{
		checkoutService: checkoutService,
		orderService:    orderService,
	}
}

// POST /checkout
func (h *OrderHandler) Checkout(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	var req services.CheckoutRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.checkoutService.Checkout(c.Request.Context(), who.CustomerID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"order": order,
	})
}

// GET /orders
func (h *OrderHandler) ListOrders(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	orders, total, err := h.orderService.ListOrders(who.CustomerID, params)
	if err != nil {
		respondError(c, err)
		return
	}

	result := utils.CreatePaginationResult(orders, total, params)
	utils.PaginatedResponse(c, result)
}

// GET /orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	orderID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(who.CustomerID, orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"order": order,
	})
}

// POST /orders/:id/cancel
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	orderID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	order, err := h.orderService.CancelOrder(c.Request.Context(), who.CustomerID, orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"order": order,
	})
}
