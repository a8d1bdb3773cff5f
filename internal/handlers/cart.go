// internal/handlers/cart.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/shop-backend/internal/models"
	"github.com/javajoker/shop-backend/internal/services"
	"github.com/javajoker/shop-backend/internal/utils"
)

type CartHandler struct {
	cartService *services.CartService
}

func NewCartHandler(cartService *services.CartService) *CartHandler {
	return &CartHandler{
		cartService: cartService,
	}
}

// GET /cart
func (h *CartHandler) GetCart(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	cart, err := h.cartService.GetCart(who.CustomerID)
	h.respond(c, cart, err)
}

// POST /cart/items
func (h *CartHandler) AddItem(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	var req services.AddCartItemRequest
	if !bindJSON(c, &req) {
		return
	}

	cart, err := h.cartService.AddItem(who.CustomerID, &req)
	h.respond(c, cart, err)
}

// PUT /cart/items/:id
func (h *CartHandler) UpdateItem(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	itemID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req services.UpdateCartItemRequest
	if !bindJSON(c, &req) {
		return
	}

	cart, err := h.cartService.UpdateItem(who.CustomerID, itemID, &req)
	h.respond(c, cart, err)
}

// DELETE /cart/items/:id
func (h *CartHandler) RemoveItem(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	itemID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	cart, err := h.cartService.RemoveItem(who.CustomerID, itemID)
	h.respond(c, cart, err)
}

// DELETE /cart
func (h *CartHandler) ClearCart(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	cart, err := h.cartService.Clear(who.CustomerID)
	h.respond(c, cart, err)
}

func (h *CartHandler) respond(c *gin.Context, cart *models.Cart, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{
		"cart": h.cartService.View(cart),
	})
}
