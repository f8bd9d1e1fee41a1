package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/orderintake/internal/models"
	"example.com/orderintake/internal/repositories"
	"example.com/orderintake/internal/services"
)

// OrderReader is the read surface the order endpoints need.
type OrderReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

// OrderHandler exposes order state and business-driven status transitions.
type OrderHandler struct {
	lifecycle *services.LifecycleService
	orders    OrderReader
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(lifecycle *services.LifecycleService, orders OrderReader) *OrderHandler {
	return &OrderHandler{
		lifecycle: lifecycle,
		orders:    orders,
	}
}

// GetOrder returns an order with its line items.
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	order, err := h.orders.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}

	c.JSON(http.StatusOK, order)
}

// GetOrderHistory returns the order's status transition log.
func (h *OrderHandler) GetOrderHistory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	history, err := h.lifecycle.History(c.Request.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("order_id", id.String()).Msg("Failed to load order history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	c.JSON(http.StatusOK, history)
}

// StatusChangeRequest is a business-driven transition request.
type StatusChangeRequest struct {
	Action string `json:"action" binding:"required,oneof=accept start complete cancel"`
}

// ChangeStatus applies a business-driven lifecycle transition.
func (h *OrderHandler) ChangeStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	var req StatusChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	switch req.Action {
	case "accept":
		_, err = h.lifecycle.Confirm(ctx, id, models.ActorBusiness)
	case "start":
		err = h.lifecycle.Start(ctx, id, models.ActorBusiness)
	case "complete":
		err = h.lifecycle.Complete(ctx, id, models.ActorBusiness)
	case "cancel":
		err = h.lifecycle.Cancel(ctx, id, models.ActorBusiness)
	}

	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case services.IsRejection(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, repositories.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("order_id", id.String()).Msg("Status change failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status change failed"})
	}
}

// RegisterRoutes registers the handler's routes
func (h *OrderHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/v1/orders/:id", h.GetOrder)
	router.GET("/v1/orders/:id/history", h.GetOrderHistory)
	router.POST("/v1/orders/:id/status", h.ChangeStatus)
}
