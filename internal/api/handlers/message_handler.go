package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/orderintake/internal/channels"
	"example.com/orderintake/internal/models"
	"example.com/orderintake/internal/orchestrator"
	"example.com/orderintake/internal/tracing"
)

// MessageHandler receives inbound customer messages from the channel
// adapters and runs them through the orchestrator.
type MessageHandler struct {
	orch   *orchestrator.Orchestrator
	tracer tracing.Tracer
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(orch *orchestrator.Orchestrator, tracer tracing.Tracer) *MessageHandler {
	return &MessageHandler{
		orch:   orch,
		tracer: tracer,
	}
}

// InboundMessageRequest is one customer message relayed by a channel adapter.
type InboundMessageRequest struct {
	BusinessID uuid.UUID  `json:"business_id" binding:"required"`
	BranchID   *uuid.UUID `json:"branch_id"`
	Channel    string     `json:"channel" binding:"required"`
	CustomerID string     `json:"customer_id" binding:"required"`
	MessageID  string     `json:"message_id"`
	Text       string     `json:"text" binding:"required"`
}

// OutboundMessageResponse is the reply the adapter delivers back to the
// customer, with media references sent as separate messages.
type OutboundMessageResponse struct {
	Text      string   `json:"text"`
	Images    []string `json:"images,omitempty"`
	Documents []string `json:"documents,omitempty"`
}

// HandleInboundMessage runs one conversation turn.
func (h *MessageHandler) HandleInboundMessage(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-inbound-message")
	defer h.tracer.EndTransaction(txn)

	var req InboundMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("Invalid inbound message body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	channel := channels.Channel(req.Channel)
	if !channel.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}

	scope := models.Scope{BusinessID: req.BusinessID, BranchID: req.BranchID}
	out := h.orch.HandleMessage(c.Request.Context(), scope, channels.InboundMessage{
		Channel:    channel,
		CustomerID: req.CustomerID,
		MessageID:  req.MessageID,
		Text:       req.Text,
	})

	c.JSON(http.StatusOK, OutboundMessageResponse{
		Text:      out.Text,
		Images:    out.Images,
		Documents: out.Documents,
	})
}

// RegisterRoutes registers the handler's routes
func (h *MessageHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/v1/messages", h.HandleInboundMessage)
}
