package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	dispatch "flowgate/internal/pkg/dispatch/port"
	provider "flowgate/internal/pkg/provider/port"
	repository "flowgate/internal/pkg/session/persistence/repository/port"
)

// InboundMessageController handles the inbound webhook endpoint only (one
// controller per endpoint). Cloud and gateway transports push received
// messages here instead of over a socket; the controller normalizes them and
// hands them to the per-tenant queue.
type InboundMessageController struct {
	Repo repository.SessionRepository
	Q    dispatch.Producer
}

func NewInboundMessageController(repo repository.SessionRepository, producer dispatch.Producer) *InboundMessageController {
	return &InboundMessageController{Repo: repo, Q: producer}
}

// inboundMessageRequest is the DTO for the HTTP request body
type inboundMessageRequest struct {
	MessageID    string `json:"message_id"`
	From         string `json:"from" binding:"required"`
	To           string `json:"to"`
	Text         string `json:"text" binding:"required"`
	IsGroup      bool   `json:"is_group"`
	GroupAddress string `json:"group_address"`
}

// Handle returns a gin handler that enqueues one inbound message for ordered
// processing on the tenant's queue
func (h *InboundMessageController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Param("tenantId")
		if tenantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenantId is required"})
			return
		}

		var req inboundMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.IsGroup && req.GroupAddress == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "group_address is required for group messages"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		stored, err := h.Repo.Get(ctx, tenantID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if stored == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no session for tenant"})
			return
		}

		msgID := req.MessageID
		if msgID == "" {
			msgID = uuid.NewString()
		}

		job := dispatch.InboundJob{
			TenantID:     tenantID,
			FlowID:       stored.BoundFlowID,
			ProviderKind: stored.ProviderKind,
			Message: provider.Message{
				ID:           msgID,
				From:         req.From,
				To:           req.To,
				Text:         req.Text,
				Timestamp:    time.Now().UTC(),
				IsGroup:      req.IsGroup,
				GroupAddress: req.GroupAddress,
			},
		}
		if err := h.Q.Enqueue(ctx, job); err != nil {
			code := http.StatusServiceUnavailable
			if !errors.Is(err, dispatch.ErrQueueBackpressure) {
				code = http.StatusInternalServerError
			}
			c.JSON(code, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"tenant_id":  tenantID,
			"message_id": msgID,
			"status":     "queued",
		})
	}
}
