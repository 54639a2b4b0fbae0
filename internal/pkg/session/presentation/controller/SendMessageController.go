package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	provider "flowgate/internal/pkg/provider/port"
	session "flowgate/internal/pkg/session/application/domain"
	"flowgate/internal/pkg/session/orchestrator"
)

// SendMessageController handles the direct-send endpoint only (one controller per endpoint)
type SendMessageController struct {
	Orch *orchestrator.Orchestrator
}

func NewSendMessageController(orch *orchestrator.Orchestrator) *SendMessageController {
	return &SendMessageController{Orch: orch}
}

// sendMessageRequest is the DTO for the HTTP request body
type sendMessageRequest struct {
	To   string `json:"to" binding:"required"`
	Text string `json:"text" binding:"required"`
}

// Handle returns a gin handler that sends text through the tenant's live session
func (h *SendMessageController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Param("tenantId")
		if tenantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenantId is required"})
			return
		}

		var req sendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()
		if err := h.Orch.Send(ctx, tenantID, req.To, req.Text); err != nil {
			c.JSON(sendErrorStatus(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"tenant_id": tenantID,
			"to":        req.To,
			"status":    "sent",
		})
	}
}

// sendErrorStatus maps send failures onto HTTP statuses: missing or not yet
// connected sessions are caller errors, provider trouble is upstream.
func sendErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNoActiveSession):
		return http.StatusNotFound
	case errors.Is(err, provider.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, provider.ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
