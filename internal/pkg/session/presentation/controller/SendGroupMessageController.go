package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"flowgate/internal/pkg/session/orchestrator"
)

// SendGroupMessageController handles the group-send endpoint only (one controller per endpoint)
type SendGroupMessageController struct {
	Orch *orchestrator.Orchestrator
}

func NewSendGroupMessageController(orch *orchestrator.Orchestrator) *SendGroupMessageController {
	return &SendGroupMessageController{Orch: orch}
}

// sendGroupMessageRequest is the DTO for the HTTP request body
type sendGroupMessageRequest struct {
	GroupAddress string `json:"group_address" binding:"required"`
	Text         string `json:"text" binding:"required"`
}

// Handle returns a gin handler that sends text to a group through the
// tenant's live session
func (h *SendGroupMessageController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Param("tenantId")
		if tenantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenantId is required"})
			return
		}

		var req sendGroupMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()
		if err := h.Orch.SendGroup(ctx, tenantID, req.GroupAddress, req.Text); err != nil {
			c.JSON(sendErrorStatus(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"tenant_id":     tenantID,
			"group_address": req.GroupAddress,
			"status":        "sent",
		})
	}
}
