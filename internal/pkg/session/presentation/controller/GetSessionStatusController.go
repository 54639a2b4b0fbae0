package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"flowgate/internal/pkg/session/orchestrator"
)

// GetSessionStatusController handles the session-status endpoint only (one controller per endpoint)
type GetSessionStatusController struct {
	Orch *orchestrator.Orchestrator
}

func NewGetSessionStatusController(orch *orchestrator.Orchestrator) *GetSessionStatusController {
	return &GetSessionStatusController{Orch: orch}
}

// Handle returns a gin handler that reports the tenant's session state
func (h *GetSessionStatusController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Param("tenantId")
		if tenantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenantId is required"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		status, err := h.Orch.Status(ctx, tenantID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"tenant_id": tenantID,
			"status":    status,
		})
	}
}
