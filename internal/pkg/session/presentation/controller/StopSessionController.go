package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"flowgate/internal/pkg/session/orchestrator"
)

// StopSessionController handles the stop-session endpoint only (one controller per endpoint)
type StopSessionController struct {
	Orch *orchestrator.Orchestrator
}

func NewStopSessionController(orch *orchestrator.Orchestrator) *StopSessionController {
	return &StopSessionController{Orch: orch}
}

// Handle returns a gin handler that stops the session and clears its stored
// state, credentials included
func (h *StopSessionController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Param("tenantId")
		if tenantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenantId is required"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := h.Orch.Stop(ctx, tenantID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"tenant_id": tenantID,
			"status":    "stopped",
		})
	}
}
