package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	provider "flowgate/internal/pkg/provider/port"
	"flowgate/internal/pkg/session/orchestrator"
)

// StartSessionController handles the start-session endpoint only (one controller per endpoint)
type StartSessionController struct {
	Orch *orchestrator.Orchestrator
}

func NewStartSessionController(orch *orchestrator.Orchestrator) *StartSessionController {
	return &StartSessionController{Orch: orch}
}

// startSessionRequest is the DTO for the HTTP request body
type startSessionRequest struct {
	FlowID       string `json:"flow_id"`
	ProviderKind string `json:"provider_kind"`
}

// Handle returns a gin handler that starts (or returns) the tenant's session
func (h *StartSessionController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Param("tenantId")
		if tenantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenantId is required"})
			return
		}

		var req startSessionRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		kind := provider.Kind(req.ProviderKind)
		if kind != "" && kind != provider.KindSocket && kind != provider.KindCloud && kind != provider.KindGateway {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider_kind"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		status, err := h.Orch.Start(ctx, tenantID, req.FlowID, kind)
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, orchestrator.ErrShuttingDown) {
				code = http.StatusServiceUnavailable
			}
			c.JSON(code, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"tenant_id": tenantID,
			"status":    status,
		})
	}
}
