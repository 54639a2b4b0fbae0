package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	repository "flowgate/internal/pkg/flow/persistence/repository/port"
)

// GetFlowController handles the get-flow endpoint only (one controller per endpoint)
type GetFlowController struct {
	Repo repository.FlowRepository
}

func NewGetFlowController(repo repository.FlowRepository) *GetFlowController {
	return &GetFlowController{Repo: repo}
}

// Handle returns a gin handler that fetches one flow definition by id.
// A tenant_id query narrows the lookup so one tenant cannot read another's
// flows by guessing ids.
func (h *GetFlowController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		flowID := c.Param("flowId")
		if flowID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "flowId is required"})
			return
		}
		tenantID := c.Query("tenant_id")
		if tenantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		f, err := h.Repo.GetFlow(ctx, flowID)
		if err != nil {
			c.JSON(flowErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		if f.TenantID != tenantID {
			c.JSON(http.StatusNotFound, gin.H{"error": "flow not found"})
			return
		}

		c.JSON(http.StatusOK, f)
	}
}
