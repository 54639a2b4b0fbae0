package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	dispatch "flowgate/internal/pkg/dispatch/port"
)

// DeadJobsController handles the dead-jobs endpoint only (one controller per
// endpoint). It exposes the tenant's jobs that exhausted their attempts so
// operators can inspect what was lost.
type DeadJobsController struct {
	Srv dispatch.Server
}

func NewDeadJobsController(srv dispatch.Server) *DeadJobsController {
	return &DeadJobsController{Srv: srv}
}

// Handle returns a gin handler that lists the tenant's dead jobs
func (h *DeadJobsController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Param("tenantId")
		if tenantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenantId is required"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		dead, err := h.Srv.DeadJobs(ctx, tenantID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"tenant_id": tenantID,
			"dead_jobs": dead,
		})
	}
}
