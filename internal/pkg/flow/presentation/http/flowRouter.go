package http

import (
	"github.com/gin-gonic/gin"

	repository "flowgate/internal/pkg/flow/persistence/repository/port"
	"flowgate/internal/pkg/flow/presentation/controller"
)

// RegisterRoutes registers flow-related HTTP endpoints under the given
// router group. It constructs per-endpoint controllers and binds them
// directly to routes.
func RegisterRoutes(g *gin.RouterGroup, repo repository.FlowRepository) {
	createCtl := controller.NewCreateFlowController(repo)
	getCtl := controller.NewGetFlowController(repo)

	// POST /api/v1/flow -> create a flow definition
	g.POST("/flow", createCtl.Handle())

	// GET /api/v1/flow/:flowId -> fetch a flow definition
	g.GET("/flow/:flowId", getCtl.Handle())
}
