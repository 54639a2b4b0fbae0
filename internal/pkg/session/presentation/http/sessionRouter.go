package http

import (
	"github.com/gin-gonic/gin"

	dispatch "flowgate/internal/pkg/dispatch/port"
	"flowgate/internal/pkg/session/orchestrator"
	repository "flowgate/internal/pkg/session/persistence/repository/port"
	"flowgate/internal/pkg/session/presentation/controller"
)

// RegisterRoutes registers session-related HTTP endpoints under the given
// router group. It constructs per-endpoint controllers and binds them
// directly to routes.
func RegisterRoutes(g *gin.RouterGroup, orch *orchestrator.Orchestrator,
	repo repository.SessionRepository, producer dispatch.Producer, srv dispatch.Server) {
	startCtl := controller.NewStartSessionController(orch)
	statusCtl := controller.NewGetSessionStatusController(orch)
	stopCtl := controller.NewStopSessionController(orch)
	sendCtl := controller.NewSendMessageController(orch)
	sendGroupCtl := controller.NewSendGroupMessageController(orch)
	inboundCtl := controller.NewInboundMessageController(repo, producer)
	deadCtl := controller.NewDeadJobsController(srv)

	// POST /api/v1/session/:tenantId/start -> start (or resume) the session
	g.POST("/session/:tenantId/start", startCtl.Handle())

	// GET /api/v1/session/:tenantId -> current session state
	g.GET("/session/:tenantId", statusCtl.Handle())

	// DELETE /api/v1/session/:tenantId -> stop and clear the session
	g.DELETE("/session/:tenantId", stopCtl.Handle())

	// POST /api/v1/session/:tenantId/send -> direct message through the session
	g.POST("/session/:tenantId/send", sendCtl.Handle())

	// POST /api/v1/session/:tenantId/send-group -> group message through the session
	g.POST("/session/:tenantId/send-group", sendGroupCtl.Handle())

	// POST /api/v1/session/:tenantId/inbound -> webhook for push transports
	g.POST("/session/:tenantId/inbound", inboundCtl.Handle())

	// GET /api/v1/session/:tenantId/dead-jobs -> jobs that exhausted retries
	g.GET("/session/:tenantId/dead-jobs", deadCtl.Handle())
}
