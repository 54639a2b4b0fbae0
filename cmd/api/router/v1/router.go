package v1

import (
	"github.com/gin-gonic/gin"

	dispatch "flowgate/internal/pkg/dispatch/port"
	flowrepo "flowgate/internal/pkg/flow/persistence/repository/port"
	flowhttp "flowgate/internal/pkg/flow/presentation/http"
	"flowgate/internal/pkg/session/orchestrator"
	sessionrepo "flowgate/internal/pkg/session/persistence/repository/port"
	sessionhttp "flowgate/internal/pkg/session/presentation/http"
)

// RegisterRoutes mounts all version 1 API routes under /api/v1
func RegisterRoutes(r *gin.Engine, orch *orchestrator.Orchestrator,
	sessions sessionrepo.SessionRepository, flows flowrepo.FlowRepository,
	producer dispatch.Producer, srv dispatch.Server) {
	v1 := r.Group("/api/v1")
	sessionhttp.RegisterRoutes(v1, orch, sessions, producer, srv)
	flowhttp.RegisterRoutes(v1, flows)
}
