package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	flow "flowgate/internal/pkg/flow/application/domain"
	repository "flowgate/internal/pkg/flow/persistence/repository/port"
)

// CreateFlowController handles the create-flow endpoint only (one controller per endpoint)
type CreateFlowController struct {
	Repo     repository.FlowRepository
	validate *validator.Validate
}

func NewCreateFlowController(repo repository.FlowRepository) *CreateFlowController {
	return &CreateFlowController{
		Repo:     repo,
		validate: validator.New(),
	}
}

// createFlowRequest is the DTO for the HTTP request body. Structural checks
// live in the validate tags; referential checks (initial state defined,
// option targets defined) live in the domain Validate.
type createFlowRequest struct {
	TenantID         string                      `json:"tenant_id" validate:"required"`
	Name             string                      `json:"name" validate:"required"`
	InitialStateName string                      `json:"initial_state_name" validate:"required"`
	Active           *bool                       `json:"active"`
	States           map[string]flowStateRequest `json:"states" validate:"required,min=1,dive"`
}

type flowStateRequest struct {
	Message string              `json:"message" validate:"required"`
	Options []flowOptionRequest `json:"options" validate:"dive"`
}

type flowOptionRequest struct {
	MatchInputs   []string `json:"match_inputs" validate:"required,min=1"`
	Event         string   `json:"event"`
	NextStateName string   `json:"next_state_name" validate:"required"`
}

// Handle returns a gin handler that validates and stores a flow definition
func (h *CreateFlowController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createFlowRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := h.validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		active := true
		if req.Active != nil {
			active = *req.Active
		}

		f := flow.Flow{
			TenantID:         req.TenantID,
			Name:             req.Name,
			InitialStateName: req.InitialStateName,
			States:           make(map[string]flow.State, len(req.States)),
			Active:           active,
		}
		for name, st := range req.States {
			options := make([]flow.Option, 0, len(st.Options))
			for _, opt := range st.Options {
				options = append(options, flow.Option{
					MatchInputs:   opt.MatchInputs,
					Event:         opt.Event,
					NextStateName: opt.NextStateName,
				})
			}
			f.States[name] = flow.State{Message: st.Message, Options: options}
		}

		if err := f.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		id, err := h.Repo.SaveFlow(ctx, f)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"id":        id,
			"tenant_id": f.TenantID,
			"name":      f.Name,
			"active":    f.Active,
		})
	}
}

// flowErrorStatus maps repository errors onto HTTP statuses.
func flowErrorStatus(err error) int {
	switch {
	case errors.Is(err, flow.ErrFlowNotFound):
		return http.StatusNotFound
	case errors.Is(err, flow.ErrInvalidFlow):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
