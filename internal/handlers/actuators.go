package handlers

import (
	"context"
	"errors"
	"net/http"

	"fieldsync/internal/models"

	"github.com/gin-gonic/gin"
)

// commandRequest is the body of an actuator command.
type commandRequest struct {
	On *bool `json:"on" binding:"required"`
}

// CommandRequest is an exported model for Swagger docs of the issueCommand payload.
type CommandRequest struct {
	// Requested actuator value
	On bool `json:"on" example:"true"`
}

// @Summary      List actuators
// @Tags         actuators
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "count, actuators"
// @Router       /api/v1/actuators [get]
func (h *Handler) listActuators(c *gin.Context) {
	bindings := h.services.Actuators()
	c.JSON(http.StatusOK, gin.H{
		"count":     len(bindings),
		"actuators": bindings,
	})
}

// @Summary      Actuator state
// @Tags         actuators
// @Produce      json
// @Param        id  path  string  true  "Actuator ID"  example(pump)
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/actuators/{id} [get]
func (h *Handler) getActuator(c *gin.Context) {
	st, err := h.services.GetActuatorState(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": errUnknownActuator})
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Switch actuator
// @Description  Blocks until the write is confirmed or rolled back. The optimistic value is visible to readers immediately.
// @Tags         actuators
// @Accept       json
// @Produce      json
// @Param        id    path  string          true  "Actuator ID"  example(pump)
// @Param        body  body  CommandRequest  true  "Command payload"
// @Success      200  {object}  map[string]interface{}  "status, result"
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      502  {object}  map[string]interface{}  "error, state"
// @Failure      504  {object}  map[string]string
// @Router       /api/v1/actuators/{id} [post]
// @Security     BearerAuth
func (h *Handler) issueCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	id := c.Param("id")

	res, err := h.services.Issue(c.Request.Context(), id, *req.On)
	switch {
	case errors.Is(err, models.ErrUnknownActuator):
		c.JSON(http.StatusNotFound, gin.H{"error": errUnknownActuator})
	case errors.Is(err, models.ErrCommandFailed):
		h.log.Warnw("actuator_command_failed", "actuator", id, "value", *req.On, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": errCommandReverted,
			"state": res.State,
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logAndJSONError(c, http.StatusGatewayTimeout, errCommandPending, "actuator_command_abandoned", err, "actuator", id)
	case err != nil:
		h.logAndJSONError(c, http.StatusInternalServerError, err.Error(), "actuator_command_error", err, "actuator", id)
	default:
		status := statusConfirmed
		if !res.Written {
			status = statusUnchanged
		}
		c.JSON(http.StatusOK, gin.H{
			"status": status,
			"result": res,
		})
	}
}
