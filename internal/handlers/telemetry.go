package handlers

import (
	"net/http"
	"strings"

	"fieldsync/internal/models"

	"github.com/gin-gonic/gin"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK        = "ok"
	statusConfirmed = "confirmed"
	statusUnchanged = "unchanged"

	errTopicRequired   = "topic is required"
	errUnknownActuator = "unknown actuator"
	errCommandReverted = "update failed, reverted"
	errCommandPending  = "command still pending"
	errInvalidBodyPref = "invalid body: "
)

func topicParam(c *gin.Context) (models.Topic, bool) {
	t := strings.TrimSpace(c.Param("topic"))
	if t == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errTopicRequired})
		return "", false
	}
	return models.Topic(t), true
}

// @Summary      Topic connectivity
// @Tags         topics
// @Produce      json
// @Param        topic  path  string  true  "Topic"  example(Irrigation)
// @Success      200  {object}  map[string]string  "topic, state"
// @Router       /api/v1/topics/{topic}/connectivity [get]
func (h *Handler) getConnectivity(c *gin.Context) {
	topic, ok := topicParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"topic": topic,
		"state": h.services.GetConnectivity(topic),
	})
}

// @Summary      Topic history
// @Description  Bounded history, oldest first. With 'field' only that numeric field is returned as chart points.
// @Tags         topics
// @Produce      json
// @Param        topic  path   string  true   "Topic"  example(Irrigation)
// @Param        field  query  string  false  "Numeric field"  example(SoilMoisture)
// @Success      200  {object}  map[string]interface{}  "count, entries|points"
// @Router       /api/v1/topics/{topic}/history [get]
func (h *Handler) getHistory(c *gin.Context) {
	topic, ok := topicParam(c)
	if !ok {
		return
	}
	if field := strings.TrimSpace(c.Query("field")); field != "" {
		points := h.services.Series(topic, field)
		c.JSON(http.StatusOK, gin.H{
			"count":  len(points),
			"field":  field,
			"points": points,
		})
		return
	}
	entries := h.services.GetHistorySnapshot(topic)
	c.JSON(http.StatusOK, gin.H{
		"count":   len(entries),
		"entries": entries,
	})
}

// @Summary      Topic dashboard
// @Tags         topics
// @Produce      json
// @Param        topic  path  string  true  "Topic"  example(Irrigation)
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/topics/{topic}/dashboard [get]
func (h *Handler) getDashboard(c *gin.Context) {
	topic, ok := topicParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.services.Dashboard(topic))
}
