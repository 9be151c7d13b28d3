package handlers

import (
	"net/http"

	"fieldsync/internal/logger"
	"fieldsync/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services  *service.Service
	log       *logger.Logger
	metrics   http.Handler
	jwtSecret []byte
}

type Option func(*Handler)

// WithMetrics serves h on GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(hd *Handler) { hd.metrics = h }
}

// WithJWTSecret protects actuator commands with HS256 bearer tokens signed by secret.
// An empty secret leaves them open.
func WithJWTSecret(secret string) Option {
	return func(hd *Handler) {
		if secret != "" {
			hd.jwtSecret = []byte(secret)
		}
	}
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger, opts ...Option) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	h := &Handler{services: services, log: log.Named("http")}
	for _, o := range opts {
		o(h)
	}
	return h
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health endpoint
	router.GET("/health", h.health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	// Versioned API endpoints
	h.registerAPIRoutes(router)

	// Live readings and connectivity for one topic, same port
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		h.registerTopicRoutes(api)
		h.registerActuatorRoutes(api)
		h.registerLogRoutes(api)
	}
}

func (h *Handler) registerTopicRoutes(api *gin.RouterGroup) {
	topics := api.Group("/topics/:topic")
	{
		topics.GET("/connectivity", h.getConnectivity)
		// ?field=SoilMoisture returns a chart series instead of raw entries
		topics.GET("/history", h.getHistory)
		topics.GET("/dashboard", h.getDashboard)
	}
}

func (h *Handler) registerActuatorRoutes(api *gin.RouterGroup) {
	actuators := api.Group("/actuators")
	{
		actuators.GET("", h.listActuators)
		actuators.GET("/:id", h.getActuator)
		// Body example: {"on":true}
		actuators.POST("/:id", h.bearerAuthMiddleware, h.issueCommand)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("/", h.getLogs)
	}
}

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}
