// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "dut-service/docs"
	"dut-service/internal/config"
	"dut-service/internal/handler"
	"dut-service/internal/metrics"
	"dut-service/internal/middleware"
	"dut-service/internal/service"
	"dut-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config           *config.Config
	logger           *zap.Logger
	dutService       *service.DUTService
	operationService *service.OperationService
	discoveryService *service.DiscoveryService
	eventBus         *handler.EventBus
	collector        *metrics.Collector
}

// NewRouter creates a new router instance. collector may be nil when
// metrics are disabled.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	dutService *service.DUTService,
	operationService *service.OperationService,
	discoveryService *service.DiscoveryService,
	eventBus *handler.EventBus,
	collector *metrics.Collector,
) *Router {
	return &Router{
		config:           config,
		logger:           logger,
		dutService:       dutService,
		operationService: operationService,
		discoveryService: discoveryService,
		eventBus:         eventBus,
		collector:        collector,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if !r.config.IsDebugEnabled() {
		gin.SetMode(gin.TestMode)
	}

	router := gin.New()
	r.addMiddleware(router)
	r.addRoutes(router)
	return router
}

func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(r.logger))

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Info("Middleware configured")
}

func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.dutService, r.config, r.logger)
	dutHandler := handler.NewDUTHandler(r.dutService, r.logger)
	operationHandler := handler.NewOperationHandler(r.operationService, r.logger)
	discoveryHandler := handler.NewDiscoveryHandler(r.discoveryService, r.logger)
	wsHandler := handler.NewWebSocketHandler(r.dutService, r.eventBus, r.config.Security.AllowedOrigins, r.logger)

	go wsHandler.Run()

	r.addHealthRoutes(router, healthHandler)

	apiV1 := router.Group("/api/v1")
	r.addDUTRoutes(apiV1, dutHandler, operationHandler)
	r.addDiscoveryRoutes(apiV1, discoveryHandler)

	r.addWebSocketRoutes(router, wsHandler)
	r.addMetricsRoutes(router)
	r.addDocumentationRoutes(router)

	r.logger.Info("All routes configured successfully")
}

func (r *Router) addHealthRoutes(router *gin.Engine, handler *handler.HealthHandler) {
	health := router.Group("")
	{
		health.GET("/health", handler.HealthCheck)
		health.GET("/ready", handler.ReadinessCheck)
		health.GET("/live", handler.LivenessCheck)
	}
}

func (r *Router) addDUTRoutes(api *gin.RouterGroup, handler *handler.DUTHandler, operationHandler *handler.OperationHandler) {
	dut := api.Group("/dut")
	{
		dut.GET("", handler.GetStatus)
		dut.POST("/connect", handler.Connect)
		dut.POST("/disconnect", handler.Disconnect)
		dut.POST("/packets", handler.SendPacket)

		dut.POST("/cli", handler.ExecuteCommands)
		dut.POST("/cli/parse", handler.ParseOutput)

		dut.GET("/latency", handler.GetLatency)
		dut.DELETE("/latency", handler.ResetLatency)

		operations := dut.Group("/operations")
		{
			operations.GET("", operationHandler.ListOperations)
			operations.POST("/latency", operationHandler.LatencyProbeOperation)
			operations.POST("/burst", operationHandler.BurstOperation)
			operations.POST("/stress", operationHandler.StressOperation)
			operations.GET("/:operation_id", operationHandler.GetOperation)
			operations.PUT("/:operation_id/cancel", operationHandler.CancelOperation)
		}
	}
}

func (r *Router) addDiscoveryRoutes(api *gin.RouterGroup, handler *handler.DiscoveryHandler) {
	api.GET("/interfaces", handler.ListInterfaces)
	api.GET("/interfaces/:name", handler.GetInterface)

	discovery := api.Group("/discovery")
	{
		discovery.GET("/scan", handler.ScanEndpoints)
		discovery.GET("/scanners", handler.ListScanners)
		discovery.POST("/probe", handler.ProbePorts)
	}
}

func (r *Router) addWebSocketRoutes(router *gin.Engine, handler *handler.WebSocketHandler) {
	ws := router.Group("/ws")
	{
		ws.GET("/events", handler.HandleEventConnection)
	}
}

func (r *Router) addMetricsRoutes(router *gin.Engine) {
	if !r.config.Metrics.Enabled || r.collector == nil {
		return
	}
	router.GET(r.config.Metrics.Path, gin.WrapH(r.collector.Handler()))
}

// addDocumentationRoutes serves the OpenAPI description
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}
