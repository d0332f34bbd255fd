// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"psu-service/internal/config"
	"psu-service/internal/database"
	"psu-service/internal/discovery"
	"psu-service/internal/handler"
	"psu-service/internal/middleware"
	"psu-service/internal/repository"
	"psu-service/internal/session"
	"psu-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config  *config.Config
	logger  *zap.Logger
	db      *database.DB // nil when storage is disabled
	manager *session.Manager
	lister  discovery.PortLister
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db *database.DB,
	manager *session.Manager,
	lister discovery.PortLister,
) *Router {
	return &Router{
		config:  config,
		logger:  logger,
		db:      db,
		manager: manager,
		lister:  lister,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Server))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.db, r.config, r.logger)
	instrumentHandler := handler.NewInstrumentHandler(r.manager, r.logger)
	discoveryHandler := handler.NewDiscoveryHandler(r.manager, r.lister, r.logger)
	wsHandler := handler.NewWebSocketHandler(r.manager, r.logger)

	// Health check routes
	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/ready", healthHandler.ReadinessCheck)
	router.GET("/live", healthHandler.LivenessCheck)

	// API v1 routes
	apiV1 := router.Group("/api/v1")

	instrumentGroup := apiV1.Group("/instrument")
	{
		instrumentGroup.POST("/connect", instrumentHandler.Connect)
		instrumentGroup.POST("/disconnect", instrumentHandler.Disconnect)
		instrumentGroup.GET("/status", instrumentHandler.Status)
		instrumentGroup.GET("/identity", instrumentHandler.Identity)
		instrumentGroup.GET("/measurements/:channel", instrumentHandler.GetMeasurement)
		instrumentGroup.PUT("/limits/:channel", instrumentHandler.SetLimit)
		instrumentGroup.POST("/recording", instrumentHandler.StartRecording)
		instrumentGroup.DELETE("/recording", instrumentHandler.StopRecording)
	}

	discoveryGroup := apiV1.Group("/discovery")
	{
		discoveryGroup.GET("/ports", discoveryHandler.ListPorts)
		discoveryGroup.POST("/scan", discoveryHandler.Scan)
	}

	// Archive routes are only mounted when storage is enabled.
	if r.db != nil {
		archiveHandler := handler.NewArchiveHandler(
			repository.NewMeasurementRepository(r.db, r.logger),
			repository.NewScanRepository(r.db, r.logger),
			r.logger,
		)
		archiveGroup := apiV1.Group("/archive")
		{
			archiveGroup.GET("/measurements", archiveHandler.ListMeasurements)
			archiveGroup.DELETE("/measurements", archiveHandler.PurgeMeasurements)
			archiveGroup.GET("/scans/:id", archiveHandler.GetScan)
		}
	}

	// WebSocket routes
	ws := router.Group("/ws")
	{
		ws.GET("/measurements", wsHandler.HandleMeasurements)
	}

	r.logger.Info("All routes configured successfully")
}
