// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"psu-sequencer/internal/config"
	"psu-sequencer/internal/handler"
	"psu-sequencer/internal/middleware"
	"psu-sequencer/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config *config.Config
	logger *zap.Logger
	psu    handler.PSUController
}

// NewRouter creates a new router instance
func NewRouter(config *config.Config, logger *zap.Logger, psu handler.PSUController) *Router {
	return &Router{
		config: config,
		logger: logger,
		psu:    psu,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	switch {
	case r.config.App.Environment == "test":
		gin.SetMode(gin.TestMode)
	case r.config.IsProduction():
		gin.SetMode(gin.ReleaseMode)
	default:
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
	router.Use(middleware.LoggingMiddleware(utils.NewServiceLogger(r.logger, "http-server")))
	router.Use(middleware.CORSMiddleware(&r.config.Server))

	r.logger.Debug("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.config, r.logger)
	psuHandler := handler.NewPSUHandler(r.psu, r.logger)

	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/ready", healthHandler.ReadinessCheck)
	router.GET("/live", healthHandler.LivenessCheck)

	api := router.Group("/api/v1")
	{
		sequences := api.Group("/sequences")
		sequences.GET("", psuHandler.ListSequences)
		sequences.GET("/:name/preview", psuHandler.PreviewSequence)
		sequences.POST("/:name/run", psuHandler.RunSequence)

		api.GET("/device/identify", psuHandler.Identify)
		api.GET("/ports", psuHandler.ListPorts)
	}

	r.logger.Debug("All routes configured")
}
