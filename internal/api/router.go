package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kwong/prefscope/internal/api/handler"
	"github.com/kwong/prefscope/internal/api/middleware"
	"github.com/kwong/prefscope/internal/logger"
	"github.com/kwong/prefscope/internal/service"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	runner *service.Runner,
	results *service.ResultsService,
	log *logger.Logger,
	mode string,
	cors middleware.CORSConfig,
) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cors))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	jobHandler := handler.NewJobHandler(runner)
	questionHandler := handler.NewQuestionHandler()
	resultsHandler := handler.NewResultsHandler(results)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Jobs
		v1.POST("/jobs", jobHandler.SubmitJob)
		v1.GET("/jobs/:id/progress", jobHandler.GetProgress)
		v1.POST("/jobs/:id/cancel", jobHandler.CancelJob)

		// Question catalog
		v1.GET("/questions", questionHandler.ListQuestions)

		// Results
		v1.GET("/results/:model_name", resultsHandler.GetResults)
		v1.GET("/results/:model_name/mode_collapse", resultsHandler.GetModeCollapse)

		// Models
		v1.GET("/models", resultsHandler.ListModels)
		v1.DELETE("/models/:model_name", resultsHandler.DeleteModel)
		v1.GET("/models/:model_name/responses", resultsHandler.ListResponses)
		v1.GET("/models/:model_name/flagged", resultsHandler.ListFlagged)

		// Corrections
		v1.POST("/responses/:id/flag", resultsHandler.FlagResponse)
	}

	return r
}
