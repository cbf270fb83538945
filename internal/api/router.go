package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/motionmatch/internal/api/handler"
	"github.com/timmy/motionmatch/internal/api/middleware"
	"github.com/timmy/motionmatch/internal/config"
	"github.com/timmy/motionmatch/internal/logger"
	"github.com/timmy/motionmatch/internal/ratelimit"
	"github.com/timmy/motionmatch/internal/service"
)

// Services groups the core services the router exposes.
type Services struct {
	Index  *service.IndexService
	Search *service.SearchService
	Stats  *service.StatsService
}

// SetupRouter configures the Gin router with all routes.
// limiter may be nil, which disables rate limiting.
func SetupRouter(
	svc Services,
	limiter ratelimit.Limiter,
	cfg *config.Config,
	log *logger.Logger,
) *gin.Engine {
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cfg.Server.CORS))

	if !cfg.RateLimit.Enabled {
		limiter = nil
	}
	searchLimit := middleware.NewRateLimit(limiter, "search", cfg.RateLimit.SearchRPM).Handler()
	indexLimit := middleware.NewRateLimit(limiter, "index", cfg.RateLimit.IndexRPM).Handler()
	uploadLimit := middleware.NewRateLimit(limiter, "upload", cfg.RateLimit.UploadRPM).Handler()

	healthHandler := handler.NewHealthHandler(svc.Stats)
	searchHandler := handler.NewSearchHandler(svc.Search)
	indexHandler := handler.NewIndexHandler(svc.Index)
	statsHandler := handler.NewStatsHandler(svc.Stats)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/search", searchLimit, searchHandler.Search)

		v1.POST("/index", indexLimit, indexHandler.Index)
		v1.POST("/index/batch", indexLimit, indexHandler.Batch)
		v1.POST("/upload", uploadLimit, indexHandler.Upload)

		v1.GET("/jobs", indexHandler.ListJobs)
		v1.GET("/jobs/:id", indexHandler.GetJob)
		v1.POST("/jobs/:id/cancel", indexHandler.CancelJob)

		v1.GET("/videos", indexHandler.ListVideos)
		v1.GET("/videos/:id", indexHandler.GetVideo)
		v1.DELETE("/videos/:id", indexHandler.DeleteVideo)

		v1.GET("/stats", statsHandler.GetStats)
	}

	return r
}
