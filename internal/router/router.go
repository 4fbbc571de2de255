package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gymtable/gymtable-backend/internal/config"
	"github.com/gymtable/gymtable-backend/internal/handler"
	"github.com/gymtable/gymtable-backend/internal/middleware"
	"github.com/gymtable/gymtable-backend/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Upload   *handler.UploadHandler
	System   *handler.SystemHandler
	Class    *handler.ClassHandler
	Pipeline *handler.PipelineHandler
	WS       *handler.WSHandler
}

// imagePrefix serves the stored screenshots.
const imagePrefix = "/img"

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(handlers *Handlers, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.GinMode == gin.DebugMode {
		router.Use(gin.Logger())
	}

	// Uploads above this size spill to temp files instead of memory.
	router.MaxMultipartMemory = 8 << 20

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so a phone on the LAN works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	router.Use(middleware.Compress(middleware.DefaultCompressConfig))

	// Stored screenshots never change under the same name.
	images := router.Group(imagePrefix)
	images.Use(middleware.CacheControl(31536000))
	{
		images.Static("/", cfg.ImageDir)
	}

	// ─── 0. Upload Page (Public, Rate Limited) ─────────────────────────
	uploadLimiter := middleware.NewRateLimiter(30, time.Minute)

	router.GET("/", middleware.NoStore(), handlers.Upload.Page)
	router.POST("/upload", uploadLimiter.Middleware(), handlers.Upload.Upload)
	router.GET("/health", middleware.NoStore(), handlers.System.Health)

	// ─── 1. Schedule API ───────────────────────────────────────────────
	api := router.Group("/api/v1")
	api.Use(middleware.NoStore())
	{
		api.GET("/classes", handlers.Class.ListClasses)
		api.GET("/classes/summary", handlers.Class.Summary)
		api.PUT("/classes", handlers.Class.UpsertClass)
		api.POST("/classes/import", handlers.Class.ImportClasses)

		api.POST("/pipeline/run", handlers.Pipeline.RunPipeline)
		api.GET("/jobs/:id", handlers.Pipeline.JobStatus)
	}

	// ─── 2. WebSocket Group ────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	{
		ws.GET("/jobs", handlers.WS.JobStream)
	}

	return router
}
