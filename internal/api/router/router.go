package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nmkhang/grabber-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Service info endpoint
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Media grabber API is running",
			"endpoints": gin.H{
				"/check":           "POST - Check video info",
				"/download":        "POST - Start download",
				"/events/<job_id>": "GET - Download progress stream",
				"/status/<job_id>": "GET - Current job snapshot",
				"/fetch/<job_id>":  "GET - Download completed file",
			},
		})
	})

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "media-grabber-api",
		})
	})

	downloadHandler := handler.NewDownloadHandler(deps)

	r.POST("/check", downloadHandler.CheckSource)
	r.POST("/download", downloadHandler.CreateDownload)
	r.GET("/events/:job_id", downloadHandler.StreamEvents)
	r.GET("/status/:job_id", downloadHandler.GetStatus)
	r.GET("/fetch/:job_id", downloadHandler.FetchFile)

	return r
}
