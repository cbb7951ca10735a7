package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint, reports admission and queue state so
	// operators can see saturation at a glance
	r.GET("/health", func(c *gin.Context) {
		stats := deps.Cache.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"service":     "search-cache-service",
			"capacity":    stats.Capacity,
			"pending":     stats.Pending,
			"queued":      stats.Queued,
			"queue_depth": deps.Dispatch.Depth(),
		})
	})

	// Initialize search handler
	searchHandler := handler.NewSearchHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		searches := v1.Group("/searches")
		{
			// POST /api/v1/searches - Admit a search (cache hit, submit, or queue)
			searches.POST("", searchHandler.AdmitSearch)

			// GET /api/v1/searches?query= - Look up the freshest entry for a query
			searches.GET("", searchHandler.GetSearchByQuery)

			// GET /api/v1/searches/:id - Poll by job id or request id
			searches.GET("/:id", searchHandler.GetSearch)

			// POST /api/v1/searches/purge - Remove expired terminal entries
			searches.POST("/purge", searchHandler.PurgeExpired)
		}

		webhooks := v1.Group("/webhooks")
		{
			// POST /api/v1/webhooks/provider - Provider job-finished callback
			webhooks.POST("/provider", searchHandler.ProviderWebhook)
		}
	}

	return r
}
