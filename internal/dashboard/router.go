package dashboard

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter mounts the read-only study API under /api.
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	api := r.Group("/api")
	{
		studies := api.Group("/studies")
		{
			studies.GET("", h.ListStudies)
			studies.GET("/:name", h.GetStudy)
			studies.GET("/:name/best", h.BestTrial)
			studies.GET("/:name/trials", h.ListTrials)
			studies.GET("/:name/trials/:number", h.GetTrial)
			studies.GET("/:name/replay", h.Replay)
		}
	}
	return r
}
