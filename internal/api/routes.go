package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// SetupRouter wires the API routes onto a gin engine.
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "X-Sync-Secret"},
		MaxAge:       12 * time.Hour,
	}))

	apiGroup := router.Group("/api")
	{
		// Scheduled platforms trigger with GET; manual tooling uses POST
		apiGroup.GET("/sync", handler.TriggerSync)
		apiGroup.POST("/sync", handler.TriggerSync)
		apiGroup.GET("/enrich", handler.TriggerEnrich)
		apiGroup.POST("/enrich", handler.TriggerEnrich)
		apiGroup.GET("/sync-status", handler.GetSyncStatus)
		apiGroup.GET("/statistics", handler.GetStatistics)
		apiGroup.GET("/scores", handler.GetScores)
		apiGroup.GET("/towns", handler.GetTowns)
	}

	return router
}
