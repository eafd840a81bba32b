package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sfoufcat/slimcircle/internal/handlers"
	"github.com/sfoufcat/slimcircle/internal/middleware"
	"github.com/sfoufcat/slimcircle/internal/types"
)

func NewRouter() *gin.Engine {
	r := gin.Default()

	// Add CORS middleware
	r.Use(cors.New(cors.Config{
		AllowOrigins:     types.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	api := r.Group("/api")
	{
		api.GET("/health", handlers.HealthCheck)
		api.GET("/ws/:squad_id", middleware.AuthMiddleware(), handlers.WebSocket)
		auth := api.Group("/auth")
		{
			auth.POST("/register", handlers.CreateUser)
			auth.POST("/login", handlers.LoginUser)
			auth.POST("/logout", handlers.LogoutUser)
			auth.GET("/me", middleware.AuthMiddleware(), handlers.Me)
		}

		squads := api.Group("/squads", middleware.AuthMiddleware())
		{
			squads.POST("", handlers.CreateSquad)
			squads.GET("", handlers.ListSquads)
			squads.POST("/join", handlers.JoinSquad)
			squads.GET("/:squad_id/members", handlers.ListSquadMembers)
			squads.DELETE("/:squad_id/members/me", handlers.LeaveSquad)
			squads.PATCH("/:squad_id/notify-config", handlers.UpdateSquadNotifyConfig)

			// Call consensus endpoints
			squads.GET("/:squad_id/call", handlers.GetActiveCall)
			squads.POST("/:squad_id/call/suggest", handlers.SuggestCall)
			squads.POST("/:squad_id/call/propose", handlers.ProposeCallChange)
			squads.POST("/:squad_id/call/vote", handlers.VoteOnCall)
		}
	}

	return r
}
