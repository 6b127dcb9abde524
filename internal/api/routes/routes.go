package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/speaktest/internal/api/handlers"
	"github.com/yoockh/speaktest/internal/api/middleware"
)

type Deps struct {
	Tests   *handlers.TestHandler
	Credits *handlers.CreditHandler
	Audio   *handlers.AudioHandler
	WS      *handlers.WSHandler
	JWT     middleware.JWTConfig
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	auth := r.Group("/")
	auth.Use(middleware.JWTAuth(d.JWT))

	tests := auth.Group("/tests")
	tests.POST("/start", d.Tests.Start)
	tests.POST("/finish", d.Tests.Finish)
	tests.GET("/history", d.Tests.History)

	sessions := auth.Group("/sessions/:id")
	sessions.GET("", d.Tests.GetSession)
	sessions.POST("/join", d.Tests.Join)
	sessions.POST("/turns", d.Tests.AppendTurns)
	sessions.POST("/abandon", d.Tests.Abandon)
	if d.Audio != nil {
		sessions.POST("/audio", d.Audio.Upload)
		sessions.GET("/audio", d.Audio.List)
	}

	if d.WS != nil {
		auth.GET("/ws/sessions/:id", d.WS.SessionWS)
	}

	auth.GET("/credits/balance", d.Credits.Balance)

	admin := auth.Group("/admin", middleware.RequireAdmin())
	admin.POST("/credits/grant", d.Credits.Grant)
}
