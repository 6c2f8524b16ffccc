package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/firdaus0729/casino-frontend/internal/middleware"
	"github.com/firdaus0729/casino-frontend/internal/services"
)

const readsPerMinute = 120

// RegisterRoutes mounts the hash game API on router. Round data and
// verification are public; betting and the live stream need a token.
func RegisterRoutes(router *gin.Engine, games *GameHandler, users *UserHandler, ws *WebSocketHandler, jwtService *services.JWTService, limiter services.RateLimiter) {
	api := router.Group("/api/v1")

	public := api.Group("/hashgames/:game")
	{
		public.GET("/round/current", games.GetCurrentRound)
		public.GET("/round/:blockNum/result", games.GetRoundResult)
		public.GET("/round/:blockNum/verify", games.VerifyRound)
		public.POST("/verify", games.VerifyBlock)
		public.GET("/rounds/history", games.GetRoundHistory)
	}

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(jwtService))
	{
		protected.GET("/me", users.GetCurrentUser)
		protected.GET("/ws", ws.HandleWebSocket)

		bets := protected.Group("/hashgames/:game")
		{
			bets.POST("/bet", games.PlaceBet)

			reads := bets.Group("")
			reads.Use(middleware.RateLimitMiddleware(limiter, "hashgame_reads", readsPerMinute, time.Minute))
			reads.GET("/bets/:betId", games.GetBet)
			reads.GET("/bets", games.GetUserBets)
		}
	}
}
