package api

import (
	"github.com/gin-gonic/gin"

	"github.com/codeduel/duel-backend/internal/api/handlers"
	"github.com/codeduel/duel-backend/internal/api/middleware"
	"github.com/codeduel/duel-backend/internal/config"
	"github.com/codeduel/duel-backend/internal/service"
	"github.com/codeduel/duel-backend/internal/websocket"
	jwtutil "github.com/codeduel/duel-backend/pkg/jwt"
	"github.com/codeduel/duel-backend/pkg/ratelimit"
)

// Dependencies 라우터가 쓰는 서비스 묶음
type Dependencies struct {
	Users        *service.UserService
	Matchmaking  *service.MatchmakingService
	Matches      *service.MatchService
	Ratings      *service.RatingService
	Hub          *websocket.Hub
	JWT          *jwtutil.JWTManager
	QueueLimiter ratelimit.Limiter
	HealthChecks map[string]handlers.Pinger
}

// SetupRouter API 라우터 설정
func SetupRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 전역 미들웨어
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Handler 초기화
	authHandler := handlers.NewAuthHandler(deps.Users, deps.JWT)
	userHandler := handlers.NewUserHandler(deps.Users)
	matchHandler := handlers.NewMatchHandler(deps.Matchmaking, deps.Matches)
	judgeHandler := handlers.NewJudgeHandler(deps.Matches)
	ratingHandler := handlers.NewRatingHandler(deps.Ratings)
	wsHandler := handlers.NewWebSocketHandler(deps.Hub)
	healthHandler := handlers.NewHealthHandler(deps.HealthChecks)

	auth := middleware.Auth(deps.JWT)

	// Health check
	router.GET("/health", healthHandler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		// WebSocket endpoint
		v1.GET("/ws", auth, wsHandler.HandleWebSocket)

		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/register", authHandler.Register)
		}

		// User routes
		users := v1.Group("/users", auth)
		{
			users.GET("/me", userHandler.GetCurrentUser)
		}

		// Match routes
		matches := v1.Group("/matches", auth)
		{
			queue := []gin.HandlerFunc{matchHandler.RequestMatch}
			if deps.QueueLimiter != nil {
				queue = append([]gin.HandlerFunc{middleware.RateLimit("queue", deps.QueueLimiter, middleware.DefaultKeyFunc)}, queue...)
			}
			matches.POST("/queue", queue...)
			matches.DELETE("/:id/queue", matchHandler.CancelQueue)
			matches.GET("/:id", matchHandler.GetMatch)
			matches.POST("/:id/forfeit", matchHandler.Forfeit)
			matches.POST("/:id/submissions", matchHandler.Submit)
			matches.POST("/:id/chat", matchHandler.SendChat)
			matches.POST("/:id/code", matchHandler.SendCode)
		}

		// Rating routes
		ratings := v1.Group("/ratings", auth)
		{
			ratings.GET("/me", ratingHandler.GetMyRating)
			ratings.GET("/me/history", ratingHandler.GetMyHistory)
		}

		// Judge callback
		judge := v1.Group("/judge", middleware.JudgeToken(cfg.JudgeToken))
		{
			judge.POST("/submissions/:id/verdict", judgeHandler.RecordVerdict)
		}
	}

	return router
}
