package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DepressionHub/session-relay/config"
	"github.com/DepressionHub/session-relay/internal/handlers"
	"github.com/DepressionHub/session-relay/internal/middleware"
	"github.com/DepressionHub/session-relay/internal/redis"
	"github.com/DepressionHub/session-relay/internal/session"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to Redis
	if err := redis.Connect(cfg.Redis); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	log.Println("Redis connection established")

	// Room registry; each room runs its own actor goroutine
	registry := session.NewRegistry(cfg.RoomPrefix, session.Settings{
		GracePeriod:    cfg.GracePeriod,
		WaitingTimeout: cfg.WaitingTimeout,
	})

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "rooms": registry.Count()})
	})

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		// Session-request store (requires JWT)
		auth := middleware.JWTAuth(cfg.JWTSecret)
		apiGroup.POST("/session-requests", auth, handlers.CreateSessionRequest)
		apiGroup.GET("/session-requests/:requestId", auth, handlers.GetSessionRequest)
		apiGroup.POST("/session-requests/:requestId/accept", auth, handlers.AcceptSessionRequest)
		apiGroup.POST("/session-requests/:requestId/reject", auth, handlers.RejectSessionRequest)

		// Live session introspection (public)
		apiGroup.GET("/sessions/:sessionId", handlers.GetSession(registry))
	}

	// WebSocket signaling endpoint
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/session/:sessionId", handlers.HandleSignaling(registry))
	}

	// Start server
	log.Printf("Starting session relay on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
