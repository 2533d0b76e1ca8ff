package server

import (
	"net/http"
	"time"

	"meshly/internal/handler"
	"meshly/internal/middleware"
	"meshly/internal/redis"
	"meshly/internal/services"
	"meshly/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Deps carries everything the router needs. RateLimiter and Uploads may be
// nil; the matching routes degrade gracefully.
type Deps struct {
	Auth          *services.AuthService
	Users         *services.UserService
	Conversations *services.ConversationService
	Messages      *services.MessageService
	Notifications *services.NotificationService
	Uploads       *services.UploadService
	RateLimiter   *redis.RateLimiter
	Logger        *logger.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggingMiddleware(deps.Logger))
	r.Use(middleware.ErrorHandler(deps.Logger))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	conversationHandler := handler.NewConversationHandler(deps.Conversations)
	messageHandler := handler.NewMessageHandler(deps.Messages, deps.Users)
	notificationHandler := handler.NewNotificationHandler(deps.Notifications)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(deps.Auth))

	conversations := api.Group("/conversations")
	conversations.POST("", conversationHandler.Create)
	conversations.GET("", conversationHandler.List)
	conversations.GET("/:id", conversationHandler.GetByID)
	conversations.PUT("/:id/archive", conversationHandler.Archive)
	conversations.PUT("/:id/mute", conversationHandler.Mute)
	conversations.PUT("/:id/unmute", conversationHandler.Unmute)
	conversations.POST("/:id/typing", conversationHandler.SetTyping)
	conversations.GET("/:id/typing", conversationHandler.Typing)

	sendGroup := conversations.Group("")
	if deps.RateLimiter != nil {
		sendGroup.Use(middleware.MessageRateLimitMiddleware(deps.RateLimiter))
	}
	sendGroup.POST("/:id/messages", messageHandler.Send)

	conversations.GET("/:id/messages", messageHandler.List)
	conversations.PUT("/:id/read", messageHandler.MarkConversationRead)

	api.GET("/search", messageHandler.Search)

	messages := api.Group("/messages")
	messages.GET("/:id", messageHandler.GetByID)
	messages.PUT("/:id", messageHandler.Edit)
	messages.DELETE("/:id", messageHandler.Delete)
	messages.POST("/:id/delivered", messageHandler.MarkDelivered)
	messages.GET("/:id/receipts", messageHandler.Receipts)

	if deps.Users != nil {
		userHandler := handler.NewUserHandler(deps.Users)
		api.POST("/users", userHandler.Provision)
		api.GET("/users/:id", userHandler.GetByID)
	}

	notifications := api.Group("/notifications")
	notifications.GET("", notificationHandler.List)
	notifications.PUT("/:id/read", notificationHandler.MarkRead)

	if deps.Uploads != nil {
		uploadHandler := handler.NewUploadHandler(deps.Uploads)
		api.POST("/uploads/presign", uploadHandler.Presign)
	}

	return r
}
