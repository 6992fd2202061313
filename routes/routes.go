package routes

import (
	"net/http"
	"time"

	"devconnect/handlers"
	"devconnect/middleware"
	"devconnect/ratelimit"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Handlers struct {
	Messages      *handlers.MessageHandler
	Notifications *handlers.NotificationHandler
	Follows       *handlers.FollowHandler
	Polls         *handlers.PollHandler
	Posts         *handlers.PostHandler
	Groups        *handlers.GroupHandler
	Push          *handlers.PushHandler
	Auth          *handlers.AuthHandler
	Accounts      *handlers.AccountHandler
	Users         *handlers.UserHandler
	Health        *handlers.HealthHandler
}

type Config struct {
	ServiceName string
	CORSOrigins []string
	Tokens      *middleware.TokenManager
	Limiter     *ratelimit.Limiter
	// WebSocket serves the /ws upgrade; it authenticates with the token query parameter itself.
	WebSocket http.Handler
}

func SetupRouter(cfg Config, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.Logger(),
		otelgin.Middleware(cfg.ServiceName),
	)

	// CORS with websocket upgrade headers allowed
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws"})))

	router.GET("/health", h.Health.Health)
	router.GET("/ws", gin.WrapH(cfg.WebSocket))

	public := router.Group("/api")
	public.Use(middleware.RateLimit(cfg.Limiter))
	public.GET("/push/vapid-public-key", h.Push.VapidPublicKey)
	public.POST("/auth/otp/request", h.Auth.RequestOTP)
	public.POST("/auth/otp/verify", h.Auth.VerifyOTP)

	protected := router.Group("/api")
	protected.Use(middleware.RateLimit(cfg.Limiter), middleware.JWTAuth(cfg.Tokens))

	// Profile
	protected.GET("/me", h.Users.GetMyProfile)
	protected.PUT("/me", h.Users.UpdateMyProfile)
	protected.GET("/user/:id", h.Users.GetUser)

	// Messages
	protected.GET("/messages", h.Messages.List)
	protected.POST("/messages", h.Messages.Send)
	protected.POST("/messages/read", h.Messages.MarkRead)
	protected.GET("/messages/:id", h.Messages.Get)
	protected.PATCH("/messages/:id", h.Messages.Edit)
	protected.DELETE("/messages/:id", h.Messages.Delete)
	protected.GET("/conversations", h.Messages.Conversations)

	// Notifications
	protected.GET("/notifications", h.Notifications.List)
	protected.GET("/notifications/unread-count", h.Notifications.UnreadCount)
	protected.PATCH("/notifications/:id/read", h.Notifications.MarkRead)
	protected.POST("/notifications/read-all", h.Notifications.MarkAllRead)

	// Social
	protected.POST("/follow/:userId", h.Follows.Toggle)
	protected.GET("/polls/:id", h.Polls.Get)
	protected.POST("/polls/:id/vote", h.Polls.Vote)
	protected.POST("/polls/:id/refresh", h.Polls.Refresh)
	protected.POST("/posts/:id/like", h.Posts.ToggleLike)
	protected.POST("/posts/:id/share", h.Posts.Share)
	protected.POST("/posts/:id/comments", h.Posts.AddComment)
	protected.DELETE("/comments/:id", h.Posts.DeleteComment)
	protected.GET("/bookmarks", h.Posts.ListBookmarks)
	protected.POST("/bookmarks", h.Posts.AddBookmark)
	protected.DELETE("/bookmarks/:postId", h.Posts.RemoveBookmark)
	protected.PATCH("/groups/:id/settings", h.Groups.UpdateSettings)

	// Push
	protected.POST("/push/subscribe", h.Push.Subscribe)
	protected.DELETE("/push/subscribe", h.Push.Unsubscribe)

	// Linked accounts, only when OAuth credentials are configured
	if h.Accounts != nil {
		protected.GET("/me/accounts/google/url", h.Accounts.GoogleURL)
		protected.POST("/me/accounts/google", h.Accounts.LinkGoogle)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found", "path": c.Request.URL.Path})
	})
	return router
}
