package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/tweetpurge/internal/api/handler"
	"github.com/timmy/tweetpurge/internal/api/middleware"
	"github.com/timmy/tweetpurge/internal/auth"
	"github.com/timmy/tweetpurge/internal/config"
	"github.com/timmy/tweetpurge/internal/logger"
	"github.com/timmy/tweetpurge/internal/repository"
	"github.com/timmy/tweetpurge/internal/service"
)

// Dependencies are the services the HTTP surface is built on.
type Dependencies struct {
	Deletion *service.DeletionService
	Tweets   *service.TweetService
	Jobs     *repository.JobStore
	Provider *auth.Provider
	Sessions *auth.SessionStore
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps *Dependencies, cfg *config.Config, log *logger.Logger) *gin.Engine {
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cfg.Server.CORS))

	cookie := middleware.SessionCookie{
		Name:   cfg.Session.CookieName,
		TTL:    deps.Sessions.TTL(),
		Secure: cfg.Session.Secure,
	}
	requireAuth := middleware.RequireAuth(deps.Sessions, deps.Provider, cookie)

	healthHandler := handler.NewHealthHandler(deps.Jobs)
	authHandler := handler.NewAuthHandler(deps.Provider, deps.Sessions, deps.Tweets, cookie)
	tweetHandler := handler.NewTweetHandler(deps.Tweets)
	deletionHandler := handler.NewDeletionHandler(deps.Deletion)

	r.GET("/health", healthHandler.Health)

	// Login flow
	r.GET("/login", authHandler.Login)
	r.GET("/callback", authHandler.Callback)
	r.POST("/logout", authHandler.Logout)

	apiGroup := r.Group("/api", requireAuth)
	{
		apiGroup.GET("/me", tweetHandler.Me)
		apiGroup.GET("/tweets", tweetHandler.List)
		apiGroup.POST("/tweets", tweetHandler.Create)
		apiGroup.DELETE("/tweets/:id", tweetHandler.Delete)
	}

	// Bulk deletion
	deleteGroup := r.Group("/delete", requireAuth)
	{
		deleteGroup.POST("/start", deletionHandler.Start)
		deleteGroup.GET("/status", deletionHandler.Status)
		deleteGroup.POST("/cancel", deletionHandler.Cancel)
		deleteGroup.GET("/history", deletionHandler.History)
	}

	return r
}
