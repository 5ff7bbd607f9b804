package v1

import (
	"go_relay/api/v1/agents"
	authapi "go_relay/api/v1/auth"
	"go_relay/api/v1/command"
	"go_relay/api/v1/middleware"
	"go_relay/internal/auth"
	"go_relay/internal/config"
	"go_relay/internal/httpx"
	"go_relay/internal/identity"
	"go_relay/internal/ratelimit"
	"go_relay/internal/registry"
	"go_relay/internal/relay"

	"github.com/gin-gonic/gin"
)

// Deps carries the router's collaborators
type Deps struct {
	Cfg        *config.Config
	Identities *identity.Service
	Sessions   *auth.Sessions
	Registry   *registry.Registry
	Store      *relay.Store
	Dispatcher *relay.Dispatcher
	Limiter    *ratelimit.Limiter
}

// SetupRouter sets up the API v1 routes
func SetupRouter(r *gin.Engine, deps *Deps) {
	rates := deps.Cfg.Rate

	v1 := r.Group("/api/v1")
	{
		// Public routes (no authentication required)
		v1.GET("/ping", pingHandler)

		// Identity lifecycle
		authHandler := authapi.NewHandler(deps.Identities, deps.Sessions)
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/signup",
				middleware.RateLimit(deps.Limiter, "registration", rates.Registration),
				authHandler.Signup)
			authGroup.POST("/login",
				middleware.RateLimit(deps.Limiter, "authentication", rates.Authentication),
				authHandler.Login)
		}

		// Protected routes (session token required)
		protected := v1.Group("")
		protected.Use(middleware.AuthRequired(deps.Sessions))
		{
			protected.GET("/me", meHandler)

			protected.POST("/auth/logout", authHandler.Logout)
			protected.POST("/auth/token/regenerate",
				middleware.RateLimit(deps.Limiter, "authentication", rates.Authentication),
				authHandler.RegenerateToken)

			commandHandler := command.NewHandler(deps.Dispatcher, deps.Store, deps.Identities)
			protected.POST("/command",
				middleware.RateLimit(deps.Limiter, "dispatch", rates.Dispatch),
				commandHandler.Dispatch)
			protected.GET("/response",
				middleware.RateLimit(deps.Limiter, "polling", rates.Polling),
				commandHandler.Poll)

			agentsHandler := agents.NewHandler(deps.Registry)
			agentsGroup := protected.Group("/agents")
			{
				agentsGroup.GET("", agentsHandler.List)
				agentsGroup.POST("/disconnect", agentsHandler.Disconnect)
			}
		}
	}
}

// pingHandler handles the ping request using unified response
func pingHandler(c *gin.Context) {
	httpx.OK(c, gin.H{
		"pong": true,
	})
}

// meHandler returns current caller information
func meHandler(c *gin.Context) {
	uid, _ := c.Get("uid")
	username, _ := c.Get("username")

	httpx.OK(c, gin.H{
		"uid":      uid,
		"username": username,
	})
}
