package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/newleaf-app/newleaf-rtc/internal/auth"
	"github.com/newleaf-app/newleaf-rtc/internal/config"
	"github.com/newleaf-app/newleaf-rtc/internal/core"
	"github.com/newleaf-app/newleaf-rtc/internal/store"
)

// NewServer builds the HTTP server: REST API plus the websocket endpoint.
func NewServer(hub *core.Hub, authService *auth.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	apiHandlers := NewAPIHandlers(authService, logger)
	convHandlers := NewConversationHandlers(st, logger)

	api := router.Group("/api")
	{
		api.POST("/register", apiHandlers.Register)
		api.POST("/login", apiHandlers.Login)
		api.POST("/guest", apiHandlers.GuestLogin)
	}

	authorized := api.Group("", AuthMiddleware(authService, logger))
	{
		authorized.GET("/presence", presenceHandler(hub))
		authorized.GET("/conversations", convHandlers.ListConversations)
		authorized.POST("/conversations/group", convHandlers.CreateGroup)
		authorized.POST("/conversations/direct", convHandlers.CreateDirect)
		authorized.GET("/conversations/:id/messages", convHandlers.History)
	}

	wsHandler := NewWSHandler(hub, authService, cfg.MessageRateLimit, logger)
	router.GET("/ws", gin.WrapH(wsHandler))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

// presenceHandler exposes the live presence set over REST.
func presenceHandler(hub *core.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		identities, err := hub.Online(c.Request.Context())
		if err != nil {
			c.JSON(stdhttp.StatusServiceUnavailable, ErrorResponse{Error: "presence unavailable"})
			return
		}
		c.JSON(stdhttp.StatusOK, gin.H{"identities": identities})
	}
}
