package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/driftchat/driftchat/internal/domain/repository"
	"github.com/driftchat/driftchat/internal/infrastructure/responder/gemini"
	"github.com/driftchat/driftchat/internal/interfaces/http/handlers"
	ws "github.com/driftchat/driftchat/internal/interfaces/websocket"
)

// Server hosts the relay route, the chat log REST surface and the
// WebSocket snapshot feed.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config configures the HTTP server.
type Config struct {
	Host string
	Port int
	Mode string // local, production
}

// NewServer builds the router and wires the handlers.
func NewServer(cfg Config, log repository.ChatLog, client *gemini.Client, logger *zap.Logger) *Server {
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))
	router.Use(cors())

	chatHandler := handlers.NewChatHandler(client, logger)
	convHandler := handlers.NewConversationHandler(log, logger)
	wsHandler := ws.NewHandler(log, logger)

	setupRoutes(router, chatHandler, convHandler, wsHandler)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return &Server{
		server: server,
		logger: logger,
	}
}

// Start runs the server without blocking.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(router *gin.Engine, chatHandler *handlers.ChatHandler, convHandler *handlers.ConversationHandler, wsHandler *ws.Handler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	// Generative API relay
	router.POST("/api/chat", chatHandler.Generate)

	// Chat log REST surface
	v1 := router.Group("/api/v1")
	{
		v1.POST("/conversations", convHandler.Create)
		v1.GET("/conversations", convHandler.List)
		v1.GET("/conversations/:id", convHandler.Get)
		v1.PUT("/conversations/:id", convHandler.Save)
		v1.POST("/conversations/:id/archive", convHandler.Archive)
		v1.DELETE("/conversations/:id", convHandler.Delete)
		v1.GET("/conversations/:id/messages", convHandler.Messages)
		v1.POST("/conversations/:id/messages", convHandler.AppendMessage)
	}

	// Live snapshot feed
	router.GET("/ws", func(c *gin.Context) {
		wsHandler.ServeWS(c.Writer, c.Request)
	})
}

// cors allows any origin on every response and answers preflights, matching
// the relay route's browser-hosted callers.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
