package application

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/driftchat/driftchat/internal/infrastructure/config"
	"github.com/driftchat/driftchat/internal/infrastructure/persistence"
	"github.com/driftchat/driftchat/internal/infrastructure/responder/gemini"
	httpServer "github.com/driftchat/driftchat/internal/interfaces/http"
)

// App wires the server-side components: database, chat log, responder
// client, config watcher and the HTTP/WebSocket server.
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	chatLog       *persistence.GormChatLog
	responder     *gemini.Client
	configWatcher *config.Watcher
	httpServer    *httpServer.Server
}

// NewApp builds the dependency graph.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	db, err := persistence.NewDBConnection(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	app.db = db
	app.chatLog = persistence.NewGormChatLog(db, logger)

	app.responder = gemini.New(gemini.Config{
		BaseURL: cfg.Responder.BaseURL,
		APIKey:  cfg.Responder.APIKey,
		Model:   cfg.Responder.Model,
		Timeout: time.Duration(cfg.Responder.Timeout) * time.Second,
	}, logger)

	// Hot-reload the responder model on config file edits.
	globalConfig := filepath.Join(os.Getenv("HOME"), ".driftchat", "config.yaml")
	if _, statErr := os.Stat(globalConfig); statErr == nil {
		watcher, werr := config.NewWatcher(globalConfig, cfg, logger, func(next *config.Config) {
			app.responder.SetModel(next.Responder.Model)
		})
		if werr != nil {
			logger.Warn("Config watcher unavailable", zap.Error(werr))
		} else {
			app.configWatcher = watcher
		}
	}

	app.httpServer = httpServer.NewServer(
		httpServer.Config{
			Host: cfg.Server.Host,
			Port: cfg.Server.Port,
			Mode: cfg.Server.Mode,
		},
		app.chatLog,
		app.responder,
		logger,
	)

	return app, nil
}

// Start brings the HTTP server up. Non-blocking.
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application")

	if err := app.httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	app.logger.Info("Application started successfully")
	return nil
}

// Stop shuts everything down in reverse dependency order.
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application")

	if err := app.httpServer.Stop(ctx); err != nil {
		app.logger.Error("Failed to stop HTTP server", zap.Error(err))
	}

	app.chatLog.Close()

	if app.db != nil {
		sqlDB, err := app.db.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				app.logger.Error("Failed to close database connection", zap.Error(err))
			}
		}
	}

	app.logger.Info("Application stopped successfully")
	return nil
}

// ChatLog exposes the backing log (used by the local chat mode).
func (app *App) ChatLog() *persistence.GormChatLog {
	return app.chatLog
}

// Responder exposes the AI client (used by the local chat mode).
func (app *App) Responder() *gemini.Client {
	return app.responder
}

// Logger returns the application logger.
func (app *App) Logger() *zap.Logger {
	return app.logger
}
