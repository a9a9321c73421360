package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/driftchat/driftchat/internal/application"
	"github.com/driftchat/driftchat/internal/domain/entity"
	"github.com/driftchat/driftchat/internal/domain/repository"
	"github.com/driftchat/driftchat/internal/domain/service"
	"github.com/driftchat/driftchat/internal/infrastructure/config"
	"github.com/driftchat/driftchat/internal/infrastructure/logger"
	"github.com/driftchat/driftchat/internal/infrastructure/remote"
)

const (
	appName    = "driftchat"
	appVersion = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "driftchat — AI chat with a synchronized conversation log",
		RunE:  runServe,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server (HTTP API + WebSocket snapshot feed)",
		RunE:  runServe,
	}

	chatCmd := &cobra.Command{
		Use:   "chat [conversation-id]",
		Short: "Interactive chat session",
		Long: "Chat against a running driftchat server (--server), or directly " +
			"against the local database. Without a conversation id a new " +
			"conversation is started.",
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}
	chatCmd.Flags().StringP("server", "s", "", "remote server base URL (e.g. http://localhost:8790)")
	chatCmd.Flags().StringP("user", "u", "", "user id owning the conversation")
	chatCmd.Flags().StringP("model", "m", "", "responder model override")
	chatCmd.Flags().Bool("ephemeral", false, "do not persist the conversation")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	}

	rootCmd.AddCommand(serveCmd, chatCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: "stdout",
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	log.Info("Starting driftchat server",
		zap.String("version", appVersion),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.NewApp(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}

	if err := app.Start(ctx); err != nil {
		log.Fatal("Failed to start application", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	return app.Stop(shutdownCtx)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// Quiet logger: the engine logs swallowed errors, the terminal is for
	// the conversation itself.
	log, err := logger.NewLogger(logger.Config{
		Level:      "error",
		Format:     "console",
		OutputPath: "stderr",
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	serverURL, _ := cmd.Flags().GetString("server")
	userID, _ := cmd.Flags().GetString("user")
	model, _ := cmd.Flags().GetString("model")
	ephemeral, _ := cmd.Flags().GetBool("ephemeral")

	var (
		chatLog   repository.ChatLog
		responder service.Responder
		cleanup   func()
	)

	if serverURL != "" {
		client := remote.New(serverURL, log)
		chatLog = client
		cleanup = client.Close
		responder = remote.NewResponder(serverURL, model, log)
	} else {
		app, appErr := application.NewApp(cfg, log)
		if appErr != nil {
			return fmt.Errorf("init: %w", appErr)
		}
		chatLog = app.ChatLog()
		responder = app.Responder()
		cleanup = func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			_ = app.Stop(shutdownCtx)
		}
	}
	defer cleanup()

	ctx := context.Background()

	conversationID := ""
	if len(args) > 0 {
		conversationID = args[0]
	}
	persist := !ephemeral
	if conversationID == "" {
		conversationID = uuid.New().String()
		if persist {
			conv := entity.NewConversation(conversationID, userID, "")
			if err := chatLog.SaveConversation(ctx, conv); err != nil {
				return fmt.Errorf("create conversation: %w", err)
			}
		}
	}

	store := service.NewMessageStore()
	engine := service.NewSyncEngine(store, chatLog, responder, service.SyncEngineConfig{
		PageSize: cfg.Chat.PageSize,
		Persist:  persist,
		UserID:   userID,
		Model:    model,
	}, log)

	if err := engine.Open(conversationID); err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	defer engine.Close()

	printed := printMessages(engine.Messages(), 0)

	fmt.Printf("conversation %s — type a message, /older for history, /quit to exit\n", conversationID)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		switch strings.TrimSpace(line) {
		case "/quit", "/exit":
			return nil
		case "/older":
			older, err := engine.LoadOlder(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "load older: %v\n", err)
				continue
			}
			if len(older) == 0 {
				fmt.Println("(no older messages)")
				continue
			}
			for _, m := range older {
				printMessage(m)
			}
			printed += len(older)
			continue
		}

		if _, err := engine.Send(ctx, line); err != nil {
			fmt.Fprintf(os.Stderr, "send: %v\n", err)
			continue
		}

		// Wait for the bot round trip, then print whatever arrived.
		waitForBot(engine)
		msgs := engine.Messages()
		printed += printMessages(msgs, printed)
	}
	return scanner.Err()
}

// waitForBot blocks until the outstanding bot round trip finishes.
func waitForBot(engine *service.SyncEngine) {
	// The flag is set by the round-trip goroutine; give it a moment to start.
	deadline := time.Now().Add(200 * time.Millisecond)
	for !engine.AwaitingBot() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	for engine.AwaitingBot() {
		time.Sleep(50 * time.Millisecond)
	}
}

func printMessages(msgs []*entity.Message, from int) int {
	if from > len(msgs) {
		from = len(msgs)
	}
	for _, m := range msgs[from:] {
		printMessage(m)
	}
	return len(msgs) - from
}

func printMessage(m *entity.Message) {
	tag := "you"
	if m.IsFromBot() {
		tag = "bot"
	}
	suffix := ""
	if m.Failed {
		suffix = " (not saved)"
	}
	fmt.Printf("[%s] %s%s\n", tag, m.Text, suffix)
}
