package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/shopmate/backend/internal/config"
	"github.com/zhouzirui/shopmate/backend/internal/handler"
	handlerChat "github.com/zhouzirui/shopmate/backend/internal/handler/chat"
	"github.com/zhouzirui/shopmate/backend/internal/model/prompt"
	"github.com/zhouzirui/shopmate/backend/internal/service/ai"
	"github.com/zhouzirui/shopmate/backend/internal/service/assistant"
	"github.com/zhouzirui/shopmate/backend/internal/service/chat"
	"github.com/zhouzirui/shopmate/backend/internal/service/product"
	"github.com/zhouzirui/shopmate/backend/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Warn("failed to load .env file, continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger, err := utils.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize logger")
	}

	transport, sessions, history, err := newAssistant(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize assistant transport")
	}

	catalog, err := product.NewCatalog(cfg.API.StorefrontURL, cfg.API.Token, nil)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize product catalog")
	}
	resolver, err := product.NewResolver(catalog, product.ResolverOptions{
		Concurrency: cfg.Resolver.Concurrency,
		MemoSize:    cfg.Resolver.MemoSize,
		Logger:      logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize product resolver")
	}

	chatService, err := chat.NewService(chat.ServiceOptions{
		Transport: transport,
		Resolver:  resolver,
		History:   history,
		Notifier:  chat.NewLogNotifier(logger),
		Logger:    logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize chat service")
	}
	defer chatService.CloseAll()

	promptStore := prompt.NewMemoryStore(prompt.Seed())
	router := handler.NewRouter(promptStore, chatService, sessions, resolver, logger)

	startServer(ctx, cfg.Server, router, logger, chatService.CloseAll)
}

// newAssistant picks the HTTP assistant backend or a direct model per ASSISTANT_MODE.
func newAssistant(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (chat.Transport, handlerChat.SessionDirectory, chat.HistoryLoader, error) {
	if cfg.Assistant.Mode == config.AssistantModeModel {
		chatModel, err := cfg.Assistant.AI.NewChatModel(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		transport, err := ai.NewModelTransport(ctx, chatModel, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.WithField("model", cfg.Assistant.AI.Model).Info("assistant answers from the chat model directly")
		sessions := chat.NewLocalSessions()
		return transport, sessions, sessions, nil
	}

	client, err := assistant.NewClient(assistant.Options{
		BaseURL: cfg.API.AssistantURL,
		Token:   cfg.API.Token,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	logger.WithField("url", cfg.API.AssistantURL).Info("assistant backend configured")
	return client, client, client, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *logrus.Logger, onShutdown func()) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Closing conversations ends SSE and WebSocket streams; Shutdown would otherwise wait for the timeout.
	srv.RegisterOnShutdown(onShutdown)

	logger.WithField("addr", addr).Info("shopping assistant backend listening")
	if err := runServer(ctx, srv); err != nil {
		logger.WithError(err).Fatal("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
