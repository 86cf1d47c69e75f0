package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/guiIerme/JobFinder-sub002/internal/analysis/frustration"
	"github.com/guiIerme/JobFinder-sub002/internal/cache"
	"github.com/guiIerme/JobFinder-sub002/internal/config"
	"github.com/guiIerme/JobFinder-sub002/internal/connlimit"
	"github.com/guiIerme/JobFinder-sub002/internal/handler"
	sessionHandler "github.com/guiIerme/JobFinder-sub002/internal/handler/session"
	"github.com/guiIerme/JobFinder-sub002/internal/handler/ws"
	"github.com/guiIerme/JobFinder-sub002/internal/kv"
	"github.com/guiIerme/JobFinder-sub002/internal/ratelimit"
	"github.com/guiIerme/JobFinder-sub002/internal/security"
	"github.com/guiIerme/JobFinder-sub002/internal/service/assistant"
	sessionservice "github.com/guiIerme/JobFinder-sub002/internal/service/session"
	"github.com/guiIerme/JobFinder-sub002/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	setupLogger()

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	kvStore := openKV(ctx, cfg.Redis)
	durable := openDurable(cfg.Database)
	completer := openCompleter(ctx, cfg.AI)

	sessions := sessionservice.NewService(durable, kvStore, sessionservice.Config{
		IdleWindow:   cfg.Chat.SessionIdleWindow,
		CacheTTL:     cfg.Chat.SessionCacheTTL,
		HistoryLimit: cfg.Chat.HistoryLimit,
	})
	limiter := ratelimit.New(kvStore, ratelimit.Config{
		Window:   cfg.Chat.RateWindow,
		Messages: cfg.Chat.RateMessages,
		Burst:    cfg.Chat.RateBurst,
	})
	tracker := connlimit.New(kvStore, connlimit.Config{
		PerIdentity: cfg.Chat.MaxConnsPerUser,
		PerOrigin:   cfg.Chat.MaxConnsPerOrigin,
	})
	replies := cache.New(kvStore, cfg.Chat.ResponseCacheTTL)
	classifier := frustration.NewClassifier(nil)

	gateway := ws.New(sessions, completer, limiter, tracker, replies, classifier, durable, cfg.Chat, cfg.Escalation)
	restHandler := sessionHandler.New(sessions, security.Limits{
		MinContentLen:  cfg.Chat.MinContentLen,
		MaxContentLen:  cfg.Chat.MaxContentLen,
		MaxContextSize: cfg.Chat.MaxContextBytes,
		MaxFeedbackLen: cfg.Chat.MaxFeedbackLen,
		MaxDepth:       cfg.Chat.MaxContextDepth,
	})

	router := handler.NewRouter(gateway, restHandler, cfg.Chat.AllowedOrigins)

	startServer(ctx, cfg.Server, router)
}

func setupLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// openKV connects to Redis for the shared counters and caches. When Redis is
// unreachable the process still comes up on in-process state, which keeps
// local development working but weakens limits across replicas.
func openKV(ctx context.Context, cfg config.RedisConfig) kv.Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis unavailable, falling back to in-process counters",
			"addr", cfg.Addr, "error", err)
		return kv.NewMemoryStore()
	}

	slog.Info("connected to redis", "addr", cfg.Addr)
	return kv.NewRedisStore(client)
}

func openDurable(cfg config.DatabaseConfig) store.Store {
	if cfg.DSN == "" {
		slog.Warn("DATABASE_DSN not set, sessions will not survive restarts")
		return store.NewMemoryStore()
	}

	durable, err := store.Open(cfg.DSN)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	slog.Info("connected to database")
	return durable
}

func openCompleter(ctx context.Context, cfg config.AIConfig) assistant.Completer {
	if !cfg.Enabled() {
		slog.Warn("ark credentials not configured, serving fallback replies only")
		return assistant.NewDisabled(cfg.FallbackReply)
	}

	svc, err := assistant.NewService(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize completion backend, serving fallback replies",
			"error", err)
		return assistant.NewDisabled(cfg.FallbackReply)
	}

	slog.Info("completion backend initialized", "model", cfg.Model)
	return svc
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	slog.Info("support chat backend listening", "addr", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
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
