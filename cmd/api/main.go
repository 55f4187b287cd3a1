package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"cvSync/internal/api"
	"cvSync/internal/auth"
	"cvSync/internal/config"
	"cvSync/internal/cv"
	"cvSync/internal/cvlock"
	"cvSync/internal/cvstore"
	"cvSync/internal/database"
	"cvSync/internal/editing"
	"cvSync/internal/llm"
	"cvSync/internal/realtime"
	"cvSync/internal/storage"
	"cvSync/internal/translation"
	"cvSync/internal/view"
)

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		log.Fatalf("api stopped: %v", err)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("api bootstrapping",
		slog.String("db_host", cfg.Database.Host),
		slog.Int("db_port", cfg.Database.Port),
		slog.String("db_name", cfg.Database.Name),
	)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	logger.Info("database migrated")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	storageClient, err := storage.NewClient(ctx, cfg.MinIO)
	if err != nil {
		return fmt.Errorf("init storage client: %w", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	authService, err := auth.NewAuthServiceFromFiles(cfg.Auth.PrivateKeyPath, cfg.Auth.PublicKeyPath, cfg.Auth.AccessTTL)
	if err != nil {
		return fmt.Errorf("init auth service: %w", err)
	}

	languages := cfg.Languages.Parsed()
	store := cvstore.New(db)
	clock := cv.NewClock()
	locks := cvlock.New()
	bus := realtime.NewBus(logger)

	orchestrator := translation.New(store, newTranslator(cfg.LLM, redisClient, logger), translation.Config{
		Languages:   languages,
		Concurrency: cfg.LLM.Concurrency,
		Logger:      logger,
	})

	deps := api.Deps{
		Store:     store,
		Editor:    editing.NewCoordinator(store, orchestrator, bus, clock, locks, logger),
		Viewer:    view.NewGateway(store, orchestrator, languages, clock, locks, logger),
		Bus:       bus,
		Clock:     clock,
		Tokens:    authService,
		Objects:   storageClient,
		Tasks:     asynqClient,
		Languages: languages,
		Upload:    cfg.Upload,
		Session: realtime.SessionConfig{
			HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
			IdleTimeout:       cfg.Realtime.IdleTimeout,
			QueueCapacity:     cfg.Realtime.QueueCapacity,
		},
		AllowedOrigins: cfg.API.AllowedOrigins,
		Logger:         logger,
	}
	if cfg.Upload.ClamdAddr != "" {
		deps.Scanner = api.ClamdScanner{Addr: cfg.Upload.ClamdAddr}
	}

	router := api.NewRouter(logger)
	api.RegisterRoutes(router, deps)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.API.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down api")
	// 先关闭总线结束所有会话，再停止 HTTP 服务。
	bus.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newTranslator 按配置组装 LLM 客户端：限速、每日配额与批次缓存。
func newTranslator(cfg config.LLMConfig, redisClient *redis.Client, logger *slog.Logger) llm.Translator {
	if !cfg.Enabled() {
		logger.Warn("LLM_API_KEY not set, translations disabled")
		return llm.Disabled{}
	}
	client := llm.NewClient(cfg.APIKey,
		llm.WithBaseURL(cfg.BaseURL),
		llm.WithModel(cfg.Model),
		llm.WithTimeout(cfg.Timeout),
		llm.WithRetry(cfg.MaxRetries, 0),
		llm.WithRateLimit(cfg.RequestsPerSecond, cfg.Concurrency),
		llm.WithQuota(llm.NewQuota(redisClient, cfg.DailyQuota, logger)),
		llm.WithLogger(logger.With(slog.String("component", "llm"))),
	)
	return llm.NewCached(client, cfg.CacheSize, cfg.CacheTTL)
}
