package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"narrator-server/internal/auth"
	"narrator-server/internal/config"
	"narrator-server/internal/database"
	delivery "narrator-server/internal/delivery/http"
	"narrator-server/internal/inference"
	"narrator-server/internal/repository"
	"narrator-server/internal/story"
	"narrator-server/internal/synthesis"
	"narrator-server/internal/voice"
	"narrator-server/pkg/ai"
	"narrator-server/pkg/taskmanager"
)

func main() {
	// .env подхватывается только если есть, в проде конфигурация из окружения.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка загрузки конфигурации")
	}

	logger := setupLogger(cfg)
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- База данных ---
	pool, err := database.NewPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("Не удалось подключиться к Postgres")
	}
	defer pool.Close()

	if err := database.ApplyMigrations(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("Не удалось применить миграции")
	}

	// --- Redis (опциональный денилист access-токенов) ---
	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis недоступен")
		}
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("REDIS_ADDR не задан, отзыв access-токенов отключен")
	}

	// --- Репозитории ---
	userRepo := repository.NewUserRepository(pool)
	tokenRepo := repository.NewTokenRepository(pool)
	voiceRepo := repository.NewVoiceRepository(pool)
	storyRepo := repository.NewStoryRepository(pool)
	denylist := repository.NewAccessDenylist(redisClient, logger)

	// --- Аутентификация ---
	authService := auth.NewService(userRepo, tokenRepo, denylist, cfg.JWT.Secret, cfg.JWT.PasswordSalt)
	authService.SetTokenTTL(cfg.JWT.AccessTokenTTL, cfg.JWT.RefreshTokenTTL)
	go authService.RunTokenCleanup(ctx, cfg.JWT.TokenCleanupInterval)

	// --- Inference-сайдкар (эмбеддинги, декодирование, локальный синтез) ---
	var engine *inference.Client
	if cfg.LocalTTS.Enabled || cfg.LocalTTS.URL != "" {
		engine = inference.NewClient(cfg.LocalTTS.URL, cfg.LocalTTS.Timeout, logger)
	}

	// --- Голосовые профили ---
	var voiceEngine voice.Engine
	if engine != nil {
		voiceEngine = engine
	}
	voiceService := voice.NewService(voiceRepo, voiceEngine, cfg.Storage.VoiceDir, cfg.Storage.EmbeddingsDir)
	if cfg.Storage.SystemVoicePath != "" {
		if err := voiceService.EnsureSystemVoice(ctx, cfg.Storage.SystemVoicePath); err != nil {
			logger.Warn().Err(err).Msg("Системный голос не инициализирован")
		}
	}

	// --- Оркестратор озвучивания ---
	taskManager, err := taskmanager.New(taskmanager.Config{MaxTasks: 100})
	if err != nil {
		logger.Fatal().Err(err).Msg("Не удалось создать менеджер задач")
	}

	var localEngine synthesis.LocalEngine
	if engine != nil {
		localEngine = engine
	}
	backend, err := synthesis.SelectBackend(cfg, localEngine, voiceService, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Бэкенд синтеза не сконфигурирован")
	}
	logger.Info().Str("backend", backend.Name()).Msg("Выбран бэкенд синтеза")

	orchestrator := synthesis.NewOrchestrator(backend, voiceService, storyRepo, taskManager,
		cfg.Storage.OutputDir, cfg.Storage.PublicBaseURL)

	// --- Генерация историй ---
	var llm story.TextGenerator
	if cfg.LLM.APIKey != "" {
		aiClient, err := ai.New(ai.Config{
			APIKey:          cfg.LLM.APIKey,
			BaseURL:         cfg.LLM.BaseURL,
			ModelName:       cfg.LLM.Model,
			MaxRetries:      cfg.LLM.MaxRetries,
			MaxPromptTokens: cfg.LLM.MaxPromptTokens,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Не удалось создать LLM-клиент")
		}
		llm = aiClient
	} else {
		logger.Warn().Msg("LLM_API_KEY не задан, генерация историй отключена")
	}
	storyService := story.NewService(storyRepo, llm)

	// --- HTTP ---
	router := delivery.NewRouter(cfg, logger, delivery.Handlers{
		Auth:  delivery.NewAuthHandler(authService),
		Voice: delivery.NewVoiceHandler(voiceService, authService),
		TTS:   delivery.NewTTSHandler(orchestrator, authService),
		Story: delivery.NewStoryHandler(storyService, authService),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.HTTP.Port).Msg("HTTP сервер запускается")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	// Периодическая зачистка завершенных задач из реестра.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				taskManager.CleanupTasks(24 * time.Hour)
			}
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Получен сигнал завершения, останавливаемся...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}
	if err := taskManager.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Фоновые задачи не успели завершиться")
	}

	logger.Info().Msg("Сервер остановлен")
}

func setupLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.AppEnv == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "narrator-server").Logger()
}
