package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	ginprometheus "github.com/zsais/go-gin-prometheus"

	"narrator-server/internal/config"
)

// Handlers объединяет обработчики для регистрации в роутере.
type Handlers struct {
	Auth  *AuthHandler
	Voice *VoiceHandler
	TTS   *TTSHandler
	Story *StoryHandler
}

// NewRouter собирает gin-роутер: логирование, CORS, метрики, статика
// озвученных файлов и все маршруты приложения.
func NewRouter(cfg *config.Config, logger zerolog.Logger, handlers Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if cfg.AppEnv == "development" {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(RequestLogger(logger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	allowedOrigins := cfg.HTTP.GetAllowedOrigins()
	switch {
	case len(allowedOrigins) == 1 && allowedOrigins[0] == "*":
		corsConfig.AllowAllOrigins = true
	case len(allowedOrigins) > 0:
		corsConfig.AllowOrigins = allowedOrigins
		corsConfig.AllowCredentials = true
	default:
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
		corsConfig.AllowCredentials = true
		logger.Info().Str("origin", "http://localhost:3000").Msg("CORS_ALLOWED_ORIGINS не задан, используется значение по умолчанию")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	// Готовые озвучки раздаются статикой, ссылки на них приходят в результате задачи.
	router.Static("/audio", cfg.Storage.OutputDir)

	handlers.Auth.RegisterRoutes(router)
	handlers.Voice.RegisterRoutes(router)
	handlers.TTS.RegisterRoutes(router)
	handlers.Story.RegisterRoutes(router)

	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	return router
}
