package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config содержит конфигурацию приложения, читается из переменных окружения.
type Config struct {
	HTTP      HTTPConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Storage   StorageConfig
	RemoteTTS RemoteTTSConfig
	LocalTTS  LocalTTSConfig
	LLM       LLMConfig

	AppEnv   string `env:"APP_ENV" env-default:"development"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
}

// HTTPConfig содержит конфигурацию HTTP-сервера.
type HTTPConfig struct {
	Port            string        `env:"PORT" env-default:"8080"`
	AllowedOrigins  string        `env:"CORS_ALLOWED_ORIGINS" env-default:"*"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"15s"`
}

// PostgresConfig содержит конфигурацию подключения к Postgres.
type PostgresConfig struct {
	DSN      string `env:"DATABASE_URL" env-required:"true"`
	MaxConns int32  `env:"DATABASE_MAX_CONNS" env-default:"10"`
}

// RedisConfig содержит конфигурацию Redis (денилист access-токенов).
// Пустой адрес отключает денилист.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" env-default:""`
	Password string `env:"REDIS_PASSWORD" env-default:""`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

// JWTConfig содержит конфигурацию аутентификации.
type JWTConfig struct {
	Secret               string        `env:"JWT_SECRET" env-required:"true"`
	PasswordSalt         string        `env:"PASSWORD_SALT" env-default:""`
	AccessTokenTTL       time.Duration `env:"ACCESS_TOKEN_TTL" env-default:"1h"`
	RefreshTokenTTL      time.Duration `env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	TokenCleanupInterval time.Duration `env:"TOKEN_CLEANUP_INTERVAL" env-default:"24h"`
}

// StorageConfig содержит пути хранения аудио и эмбеддингов.
type StorageConfig struct {
	VoiceDir      string `env:"VOICE_STORAGE_DIR" env-default:"./data/voices"`
	EmbeddingsDir string `env:"EMBEDDINGS_DIR" env-default:"./data/embeddings"`
	OutputDir     string `env:"AUDIO_OUTPUT_DIR" env-default:"./data/audio"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" env-default:"http://localhost:8080"`
	// SystemVoicePath - сид-файл системного голоса; пустая строка отключает
	// автоинициализацию.
	SystemVoicePath string `env:"SYSTEM_VOICE_PATH" env-default:""`
}

// RemoteTTSConfig содержит конфигурацию удаленного GPU-бэкенда синтеза.
type RemoteTTSConfig struct {
	EndpointURL string        `env:"REMOTE_TTS_ENDPOINT" env-default:""`
	APIKey      string        `env:"REMOTE_TTS_API_KEY" env-default:""`
	Timeout     time.Duration `env:"REMOTE_TTS_TIMEOUT" env-default:"300s"`
}

// LocalTTSConfig содержит конфигурацию локального inference-сайдкара.
type LocalTTSConfig struct {
	Enabled bool          `env:"LOCAL_TTS_ENABLED" env-default:"false"`
	URL     string        `env:"LOCAL_TTS_URL" env-default:"http://localhost:9090"`
	Timeout time.Duration `env:"LOCAL_TTS_TIMEOUT" env-default:"300s"`
}

// LLMConfig содержит конфигурацию клиента генерации текста
// (OpenRouter-совместимый API).
type LLMConfig struct {
	BaseURL         string `env:"LLM_BASE_URL" env-default:"https://openrouter.ai/api/v1"`
	APIKey          string `env:"LLM_API_KEY" env-default:""`
	Model           string `env:"LLM_MODEL" env-default:"deepseek/deepseek-chat"`
	MaxRetries      int    `env:"LLM_MAX_RETRIES" env-default:"3"`
	MaxPromptTokens int    `env:"LLM_MAX_PROMPT_TOKENS" env-default:"8000"`
}

// GetAllowedOrigins разбирает список CORS-источников из переменной окружения.
func (c *HTTPConfig) GetAllowedOrigins() []string {
	raw := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(raw))
	for _, o := range raw {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Load читает конфигурацию из окружения.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации: %w", err)
	}
	return &cfg, nil
}
