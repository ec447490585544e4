// Package ai предоставляет клиент для генерации текста через
// OpenRouter-совместимый API.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"narrator-server/internal/apperr"
)

// Client предоставляет интерфейс для работы с API нейросети
type Client struct {
	client          *openai.Client
	modelName       string
	timeout         time.Duration
	maxRetries      int
	maxPromptTokens int
}

// Config содержит конфигурацию для клиента нейросети
type Config struct {
	APIKey          string
	BaseURL         string
	ModelName       string
	TimeoutSeconds  int
	MaxRetries      int
	MaxPromptTokens int
}

// New создает новый экземпляр клиента нейросети
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: не указан LLM_API_KEY", apperr.ErrConfiguration)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "deepseek/deepseek-chat"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 120
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxPromptTokens <= 0 {
		cfg.MaxPromptTokens = 8000
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL

	return &Client{
		client:          openai.NewClientWithConfig(config),
		modelName:       cfg.ModelName,
		timeout:         time.Duration(cfg.TimeoutSeconds) * time.Second,
		maxRetries:      cfg.MaxRetries,
		maxPromptTokens: cfg.MaxPromptTokens,
	}, nil
}

// Complete выполняет один чат-запрос с повторами и возвращает текст ответа.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.checkPromptBudget(systemPrompt, userPrompt); err != nil {
		return "", err
	}

	attempts := 0
	for attempts < c.maxRetries {
		attempts++

		req := openai.ChatCompletionRequest{
			Model: c.modelName,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: systemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: userPrompt,
				},
			},
			Temperature: 0.7,
			MaxTokens:   maxTokens,
			TopP:        0.95,
		}

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			if attempts >= c.maxRetries {
				return "", fmt.Errorf("%w: ошибка при обращении к LLM: %v", apperr.ErrUpstream, err)
			}
			log.Ctx(ctx).Warn().Err(err).Int("attempt", attempts).Msg("Повтор запроса к LLM")
			time.Sleep(time.Duration(attempts) * time.Second)
			continue
		}

		if len(resp.Choices) == 0 {
			if attempts >= c.maxRetries {
				return "", fmt.Errorf("%w: пустой ответ от API", apperr.ErrUpstream)
			}
			continue
		}

		return CleanResponse(resp.Choices[0].Message.Content), nil
	}

	return "", fmt.Errorf("%w: не удалось получить ответ от API после нескольких попыток", apperr.ErrUpstream)
}

// checkPromptBudget считает токены промпта и отклоняет слишком длинный вход
// до обращения к API.
func (c *Client) checkPromptBudget(systemPrompt, userPrompt string) error {
	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		// Недоступность словаря не должна блокировать запрос.
		return nil
	}
	total := len(tke.Encode(systemPrompt, nil, nil)) + len(tke.Encode(userPrompt, nil, nil))
	if total > c.maxPromptTokens {
		return fmt.Errorf("%w: промпт слишком длинный (%d токенов при лимите %d)", apperr.ErrValidation, total, c.maxPromptTokens)
	}
	return nil
}

// CleanResponse убирает markdown-ограждения вокруг ответа модели.
func CleanResponse(response string) string {
	cleaned := strings.TrimSpace(response)
	if strings.HasPrefix(cleaned, "```") {
		if idx := strings.Index(cleaned, "\n"); idx >= 0 {
			cleaned = cleaned[idx+1:]
		} else {
			cleaned = strings.TrimPrefix(cleaned, "```")
		}
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	}
	return strings.TrimSpace(cleaned)
}
