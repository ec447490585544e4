// Package story реализует генерацию и CRUD историй с производными полями
// для витрины.
package story

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"narrator-server/internal/apperr"
	"narrator-server/internal/models"
)

var (
	ErrStoryNotFound = fmt.Errorf("%w: история не найдена", apperr.ErrNotFound)
	ErrNotOwner      = fmt.Errorf("%w: история принадлежит другому пользователю", apperr.ErrAccessDenied)
)

const systemPrompt = "Ты опытный рассказчик. Пиши цельные, атмосферные истории для озвучивания вслух: без markdown-разметки, без списков, обычными абзацами. Первая строка - заголовок истории."

// Лимиты генерации по запрошенной длине истории.
var lengthTokens = map[string]int{
	"short":  800,
	"medium": 1500,
	"long":   3000,
}

// TextGenerator - внешний LLM-коллаборатор.
type TextGenerator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// Repository определяет доступ к хранилищу историй.
type Repository interface {
	CreateStory(ctx context.Context, story *models.Story) error
	GetStoryByID(ctx context.Context, storyID uuid.UUID) (*models.Story, error)
	ListStories(ctx context.Context, userID int64, limit, offset int) ([]models.Story, error)
	UpdateStoryText(ctx context.Context, story *models.Story) error
	DeleteStory(ctx context.Context, storyID uuid.UUID) error
}

// Service реализует операции над историями.
type Service struct {
	repo Repository
	llm  TextGenerator
}

// NewService создает сервис историй. llm может быть nil, тогда операции
// генерации возвращают ошибку конфигурации.
func NewService(repo Repository, llm TextGenerator) *Service {
	return &Service{repo: repo, llm: llm}
}

// Generate создает историю через LLM и сохраняет ее best-effort: при ошибке
// записи результат все равно возвращается клиенту, сбой только логируется.
func (s *Service) Generate(ctx context.Context, userID *int64, req models.GenerateStoryRequest) (*models.Story, error) {
	if s.llm == nil {
		return nil, fmt.Errorf("%w: генерация текста отключена, не задан LLM_API_KEY", apperr.ErrConfiguration)
	}

	text, err := s.llm.Complete(ctx, systemPrompt, buildGeneratePrompt(req), tokensForLength(req.Length))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: LLM вернул пустую историю", apperr.ErrUpstream)
	}

	story := &models.Story{
		ID:             uuid.New(),
		UserID:         userID,
		Text:           text,
		Title:          DeriveTitle(text, req.Theme),
		Preview:        DerivePreview(text),
		ThumbnailColor: ThumbnailColor(req.Theme),
		Theme:          req.Theme,
		Style:          req.Style,
		Tone:           req.Tone,
		Length:         req.Length,
		Metadata:       map[string]any{"prompt": req.Prompt},
	}

	if err := s.repo.CreateStory(ctx, story); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("storyID", story.ID.String()).Msg("История сгенерирована, но не сохранена")
	}
	return story, nil
}

// Edit заменяет текст истории и пересчитывает производные поля.
func (s *Service) Edit(ctx context.Context, userID *int64, storyID uuid.UUID, newText string) (*models.Story, error) {
	if strings.TrimSpace(newText) == "" {
		return nil, fmt.Errorf("%w: пустой текст истории", apperr.ErrValidation)
	}

	story, err := s.getOwned(ctx, userID, storyID)
	if err != nil {
		return nil, err
	}

	story.Text = newText
	story.Title = DeriveTitle(newText, story.Theme)
	story.Preview = DerivePreview(newText)
	story.ThumbnailColor = ThumbnailColor(story.Theme)

	if err := s.repo.UpdateStoryText(ctx, story); err != nil {
		return nil, err
	}
	return story, nil
}

// AIImprove улучшает текст истории по инструкции пользователя. Сохранение
// best-effort, как при генерации.
func (s *Service) AIImprove(ctx context.Context, userID *int64, storyID uuid.UUID, instruction string) (*models.Story, error) {
	if s.llm == nil {
		return nil, fmt.Errorf("%w: генерация текста отключена, не задан LLM_API_KEY", apperr.ErrConfiguration)
	}

	story, err := s.getOwned(ctx, userID, storyID)
	if err != nil {
		return nil, err
	}

	userPrompt := fmt.Sprintf("Вот история:\n\n%s\n\nУлучши ее по инструкции: %s\nВерни только полный улучшенный текст истории.", story.Text, instruction)
	improved, err := s.llm.Complete(ctx, systemPrompt, userPrompt, tokensForLength(story.Length))
	if err != nil {
		return nil, err
	}

	story.Text = improved
	story.Title = DeriveTitle(improved, story.Theme)
	story.Preview = DerivePreview(improved)

	if err := s.repo.UpdateStoryText(ctx, story); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("storyID", story.ID.String()).Msg("История улучшена, но не сохранена")
	}
	return story, nil
}

// Reprompt перегенерирует историю с новым промптом, сохраняя ее параметры.
func (s *Service) Reprompt(ctx context.Context, userID *int64, storyID uuid.UUID, prompt string) (*models.Story, error) {
	if s.llm == nil {
		return nil, fmt.Errorf("%w: генерация текста отключена, не задан LLM_API_KEY", apperr.ErrConfiguration)
	}

	story, err := s.getOwned(ctx, userID, storyID)
	if err != nil {
		return nil, err
	}

	req := models.GenerateStoryRequest{
		Theme:  story.Theme,
		Style:  story.Style,
		Tone:   story.Tone,
		Length: story.Length,
		Prompt: prompt,
	}
	text, err := s.llm.Complete(ctx, systemPrompt, buildGeneratePrompt(req), tokensForLength(story.Length))
	if err != nil {
		return nil, err
	}

	story.Text = text
	story.Title = DeriveTitle(text, story.Theme)
	story.Preview = DerivePreview(text)
	if story.Metadata == nil {
		story.Metadata = map[string]any{}
	}
	story.Metadata["prompt"] = prompt

	if err := s.repo.UpdateStoryText(ctx, story); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("storyID", story.ID.String()).Msg("История перегенерирована, но не сохранена")
	}
	return story, nil
}

// Get возвращает историю с проверкой владения. Истории без владельца доступны
// всем.
func (s *Service) Get(ctx context.Context, userID *int64, storyID uuid.UUID) (*models.Story, error) {
	return s.getOwned(ctx, userID, storyID)
}

// List возвращает истории пользователя.
func (s *Service) List(ctx context.Context, userID int64, limit, offset int) ([]models.Story, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListStories(ctx, userID, limit, offset)
}

// Delete удаляет историю с проверкой владения.
func (s *Service) Delete(ctx context.Context, userID *int64, storyID uuid.UUID) error {
	if _, err := s.getOwned(ctx, userID, storyID); err != nil {
		return err
	}
	if err := s.repo.DeleteStory(ctx, storyID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrStoryNotFound
		}
		return err
	}
	return nil
}

func (s *Service) getOwned(ctx context.Context, userID *int64, storyID uuid.UUID) (*models.Story, error) {
	story, err := s.repo.GetStoryByID(ctx, storyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStoryNotFound
		}
		return nil, fmt.Errorf("ошибка при поиске истории: %w", err)
	}
	if story.UserID != nil && (userID == nil || *story.UserID != *userID) {
		return nil, ErrNotOwner
	}
	return story, nil
}

func buildGeneratePrompt(req models.GenerateStoryRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Напиши историю на тему %q.", req.Theme)
	if req.Style != "" {
		fmt.Fprintf(&sb, " Стиль: %s.", req.Style)
	}
	if req.Tone != "" {
		fmt.Fprintf(&sb, " Тон: %s.", req.Tone)
	}
	if req.Length != "" {
		fmt.Fprintf(&sb, " Длина: %s.", req.Length)
	}
	if req.Prompt != "" {
		fmt.Fprintf(&sb, "\nДополнительные пожелания: %s", req.Prompt)
	}
	return sb.String()
}

func tokensForLength(length string) int {
	if tokens, ok := lengthTokens[strings.ToLower(length)]; ok {
		return tokens
	}
	return lengthTokens["medium"]
}
