package repository

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"narrator-server/internal/models"
)

// StoryRepository предоставляет доступ к историям.
type StoryRepository struct {
	db *pgxpool.Pool
}

// NewStoryRepository создает новый репозиторий историй.
func NewStoryRepository(db *pgxpool.Pool) *StoryRepository {
	return &StoryRepository{db: db}
}

// CreateStory сохраняет историю.
func (r *StoryRepository) CreateStory(ctx context.Context, story *models.Story) error {
	query := `
		INSERT INTO stories
			(id, user_id, text, title, preview, thumbnail_color, theme, style, tone, length,
			 audio_url, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		story.ID, story.UserID, story.Text, story.Title, story.Preview,
		story.ThumbnailColor, story.Theme, story.Style, story.Tone, story.Length,
		story.AudioURL, story.Metadata,
	).Scan(&story.CreatedAt, &story.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка при сохранении истории: %w", err)
	}
	return nil
}

// GetStoryByID возвращает историю по идентификатору.
func (r *StoryRepository) GetStoryByID(ctx context.Context, storyID uuid.UUID) (*models.Story, error) {
	var story models.Story
	query := `SELECT * FROM stories WHERE id = $1`
	if err := pgxscan.Get(ctx, r.db, &story, query, storyID); err != nil {
		return nil, err
	}
	return &story, nil
}

// ListStories возвращает истории пользователя, новые первыми.
func (r *StoryRepository) ListStories(ctx context.Context, userID int64, limit, offset int) ([]models.Story, error) {
	var stories []models.Story
	query := `
		SELECT * FROM stories
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := pgxscan.Select(ctx, r.db, &stories, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("ошибка при получении списка историй: %w", err)
	}
	return stories, nil
}

// UpdateStoryText заменяет текст истории и ее производные поля.
func (r *StoryRepository) UpdateStoryText(ctx context.Context, story *models.Story) error {
	query := `
		UPDATE stories
		SET text = $2, title = $3, preview = $4, thumbnail_color = $5,
		    metadata = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		story.ID, story.Text, story.Title, story.Preview, story.ThumbnailColor, story.Metadata,
	).Scan(&story.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка при обновлении истории: %w", err)
	}
	return nil
}

// AttachAudio записывает URL готовой озвучки истории.
func (r *StoryRepository) AttachAudio(ctx context.Context, storyID uuid.UUID, audioURL string) error {
	query := `UPDATE stories SET audio_url = $2, updated_at = now() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, storyID, audioURL)
	if err != nil {
		return fmt.Errorf("ошибка при привязке аудио к истории: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteStory удаляет историю.
func (r *StoryRepository) DeleteStory(ctx context.Context, storyID uuid.UUID) error {
	query := `DELETE FROM stories WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, storyID)
	if err != nil {
		return fmt.Errorf("ошибка при удалении истории: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
