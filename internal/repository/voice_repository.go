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

// VoiceRepository предоставляет доступ к профилям голосов.
type VoiceRepository struct {
	db *pgxpool.Pool
}

// NewVoiceRepository создает новый репозиторий профилей голосов.
func NewVoiceRepository(db *pgxpool.Pool) *VoiceRepository {
	return &VoiceRepository{db: db}
}

// CreateVoiceProfile сохраняет профиль. При isDefault=true снимает флаг с
// прочих голосов пользователя в той же транзакции.
func (r *VoiceRepository) CreateVoiceProfile(ctx context.Context, profile *models.VoiceProfile) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка при открытии транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	if profile.IsDefault {
		clearQuery := `UPDATE voice_profiles SET is_default = FALSE WHERE user_id = $1 AND is_default`
		if _, err := tx.Exec(ctx, clearQuery, profile.UserID); err != nil {
			return fmt.Errorf("ошибка при сбросе голоса по умолчанию: %w", err)
		}
	}

	insertQuery := `
		INSERT INTO voice_profiles
			(id, user_id, name, description, audio_path, embedding_path, sample_rate,
			 duration_seconds, exaggeration, is_default, usage_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, now())
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, insertQuery,
		profile.ID, profile.UserID, profile.Name, profile.Description,
		profile.AudioPath, profile.EmbeddingPath, profile.SampleRate,
		profile.DurationSeconds, profile.Exaggeration, profile.IsDefault,
	).Scan(&profile.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка при создании профиля голоса: %w", err)
	}

	return tx.Commit(ctx)
}

// GetVoiceByID возвращает профиль голоса по идентификатору.
func (r *VoiceRepository) GetVoiceByID(ctx context.Context, voiceID uuid.UUID) (*models.VoiceProfile, error) {
	var profile models.VoiceProfile
	query := `SELECT * FROM voice_profiles WHERE id = $1`
	if err := pgxscan.Get(ctx, r.db, &profile, query, voiceID); err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetDefaultVoice возвращает голос по умолчанию пользователя.
func (r *VoiceRepository) GetDefaultVoice(ctx context.Context, userID int64) (*models.VoiceProfile, error) {
	var profile models.VoiceProfile
	query := `SELECT * FROM voice_profiles WHERE user_id = $1 AND is_default`
	if err := pgxscan.Get(ctx, r.db, &profile, query, userID); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ListVoicesByUser возвращает все профили пользователя, новые первыми.
func (r *VoiceRepository) ListVoicesByUser(ctx context.Context, userID int64) ([]models.VoiceProfile, error) {
	var profiles []models.VoiceProfile
	query := `SELECT * FROM voice_profiles WHERE user_id = $1 ORDER BY created_at DESC`
	if err := pgxscan.Select(ctx, r.db, &profiles, query, userID); err != nil {
		return nil, fmt.Errorf("ошибка при получении списка голосов: %w", err)
	}
	return profiles, nil
}

// SetDefault делает голос основным для пользователя, снимая флаг с прочих.
func (r *VoiceRepository) SetDefault(ctx context.Context, userID int64, voiceID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка при открытии транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	clearQuery := `UPDATE voice_profiles SET is_default = FALSE WHERE user_id = $1 AND is_default`
	if _, err := tx.Exec(ctx, clearQuery, userID); err != nil {
		return fmt.Errorf("ошибка при сбросе голоса по умолчанию: %w", err)
	}

	setQuery := `UPDATE voice_profiles SET is_default = TRUE WHERE id = $1 AND user_id = $2`
	tag, err := tx.Exec(ctx, setQuery, voiceID, userID)
	if err != nil {
		return fmt.Errorf("ошибка при установке голоса по умолчанию: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	return tx.Commit(ctx)
}

// UpdateEmbedding записывает путь к артефакту эмбеддинга и экзаджерацию,
// с которой он был посчитан.
func (r *VoiceRepository) UpdateEmbedding(ctx context.Context, voiceID uuid.UUID, embeddingPath string, exaggeration float64) error {
	query := `UPDATE voice_profiles SET embedding_path = $2, exaggeration = $3 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, voiceID, embeddingPath, exaggeration)
	if err != nil {
		return fmt.Errorf("ошибка при обновлении эмбеддинга: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// IncrementUsage увеличивает счетчик использований и отметку последнего
// использования голоса.
func (r *VoiceRepository) IncrementUsage(ctx context.Context, voiceID uuid.UUID) error {
	query := `UPDATE voice_profiles SET usage_count = usage_count + 1, last_used_at = now() WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, voiceID); err != nil {
		return fmt.Errorf("ошибка при обновлении статистики голоса: %w", err)
	}
	return nil
}

// DeleteVoice удаляет профиль голоса.
func (r *VoiceRepository) DeleteVoice(ctx context.Context, voiceID uuid.UUID) error {
	query := `DELETE FROM voice_profiles WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, voiceID)
	if err != nil {
		return fmt.Errorf("ошибка при удалении профиля голоса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
