package repository

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"narrator-server/internal/models"
)

// TokenRepository предоставляет доступ к refresh-токенам.
type TokenRepository struct {
	db *pgxpool.Pool
}

// NewTokenRepository создает новый репозиторий refresh-токенов.
func NewTokenRepository(db *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{db: db}
}

// CreateRefreshToken сохраняет новый refresh-токен.
func (r *TokenRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (user_id, token, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, FALSE, now())
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query, token.UserID, token.Token, token.ExpiresAt).
		Scan(&token.ID, &token.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка при сохранении refresh-токена: %w", err)
	}
	return nil
}

// GetRefreshToken возвращает запись refresh-токена по его значению.
func (r *TokenRepository) GetRefreshToken(ctx context.Context, tokenStr string) (*models.RefreshToken, error) {
	var token models.RefreshToken
	query := `SELECT * FROM refresh_tokens WHERE token = $1`
	if err := pgxscan.Get(ctx, r.db, &token, query, tokenStr); err != nil {
		return nil, err
	}
	return &token, nil
}

// RevokeRefreshToken помечает токен отозванным.
func (r *TokenRepository) RevokeRefreshToken(ctx context.Context, tokenStr string) error {
	query := `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = now() WHERE token = $1 AND NOT revoked`
	if _, err := r.db.Exec(ctx, query, tokenStr); err != nil {
		return fmt.Errorf("ошибка при отзыве refresh-токена: %w", err)
	}
	return nil
}

// RevokeAllUserTokens отзывает все refresh-токены пользователя.
func (r *TokenRepository) RevokeAllUserTokens(ctx context.Context, userID int64) error {
	query := `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = now() WHERE user_id = $1 AND NOT revoked`
	if _, err := r.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("ошибка при отзыве refresh-токенов пользователя: %w", err)
	}
	return nil
}

// DeleteExpiredTokens удаляет истекшие и отозванные токены. Возвращает
// количество удаленных строк.
func (r *TokenRepository) DeleteExpiredTokens(ctx context.Context) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < now() OR revoked`
	tag, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("ошибка при очистке refresh-токенов: %w", err)
	}
	return tag.RowsAffected(), nil
}
