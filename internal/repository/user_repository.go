package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"narrator-server/internal/models"
)

// UserRepository предоставляет доступ к данным пользователей.
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository создает новый репозиторий пользователей.
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// CreateUser создает нового пользователя и заполняет его ID.
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (username, email, password_hash, is_active, is_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		user.Username, user.Email, user.PasswordHash, user.IsActive, user.IsVerified,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка при создании пользователя: %w", err)
	}
	return nil
}

// GetUserByUsername возвращает пользователя по имени.
func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	query := `SELECT * FROM users WHERE username = $1`
	if err := pgxscan.Get(ctx, r.db, &user, query, username); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail возвращает пользователя по email.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	query := `SELECT * FROM users WHERE email = $1`
	if err := pgxscan.Get(ctx, r.db, &user, query, email); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByID возвращает пользователя по ID.
func (r *UserRepository) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	query := `SELECT * FROM users WHERE id = $1`
	if err := pgxscan.Get(ctx, r.db, &user, query, userID); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateLastLogin обновляет отметку последнего входа.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error {
	query := `UPDATE users SET last_login_at = $2, updated_at = now() WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, userID, at); err != nil {
		return fmt.Errorf("ошибка при обновлении времени входа: %w", err)
	}
	return nil
}

// UpdatePassword обновляет хеш пароля пользователя.
func (r *UserRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	query := `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, userID, passwordHash); err != nil {
		return fmt.Errorf("ошибка при обновлении пароля: %w", err)
	}
	return nil
}
