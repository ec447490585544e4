package models

import (
	"time"

	"github.com/google/uuid"
)

// SystemUserID - зарезервированный системный аккаунт, владеющий общими
// голосами. Создается миграцией.
const SystemUserID int64 = 1

// User представляет учетную запись пользователя.
type User struct {
	ID           int64      `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	IsVerified   bool       `db:"is_verified" json:"is_verified"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// RefreshToken - запись refresh-токена в базе.
type RefreshToken struct {
	ID        int64      `db:"id"`
	UserID    int64      `db:"user_id"`
	Token     string     `db:"token"`
	ExpiresAt time.Time  `db:"expires_at"`
	Revoked   bool       `db:"revoked"`
	RevokedAt *time.Time `db:"revoked_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// VoiceProfile - профиль голоса: эталонный аудиосэмпл пользователя и
// (опционально) предрасчитанный артефакт эмбеддинга.
type VoiceProfile struct {
	ID              uuid.UUID  `db:"id" json:"voice_id"`
	UserID          int64      `db:"user_id" json:"user_id"`
	Name            string     `db:"name" json:"name"`
	Description     string     `db:"description" json:"description,omitempty"`
	AudioPath       string     `db:"audio_path" json:"-"`
	EmbeddingPath   *string    `db:"embedding_path" json:"-"`
	SampleRate      int        `db:"sample_rate" json:"sample_rate"`
	DurationSeconds float64    `db:"duration_seconds" json:"duration_seconds"`
	Exaggeration    float64    `db:"exaggeration" json:"exaggeration"`
	IsDefault       bool       `db:"is_default" json:"is_default"`
	UsageCount      int        `db:"usage_count" json:"usage_count"`
	LastUsedAt      *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// EmbeddingsCached сообщает, посчитан ли артефакт эмбеддинга для профиля.
func (v *VoiceProfile) EmbeddingsCached() bool {
	return v.EmbeddingPath != nil && *v.EmbeddingPath != ""
}

// Story - сгенерированная история с производными полями для витрины.
type Story struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	UserID         *int64         `db:"user_id" json:"user_id,omitempty"`
	Text           string         `db:"text" json:"text"`
	Title          string         `db:"title" json:"title"`
	Preview        string         `db:"preview" json:"preview"`
	ThumbnailColor string         `db:"thumbnail_color" json:"thumbnail_color"`
	Theme          string         `db:"theme" json:"theme"`
	Style          string         `db:"style" json:"style,omitempty"`
	Tone           string         `db:"tone" json:"tone,omitempty"`
	Length         string         `db:"length" json:"length,omitempty"`
	AudioURL       *string        `db:"audio_url" json:"audio_url,omitempty"`
	Metadata       map[string]any `db:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// ErrorResponse - унифицированный формат ошибки HTTP-слоя.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
