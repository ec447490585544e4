package models

import "github.com/google/uuid"

// RegisterRequest - тело запроса регистрации.
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginRequest - тело запроса входа.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest - тело запроса обновления токенов.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// ChangePasswordRequest - тело запроса смены пароля.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// TokenResponse - пара выданных токенов.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// VoiceUploadResponse - ответ на загрузку голосового сэмпла.
type VoiceUploadResponse struct {
	VoiceID          uuid.UUID `json:"voice_id"`
	Name             string    `json:"name"`
	DurationSeconds  float64   `json:"duration_seconds"`
	Exaggeration     float64   `json:"exaggeration"`
	IsDefault        bool      `json:"is_default"`
	EmbeddingsCached bool      `json:"embeddings_cached"`
}

// GenerateAudioRequest - тело запроса на озвучивание истории.
type GenerateAudioRequest struct {
	StoryID      string  `json:"storyId"`
	Text         string  `json:"text" binding:"required"`
	VoiceSample  string  `json:"voiceSample"`
	Speed        float64 `json:"speed"`
	Exaggeration float64 `json:"exaggeration"`
	Temperature  float64 `json:"temperature"`
	CfgWeight    float64 `json:"cfgWeight"`
}

// TaskStatusResponse - ответ на опрос статуса задачи озвучивания.
type TaskStatusResponse struct {
	TaskID                    string  `json:"task_id"`
	Status                    string  `json:"status"`
	Progress                  int     `json:"progress"`
	EstimatedSecondsRemaining float64 `json:"estimated_seconds_remaining"`
	AudioURL                  string  `json:"audio_url,omitempty"`
	DurationSeconds           float64 `json:"duration_seconds,omitempty"`
	Error                     string  `json:"error,omitempty"`
}

// GenerateStoryRequest - параметры генерации истории через LLM.
type GenerateStoryRequest struct {
	Theme  string `json:"theme" binding:"required"`
	Style  string `json:"style"`
	Tone   string `json:"tone"`
	Length string `json:"length"`
	Prompt string `json:"prompt"`
}

// EditStoryRequest - ручное редактирование текста истории.
type EditStoryRequest struct {
	Text string `json:"text" binding:"required"`
}

// ImproveStoryRequest - улучшение текста через LLM по инструкции.
type ImproveStoryRequest struct {
	StoryID     string `json:"storyId" binding:"required"`
	Instruction string `json:"instruction" binding:"required"`
}

// RepromptStoryRequest - перегенерация истории с новым промптом.
type RepromptStoryRequest struct {
	StoryID string `json:"storyId" binding:"required"`
	Prompt  string `json:"prompt" binding:"required"`
}
