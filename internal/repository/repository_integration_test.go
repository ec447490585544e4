package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"narrator-server/internal/database"
	"narrator-server/internal/models"
	"narrator-server/internal/repository"
)

// RepositoryTestSuite гоняет репозитории против реального PostgreSQL
// в контейнере. Миграции применяются встроенным мигратором, тем же,
// что и при старте сервера.
type RepositoryTestSuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	pool        *pgxpool.Pool
	users       *repository.UserRepository
	tokens      *repository.TokenRepository
	voices      *repository.VoiceRepository
	stories     *repository.StoryRepository
}

func (s *RepositoryTestSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error

	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start postgres container")

	connStr, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err, "Failed to get postgres connection string")

	s.pool, err = pgxpool.New(s.ctx, connStr)
	require.NoError(s.T(), err, "Failed to connect to test postgres")

	require.NoError(s.T(), database.ApplyMigrations(s.ctx, s.pool), "Failed to apply migrations")

	s.users = repository.NewUserRepository(s.pool)
	s.tokens = repository.NewTokenRepository(s.pool)
	s.voices = repository.NewVoiceRepository(s.pool)
	s.stories = repository.NewStoryRepository(s.pool)
}

func (s *RepositoryTestSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(s.ctx)
	}
}

// Перед каждым тестом чистим таблицы, системного пользователя из миграции
// оставляем на месте.
func (s *RepositoryTestSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, `DELETE FROM stories`)
	require.NoError(s.T(), err)
	_, err = s.pool.Exec(s.ctx, `DELETE FROM voice_profiles`)
	require.NoError(s.T(), err)
	_, err = s.pool.Exec(s.ctx, `DELETE FROM refresh_tokens`)
	require.NoError(s.T(), err)
	_, err = s.pool.Exec(s.ctx, `DELETE FROM users WHERE id <> 1`)
	require.NoError(s.T(), err)
}

func (s *RepositoryTestSuite) createUser(username string) *models.User {
	s.T().Helper()
	user := &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "$2a$10$fakehashfortests",
		IsActive:     true,
	}
	require.NoError(s.T(), s.users.CreateUser(s.ctx, user))
	require.NotZero(s.T(), user.ID)
	return user
}

func (s *RepositoryTestSuite) TestUserLifecycle() {
	// 1. Создание и чтение по имени, email, идентификатору
	user := s.createUser("alice")

	byName, err := s.users.GetUserByUsername(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal(user.ID, byName.ID)

	byEmail, err := s.users.GetUserByEmail(s.ctx, "alice@example.com")
	s.Require().NoError(err)
	s.Equal(user.ID, byEmail.ID)

	byID, err := s.users.GetUserByID(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Equal("alice", byID.Username)

	// 2. Неизвестный пользователь дает pgx.ErrNoRows
	_, err = s.users.GetUserByUsername(s.ctx, "ghost")
	s.True(errors.Is(err, pgx.ErrNoRows), "expected pgx.ErrNoRows, got %v", err)

	// 3. Дубликат имени нарушает уникальность
	dup := &models.User{Username: "alice", Email: "other@example.com", PasswordHash: "x"}
	s.Error(s.users.CreateUser(s.ctx, dup))

	// 4. Обновление времени входа и пароля
	loginAt := time.Now().UTC().Truncate(time.Millisecond)
	s.Require().NoError(s.users.UpdateLastLogin(s.ctx, user.ID, loginAt))
	s.Require().NoError(s.users.UpdatePassword(s.ctx, user.ID, "newhash"))

	updated, err := s.users.GetUserByID(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Require().NotNil(updated.LastLoginAt)
	s.WithinDuration(loginAt, *updated.LastLoginAt, time.Second)
	s.Equal("newhash", updated.PasswordHash)
}

func (s *RepositoryTestSuite) TestRefreshTokenLifecycle() {
	user := s.createUser("bob")

	token := &models.RefreshToken{
		UserID:    user.ID,
		Token:     "refresh-token-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	s.Require().NoError(s.tokens.CreateRefreshToken(s.ctx, token))

	// 1. Токен читается и не отозван
	stored, err := s.tokens.GetRefreshToken(s.ctx, "refresh-token-1")
	s.Require().NoError(err)
	s.Equal(user.ID, stored.UserID)
	s.False(stored.Revoked)

	// 2. Отзыв проставляет флаг и время
	s.Require().NoError(s.tokens.RevokeRefreshToken(s.ctx, "refresh-token-1"))
	stored, err = s.tokens.GetRefreshToken(s.ctx, "refresh-token-1")
	s.Require().NoError(err)
	s.True(stored.Revoked)
	s.NotNil(stored.RevokedAt)

	// 3. Массовый отзыв всех токенов пользователя
	second := &models.RefreshToken{UserID: user.ID, Token: "refresh-token-2", ExpiresAt: time.Now().Add(time.Hour)}
	s.Require().NoError(s.tokens.CreateRefreshToken(s.ctx, second))
	s.Require().NoError(s.tokens.RevokeAllUserTokens(s.ctx, user.ID))
	stored, err = s.tokens.GetRefreshToken(s.ctx, "refresh-token-2")
	s.Require().NoError(err)
	s.True(stored.Revoked)

	// 4. Очистка удаляет истекшие и отозванные
	expired := &models.RefreshToken{UserID: user.ID, Token: "refresh-token-3", ExpiresAt: time.Now().Add(-time.Hour)}
	s.Require().NoError(s.tokens.CreateRefreshToken(s.ctx, expired))
	deleted, err := s.tokens.DeleteExpiredTokens(s.ctx)
	s.Require().NoError(err)
	s.GreaterOrEqual(deleted, int64(3))
	_, err = s.tokens.GetRefreshToken(s.ctx, "refresh-token-3")
	s.True(errors.Is(err, pgx.ErrNoRows))
}

func (s *RepositoryTestSuite) TestVoiceProfiles() {
	user := s.createUser("carol")

	first := &models.VoiceProfile{
		ID:              uuid.New(),
		UserID:          user.ID,
		Name:            "Мой голос",
		AudioPath:       "/voices/first.wav",
		SampleRate:      24000,
		DurationSeconds: 12.5,
		Exaggeration:    0.5,
		IsDefault:       true,
	}
	s.Require().NoError(s.voices.CreateVoiceProfile(s.ctx, first))

	// 1. Голос по умолчанию находится
	def, err := s.voices.GetDefaultVoice(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Equal(first.ID, def.ID)

	// 2. Второй дефолтный снимает флаг с первого, частичный индекс не нарушается
	second := &models.VoiceProfile{
		ID:              uuid.New(),
		UserID:          user.ID,
		Name:            "Второй голос",
		AudioPath:       "/voices/second.wav",
		SampleRate:      24000,
		DurationSeconds: 8.0,
		Exaggeration:    0.7,
		IsDefault:       true,
	}
	s.Require().NoError(s.voices.CreateVoiceProfile(s.ctx, second))

	def, err = s.voices.GetDefaultVoice(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Equal(second.ID, def.ID)

	profiles, err := s.voices.ListVoicesByUser(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Len(profiles, 2)

	// 3. SetDefault возвращает флаг первому; чужой id дает pgx.ErrNoRows
	s.Require().NoError(s.voices.SetDefault(s.ctx, user.ID, first.ID))
	def, err = s.voices.GetDefaultVoice(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Equal(first.ID, def.ID)

	err = s.voices.SetDefault(s.ctx, user.ID+1000, first.ID)
	s.True(errors.Is(err, pgx.ErrNoRows))

	// 4. Эмбеддинг и статистика использования
	s.Require().NoError(s.voices.UpdateEmbedding(s.ctx, first.ID, "/emb/first_exag0.80.pt", 0.8))
	s.Require().NoError(s.voices.IncrementUsage(s.ctx, first.ID))

	stored, err := s.voices.GetVoiceByID(s.ctx, first.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored.EmbeddingPath)
	s.Equal("/emb/first_exag0.80.pt", *stored.EmbeddingPath)
	s.InDelta(0.8, stored.Exaggeration, 1e-9)
	s.Equal(1, stored.UsageCount)
	s.NotNil(stored.LastUsedAt)

	// 5. Удаление
	s.Require().NoError(s.voices.DeleteVoice(s.ctx, second.ID))
	_, err = s.voices.GetVoiceByID(s.ctx, second.ID)
	s.True(errors.Is(err, pgx.ErrNoRows))
	s.True(errors.Is(s.voices.DeleteVoice(s.ctx, second.ID), pgx.ErrNoRows))
}

func (s *RepositoryTestSuite) TestStories() {
	user := s.createUser("dave")

	story := &models.Story{
		ID:             uuid.New(),
		UserID:         &user.ID,
		Text:           "Жил-был кот.",
		Title:          "Кот",
		Preview:        "Жил-был кот.",
		ThumbnailColor: "#A78BFA",
		Theme:          "fantasy",
		Style:          "adventure",
		Tone:           "warm",
		Length:         "short",
		Metadata:       map[string]any{"prompt": "сказка про кота"},
	}
	s.Require().NoError(s.stories.CreateStory(s.ctx, story))
	s.False(story.CreatedAt.IsZero())

	// 1. Чтение обратно вместе с metadata
	stored, err := s.stories.GetStoryByID(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Equal("Кот", stored.Title)
	s.Equal("сказка про кота", stored.Metadata["prompt"])
	s.Nil(stored.AudioURL)

	// 2. Обновление текста и производных полей
	stored.Text = "Жил-был очень страшный кот."
	stored.Title = "Страшный кот"
	stored.ThumbnailColor = "#1F2937"
	s.Require().NoError(s.stories.UpdateStoryText(s.ctx, stored))

	reread, err := s.stories.GetStoryByID(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Equal("Страшный кот", reread.Title)
	s.Equal("#1F2937", reread.ThumbnailColor)

	// 3. Привязка аудио
	s.Require().NoError(s.stories.AttachAudio(s.ctx, story.ID, "http://localhost:8080/audio/story_x.wav"))
	reread, err = s.stories.GetStoryByID(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Require().NotNil(reread.AudioURL)
	s.Equal("http://localhost:8080/audio/story_x.wav", *reread.AudioURL)

	s.True(errors.Is(s.stories.AttachAudio(s.ctx, uuid.New(), "x"), pgx.ErrNoRows))

	// 4. Список пользователя с пагинацией
	otherStory := &models.Story{
		ID:       uuid.New(),
		UserID:   &user.ID,
		Text:     "Вторая история.",
		Metadata: map[string]any{},
	}
	s.Require().NoError(s.stories.CreateStory(s.ctx, otherStory))

	list, err := s.stories.ListStories(s.ctx, user.ID, 20, 0)
	s.Require().NoError(err)
	s.Len(list, 2)

	page, err := s.stories.ListStories(s.ctx, user.ID, 1, 1)
	s.Require().NoError(err)
	s.Len(page, 1)

	// 5. Удаление
	s.Require().NoError(s.stories.DeleteStory(s.ctx, story.ID))
	_, err = s.stories.GetStoryByID(s.ctx, story.ID)
	s.True(errors.Is(err, pgx.ErrNoRows))
}

func (s *RepositoryTestSuite) TestSystemUserSeeded() {
	// Миграция создает системный аккаунт, владеющий общими голосами
	system, err := s.users.GetUserByID(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal("system", system.Username)

	// Новые пользователи получают id > 1, sequence сдвинут
	user := s.createUser("erin")
	s.Greater(user.ID, int64(1))
}

func TestRepositoryTestSuite(t *testing.T) {
	// Требует работающий Docker
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(RepositoryTestSuite))
}
