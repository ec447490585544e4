package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narrator-server/internal/apperr"
	"narrator-server/internal/models"
)

// Стейтфул-фейки вместо моков: сценарии ротации токенов проще проверять
// на живом хранилище в памяти.

type fakeUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{nextID: 1, users: make(map[int64]*models.User)}
}

func (f *fakeUserRepo) CreateUser(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.ID = f.nextID
	f.nextID++
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeUserRepo) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeUserRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeUserRepo) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeUserRepo) UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

func (f *fakeUserRepo) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

type fakeTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]*models.RefreshToken)}
}

func (f *fakeTokenRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *token
	f.tokens[token.Token] = &copied
	return nil
}

func (f *fakeTokenRepo) GetRefreshToken(ctx context.Context, tokenStr string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tokens[tokenStr]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeTokenRepo) RevokeRefreshToken(ctx context.Context, tokenStr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tokens[tokenStr]; ok {
		t.Revoked = true
		now := time.Now()
		t.RevokedAt = &now
		return nil
	}
	return pgx.ErrNoRows
}

func (f *fakeTokenRepo) RevokeAllUserTokens(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

func (f *fakeTokenRepo) DeleteExpiredTokens(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for k, t := range f.tokens {
		if t.Revoked || t.ExpiresAt.Before(time.Now()) {
			delete(f.tokens, k)
			deleted++
		}
	}
	return deleted, nil
}

type fakeDenylist struct {
	mu     sync.Mutex
	denied map[string]bool
}

func newFakeDenylist() *fakeDenylist {
	return &fakeDenylist{denied: make(map[string]bool)}
}

func (f *fakeDenylist) Deny(ctx context.Context, token string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied[token] = true
	return nil
}

func (f *fakeDenylist) IsDenied(ctx context.Context, token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.denied[token]
}

func newTestService() (*Service, *fakeUserRepo, *fakeTokenRepo, *fakeDenylist) {
	users := newFakeUserRepo()
	tokens := newFakeTokenRepo()
	denylist := newFakeDenylist()
	svc := NewService(users, tokens, denylist, "test-jwt-secret", "test-salt")
	return svc, users, tokens, denylist
}

func register(t *testing.T, svc *Service) *TokenDetails {
	t.Helper()
	td, err := svc.Register(context.Background(), "testuser", "test@example.com", "password1")
	require.NoError(t, err)
	return td
}

func TestRegister(t *testing.T) {
	svc, users, _, _ := newTestService()

	// 1. Успешная регистрация сразу выдает пару токенов
	td := register(t, svc)
	assert.NotEmpty(t, td.AccessToken)
	assert.NotEmpty(t, td.RefreshToken)
	assert.Equal(t, "testuser", td.Username)

	// 2. Имя приводится к нижнему регистру, пароль не хранится открыто
	user, err := users.GetUserByUsername(context.Background(), "testuser")
	require.NoError(t, err)
	assert.NotEqual(t, "password1", user.PasswordHash)

	// 3. Повторная регистрация того же имени отклоняется
	_, err = svc.Register(context.Background(), "TestUser", "other@example.com", "password1")
	assert.ErrorIs(t, err, ErrUserAlreadyExists)

	// 4. Повторный email отклоняется
	_, err = svc.Register(context.Background(), "otheruser", "test@example.com", "password1")
	assert.ErrorIs(t, err, ErrUserAlreadyExists)
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.Register(context.Background(), "ab", "a@b.com", "password1")
	assert.ErrorIs(t, err, ErrInvalidUsernameLength)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Register(context.Background(), "validname", "a@b.com", "123")
	assert.ErrorIs(t, err, ErrInvalidPasswordLength)
}

func TestLogin(t *testing.T) {
	svc, users, _, _ := newTestService()
	register(t, svc)

	// 1. Верный пароль
	td, err := svc.Login(context.Background(), "testuser", "password1")
	require.NoError(t, err)
	assert.NotEmpty(t, td.AccessToken)

	// 2. Регистр имени не важен
	_, err = svc.Login(context.Background(), "TESTUSER", "password1")
	require.NoError(t, err)

	// 3. Время входа обновлено
	user, err := users.GetUserByUsername(context.Background(), "testuser")
	require.NoError(t, err)
	assert.NotNil(t, user.LastLoginAt)

	// 4. Неверный пароль
	_, err = svc.Login(context.Background(), "testuser", "wrongpass")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	// 5. Несуществующий пользователь
	_, err = svc.Login(context.Background(), "ghost", "password1")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestValidateAccessToken(t *testing.T) {
	svc, _, _, _ := newTestService()
	td := register(t, svc)

	// 1. Свежий токен валиден, claims заполнены
	claims, err := svc.ValidateAccessToken(context.Background(), td.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, td.UserID, claims.UserID)
	assert.Equal(t, "testuser", claims.Username)

	// 2. Мусорный токен
	_, err = svc.ValidateAccessToken(context.Background(), "garbage.token.here")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// 3. Токен, подписанный другим секретом
	other := NewService(newFakeUserRepo(), newFakeTokenRepo(), nil, "another-secret", "")
	_, err = other.ValidateAccessToken(context.Background(), td.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateExpiredAccessToken(t *testing.T) {
	svc, _, _, _ := newTestService()
	svc.SetTokenTTL(-time.Minute, time.Hour)
	td := register(t, svc)

	_, err := svc.ValidateAccessToken(context.Background(), td.AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestRefreshRotation(t *testing.T) {
	svc, _, tokens, _ := newTestService()
	td := register(t, svc)

	// 1. Обновление выдает новую пару
	fresh, err := svc.RefreshTokens(context.Background(), td.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, td.RefreshToken, fresh.RefreshToken)

	// 2. Старый refresh-токен отозван и повторно не принимается
	old, err := tokens.GetRefreshToken(context.Background(), td.RefreshToken)
	require.NoError(t, err)
	assert.True(t, old.Revoked)

	_, err = svc.RefreshTokens(context.Background(), td.RefreshToken)
	assert.ErrorIs(t, err, ErrRevokedToken)

	// 3. Новый токен работает
	_, err = svc.RefreshTokens(context.Background(), fresh.RefreshToken)
	assert.NoError(t, err)

	// 4. Неизвестный токен
	_, err = svc.RefreshTokens(context.Background(), "unknown-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshExpiredToken(t *testing.T) {
	svc, _, _, _ := newTestService()
	svc.SetTokenTTL(time.Hour, -time.Minute)
	td := register(t, svc)

	_, err := svc.RefreshTokens(context.Background(), td.RefreshToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestLogoutDeniesAccessToken(t *testing.T) {
	svc, _, tokens, denylist := newTestService()
	td := register(t, svc)

	require.NoError(t, svc.Logout(context.Background(), td.RefreshToken, td.AccessToken))

	// 1. Refresh-токен отозван
	stored, err := tokens.GetRefreshToken(context.Background(), td.RefreshToken)
	require.NoError(t, err)
	assert.True(t, stored.Revoked)

	// 2. Access-токен в денилисте и больше не проходит проверку
	assert.True(t, denylist.IsDenied(context.Background(), td.AccessToken))
	_, err = svc.ValidateAccessToken(context.Background(), td.AccessToken)
	assert.ErrorIs(t, err, ErrRevokedToken)
}

func TestLogoutAll(t *testing.T) {
	svc, _, _, _ := newTestService()
	td := register(t, svc)

	// Вторая сессия того же пользователя
	second, err := svc.Login(context.Background(), "testuser", "password1")
	require.NoError(t, err)

	require.NoError(t, svc.LogoutAll(context.Background(), td.UserID, td.AccessToken))

	_, err = svc.RefreshTokens(context.Background(), td.RefreshToken)
	assert.ErrorIs(t, err, ErrRevokedToken)
	_, err = svc.RefreshTokens(context.Background(), second.RefreshToken)
	assert.ErrorIs(t, err, ErrRevokedToken)
}

func TestChangePassword(t *testing.T) {
	svc, _, _, _ := newTestService()
	td := register(t, svc)

	// 1. Неверный старый пароль
	err := svc.ChangePassword(context.Background(), td.UserID, "wrongpass", "newpassword1")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	// 2. Слишком короткий новый пароль
	err = svc.ChangePassword(context.Background(), td.UserID, "password1", "123")
	assert.ErrorIs(t, err, ErrInvalidPasswordLength)

	// 3. Успешная смена: старый пароль перестает работать, refresh-токены отозваны
	require.NoError(t, svc.ChangePassword(context.Background(), td.UserID, "password1", "newpassword1"))

	_, err = svc.Login(context.Background(), "testuser", "password1")
	assert.ErrorIs(t, err, ErrInvalidPassword)
	_, err = svc.Login(context.Background(), "testuser", "newpassword1")
	assert.NoError(t, err)

	_, err = svc.RefreshTokens(context.Background(), td.RefreshToken)
	assert.ErrorIs(t, err, ErrRevokedToken)
}

func TestMe(t *testing.T) {
	svc, _, _, _ := newTestService()
	td := register(t, svc)

	user, err := svc.Me(context.Background(), td.UserID)
	require.NoError(t, err)
	assert.Equal(t, "testuser", user.Username)

	_, err = svc.Me(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
