// Package auth реализует учетные записи: пароли, JWT и ротацию refresh-токенов.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"narrator-server/internal/apperr"
	"narrator-server/internal/models"
)

// Ограничения для валидации учетных данных.
const (
	MinUsernameLength = 4
	MaxUsernameLength = 32
	MinPasswordLength = 6
	MaxPasswordLength = 100
)

var (
	ErrUserNotFound          = fmt.Errorf("%w: пользователь не найден", apperr.ErrNotFound)
	ErrInvalidPassword       = fmt.Errorf("%w: неверный пароль", apperr.ErrValidation)
	ErrUserAlreadyExists     = fmt.Errorf("%w: пользователь уже существует", apperr.ErrValidation)
	ErrInvalidToken          = errors.New("недействительный токен")
	ErrExpiredToken          = errors.New("истекший токен")
	ErrRevokedToken          = errors.New("отозванный токен")
	ErrInvalidUsernameLength = fmt.Errorf("%w: длина имени пользователя должна быть от 4 до 32 символов", apperr.ErrValidation)
	ErrInvalidPasswordLength = fmt.Errorf("%w: длина пароля должна быть от 6 до 100 символов", apperr.ErrValidation)
)

// CustomClaims определяет структуру для наших JWT claims
type CustomClaims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// TokenDetails содержит информацию о сгенерированных токенах
type TokenDetails struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// UserRepository интерфейс для доступа к данным пользователей
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, userID int64) (*models.User, error)
	UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error
}

// TokenRepository интерфейс для работы с refresh-токенами
type TokenRepository interface {
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	GetRefreshToken(ctx context.Context, tokenStr string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenStr string) error
	RevokeAllUserTokens(ctx context.Context, userID int64) error
	DeleteExpiredTokens(ctx context.Context) (int64, error)
}

// Denylist интерфейс денилиста access-токенов
type Denylist interface {
	Deny(ctx context.Context, token string, ttl time.Duration) error
	IsDenied(ctx context.Context, token string) bool
}

// Service предоставляет методы для работы с аутентификацией
type Service struct {
	users           UserRepository
	tokens          TokenRepository
	denylist        Denylist
	jwtSecret       []byte
	passwordSalt    string
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

// NewService создает новый экземпляр сервиса аутентификации
func NewService(users UserRepository, tokens TokenRepository, denylist Denylist, jwtSecret, passwordSalt string) *Service {
	return &Service{
		users:           users,
		tokens:          tokens,
		denylist:        denylist,
		jwtSecret:       []byte(jwtSecret),
		passwordSalt:    passwordSalt,
		accessTokenTTL:  1 * time.Hour,
		refreshTokenTTL: 7 * 24 * time.Hour,
	}
}

// SetTokenTTL устанавливает время жизни токенов.
func (s *Service) SetTokenTTL(accessTTL, refreshTTL time.Duration) {
	s.accessTokenTTL = accessTTL
	s.refreshTokenTTL = refreshTTL
}

// Генерация случайного значения для refresh token
func generateRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// Register регистрирует нового пользователя и сразу выдает пару токенов.
func (s *Service) Register(ctx context.Context, username, email, password string) (*TokenDetails, error) {
	if len(username) < MinUsernameLength || len(username) > MaxUsernameLength {
		return nil, ErrInvalidUsernameLength
	}
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return nil, ErrInvalidPasswordLength
	}

	lowercaseUsername := strings.ToLower(username)

	// Проверяем, существует ли пользователь с таким username
	_, err := s.users.GetUserByUsername(ctx, lowercaseUsername)
	if err == nil {
		return nil, ErrUserAlreadyExists
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ошибка при проверке существования пользователя: %w", err)
	}

	// Проверяем, существует ли пользователь с таким email
	_, err = s.users.GetUserByEmail(ctx, email)
	if err == nil {
		return nil, ErrUserAlreadyExists
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ошибка при проверке email: %w", err)
	}

	hashedPassword, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     lowercaseUsername,
		Email:        strings.ToLower(email),
		PasswordHash: hashedPassword,
		IsActive:     true,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("ошибка при создании пользователя: %w", err)
	}

	return s.CreateTokens(ctx, user)
}

// Login проверяет учетные данные и возвращает детали токенов
func (s *Service) Login(ctx context.Context, username, password string) (*TokenDetails, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.ToLower(username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("ошибка при поиске пользователя: %w", err)
	}

	// Добавляем соль к паролю перед сравнением
	saltedPassword := password + s.passwordSalt
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(saltedPassword)); err != nil {
		return nil, ErrInvalidPassword
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, time.Now()); err != nil {
		log.Ctx(ctx).Warn().Err(err).Int64("userID", user.ID).Msg("Не удалось обновить время входа")
	}

	return s.CreateTokens(ctx, user)
}

// CreateTokens генерирует пару токенов (access и refresh)
func (s *Service) CreateTokens(ctx context.Context, user *models.User) (*TokenDetails, error) {
	tokenDetails := &TokenDetails{
		UserID:    user.ID,
		Username:  user.Username,
		ExpiresAt: time.Now().Add(s.accessTokenTTL),
	}

	claims := CustomClaims{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(tokenDetails.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   fmt.Sprintf("%d", user.ID),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	accessToken, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("ошибка при создании токена доступа: %w", err)
	}
	tokenDetails.AccessToken = accessToken

	refreshToken, err := generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("ошибка при генерации токена обновления: %w", err)
	}
	tokenDetails.RefreshToken = refreshToken

	refreshTokenObj := &models.RefreshToken{
		UserID:    user.ID,
		Token:     refreshToken,
		ExpiresAt: time.Now().Add(s.refreshTokenTTL),
	}
	if err := s.tokens.CreateRefreshToken(ctx, refreshTokenObj); err != nil {
		return nil, fmt.Errorf("ошибка при сохранении токена обновления: %w", err)
	}

	return tokenDetails, nil
}

// ValidateAccessToken проверяет действительность токена доступа
func (s *Service) ValidateAccessToken(ctx context.Context, tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	// Отозванный access-токен недействителен до истечения срока.
	if s.denylist != nil && s.denylist.IsDenied(ctx, tokenString) {
		return nil, ErrRevokedToken
	}

	return claims, nil
}

// RefreshTokens обновляет токены с использованием refresh token. Старый
// токен отзывается (ротация).
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (*TokenDetails, error) {
	tokenObj, err := s.tokens.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("ошибка при поиске токена обновления: %w", err)
	}

	// Отозванный или истекший токен не принимается независимо от подписи.
	if tokenObj.Revoked {
		return nil, ErrRevokedToken
	}
	if tokenObj.ExpiresAt.Before(time.Now()) {
		return nil, ErrExpiredToken
	}

	user, err := s.users.GetUserByID(ctx, tokenObj.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("ошибка при поиске пользователя: %w", err)
	}

	if err := s.tokens.RevokeRefreshToken(ctx, refreshToken); err != nil {
		return nil, fmt.Errorf("ошибка при отзыве старого токена: %w", err)
	}

	return s.CreateTokens(ctx, user)
}

// Logout отзывает refresh-токен и заносит предъявленный access-токен в денилист.
func (s *Service) Logout(ctx context.Context, refreshToken, accessToken string) error {
	if err := s.tokens.RevokeRefreshToken(ctx, refreshToken); err != nil {
		return err
	}
	s.denyAccessToken(ctx, accessToken)
	return nil
}

// LogoutAll отзывает все refresh-токены пользователя.
func (s *Service) LogoutAll(ctx context.Context, userID int64, accessToken string) error {
	if err := s.tokens.RevokeAllUserTokens(ctx, userID); err != nil {
		return err
	}
	s.denyAccessToken(ctx, accessToken)
	return nil
}

// ChangePassword меняет пароль и отзывает все refresh-токены пользователя.
func (s *Service) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	if len(newPassword) < MinPasswordLength || len(newPassword) > MaxPasswordLength {
		return ErrInvalidPasswordLength
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("ошибка при поиске пользователя: %w", err)
	}

	saltedOld := oldPassword + s.passwordSalt
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(saltedOld)); err != nil {
		return ErrInvalidPassword
	}

	hashedPassword, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hashedPassword); err != nil {
		return err
	}

	// Все выданные ранее refresh-токены перестают действовать.
	if err := s.tokens.RevokeAllUserTokens(ctx, userID); err != nil {
		return fmt.Errorf("ошибка при отзыве токенов после смены пароля: %w", err)
	}
	return nil
}

// Me возвращает профиль пользователя.
func (s *Service) Me(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("ошибка при поиске пользователя: %w", err)
	}
	return user, nil
}

// RunTokenCleanup периодически удаляет истекшие и отозванные refresh-токены
// до отмены контекста.
func (s *Service) RunTokenCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.tokens.DeleteExpiredTokens(ctx)
			if err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("Ошибка очистки refresh-токенов")
				continue
			}
			if deleted > 0 {
				log.Ctx(ctx).Info().Int64("deleted", deleted).Msg("Очищены истекшие refresh-токены")
			}
		}
	}
}

func (s *Service) hashPassword(password string) (string, error) {
	saltedPassword := password + s.passwordSalt
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(saltedPassword), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("ошибка при хешировании пароля: %w", err)
	}
	return string(hashedPassword), nil
}

func (s *Service) denyAccessToken(ctx context.Context, accessToken string) {
	if s.denylist == nil || accessToken == "" {
		return
	}
	// TTL равен остатку срока действия access-токена.
	ttl := s.accessTokenTTL
	if claims, err := s.parseClaimsUnchecked(accessToken); err == nil && claims.ExpiresAt != nil {
		if remaining := time.Until(claims.ExpiresAt.Time); remaining > 0 {
			ttl = remaining
		}
	}
	if err := s.denylist.Deny(ctx, accessToken, ttl); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Не удалось занести access-токен в денилист")
	}
}

func (s *Service) parseClaimsUnchecked(tokenString string) (*CustomClaims, error) {
	claims := &CustomClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(tokenString, claims)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
