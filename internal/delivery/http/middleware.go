package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"narrator-server/internal/auth"
	"narrator-server/internal/models"
)

const (
	ctxKeyUserID   = "user_id"
	ctxKeyUsername = "username"
)

// bearerToken извлекает access-токен из заголовка Authorization.
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware требует валидный access-токен и кладет user_id в контекст.
func AuthMiddleware(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error: "отсутствует или некорректен заголовок Authorization",
				Code:  errCodeUnauthorized,
			})
			return
		}

		claims, err := authService.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			log.Ctx(c.Request.Context()).Warn().Err(err).Msg("Проверка access-токена не прошла")
			handleServiceError(c, err)
			return
		}

		c.Set(ctxKeyUserID, claims.UserID)
		c.Set(ctxKeyUsername, claims.Username)
		c.Next()
	}
}

// OptionalAuthMiddleware распознает пользователя, если токен передан и валиден,
// но пропускает запрос и без него. Используется публичными маршрутами
// генерации: анонимы получают системный голос и неперсистентные истории.
func OptionalAuthMiddleware(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}

		claims, err := authService.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			// Токен передан, но невалиден: трактуем как анонимный запрос.
			log.Ctx(c.Request.Context()).Debug().Err(err).Msg("Опциональный токен отклонен, запрос продолжается анонимно")
			c.Next()
			return
		}

		c.Set(ctxKeyUserID, claims.UserID)
		c.Set(ctxKeyUsername, claims.Username)
		c.Next()
	}
}

// requireUserID возвращает идентификатор аутентифицированного пользователя.
func requireUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ctxKeyUserID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
			Error: "требуется аутентификация",
			Code:  errCodeUnauthorized,
		})
		return 0, false
	}
	return v.(int64), true
}

// optionalUserID возвращает указатель на user_id либо nil для анонима.
func optionalUserID(c *gin.Context) *int64 {
	v, ok := c.Get(ctxKeyUserID)
	if !ok {
		return nil
	}
	id := v.(int64)
	return &id
}

// RequestLogger пишет структурированную запись на каждый запрос и
// прокидывает логгер в контекст запроса для нижележащих слоев.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		reqLogger := logger.With().
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Logger()
		c.Request = c.Request.WithContext(reqLogger.WithContext(c.Request.Context()))

		c.Next()

		status := c.Writer.Status()
		event := reqLogger.Info()
		if status >= http.StatusInternalServerError {
			event = reqLogger.Error()
		}
		event.Int("status", status).Str("client_ip", c.ClientIP()).Msg("HTTP запрос обработан")
	}
}
