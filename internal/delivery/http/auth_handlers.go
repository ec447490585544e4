package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"narrator-server/internal/auth"
	"narrator-server/internal/models"
)

// AuthHandler обслуживает маршруты /auth/*.
type AuthHandler struct {
	authService *auth.Service
}

func NewAuthHandler(authService *auth.Service) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) RegisterRoutes(router *gin.Engine) {
	grp := router.Group("/auth")
	{
		grp.POST("/register", h.register)
		grp.POST("/login", h.login)
		grp.POST("/refresh", h.refresh)
		grp.POST("/logout", h.logout)
	}
	authed := router.Group("/auth", AuthMiddleware(h.authService))
	{
		authed.POST("/logout-all", h.logoutAll)
		authed.GET("/me", h.me)
		authed.POST("/change-password", h.changePassword)
	}
}

func tokenResponse(td *auth.TokenDetails) models.TokenResponse {
	return models.TokenResponse{
		AccessToken:  td.AccessToken,
		RefreshToken: td.RefreshToken,
		ExpiresAt:    td.ExpiresAt.Unix(),
	}
}

// @Summary Регистрация нового пользователя
// @Description Создает аккаунт и сразу выдает пару токенов
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.RegisterRequest true "Данные для регистрации"
// @Success 201 {object} models.TokenResponse "Успешная регистрация"
// @Failure 400 {object} models.ErrorResponse "Неверные данные запроса"
// @Router /auth/register [post]
func (h *AuthHandler) register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "некорректное тело запроса: "+err.Error())
		return
	}

	tokens, err := h.authService.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	log.Ctx(c.Request.Context()).Info().Int64("user_id", tokens.UserID).Msg("Пользователь зарегистрирован")
	c.JSON(http.StatusCreated, tokenResponse(tokens))
}

// @Summary Вход пользователя
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.LoginRequest true "Учетные данные"
// @Success 200 {object} models.TokenResponse "Пара токенов"
// @Failure 401 {object} models.ErrorResponse "Неверный логин или пароль"
// @Router /auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "некорректное тело запроса: "+err.Error())
		return
	}

	tokens, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenResponse(tokens))
}

// @Summary Обновление пары токенов
// @Description Старый refresh-токен отзывается, выдается новая пара
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.RefreshRequest true "Refresh-токен"
// @Success 200 {object} models.TokenResponse "Новая пара токенов"
// @Failure 401 {object} models.ErrorResponse "Токен невалиден, отозван или просрочен"
// @Router /auth/refresh [post]
func (h *AuthHandler) refresh(c *gin.Context) {
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "некорректное тело запроса: "+err.Error())
		return
	}

	tokens, err := h.authService.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenResponse(tokens))
}

// @Summary Выход из сессии
// @Description Отзывает refresh-токен и блокирует текущий access-токен
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.RefreshRequest true "Refresh-токен сессии"
// @Success 200 {object} map[string]string "Выход выполнен"
// @Router /auth/logout [post]
func (h *AuthHandler) logout(c *gin.Context) {
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "некорректное тело запроса: "+err.Error())
		return
	}

	accessToken, _ := bearerToken(c)
	if err := h.authService.Logout(c.Request.Context(), req.RefreshToken, accessToken); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "выход выполнен"})
}

// @Summary Выход из всех сессий
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]string "Все сессии завершены"
// @Router /auth/logout-all [post]
func (h *AuthHandler) logoutAll(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	accessToken, _ := bearerToken(c)
	if err := h.authService.LogoutAll(c.Request.Context(), userID, accessToken); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "все сессии завершены"})
}

// @Summary Текущий пользователь
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.User "Профиль пользователя"
// @Router /auth/me [get]
func (h *AuthHandler) me(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	user, err := h.authService.Me(c.Request.Context(), userID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

// @Summary Смена пароля
// @Description Меняет пароль и отзывает все refresh-токены пользователя
// @Tags auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.ChangePasswordRequest true "Старый и новый пароли"
// @Success 200 {object} map[string]string "Пароль изменен"
// @Failure 401 {object} models.ErrorResponse "Старый пароль неверен"
// @Router /auth/change-password [post]
func (h *AuthHandler) changePassword(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "некорректное тело запроса: "+err.Error())
		return
	}

	if err := h.authService.ChangePassword(c.Request.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "пароль изменен"})
}
