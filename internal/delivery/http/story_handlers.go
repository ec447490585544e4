package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"narrator-server/internal/auth"
	"narrator-server/internal/models"
	"narrator-server/internal/story"
)

// StoryHandler обслуживает маршруты /story/*.
type StoryHandler struct {
	storyService *story.Service
	authService  *auth.Service
}

func NewStoryHandler(storyService *story.Service, authService *auth.Service) *StoryHandler {
	return &StoryHandler{storyService: storyService, authService: authService}
}

func (h *StoryHandler) RegisterRoutes(router *gin.Engine) {
	// Генерация и чтение доступны анониму, но без сохранения в его витрину.
	open := router.Group("/story", OptionalAuthMiddleware(h.authService))
	{
		open.POST("/generate", h.generate)
		open.POST("/:id/edit", h.edit)
		open.POST("/ai-improve", h.aiImprove)
		open.POST("/reprompt", h.reprompt)
		open.GET("/:id", h.get)
		open.DELETE("/:id", h.deleteStory)
	}
	authed := router.Group("/story", AuthMiddleware(h.authService))
	{
		authed.GET("/list", h.list)
	}
}

func parseStoryID(c *gin.Context, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		badRequest(c, "некорректный идентификатор истории: "+raw)
		return uuid.UUID{}, false
	}
	return id, true
}

// @Summary Генерация истории
// @Description Генерирует историю через LLM по теме, стилю и тону
// @Tags story
// @Accept json
// @Produce json
// @Param request body models.GenerateStoryRequest true "Параметры генерации"
// @Success 201 {object} models.Story "Сгенерированная история"
// @Failure 502 {object} models.ErrorResponse "LLM недоступна"
// @Router /story/generate [post]
func (h *StoryHandler) generate(c *gin.Context) {
	var req models.GenerateStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "некорректное тело запроса: "+err.Error())
		return
	}

	st, err := h.storyService.Generate(c.Request.Context(), optionalUserID(c), req)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, st)
}

// @Summary Ручное редактирование истории
// @Description Заменяет текст и пересчитывает производные поля
// @Tags story
// @Accept json
// @Produce json
// @Param id path string true "Идентификатор истории"
// @Param request body models.EditStoryRequest true "Новый текст"
// @Success 200 {object} models.Story "Обновленная история"
// @Failure 403 {object} models.ErrorResponse "История принадлежит другому пользователю"
// @Router /story/{id}/edit [post]
func (h *StoryHandler) edit(c *gin.Context) {
	storyID, ok := parseStoryID(c, c.Param("id"))
	if !ok {
		return
	}

	var req models.EditStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "некорректное тело запроса: "+err.Error())
		return
	}

	st, err := h.storyService.Edit(c.Request.Context(), optionalUserID(c), storyID, req.Text)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

// @Summary Улучшение истории через LLM
// @Tags story
// @Accept json
// @Produce json
// @Param request body models.ImproveStoryRequest true "Инструкция для улучшения"
// @Success 200 {object} models.Story "Улучшенная история"
// @Router /story/ai-improve [post]
func (h *StoryHandler) aiImprove(c *gin.Context) {
	var req models.ImproveStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "некорректное тело запроса: "+err.Error())
		return
	}
	storyID, ok := parseStoryID(c, req.StoryID)
	if !ok {
		return
	}

	st, err := h.storyService.AIImprove(c.Request.Context(), optionalUserID(c), storyID, req.Instruction)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

// @Summary Перегенерация истории с новым промптом
// @Tags story
// @Accept json
// @Produce json
// @Param request body models.RepromptStoryRequest true "Новый промпт"
// @Success 200 {object} models.Story "Перегенерированная история"
// @Router /story/reprompt [post]
func (h *StoryHandler) reprompt(c *gin.Context) {
	var req models.RepromptStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "некорректное тело запроса: "+err.Error())
		return
	}
	storyID, ok := parseStoryID(c, req.StoryID)
	if !ok {
		return
	}

	st, err := h.storyService.Reprompt(c.Request.Context(), optionalUserID(c), storyID, req.Prompt)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

// @Summary Получение истории
// @Tags story
// @Produce json
// @Param id path string true "Идентификатор истории"
// @Success 200 {object} models.Story "История"
// @Failure 404 {object} models.ErrorResponse "История не найдена"
// @Router /story/{id} [get]
func (h *StoryHandler) get(c *gin.Context) {
	storyID, ok := parseStoryID(c, c.Param("id"))
	if !ok {
		return
	}

	st, err := h.storyService.Get(c.Request.Context(), optionalUserID(c), storyID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

// @Summary Список историй пользователя
// @Tags story
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Размер страницы, по умолчанию 20"
// @Param offset query int false "Смещение"
// @Success 200 {object} map[string]interface{} "Страница историй"
// @Router /story/list [get]
func (h *StoryHandler) list(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	stories, err := h.storyService.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stories": stories, "count": len(stories)})
}

// @Summary Удаление истории
// @Tags story
// @Produce json
// @Param id path string true "Идентификатор истории"
// @Success 200 {object} map[string]string "История удалена"
// @Failure 403 {object} models.ErrorResponse "История принадлежит другому пользователю"
// @Router /story/{id} [delete]
func (h *StoryHandler) deleteStory(c *gin.Context) {
	storyID, ok := parseStoryID(c, c.Param("id"))
	if !ok {
		return
	}

	if err := h.storyService.Delete(c.Request.Context(), optionalUserID(c), storyID); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "история удалена"})
}
