package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"narrator-server/internal/auth"
	"narrator-server/internal/models"
	"narrator-server/internal/synthesis"
	"narrator-server/pkg/taskmanager"
)

// TTSHandler обслуживает маршруты /tts/*.
type TTSHandler struct {
	orchestrator *synthesis.Orchestrator
	authService  *auth.Service
}

func NewTTSHandler(orchestrator *synthesis.Orchestrator, authService *auth.Service) *TTSHandler {
	return &TTSHandler{orchestrator: orchestrator, authService: authService}
}

func (h *TTSHandler) RegisterRoutes(router *gin.Engine) {
	grp := router.Group("/tts", OptionalAuthMiddleware(h.authService))
	{
		grp.POST("/generate", h.generate)
		grp.GET("/status/:id", h.status)
		grp.GET("/progress/:id", h.progressWS)
	}
}

// @Summary Запуск озвучивания истории
// @Description Ставит фоновую задачу синтеза и сразу возвращает её идентификатор
// @Tags tts
// @Accept json
// @Produce json
// @Param request body models.GenerateAudioRequest true "Текст и параметры синтеза"
// @Success 202 {object} map[string]string "Задача поставлена"
// @Failure 400 {object} models.ErrorResponse "Пустой текст или параметры вне диапазона"
// @Failure 500 {object} models.ErrorResponse "Бэкенд синтеза не сконфигурирован"
// @Router /tts/generate [post]
func (h *TTSHandler) generate(c *gin.Context) {
	var req models.GenerateAudioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "некорректное тело запроса: "+err.Error())
		return
	}

	taskID, err := h.orchestrator.SubmitGeneration(c.Request.Context(), synthesis.GenerateInput{
		StoryID:  req.StoryID,
		Text:     req.Text,
		VoiceRef: req.VoiceSample,
		UserID:   optionalUserID(c),
		Params: synthesis.Params{
			Speed:        req.Speed,
			Exaggeration: req.Exaggeration,
			Temperature:  req.Temperature,
			CfgWeight:    req.CfgWeight,
		},
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID.String(), "status": string(taskmanager.TaskStatusQueued)})
}

// @Summary Статус задачи озвучивания
// @Tags tts
// @Produce json
// @Param id path string true "Идентификатор задачи"
// @Success 200 {object} models.TaskStatusResponse "Текущее состояние задачи"
// @Failure 404 {object} models.ErrorResponse "Задача не найдена"
// @Router /tts/status/{id} [get]
func (h *TTSHandler) status(c *gin.Context) {
	taskID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "некорректный идентификатор задачи: "+c.Param("id"))
		return
	}

	task, err := h.orchestrator.TaskStatus(taskID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, taskStatusResponse(task))
}

func taskStatusResponse(task taskmanager.Task) models.TaskStatusResponse {
	resp := models.TaskStatusResponse{
		TaskID:                    task.ID.String(),
		Status:                    string(task.Status),
		Progress:                  task.Progress,
		EstimatedSecondsRemaining: synthesis.EstimateSecondsRemaining(task),
	}
	switch task.Status {
	case taskmanager.TaskStatusCompleted:
		if result, ok := task.Result.(*synthesis.Result); ok {
			resp.AudioURL = result.AudioURL
			resp.DurationSeconds = result.DurationSeconds
		}
	case taskmanager.TaskStatusFailed:
		resp.Error = task.Message
	}
	return resp
}
