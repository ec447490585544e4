package http

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"narrator-server/internal/auth"
	"narrator-server/internal/models"
	"narrator-server/internal/voice"
)

// Предел размера загружаемого сэмпла. Минута несжатого WAV 48кГц стерео
// занимает около 11 МБ, лимит берется с запасом.
const maxUploadBytes = 32 << 20

// VoiceHandler обслуживает маршруты /voice/*.
type VoiceHandler struct {
	voiceService *voice.Service
	authService  *auth.Service
}

func NewVoiceHandler(voiceService *voice.Service, authService *auth.Service) *VoiceHandler {
	return &VoiceHandler{voiceService: voiceService, authService: authService}
}

func (h *VoiceHandler) RegisterRoutes(router *gin.Engine) {
	grp := router.Group("/voice", AuthMiddleware(h.authService))
	{
		grp.POST("/upload", h.upload)
		grp.GET("/library", h.library)
		grp.POST("/set-default/:id", h.setDefault)
		grp.DELETE("/:id", h.deleteVoice)
		grp.POST("/recache/:id", h.recache)
		grp.GET("/stats/:id", h.stats)
	}
	// Голос по умолчанию доступен и анониму (вернется системный).
	router.GET("/voice/default", OptionalAuthMiddleware(h.authService), h.defaultVoice)
}

func parseVoiceID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "некорректный идентификатор голоса: "+c.Param("id"))
		return uuid.UUID{}, false
	}
	return id, true
}

// @Summary Загрузка голосового сэмпла
// @Description Принимает аудиофайл, валидирует длительность и создает профиль голоса
// @Tags voice
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "Аудиофайл (wav, mp3, flac)"
// @Param name formData string true "Название голоса"
// @Param description formData string false "Описание"
// @Param exaggeration formData number false "Экспрессивность [0,1], по умолчанию 0.5"
// @Param is_default formData boolean false "Сделать голосом по умолчанию"
// @Success 201 {object} models.VoiceUploadResponse "Профиль создан"
// @Failure 400 {object} models.ErrorResponse "Файл не прошел валидацию"
// @Router /voice/upload [post]
func (h *VoiceHandler) upload(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "отсутствует файл в поле 'file': "+err.Error())
		return
	}

	name := c.PostForm("name")
	if name == "" {
		badRequest(c, "отсутствует обязательное поле 'name'")
		return
	}

	exaggeration := 0.5
	if raw := c.PostForm("exaggeration"); raw != "" {
		exaggeration, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(c, "некорректное значение 'exaggeration': "+raw)
			return
		}
	}
	isDefault, _ := strconv.ParseBool(c.PostForm("is_default"))

	file, err := fileHeader.Open()
	if err != nil {
		handleServiceError(c, err)
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	profile, err := h.voiceService.Ingest(c.Request.Context(), voice.IngestInput{
		UserID:       userID,
		Audio:        audio,
		Filename:     fileHeader.Filename,
		Name:         name,
		Description:  c.PostForm("description"),
		Exaggeration: exaggeration,
		IsDefault:    isDefault,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	log.Ctx(c.Request.Context()).Info().
		Str("voice_id", profile.ID.String()).
		Float64("duration", profile.DurationSeconds).
		Msg("Голосовой профиль создан")

	c.JSON(http.StatusCreated, models.VoiceUploadResponse{
		VoiceID:          profile.ID,
		Name:             profile.Name,
		DurationSeconds:  profile.DurationSeconds,
		Exaggeration:     profile.Exaggeration,
		IsDefault:        profile.IsDefault,
		EmbeddingsCached: profile.EmbeddingsCached(),
	})
}

// @Summary Библиотека голосов пользователя
// @Tags voice
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.VoiceProfile "Список профилей"
// @Router /voice/library [get]
func (h *VoiceHandler) library(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	voices, err := h.voiceService.Library(c.Request.Context(), userID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"voices": voices, "count": len(voices)})
}

// @Summary Голос по умолчанию
// @Description Для анонима и пользователя без выбора возвращает системный голос
// @Tags voice
// @Produce json
// @Success 200 {object} models.VoiceProfile "Профиль голоса"
// @Failure 404 {object} models.ErrorResponse "Голос не настроен"
// @Router /voice/default [get]
func (h *VoiceHandler) defaultVoice(c *gin.Context) {
	profile, err := h.voiceService.DefaultVoice(c.Request.Context(), optionalUserID(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

// @Summary Назначить голос по умолчанию
// @Tags voice
// @Produce json
// @Security BearerAuth
// @Param id path string true "Идентификатор голоса"
// @Success 200 {object} map[string]string "Голос назначен"
// @Failure 403 {object} models.ErrorResponse "Голос принадлежит другому пользователю"
// @Failure 404 {object} models.ErrorResponse "Голос не найден"
// @Router /voice/set-default/{id} [post]
func (h *VoiceHandler) setDefault(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	voiceID, ok := parseVoiceID(c)
	if !ok {
		return
	}

	if err := h.voiceService.SetDefault(c.Request.Context(), userID, voiceID); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "голос назначен по умолчанию"})
}

// @Summary Удалить голосовой профиль
// @Description Удаляет запись и связанные файлы сэмпла и эмбеддинга
// @Tags voice
// @Produce json
// @Security BearerAuth
// @Param id path string true "Идентификатор голоса"
// @Success 200 {object} map[string]string "Профиль удален"
// @Failure 403 {object} models.ErrorResponse "Голос принадлежит другому пользователю"
// @Router /voice/{id} [delete]
func (h *VoiceHandler) deleteVoice(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	voiceID, ok := parseVoiceID(c)
	if !ok {
		return
	}

	if err := h.voiceService.Delete(c.Request.Context(), userID, voiceID); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "голосовой профиль удален"})
}

// @Summary Пересчитать эмбеддинг голоса
// @Description Считает эмбеддинг под новую экспрессивность и заменяет кеш
// @Tags voice
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Идентификатор голоса"
// @Success 200 {object} map[string]string "Эмбеддинг пересчитан"
// @Failure 500 {object} models.ErrorResponse "Inference-движок не настроен"
// @Router /voice/recache/{id} [post]
func (h *VoiceHandler) recache(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	voiceID, ok := parseVoiceID(c)
	if !ok {
		return
	}

	var req struct {
		Exaggeration float64 `json:"exaggeration"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "некорректное тело запроса: "+err.Error())
		return
	}

	// Пересчет доступен только владельцу, проверка через чтение статистики.
	if _, err := h.voiceService.UsageStats(c.Request.Context(), userID, voiceID); err != nil {
		handleServiceError(c, err)
		return
	}

	if err := h.voiceService.Recache(c.Request.Context(), voiceID, req.Exaggeration); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "эмбеддинг пересчитан"})
}

// @Summary Статистика использования голоса
// @Tags voice
// @Produce json
// @Security BearerAuth
// @Param id path string true "Идентификатор голоса"
// @Success 200 {object} map[string]interface{} "Счетчик использований и кеш"
// @Router /voice/stats/{id} [get]
func (h *VoiceHandler) stats(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	voiceID, ok := parseVoiceID(c)
	if !ok {
		return
	}

	profile, err := h.voiceService.UsageStats(c.Request.Context(), userID, voiceID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"voice_id":          profile.ID,
		"name":              profile.Name,
		"usage_count":       profile.UsageCount,
		"last_used_at":      profile.LastUsedAt,
		"embeddings_cached": profile.EmbeddingsCached(),
		"exaggeration":      profile.Exaggeration,
	})
}
