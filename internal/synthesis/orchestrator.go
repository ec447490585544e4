package synthesis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"narrator-server/internal/apperr"
	"narrator-server/internal/config"
	"narrator-server/internal/metrics"
	"narrator-server/internal/textsplit"
	"narrator-server/internal/voice"
	"narrator-server/pkg/taskmanager"
	"narrator-server/pkg/wavutil"
)

// NominalTaskSeconds - эвристическая полная длительность задачи для оценки
// оставшегося времени в ответе на опрос статуса.
const NominalTaskSeconds = 120.0

// VoiceResolver разрешает ссылку на голос для синтеза.
type VoiceResolver interface {
	ResolveForSynthesis(ctx context.Context, voiceRef string, userID *int64) (*voice.ResolvedVoice, error)
}

// StoryAttacher записывает URL готовой озвучки в историю.
type StoryAttacher interface {
	AttachAudio(ctx context.Context, storyID uuid.UUID, audioURL string) error
}

// Orchestrator управляет фоновыми задачами озвучивания.
type Orchestrator struct {
	backend       Backend
	voices        VoiceResolver
	stories       StoryAttacher
	tasks         taskmanager.ITaskManager
	outputDir     string
	publicBaseURL string
}

// NewOrchestrator создает оркестратор синтеза.
func NewOrchestrator(backend Backend, voices VoiceResolver, stories StoryAttacher, tasks taskmanager.ITaskManager, outputDir, publicBaseURL string) *Orchestrator {
	return &Orchestrator{
		backend:       backend,
		voices:        voices,
		stories:       stories,
		tasks:         tasks,
		outputDir:     outputDir,
		publicBaseURL: publicBaseURL,
	}
}

// SelectBackend выбирает бэкенд синтеза при старте. Предпочитается удаленный
// (ему достаточно сети); локальная модель - только если удаленный не
// сконфигурирован вовсе. Частично заполненные настройки удаленного бэкенда
// считаются ошибкой конфигурации и не маскируются.
func SelectBackend(cfg *config.Config, engine LocalEngine, cache EmbeddingCache, logger zerolog.Logger) (Backend, error) {
	if cfg.RemoteTTS.EndpointURL != "" || cfg.RemoteTTS.APIKey != "" {
		return NewRemoteChunkedBackend(cfg.RemoteTTS.EndpointURL, cfg.RemoteTTS.APIKey, cfg.RemoteTTS.Timeout, logger)
	}
	if cfg.LocalTTS.Enabled {
		if engine == nil {
			return nil, fmt.Errorf("%w: локальный бэкенд включен, но LOCAL_TTS_URL не задан", apperr.ErrConfiguration)
		}
		return NewLocalBatchBackend(engine, cache, logger), nil
	}
	return nil, fmt.Errorf("%w: не сконфигурирован ни один бэкенд синтеза (REMOTE_TTS_ENDPOINT или LOCAL_TTS_ENABLED)", apperr.ErrConfiguration)
}

// GenerateInput - параметры постановки задачи озвучивания.
type GenerateInput struct {
	StoryID  string
	Text     string
	VoiceRef string
	UserID   *int64
	Params   Params
}

// Result - результат завершенной задачи озвучивания.
type Result struct {
	AudioURL        string  `json:"audio_url"`
	DurationSeconds float64 `json:"duration_seconds"`
	StoryID         string  `json:"story_id,omitempty"`
}

// SubmitGeneration валидирует вход и ставит фоновую задачу. Возвращает
// идентификатор задачи немедленно, работа идет вне потока запроса.
func (o *Orchestrator) SubmitGeneration(ctx context.Context, in GenerateInput) (uuid.UUID, error) {
	if strings.TrimSpace(in.Text) == "" {
		return uuid.UUID{}, fmt.Errorf("%w: пустой текст истории", apperr.ErrValidation)
	}
	// Непереданная скорость означает обычный темп.
	if in.Params.Speed == 0 {
		in.Params.Speed = 1.0
	}
	if err := in.Params.Validate(); err != nil {
		return uuid.UUID{}, err
	}

	ownerID := ""
	if in.UserID != nil {
		ownerID = fmt.Sprintf("%d", *in.UserID)
	}

	taskID, err := o.tasks.SubmitTaskWithOwner(ctx, o.runGeneration, in, ownerID)
	if err != nil {
		return uuid.UUID{}, err
	}
	metrics.TasksSubmitted.Inc()
	return taskID, nil
}

// runGeneration - тело фоновой задачи. Прогресс обновляется на контрольных
// точках: разрешение голоса 10-30, разбиение текста 40-50, цикл синтеза
// 50-90, финализация 90-100.
func (o *Orchestrator) runGeneration(ctx context.Context, report taskmanager.ProgressFunc, params interface{}) (interface{}, error) {
	in, ok := params.(GenerateInput)
	if !ok {
		return nil, fmt.Errorf("некорректные параметры задачи")
	}
	started := time.Now()

	report(10, "Разрешение голоса")
	resolved, err := o.voices.ResolveForSynthesis(ctx, in.VoiceRef, in.UserID)
	if err != nil {
		metrics.TasksFailed.Inc()
		return nil, err
	}
	report(30, "Голос разрешен")

	report(40, "Разбиение текста")
	chunks, md := textsplit.Segment(in.Text, textsplit.DefaultOptions())
	if len(chunks) == 0 {
		metrics.TasksFailed.Inc()
		return nil, fmt.Errorf("%w: после очистки текст пуст", apperr.ErrValidation)
	}
	report(50, fmt.Sprintf("Текст разбит на %d фрагментов", md.TotalChunks))

	audio, err := o.backend.Synthesize(ctx, chunks, resolved, in.Params, func(done, total int) {
		report(50+40*done/total, fmt.Sprintf("Озвучено %d из %d фрагментов", done, total))
	})
	if err != nil {
		metrics.TasksFailed.Inc()
		return nil, err
	}

	report(90, "Сохранение аудио")
	if err := os.MkdirAll(o.outputDir, 0o755); err != nil {
		metrics.TasksFailed.Inc()
		return nil, fmt.Errorf("не удалось создать каталог аудио: %w", err)
	}
	filename := "story_" + uuid.NewString() + ".wav"
	outputPath := filepath.Join(o.outputDir, filename)
	if err := os.WriteFile(outputPath, audio, 0o644); err != nil {
		metrics.TasksFailed.Inc()
		return nil, fmt.Errorf("не удалось сохранить аудиофайл: %w", err)
	}

	duration, err := wavutil.Duration(audio)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Не удалось вычислить длительность результата")
	}
	audioURL := strings.TrimSuffix(o.publicBaseURL, "/") + "/audio/" + filename

	result := &Result{
		AudioURL:        audioURL,
		DurationSeconds: duration,
		StoryID:         in.StoryID,
	}

	// Привязка аудио к истории best-effort: результат возвращается клиенту
	// даже если запись в базу не удалась.
	if o.stories != nil && in.StoryID != "" {
		if storyID, parseErr := uuid.Parse(in.StoryID); parseErr == nil {
			if err := o.stories.AttachAudio(ctx, storyID, audioURL); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("storyID", in.StoryID).Msg("Не удалось привязать аудио к истории")
			}
		}
	}

	metrics.TasksCompleted.Inc()
	log.Ctx(ctx).Info().
		Str("backend", o.backend.Name()).
		Float64("duration", duration).
		Dur("elapsed", time.Since(started)).
		Msg("Озвучивание завершено")
	return result, nil
}

// TaskStatus возвращает снимок задачи по идентификатору.
func (o *Orchestrator) TaskStatus(taskID uuid.UUID) (taskmanager.Task, error) {
	task, err := o.tasks.GetTask(taskID)
	if err != nil {
		return taskmanager.Task{}, fmt.Errorf("%w: %v", apperr.ErrNotFound, err)
	}
	return task, nil
}

// EstimateSecondsRemaining оценивает оставшееся время по прогрессу.
func EstimateSecondsRemaining(task taskmanager.Task) float64 {
	switch task.Status {
	case taskmanager.TaskStatusCompleted, taskmanager.TaskStatusFailed:
		return 0
	}
	return NominalTaskSeconds * float64(100-task.Progress) / 100
}
