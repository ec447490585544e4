package synthesis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narrator-server/internal/apperr"
	"narrator-server/internal/config"
	"narrator-server/internal/textsplit"
	"narrator-server/internal/voice"
	"narrator-server/pkg/taskmanager"
)

type fakeBackend struct {
	audio []byte
	err   error
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Synthesize(ctx context.Context, chunks []textsplit.Chunk, resolved *voice.ResolvedVoice, params Params, onChunk ProgressFunc) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range chunks {
		if onChunk != nil {
			onChunk(i+1, len(chunks))
		}
	}
	return f.audio, nil
}

type fakeResolver struct {
	resolved *voice.ResolvedVoice
	err      error
}

func (f *fakeResolver) ResolveForSynthesis(ctx context.Context, voiceRef string, userID *int64) (*voice.ResolvedVoice, error) {
	return f.resolved, f.err
}

type fakeAttacher struct {
	mu       sync.Mutex
	attached map[uuid.UUID]string
	err      error
}

func (f *fakeAttacher) AttachAudio(ctx context.Context, storyID uuid.UUID, audioURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attached == nil {
		f.attached = make(map[uuid.UUID]string)
	}
	f.attached[storyID] = audioURL
	return f.err
}

func awaitTask(t *testing.T, o *Orchestrator, taskID uuid.UUID) taskmanager.Task {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		task, err := o.TaskStatus(taskID)
		require.NoError(t, err)
		if task.Status == taskmanager.TaskStatusCompleted || task.Status == taskmanager.TaskStatusFailed {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task did not finish in time")
	return taskmanager.Task{}
}

func newTestOrchestrator(t *testing.T, backend Backend, resolver VoiceResolver, attacher StoryAttacher) *Orchestrator {
	t.Helper()
	outputDir := t.TempDir()
	tm := taskmanager.NewManager()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tm.Shutdown(ctx)
	})
	return NewOrchestrator(backend, resolver, attacher, tm, outputDir, "http://localhost:8080")
}

func TestSubmitGenerationValidation(t *testing.T) {
	o := newTestOrchestrator(t, &fakeBackend{}, &fakeResolver{}, nil)

	// 1. Пустой текст
	_, err := o.SubmitGeneration(context.Background(), GenerateInput{Text: "   "})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	// 2. Параметры вне диапазона
	_, err = o.SubmitGeneration(context.Background(), GenerateInput{Text: "ok", Params: Params{Exaggeration: 5}})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	// 3. Скорость вне диапазона
	_, err = o.SubmitGeneration(context.Background(), GenerateInput{Text: "ok", Params: Params{Speed: 3}})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	// 4. Нулевая скорость означает непереданную и заменяется обычным темпом
	_, err = o.SubmitGeneration(context.Background(), GenerateInput{Text: "ok", Params: Params{Speed: 0, Exaggeration: 0.5}})
	assert.NoError(t, err)
}

func TestGenerationLifecycle(t *testing.T) {
	audio := makeWAV(t, 2.0)
	backend := &fakeBackend{audio: audio}
	resolver := &fakeResolver{resolved: &voice.ResolvedVoice{AudioPath: "/ref.wav"}}
	attacher := &fakeAttacher{}
	o := newTestOrchestrator(t, backend, resolver, attacher)

	storyID := uuid.New()
	userID := int64(7)
	taskID, err := o.SubmitGeneration(context.Background(), GenerateInput{
		StoryID:  storyID.String(),
		Text:     "Жила-была история. Она была короткой.",
		VoiceRef: "default",
		UserID:   &userID,
		Params:   Params{Exaggeration: 0.5, Temperature: 0.8, CfgWeight: 0.5},
	})
	require.NoError(t, err)

	task := awaitTask(t, o, taskID)
	require.Equal(t, taskmanager.TaskStatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)

	// 1. Результат содержит URL и длительность
	result, ok := task.Result.(*Result)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(result.AudioURL, "http://localhost:8080/audio/story_"))
	assert.InDelta(t, 2.0, result.DurationSeconds, 0.01)
	assert.Equal(t, storyID.String(), result.StoryID)

	// 2. Файл записан в каталог выдачи
	filename := strings.TrimPrefix(result.AudioURL, "http://localhost:8080/audio/")
	onDisk, err := os.ReadFile(filepath.Join(o.outputDir, filename))
	require.NoError(t, err)
	assert.Equal(t, audio, onDisk)

	// 3. Аудио привязано к истории
	attacher.mu.Lock()
	assert.Equal(t, result.AudioURL, attacher.attached[storyID])
	attacher.mu.Unlock()

	// 4. Владелец задачи записан
	owner, ok := o.tasks.TaskOwner(taskID)
	require.True(t, ok)
	assert.Equal(t, "7", owner)
}

// gatedBackend пропускает по одному фрагменту на сигнал, чтобы тест мог
// наблюдать прогресс между контрольными точками.
type gatedBackend struct {
	audio   []byte
	proceed chan struct{}
}

func (g *gatedBackend) Name() string { return "gated" }

func (g *gatedBackend) Synthesize(ctx context.Context, chunks []textsplit.Chunk, resolved *voice.ResolvedVoice, params Params, onChunk ProgressFunc) ([]byte, error) {
	for i := range chunks {
		<-g.proceed
		onChunk(i+1, len(chunks))
	}
	<-g.proceed
	return g.audio, nil
}

func awaitProgress(t *testing.T, o *Orchestrator, taskID uuid.UUID, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := o.TaskStatus(taskID)
		require.NoError(t, err)
		if task.Progress == want {
			return
		}
		require.LessOrEqual(t, task.Progress, want, "progress must not overshoot the milestone")
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task did not reach progress %d in time", want)
}

func TestGenerationProgressMilestones(t *testing.T) {
	backend := &gatedBackend{audio: makeWAV(t, 1.0), proceed: make(chan struct{})}
	resolver := &fakeResolver{resolved: &voice.ResolvedVoice{AudioPath: "/ref.wav"}}
	o := newTestOrchestrator(t, backend, resolver, nil)

	taskID, err := o.SubmitGeneration(context.Background(), GenerateInput{
		Text: "Первый абзац истории.\n\nВторой абзац истории.",
	})
	require.NoError(t, err)

	// 1. До начала синтеза: голос разрешен, текст разбит на 2 фрагмента
	awaitProgress(t, o, taskID, 50)

	// 2. Первый фрагмент озвучен: 50 + 40*1/2
	backend.proceed <- struct{}{}
	awaitProgress(t, o, taskID, 70)

	// 3. Второй фрагмент: 50 + 40*2/2
	backend.proceed <- struct{}{}
	awaitProgress(t, o, taskID, 90)

	// 4. Финализация доводит до 100
	backend.proceed <- struct{}{}
	task := awaitTask(t, o, taskID)
	assert.Equal(t, taskmanager.TaskStatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)
}

func TestGenerationFailureResetsProgress(t *testing.T) {
	backend := &fakeBackend{err: errors.New("gpu on fire")}
	resolver := &fakeResolver{resolved: &voice.ResolvedVoice{AudioPath: "/ref.wav"}}
	o := newTestOrchestrator(t, backend, resolver, nil)

	taskID, err := o.SubmitGeneration(context.Background(), GenerateInput{Text: "Текст истории."})
	require.NoError(t, err)

	task := awaitTask(t, o, taskID)
	require.Equal(t, taskmanager.TaskStatusFailed, task.Status)
	// Прогресс сброшен, сообщение содержит ошибку
	assert.Zero(t, task.Progress)
	assert.Contains(t, task.Message, "gpu on fire")
	assert.Equal(t, float64(0), EstimateSecondsRemaining(task))
}

func TestGenerationVoiceResolutionFailure(t *testing.T) {
	resolver := &fakeResolver{err: voice.ErrNoVoiceAvailable}
	o := newTestOrchestrator(t, &fakeBackend{audio: makeWAV(t, 1)}, resolver, nil)

	taskID, err := o.SubmitGeneration(context.Background(), GenerateInput{Text: "Текст."})
	require.NoError(t, err)

	task := awaitTask(t, o, taskID)
	assert.Equal(t, taskmanager.TaskStatusFailed, task.Status)
}

func TestGenerationAttachFailureIsBestEffort(t *testing.T) {
	backend := &fakeBackend{audio: makeWAV(t, 1.0)}
	resolver := &fakeResolver{resolved: &voice.ResolvedVoice{AudioPath: "/ref.wav"}}
	attacher := &fakeAttacher{err: errors.New("db down")}
	o := newTestOrchestrator(t, backend, resolver, attacher)

	taskID, err := o.SubmitGeneration(context.Background(), GenerateInput{
		StoryID: uuid.NewString(),
		Text:    "Текст.",
	})
	require.NoError(t, err)

	// Ошибка привязки не валит задачу
	task := awaitTask(t, o, taskID)
	assert.Equal(t, taskmanager.TaskStatusCompleted, task.Status)
}

func TestTaskStatusUnknownTask(t *testing.T) {
	o := newTestOrchestrator(t, &fakeBackend{}, &fakeResolver{}, nil)
	_, err := o.TaskStatus(uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEstimateSecondsRemaining(t *testing.T) {
	assert.InDelta(t, NominalTaskSeconds, EstimateSecondsRemaining(taskmanager.Task{Status: taskmanager.TaskStatusQueued}), 0.001)
	assert.InDelta(t, NominalTaskSeconds/2, EstimateSecondsRemaining(taskmanager.Task{Status: taskmanager.TaskStatusProcessing, Progress: 50}), 0.001)
	assert.Zero(t, EstimateSecondsRemaining(taskmanager.Task{Status: taskmanager.TaskStatusCompleted, Progress: 100}))
	assert.Zero(t, EstimateSecondsRemaining(taskmanager.Task{Status: taskmanager.TaskStatusFailed}))
}

func TestSelectBackend(t *testing.T) {
	logger := zerolog.Nop()

	// 1. Удаленный предпочитается при полной конфигурации
	cfg := &config.Config{}
	cfg.RemoteTTS.EndpointURL = "https://api.example.com/runsync"
	cfg.RemoteTTS.APIKey = "key"
	b, err := SelectBackend(cfg, nil, nil, logger)
	require.NoError(t, err)
	assert.Equal(t, "remote", b.Name())

	// 2. Частичная конфигурация удаленного - ошибка, а не фолбэк
	cfg = &config.Config{}
	cfg.RemoteTTS.EndpointURL = "https://api.example.com/runsync"
	_, err = SelectBackend(cfg, nil, nil, logger)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)

	// 3. Локальный при включенном флаге и живом движке
	cfg = &config.Config{}
	cfg.LocalTTS.Enabled = true
	b, err = SelectBackend(cfg, localEngineFunc(func(ctx context.Context, text string, embedding, refAudio []byte, e, tp, c float64) ([]byte, error) {
		return nil, nil
	}), &fakeCache{}, logger)
	require.NoError(t, err)
	assert.Equal(t, "local", b.Name())

	// 4. Локальный включен, движка нет
	cfg = &config.Config{}
	cfg.LocalTTS.Enabled = true
	_, err = SelectBackend(cfg, nil, nil, logger)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)

	// 5. Ничего не сконфигурировано
	_, err = SelectBackend(&config.Config{}, nil, nil, logger)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}
