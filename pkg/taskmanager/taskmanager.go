// Package taskmanager реализует внутрипроцессный реестр асинхронных задач.
// Реестр не переживает перезапуск процесса: задачи озвучивания эфемерны,
// клиент опрашивает их статус до завершения.
package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ITaskManager определяет интерфейс для управления задачами
type ITaskManager interface {
	SubmitTask(ctx context.Context, taskFunc TaskFunc, params interface{}) (uuid.UUID, error)
	SubmitTaskWithOwner(ctx context.Context, taskFunc TaskFunc, params interface{}, ownerID string) (uuid.UUID, error)
	GetTask(taskID uuid.UUID) (Task, error)
	TaskOwner(taskID uuid.UUID) (string, bool)
	Shutdown(ctx context.Context) error
	CleanupTasks(age time.Duration)
}

// TaskStatus представляет статус задачи
type TaskStatus string

// Возможные статусы задач. Отмена не поддерживается: запущенная задача
// выполняется до завершения или ошибки.
const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task представляет асинхронную задачу
type Task struct {
	ID        uuid.UUID
	Status    TaskStatus
	Progress  int
	Message   string
	Result    interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProgressFunc вызывается задачей на контрольных точках прогресса.
type ProgressFunc func(progress int, message string)

// TaskFunc представляет функцию, выполняемую в задаче
type TaskFunc func(ctx context.Context, report ProgressFunc, params interface{}) (interface{}, error)

// TaskManager управляет асинхронными задачами
type TaskManager struct {
	tasks      map[uuid.UUID]*Task
	mu         sync.RWMutex
	maxTasks   int
	closing    chan struct{}
	wg         sync.WaitGroup
	taskOwners map[uuid.UUID]string // Маппинг taskID -> userID
}

// Config содержит конфигурацию для TaskManager
type Config struct {
	MaxTasks int
}

// New создает новый экземпляр TaskManager
func New(cfg Config) (*TaskManager, error) {
	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 10
	}

	return &TaskManager{
		tasks:      make(map[uuid.UUID]*Task),
		maxTasks:   maxTasks,
		closing:    make(chan struct{}),
		taskOwners: make(map[uuid.UUID]string),
	}, nil
}

// NewManager создает новый экземпляр TaskManager с настройками по умолчанию
func NewManager() *TaskManager {
	manager, _ := New(Config{MaxTasks: 10})
	return manager
}

// Shutdown ожидает завершения всех задач с таймаутом
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	close(tm.closing)

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("таймаут при ожидании завершения задач")
	}
}

// SubmitTask создает и запускает новую задачу
func (tm *TaskManager) SubmitTask(ctx context.Context, taskFunc TaskFunc, params interface{}) (uuid.UUID, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	select {
	case <-tm.closing:
		return uuid.UUID{}, errors.New("менеджер задач останавливается")
	default:
	}

	// Проверка maxTasks (под блокировкой)
	activeTasks := 0
	for _, task := range tm.tasks {
		if task.Status == TaskStatusQueued || task.Status == TaskStatusProcessing {
			activeTasks++
		}
	}
	if activeTasks >= tm.maxTasks {
		return uuid.UUID{}, errors.New("превышено максимальное количество активных задач")
	}

	taskID := uuid.New()

	// Задача живет дольше HTTP-запроса, поэтому получает независимый
	// контекст, наследуя только логгер.
	taskLogger := log.Ctx(ctx)
	taskCtx := taskLogger.WithContext(context.Background())

	task := &Task{
		ID:        taskID,
		Status:    TaskStatusQueued,
		Progress:  0,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	tm.tasks[taskID] = task

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		tm.runTask(taskCtx, taskID, taskFunc, params)
	}()

	return taskID, nil
}

// SubmitTaskWithOwner создает и запускает новую задачу с указанием владельца
func (tm *TaskManager) SubmitTaskWithOwner(ctx context.Context, taskFunc TaskFunc, params interface{}, ownerID string) (uuid.UUID, error) {
	taskID, err := tm.SubmitTask(ctx, taskFunc, params)
	if err != nil {
		return uuid.UUID{}, err
	}

	tm.mu.Lock()
	tm.taskOwners[taskID] = ownerID
	tm.mu.Unlock()

	return taskID, nil
}

// runTask выполняет задачу и обновляет ее статус
func (tm *TaskManager) runTask(ctx context.Context, taskID uuid.UUID, taskFunc TaskFunc, params interface{}) {
	tm.update(ctx, taskID, TaskStatusProcessing, 0, "Задача запущена", nil)

	report := func(progress int, message string) {
		tm.update(ctx, taskID, TaskStatusProcessing, progress, message, nil)
	}

	result, err := taskFunc(ctx, report, params)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("taskID", taskID.String()).Msg("Задача завершилась с ошибкой")
		// При ошибке прогресс сбрасывается в 0.
		tm.update(ctx, taskID, TaskStatusFailed, 0, err.Error(), nil)
		return
	}

	log.Ctx(ctx).Info().Str("taskID", taskID.String()).Msg("Задача успешно выполнена")
	tm.update(ctx, taskID, TaskStatusCompleted, 100, "Задача успешно выполнена", result)
}

// update обновляет состояние задачи под блокировкой.
func (tm *TaskManager) update(ctx context.Context, taskID uuid.UUID, status TaskStatus, progress int, message string, result interface{}) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return
	}

	task.Status = status
	task.Progress = progress
	task.Message = message
	task.UpdatedAt = time.Now()
	if result != nil {
		task.Result = result
	}

	log.Ctx(ctx).Info().
		Str("taskID", taskID.String()).
		Str("newStatus", string(status)).
		Int("progress", progress).
		Str("message", message).
		Msg("Статус задачи обновлен")
}

// GetTask возвращает снимок состояния задачи по ID
func (tm *TaskManager) GetTask(taskID uuid.UUID) (Task, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("задача с ID %s не найдена", taskID)
	}

	return *task, nil
}

// TaskOwner возвращает владельца задачи, если он был указан при постановке.
func (tm *TaskManager) TaskOwner(taskID uuid.UUID) (string, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	ownerID, ok := tm.taskOwners[taskID]
	return ownerID, ok
}

// CleanupTasks удаляет завершенные задачи, которые старше указанного времени
func (tm *TaskManager) CleanupTasks(age time.Duration) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := time.Now()
	for id, task := range tm.tasks {
		if (task.Status == TaskStatusCompleted || task.Status == TaskStatusFailed) &&
			now.Sub(task.UpdatedAt) > age {
			delete(tm.tasks, id)
			delete(tm.taskOwners, id)
		}
	}
}
