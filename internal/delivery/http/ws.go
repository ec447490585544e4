package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"narrator-server/pkg/taskmanager"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	wsWriteWait = 10 * time.Second
	// Период опроса состояния задачи для пуша клиенту.
	wsPollInterval = time.Second
	// Предельное время жизни соединения прогресса.
	wsMaxLifetime = 30 * time.Minute
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: ограничить Origin списком из конфига CORS
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// progressWS стримит прогресс задачи озвучивания по WebSocket. Снимок
// отправляется при каждом изменении и финально на терминальном статусе,
// после чего соединение закрывается со стороны сервера.
func (h *TTSHandler) progressWS(c *gin.Context) {
	taskID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "некорректный идентификатор задачи: "+c.Param("id"))
		return
	}

	if _, err := h.orchestrator.TaskStatus(taskID); err != nil {
		handleServiceError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Ctx(c.Request.Context()).Warn().Err(err).Msg("Не удалось установить WebSocket соединение")
		return
	}
	defer conn.Close()

	logger := log.Ctx(c.Request.Context()).With().Str("task_id", taskID.String()).Logger()
	logger.Debug().Msg("WebSocket прогресса открыт")

	// Читатель нужен только чтобы заметить закрытие со стороны клиента.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPollInterval)
	defer ticker.Stop()
	deadline := time.After(wsMaxLifetime)

	var lastProgress = -1
	var lastStatus taskmanager.TaskStatus

	for {
		select {
		case <-clientGone:
			logger.Debug().Msg("Клиент закрыл WebSocket прогресса")
			return
		case <-deadline:
			logger.Warn().Msg("WebSocket прогресса закрыт по таймауту")
			return
		case <-ticker.C:
			task, err := h.orchestrator.TaskStatus(taskID)
			if err != nil {
				// Задача вычищена из реестра, клиенту больше нечего ждать.
				return
			}
			if task.Progress == lastProgress && task.Status == lastStatus {
				continue
			}
			lastProgress, lastStatus = task.Progress, task.Status

			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(taskStatusResponse(task)); err != nil {
				logger.Debug().Err(err).Msg("Запись в WebSocket прогресса не удалась")
				return
			}

			if task.Status == taskmanager.TaskStatusCompleted || task.Status == taskmanager.TaskStatusFailed {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(task.Status)))
				return
			}
		}
	}
}
