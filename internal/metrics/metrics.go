// Package metrics определяет prometheus-счетчики доменных событий.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksSubmitted - количество поставленных задач озвучивания.
	TasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narrator_tts_tasks_submitted_total",
		Help: "Количество поставленных задач озвучивания",
	})

	// TasksCompleted - количество успешно завершенных задач озвучивания.
	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narrator_tts_tasks_completed_total",
		Help: "Количество успешно завершенных задач озвучивания",
	})

	// TasksFailed - количество задач озвучивания, завершившихся ошибкой.
	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narrator_tts_tasks_failed_total",
		Help: "Количество задач озвучивания, завершившихся ошибкой",
	})

	// EmbeddingCacheHits - попадания в кеш эмбеддингов голосов.
	EmbeddingCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narrator_voice_embedding_cache_hits_total",
		Help: "Попадания в кеш эмбеддингов голосов",
	})

	// EmbeddingCacheMisses - промахи кеша эмбеддингов голосов.
	EmbeddingCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narrator_voice_embedding_cache_misses_total",
		Help: "Промахи кеша эмбеддингов голосов",
	})

	// RemoteChunkRequests - запросы к удаленному GPU-бэкенду по фрагментам.
	RemoteChunkRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narrator_remote_tts_chunk_requests_total",
		Help: "Запросы к удаленному бэкенду синтеза по фрагментам",
	})
)
