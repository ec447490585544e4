package synthesis

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"narrator-server/internal/textsplit"
	"narrator-server/internal/voice"
	"narrator-server/pkg/wavutil"
)

// LocalEngine - синтез речи локальной моделью (через inference-сайдкар).
type LocalEngine interface {
	Synthesize(ctx context.Context, text string, embedding, refAudio []byte, exaggeration, temperature, cfgWeight float64) ([]byte, error)
}

// EmbeddingCache - кеш эмбеддингов голосов из пакета voice.
type EmbeddingCache interface {
	LoadCachedEmbedding(ctx context.Context, voiceID uuid.UUID, exaggeration float64) ([]byte, bool)
	Recache(ctx context.Context, voiceID uuid.UUID, newExaggeration float64) error
}

// LocalBatchBackend озвучивает все фрагменты локальной моделью и склеивает
// их в один файл, вставляя настоящую тишину на паузах между фрагментами.
type LocalBatchBackend struct {
	engine LocalEngine
	cache  EmbeddingCache
	logger zerolog.Logger

	// Последовательность "установить состояние голоса + синтезировать" на
	// общей модели не должна перемежаться с другой задачей.
	mu sync.Mutex
}

// NewLocalBatchBackend создает локальный бэкенд.
func NewLocalBatchBackend(engine LocalEngine, cache EmbeddingCache, logger zerolog.Logger) *LocalBatchBackend {
	return &LocalBatchBackend{
		engine: engine,
		cache:  cache,
		logger: logger.With().Str("backend", "local").Logger(),
	}
}

// Name возвращает имя бэкенда.
func (b *LocalBatchBackend) Name() string { return "local" }

// Synthesize озвучивает фрагменты по порядку. При наличии кешированного
// эмбеддинга дорогая подготовка голоса пропускается; иначе модель получает
// референсное аудио (медленный путь) и эмбеддинг пересчитывается в фоне для
// следующих запросов.
func (b *LocalBatchBackend) Synthesize(ctx context.Context, chunks []textsplit.Chunk, resolved *voice.ResolvedVoice, params Params, onChunk ProgressFunc) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var embedding []byte
	var refAudio []byte

	if resolved.Profile != nil {
		if cached, ok := b.cache.LoadCachedEmbedding(ctx, resolved.Profile.ID, params.Exaggeration); ok {
			embedding = cached
		} else {
			// Промах кеша: пересчитываем в фоне, задачу не задерживаем.
			voiceID := resolved.Profile.ID
			exaggeration := params.Exaggeration
			logger := b.logger
			go func() {
				if err := b.cache.Recache(context.Background(), voiceID, exaggeration); err != nil {
					logger.Warn().Err(err).Str("voiceID", voiceID.String()).Msg("Фоновый пересчет эмбеддинга не удался")
				}
			}()
		}
	}

	if embedding == nil {
		data, err := os.ReadFile(resolved.AudioPath)
		if err != nil {
			return nil, fmt.Errorf("не удалось прочитать референсное аудио: %w", err)
		}
		refAudio = data
	}

	segments := make([][]byte, 0, len(chunks))
	pauses := make([]float64, 0, len(chunks))
	for i, chunk := range chunks {
		segment, err := b.engine.Synthesize(ctx, chunk.Text, embedding, refAudio, params.Exaggeration, params.Temperature, params.CfgWeight)
		if err != nil {
			return nil, fmt.Errorf("фрагмент %d из %d: %w", i+1, len(chunks), err)
		}
		segments = append(segments, segment)
		pauses = append(pauses, chunk.PauseAfter)
		if onChunk != nil {
			onChunk(i+1, len(chunks))
		}
	}

	return wavutil.Concat(segments, pauses)
}
