package synthesis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narrator-server/internal/models"
	"narrator-server/internal/textsplit"
	"narrator-server/pkg/wavutil"
)

type fakeLocalEngine struct {
	mu        sync.Mutex
	calls     []fakeSynthCall
	segment   []byte
	returnErr error
}

type fakeSynthCall struct {
	text        string
	gotEmb      bool
	gotRefAudio bool
}

func (f *fakeLocalEngine) Synthesize(ctx context.Context, text string, embedding, refAudio []byte, exaggeration, temperature, cfgWeight float64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeSynthCall{text: text, gotEmb: embedding != nil, gotRefAudio: refAudio != nil})
	if f.returnErr != nil {
		return nil, f.returnErr
	}
	return f.segment, nil
}

type fakeCache struct {
	mu        sync.Mutex
	embedding []byte
	recached  chan struct{}
}

func (f *fakeCache) LoadCachedEmbedding(ctx context.Context, voiceID uuid.UUID, exaggeration float64) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.embedding == nil {
		return nil, false
	}
	return f.embedding, true
}

func (f *fakeCache) Recache(ctx context.Context, voiceID uuid.UUID, newExaggeration float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recached != nil {
		close(f.recached)
		f.recached = nil
	}
	return nil
}

func TestLocalSynthesizeWithCachedEmbedding(t *testing.T) {
	engine := &fakeLocalEngine{segment: makeWAV(t, 1.0)}
	cache := &fakeCache{embedding: []byte("cached")}
	backend := NewLocalBatchBackend(engine, cache, zerolog.Nop())
	assert.Equal(t, "local", backend.Name())

	resolved := writeRefAudio(t)
	resolved.Profile = &models.VoiceProfile{ID: uuid.New()}

	chunks := []textsplit.Chunk{
		{Text: "Первый.", PauseAfter: 0.3},
		{Text: "Второй.", PauseAfter: 1.0},
	}

	audio, err := backend.Synthesize(context.Background(), chunks, resolved, Params{Exaggeration: 0.5}, nil)
	require.NoError(t, err)

	// 1. Модель получила эмбеддинг, референсное аудио не читалось
	require.Len(t, engine.calls, 2)
	for _, call := range engine.calls {
		assert.True(t, call.gotEmb)
		assert.False(t, call.gotRefAudio)
	}

	// 2. Пауза после первого фрагмента вставлена настоящей тишиной,
	//    пауза после последнего - нет: 1.0 + 0.3 + 1.0 сек
	d, err := wavutil.Duration(audio)
	require.NoError(t, err)
	assert.InDelta(t, 2.3, d, 0.01)
}

func TestLocalSynthesizeCacheMissUsesRefAudio(t *testing.T) {
	engine := &fakeLocalEngine{segment: makeWAV(t, 1.0)}
	cache := &fakeCache{recached: make(chan struct{})}
	recached := cache.recached
	backend := NewLocalBatchBackend(engine, cache, zerolog.Nop())

	resolved := writeRefAudio(t)
	resolved.Profile = &models.VoiceProfile{ID: uuid.New()}

	_, err := backend.Synthesize(context.Background(), []textsplit.Chunk{{Text: "x", PauseAfter: 1.0}}, resolved, Params{Exaggeration: 0.9}, nil)
	require.NoError(t, err)

	// 1. Медленный путь: модель получает референсное аудио
	require.Len(t, engine.calls, 1)
	assert.False(t, engine.calls[0].gotEmb)
	assert.True(t, engine.calls[0].gotRefAudio)

	// 2. Пересчет эмбеддинга запущен в фоне
	select {
	case <-recached:
	case <-time.After(2 * time.Second):
		t.Fatal("background recache was not triggered")
	}
}

func TestLocalSynthesizeInlineVoiceSkipsCache(t *testing.T) {
	engine := &fakeLocalEngine{segment: makeWAV(t, 1.0)}
	cache := &fakeCache{embedding: []byte("cached")}
	backend := NewLocalBatchBackend(engine, cache, zerolog.Nop())

	// Инлайновый голос без профиля идет мимо кеша
	resolved := writeRefAudio(t)

	_, err := backend.Synthesize(context.Background(), []textsplit.Chunk{{Text: "x"}}, resolved, Params{}, nil)
	require.NoError(t, err)
	require.Len(t, engine.calls, 1)
	assert.False(t, engine.calls[0].gotEmb)
	assert.True(t, engine.calls[0].gotRefAudio)
}

func TestLocalSynthesizeSerialized(t *testing.T) {
	// Две задачи на общей модели не перемежаются: вторая ждет мьютекс
	var active, maxActive int
	var mu sync.Mutex

	engine := &fakeLocalEngine{segment: makeWAV(t, 0.5)}
	slowEngine := localEngineFunc(func(ctx context.Context, text string, embedding, refAudio []byte, exaggeration, temperature, cfgWeight float64) ([]byte, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return engine.segment, nil
	})

	backend := NewLocalBatchBackend(slowEngine, &fakeCache{embedding: []byte("e")}, zerolog.Nop())
	resolved := writeRefAudio(t)
	resolved.Profile = &models.VoiceProfile{ID: uuid.New()}
	chunks := []textsplit.Chunk{{Text: "a"}, {Text: "b"}}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := backend.Synthesize(context.Background(), chunks, resolved, Params{}, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "conditioning and synthesis must not interleave across tasks")
}

type localEngineFunc func(ctx context.Context, text string, embedding, refAudio []byte, exaggeration, temperature, cfgWeight float64) ([]byte, error)

func (f localEngineFunc) Synthesize(ctx context.Context, text string, embedding, refAudio []byte, exaggeration, temperature, cfgWeight float64) ([]byte, error) {
	return f(ctx, text, embedding, refAudio, exaggeration, temperature, cfgWeight)
}
