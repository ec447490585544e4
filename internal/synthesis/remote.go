package synthesis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"narrator-server/internal/apperr"
	"narrator-server/internal/metrics"
	"narrator-server/internal/textsplit"
	"narrator-server/internal/voice"
	"narrator-server/pkg/wavutil"
)

// RemoteChunkedBackend озвучивает историю по фрагментам через serverless
// GPU-эндпоинт: один синхронный запрос на фрагмент.
type RemoteChunkedBackend struct {
	endpointURL string
	apiKey      string
	httpClient  *http.Client
	logger      zerolog.Logger
}

// NewRemoteChunkedBackend создает удаленный бэкенд. Отсутствие учетных
// данных - ошибка конфигурации, а не повод молча откатиться на локальный путь.
func NewRemoteChunkedBackend(endpointURL, apiKey string, timeout time.Duration, logger zerolog.Logger) (*RemoteChunkedBackend, error) {
	if endpointURL == "" {
		return nil, fmt.Errorf("%w: не указан REMOTE_TTS_ENDPOINT", apperr.ErrConfiguration)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: не указан REMOTE_TTS_API_KEY", apperr.ErrConfiguration)
	}
	if timeout <= 0 {
		// Щедрый таймаут поглощает холодный старт GPU-воркера.
		timeout = 300 * time.Second
	}
	return &RemoteChunkedBackend{
		endpointURL: endpointURL,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger.With().Str("backend", "remote").Logger(),
	}, nil
}

// Name возвращает имя бэкенда.
func (b *RemoteChunkedBackend) Name() string { return "remote" }

type remoteInput struct {
	Task         string  `json:"task"`
	Text         string  `json:"text"`
	RefAudioB64  string  `json:"ref_audio_b64"`
	Exaggeration float64 `json:"exaggeration"`
	Temperature  float64 `json:"temperature"`
	CfgWeight    float64 `json:"cfg_weight"`
}

type remoteRequest struct {
	Input remoteInput `json:"input"`
}

type remoteResponse struct {
	Status string `json:"status"`
	Output struct {
		AudioB64 string `json:"audio_b64"`
		Error    string `json:"error"`
	} `json:"output"`
	Error string `json:"error"`
}

// Synthesize озвучивает фрагменты по одному и склеивает ответы в порядке
// следования. Паузы между фрагментами в этом пути не вставляются: удаленный
// бэкенд вызывается пофрагментно без общего состояния, и склейка идет встык.
func (b *RemoteChunkedBackend) Synthesize(ctx context.Context, chunks []textsplit.Chunk, resolved *voice.ResolvedVoice, params Params, onChunk ProgressFunc) ([]byte, error) {
	refAudio, err := os.ReadFile(resolved.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать референсное аудио: %w", err)
	}
	refAudioB64 := base64.StdEncoding.EncodeToString(refAudio)

	segments := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		segment, err := b.synthesizeChunk(ctx, chunk.Text, refAudioB64, params)
		if err != nil {
			return nil, fmt.Errorf("фрагмент %d из %d: %w", i+1, len(chunks), err)
		}
		segments = append(segments, segment)
		if onChunk != nil {
			onChunk(i+1, len(chunks))
		}
	}

	return wavutil.Concat(segments, nil)
}

func (b *RemoteChunkedBackend) synthesizeChunk(ctx context.Context, text, refAudioB64 string, params Params) ([]byte, error) {
	metrics.RemoteChunkRequests.Inc()

	payload := remoteRequest{Input: remoteInput{
		Task:         "tts",
		Text:         text,
		RefAudioB64:  refAudioB64,
		Exaggeration: params.Exaggeration,
		Temperature:  params.Temperature,
		CfgWeight:    params.CfgWeight,
	}}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: удаленный бэкенд недоступен: %v", apperr.ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка чтения ответа: %v", apperr.ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		b.logger.Error().Int("status", resp.StatusCode).Msg("Ошибка удаленного бэкенда")
		return nil, fmt.Errorf("%w: удаленный бэкенд вернул статус %d", apperr.ErrUpstream, resp.StatusCode)
	}

	var parsed remoteResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: некорректный ответ удаленного бэкенда: %v", apperr.ErrUpstream, err)
	}
	if parsed.Status != "COMPLETED" {
		msg := parsed.Output.Error
		if msg == "" {
			msg = parsed.Error
		}
		if msg == "" {
			msg = "статус " + parsed.Status
		}
		return nil, fmt.Errorf("%w: синтез не выполнен: %s", apperr.ErrUpstream, msg)
	}

	audio, err := base64.StdEncoding.DecodeString(parsed.Output.AudioB64)
	if err != nil {
		return nil, fmt.Errorf("%w: некорректное audio_b64 в ответе: %v", apperr.ErrUpstream, err)
	}
	return audio, nil
}
