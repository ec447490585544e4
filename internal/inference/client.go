// Package inference содержит клиент локального inference-сайдкара TTS-модели.
// Модель для нас непрозрачна: она умеет декодировать аудио, считать эмбеддинг
// референсного голоса и синтезировать речь.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"narrator-server/internal/apperr"
)

// Client обращается к локальному inference-сайдкару по HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient создает клиент сайдкара.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "inference").Logger(),
	}
}

type decodeRequest struct {
	AudioB64 string `json:"audio_b64"`
	Format   string `json:"format"`
}

type embedRequest struct {
	AudioB64     string  `json:"audio_b64"`
	Exaggeration float64 `json:"exaggeration"`
}

type synthesizeRequest struct {
	Text         string  `json:"text"`
	Exaggeration float64 `json:"exaggeration"`
	Temperature  float64 `json:"temperature"`
	CfgWeight    float64 `json:"cfg_weight"`
	EmbeddingB64 string  `json:"embedding_b64,omitempty"`
	RefAudioB64  string  `json:"ref_audio_b64,omitempty"`
}

type audioResponse struct {
	AudioB64     string `json:"audio_b64,omitempty"`
	EmbeddingB64 string `json:"embedding_b64,omitempty"`
	Error        string `json:"error,omitempty"`
}

// DecodeToWAV конвертирует аудио произвольного поддерживаемого формата в WAV.
func (c *Client) DecodeToWAV(ctx context.Context, audio []byte, format string) ([]byte, error) {
	resp, err := c.post(ctx, "/decode", decodeRequest{
		AudioB64: base64.StdEncoding.EncodeToString(audio),
		Format:   format,
	})
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(resp.AudioB64)
}

// ComputeEmbedding считает эмбеддинг референсного голоса для заданной
// экзаджерации. Результат - непрозрачный бинарный артефакт модели.
func (c *Client) ComputeEmbedding(ctx context.Context, wavAudio []byte, exaggeration float64) ([]byte, error) {
	resp, err := c.post(ctx, "/embed", embedRequest{
		AudioB64:     base64.StdEncoding.EncodeToString(wavAudio),
		Exaggeration: exaggeration,
	})
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(resp.EmbeddingB64)
}

// Synthesize синтезирует речь по тексту. Передается либо готовый эмбеддинг,
// либо референсное аудио для медленного пути.
func (c *Client) Synthesize(ctx context.Context, text string, embedding, refAudio []byte, exaggeration, temperature, cfgWeight float64) ([]byte, error) {
	req := synthesizeRequest{
		Text:         text,
		Exaggeration: exaggeration,
		Temperature:  temperature,
		CfgWeight:    cfgWeight,
	}
	if len(embedding) > 0 {
		req.EmbeddingB64 = base64.StdEncoding.EncodeToString(embedding)
	} else {
		req.RefAudioB64 = base64.StdEncoding.EncodeToString(refAudio)
	}

	resp, err := c.post(ctx, "/synthesize", req)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(resp.AudioB64)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (*audioResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: inference-сайдкар недоступен: %v", apperr.ErrUpstream, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка чтения ответа сайдкара: %v", apperr.ErrUpstream, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		c.logger.Error().Int("status", httpResp.StatusCode).Str("path", path).Msg("Ошибка inference-сайдкара")
		return nil, fmt.Errorf("%w: сайдкар вернул статус %d", apperr.ErrUpstream, httpResp.StatusCode)
	}

	var resp audioResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: некорректный ответ сайдкара: %v", apperr.ErrUpstream, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", apperr.ErrUpstream, resp.Error)
	}
	return &resp, nil
}
