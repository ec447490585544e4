// Package synthesis реализует оркестрацию озвучивания историй: выбор
// бэкенда, фоновые задачи и отслеживание прогресса.
package synthesis

import (
	"context"
	"fmt"

	"narrator-server/internal/apperr"
	"narrator-server/internal/textsplit"
	"narrator-server/internal/voice"
)

// Params - управляющие параметры TTS.
type Params struct {
	Speed        float64
	Exaggeration float64
	Temperature  float64
	CfgWeight    float64
}

// Validate проверяет диапазоны параметров.
func (p Params) Validate() error {
	if p.Speed < 0.5 || p.Speed > 2.0 {
		return fmt.Errorf("%w: speed должна быть в диапазоне [0.5,2.0]", apperr.ErrValidation)
	}
	if p.Exaggeration < 0 || p.Exaggeration > 1 {
		return fmt.Errorf("%w: exaggeration должна быть в диапазоне [0,1]", apperr.ErrValidation)
	}
	if p.Temperature < 0 || p.Temperature > 1.5 {
		return fmt.Errorf("%w: temperature должна быть в диапазоне [0,1.5]", apperr.ErrValidation)
	}
	if p.CfgWeight < 0 || p.CfgWeight > 1 {
		return fmt.Errorf("%w: cfgWeight должна быть в диапазоне [0,1]", apperr.ErrValidation)
	}
	return nil
}

// ProgressFunc сообщает о прогрессе цикла синтеза (готово фрагментов, всего).
type ProgressFunc func(done, total int)

// Backend - единый контракт двух стратегий синтеза. Фрагменты озвучиваются
// и склеиваются строго в порядке, выданном разбиением текста.
type Backend interface {
	Name() string
	Synthesize(ctx context.Context, chunks []textsplit.Chunk, resolved *voice.ResolvedVoice, params Params, onChunk ProgressFunc) ([]byte, error)
}
