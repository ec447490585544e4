// Package voice управляет жизненным циклом голосовых профилей: загрузкой и
// обрезкой сэмплов, кешем эмбеддингов и статистикой использования.
package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"narrator-server/internal/apperr"
	"narrator-server/internal/metrics"
	"narrator-server/internal/models"
	"narrator-server/pkg/wavutil"
)

// Ограничения длительности референсного сэмпла. Потолок защищает удаленный
// бэкенд от таймаутов на больших файлах, пол - качество клонирования голоса.
const (
	MaxVoiceDuration = 15.0
	MinVoiceDuration = 3.0

	// ExagTolerance - допуск при сравнении экзаджерации для ключа кеша.
	ExagTolerance = 0.01

	// DefaultVoiceRef - строка-сентинел "голос по умолчанию" в запросах.
	DefaultVoiceRef = "default"
)

var allowedExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".flac": true,
}

var (
	ErrVoiceNotFound    = fmt.Errorf("%w: голос не найден", apperr.ErrNotFound)
	ErrNotOwner         = fmt.Errorf("%w: голос принадлежит другому пользователю", apperr.ErrAccessDenied)
	ErrNoVoiceAvailable = fmt.Errorf("%w: нет доступного голоса (no voice available)", apperr.ErrValidation)
	ErrBadExtension     = fmt.Errorf("%w: недопустимое расширение файла, ожидается .wav, .mp3 или .flac", apperr.ErrValidation)
	ErrTooShort         = fmt.Errorf("%w: аудио короче минимальной длительности %.0f сек", apperr.ErrValidation, MinVoiceDuration)
)

// Repository определяет доступ к хранилищу профилей голосов.
type Repository interface {
	CreateVoiceProfile(ctx context.Context, profile *models.VoiceProfile) error
	GetVoiceByID(ctx context.Context, voiceID uuid.UUID) (*models.VoiceProfile, error)
	GetDefaultVoice(ctx context.Context, userID int64) (*models.VoiceProfile, error)
	ListVoicesByUser(ctx context.Context, userID int64) ([]models.VoiceProfile, error)
	SetDefault(ctx context.Context, userID int64, voiceID uuid.UUID) error
	UpdateEmbedding(ctx context.Context, voiceID uuid.UUID, embeddingPath string, exaggeration float64) error
	IncrementUsage(ctx context.Context, voiceID uuid.UUID) error
	DeleteVoice(ctx context.Context, voiceID uuid.UUID) error
}

// Engine - непрозрачный inference-коллаборатор: декодирование аудио и расчет
// эмбеддингов. Может отсутствовать (nil) в конфигурациях с ограниченной
// памятью, тогда расчет эмбеддинга откладывается до первого использования.
type Engine interface {
	DecodeToWAV(ctx context.Context, audio []byte, format string) ([]byte, error)
	ComputeEmbedding(ctx context.Context, wavAudio []byte, exaggeration float64) ([]byte, error)
}

// Service реализует операции над профилями голосов.
type Service struct {
	repo          Repository
	engine        Engine
	voiceDir      string
	embeddingsDir string
}

// NewService создает сервис голосов. engine может быть nil.
func NewService(repo Repository, engine Engine, voiceDir, embeddingsDir string) *Service {
	return &Service{
		repo:          repo,
		engine:        engine,
		voiceDir:      voiceDir,
		embeddingsDir: embeddingsDir,
	}
}

// IngestInput - параметры загрузки голосового сэмпла.
type IngestInput struct {
	UserID       int64
	Audio        []byte
	Filename     string
	Name         string
	Description  string
	Exaggeration float64
	IsDefault    bool
}

// Ingest валидирует и сохраняет голосовой сэмпл. Слишком длинное аудио
// обрезается до потолка (сохраняется только обрезанная копия), слишком
// короткое отклоняется. Если настроен inference-движок, эмбеддинг считается
// сразу и кладется в кеш.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (*models.VoiceProfile, error) {
	ext := strings.ToLower(filepath.Ext(in.Filename))
	if !allowedExtensions[ext] {
		return nil, ErrBadExtension
	}
	if in.Exaggeration < 0 || in.Exaggeration > 1 {
		return nil, fmt.Errorf("%w: exaggeration должна быть в диапазоне [0,1]", apperr.ErrValidation)
	}

	wavData := in.Audio
	if ext != ".wav" {
		// Декодирование сжатых форматов умеет только модельный сайдкар.
		if s.engine == nil {
			return nil, fmt.Errorf("%w: для загрузки %s требуется inference-сайдкар (LOCAL_TTS_URL)", apperr.ErrConfiguration, ext)
		}
		decoded, err := s.engine.DecodeToWAV(ctx, in.Audio, strings.TrimPrefix(ext, "."))
		if err != nil {
			return nil, fmt.Errorf("не удалось декодировать аудио: %w", err)
		}
		wavData = decoded
	}

	info, _, err := wavutil.Parse(wavData)
	if err != nil {
		return nil, fmt.Errorf("%w: не удалось разобрать WAV: %v", apperr.ErrValidation, err)
	}
	duration := info.Duration()
	if duration < MinVoiceDuration {
		return nil, ErrTooShort
	}
	if duration > MaxVoiceDuration {
		cropped, err := wavutil.Crop(wavData, MaxVoiceDuration)
		if err != nil {
			return nil, fmt.Errorf("не удалось обрезать аудио: %w", err)
		}
		wavData = cropped
		duration = MaxVoiceDuration
		log.Ctx(ctx).Info().Float64("original", info.Duration()).Msg("Сэмпл обрезан до максимальной длительности")
	}

	voiceID := uuid.New()
	audioPath := filepath.Join(s.voiceDir, voiceID.String()+".wav")
	if err := os.MkdirAll(s.voiceDir, 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать каталог голосов: %w", err)
	}
	if err := os.WriteFile(audioPath, wavData, 0o644); err != nil {
		return nil, fmt.Errorf("не удалось сохранить аудиофайл: %w", err)
	}

	profile := &models.VoiceProfile{
		ID:              voiceID,
		UserID:          in.UserID,
		Name:            in.Name,
		Description:     in.Description,
		AudioPath:       audioPath,
		SampleRate:      info.SampleRate,
		DurationSeconds: duration,
		Exaggeration:    in.Exaggeration,
		IsDefault:       in.IsDefault,
	}

	// Эмбеддинг считается синхронно только при настроенном движке; без него
	// расчет откладывается до первого использования.
	if s.engine != nil {
		embedding, err := s.engine.ComputeEmbedding(ctx, wavData, in.Exaggeration)
		if err != nil {
			os.Remove(audioPath)
			return nil, fmt.Errorf("не удалось посчитать эмбеддинг: %w", err)
		}
		embPath, err := s.writeEmbedding(voiceID, in.Exaggeration, embedding)
		if err != nil {
			os.Remove(audioPath)
			return nil, err
		}
		profile.EmbeddingPath = &embPath
	}

	if err := s.repo.CreateVoiceProfile(ctx, profile); err != nil {
		os.Remove(audioPath)
		if profile.EmbeddingPath != nil {
			os.Remove(*profile.EmbeddingPath)
		}
		return nil, err
	}

	return profile, nil
}

// ResolvedVoice - результат разрешения ссылки на голос для синтеза.
type ResolvedVoice struct {
	// Profile пуст для инлайнового base64-аудио (легаси-путь мимо кеша).
	Profile   *models.VoiceProfile
	AudioPath string
}

// ResolveForSynthesis разрешает ссылку на голос: идентификатор профиля,
// сентинел "default" или инлайновое base64-аудио.
func (s *Service) ResolveForSynthesis(ctx context.Context, voiceRef string, userID *int64) (*ResolvedVoice, error) {
	voiceRef = strings.TrimSpace(voiceRef)

	if voiceRef == "" || voiceRef == DefaultVoiceRef {
		return s.resolveDefault(ctx, userID)
	}

	if id, err := uuid.Parse(voiceRef); err == nil {
		return s.resolveByID(ctx, id, userID)
	}

	// Длинная строка, не являющаяся идентификатором, трактуется как
	// инлайновое base64-аудио и пишется во временный файл.
	audio, err := base64.StdEncoding.DecodeString(voiceRef)
	if err != nil {
		return nil, fmt.Errorf("%w: voiceSample не является ни идентификатором, ни base64-аудио", apperr.ErrValidation)
	}
	if err := os.MkdirAll(filepath.Join(s.voiceDir, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать временный каталог: %w", err)
	}
	scratchPath := filepath.Join(s.voiceDir, "tmp", uuid.NewString()+".wav")
	if err := os.WriteFile(scratchPath, audio, 0o644); err != nil {
		return nil, fmt.Errorf("не удалось сохранить инлайновое аудио: %w", err)
	}
	return &ResolvedVoice{AudioPath: scratchPath}, nil
}

func (s *Service) resolveDefault(ctx context.Context, userID *int64) (*ResolvedVoice, error) {
	if userID != nil {
		profile, err := s.repo.GetDefaultVoice(ctx, *userID)
		if err == nil {
			return &ResolvedVoice{Profile: profile, AudioPath: profile.AudioPath}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ошибка при поиске голоса по умолчанию: %w", err)
		}
	}

	// Фолбэк на системный голос.
	profile, err := s.repo.GetDefaultVoice(ctx, models.SystemUserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoVoiceAvailable
		}
		return nil, fmt.Errorf("ошибка при поиске системного голоса: %w", err)
	}
	return &ResolvedVoice{Profile: profile, AudioPath: profile.AudioPath}, nil
}

func (s *Service) resolveByID(ctx context.Context, voiceID uuid.UUID, userID *int64) (*ResolvedVoice, error) {
	profile, err := s.repo.GetVoiceByID(ctx, voiceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVoiceNotFound
		}
		return nil, fmt.Errorf("ошибка при поиске голоса: %w", err)
	}

	// Профиль должен принадлежать запрашивающему или системному аккаунту.
	if profile.UserID != models.SystemUserID && (userID == nil || profile.UserID != *userID) {
		return nil, ErrNotOwner
	}
	return &ResolvedVoice{Profile: profile, AudioPath: profile.AudioPath}, nil
}

// LoadCachedEmbedding возвращает артефакт эмбеддинга при совпадении ключа
// (voice_id, exaggeration) с допуском ExagTolerance. Несовпадение экзаджерации,
// пустой путь или отсутствующий файл - это промах кеша, не ошибка. Попадание
// увеличивает статистику использования голоса.
func (s *Service) LoadCachedEmbedding(ctx context.Context, voiceID uuid.UUID, exaggeration float64) ([]byte, bool) {
	profile, err := s.repo.GetVoiceByID(ctx, voiceID)
	if err != nil {
		return nil, false
	}
	if math.Abs(profile.Exaggeration-exaggeration) > ExagTolerance {
		metrics.EmbeddingCacheMisses.Inc()
		return nil, false
	}
	if !profile.EmbeddingsCached() {
		metrics.EmbeddingCacheMisses.Inc()
		return nil, false
	}
	data, err := os.ReadFile(*profile.EmbeddingPath)
	if err != nil {
		metrics.EmbeddingCacheMisses.Inc()
		log.Ctx(ctx).Warn().Err(err).Str("voiceID", voiceID.String()).Msg("Артефакт эмбеддинга отсутствует на диске")
		return nil, false
	}

	metrics.EmbeddingCacheHits.Inc()
	if err := s.repo.IncrementUsage(ctx, voiceID); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("voiceID", voiceID.String()).Msg("Не удалось обновить статистику голоса")
	}
	return data, true
}

// Recache пересчитывает эмбеддинг с новой экзаджерацией и перезаписывает
// артефакт. Последующие запросы с новым значением становятся попаданиями.
func (s *Service) Recache(ctx context.Context, voiceID uuid.UUID, newExaggeration float64) error {
	if s.engine == nil {
		return fmt.Errorf("%w: пересчет эмбеддинга требует inference-сайдкар (LOCAL_TTS_URL)", apperr.ErrConfiguration)
	}
	if newExaggeration < 0 || newExaggeration > 1 {
		return fmt.Errorf("%w: exaggeration должна быть в диапазоне [0,1]", apperr.ErrValidation)
	}

	profile, err := s.repo.GetVoiceByID(ctx, voiceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrVoiceNotFound
		}
		return fmt.Errorf("ошибка при поиске голоса: %w", err)
	}

	wavData, err := os.ReadFile(profile.AudioPath)
	if err != nil {
		return fmt.Errorf("не удалось прочитать аудио голоса: %w", err)
	}
	embedding, err := s.engine.ComputeEmbedding(ctx, wavData, newExaggeration)
	if err != nil {
		return fmt.Errorf("не удалось пересчитать эмбеддинг: %w", err)
	}

	embPath, err := s.writeEmbedding(voiceID, newExaggeration, embedding)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateEmbedding(ctx, voiceID, embPath, newExaggeration); err != nil {
		return err
	}

	// Старый артефакт удаляется в последнюю очередь, best-effort.
	if profile.EmbeddingPath != nil && *profile.EmbeddingPath != embPath {
		if err := os.Remove(*profile.EmbeddingPath); err != nil && !os.IsNotExist(err) {
			log.Ctx(ctx).Warn().Err(err).Msg("Не удалось удалить старый артефакт эмбеддинга")
		}
	}
	return nil
}

// SetDefault делает голос основным для пользователя.
func (s *Service) SetDefault(ctx context.Context, userID int64, voiceID uuid.UUID) error {
	if err := s.repo.SetDefault(ctx, userID, voiceID); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		// Разводим "не найден" и "чужой голос".
		if _, lookupErr := s.repo.GetVoiceByID(ctx, voiceID); lookupErr == nil {
			return ErrNotOwner
		}
		return ErrVoiceNotFound
	}
	return nil
}

// Delete удаляет профиль голоса вместе с файлами. Удаление строки в базе
// авторитетно, файлы удаляются best-effort.
func (s *Service) Delete(ctx context.Context, userID int64, voiceID uuid.UUID) error {
	profile, err := s.repo.GetVoiceByID(ctx, voiceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrVoiceNotFound
		}
		return fmt.Errorf("ошибка при поиске голоса: %w", err)
	}
	if profile.UserID != userID {
		return ErrNotOwner
	}

	if err := s.repo.DeleteVoice(ctx, voiceID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrVoiceNotFound
		}
		return err
	}

	if err := os.Remove(profile.AudioPath); err != nil && !os.IsNotExist(err) {
		log.Ctx(ctx).Warn().Err(err).Msg("Не удалось удалить аудиофайл голоса")
	}
	if profile.EmbeddingPath != nil {
		if err := os.Remove(*profile.EmbeddingPath); err != nil && !os.IsNotExist(err) {
			log.Ctx(ctx).Warn().Err(err).Msg("Не удалось удалить артефакт эмбеддинга")
		}
	}
	return nil
}

// Library возвращает профили пользователя.
func (s *Service) Library(ctx context.Context, userID int64) ([]models.VoiceProfile, error) {
	return s.repo.ListVoicesByUser(ctx, userID)
}

// DefaultVoice возвращает голос по умолчанию пользователя либо системный.
func (s *Service) DefaultVoice(ctx context.Context, userID *int64) (*models.VoiceProfile, error) {
	resolved, err := s.resolveDefault(ctx, userID)
	if err != nil {
		return nil, err
	}
	return resolved.Profile, nil
}

// UsageStats возвращает профиль со статистикой использования с проверкой
// владения.
func (s *Service) UsageStats(ctx context.Context, userID int64, voiceID uuid.UUID) (*models.VoiceProfile, error) {
	profile, err := s.repo.GetVoiceByID(ctx, voiceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVoiceNotFound
		}
		return nil, fmt.Errorf("ошибка при поиске голоса: %w", err)
	}
	if profile.UserID != userID && profile.UserID != models.SystemUserID {
		return nil, ErrNotOwner
	}
	return profile, nil
}

// EnsureSystemVoice создает системный голос по умолчанию из сид-файла, если
// его еще нет. Ошибки не фатальны для старта сервера.
func (s *Service) EnsureSystemVoice(ctx context.Context, seedPath string) error {
	if seedPath == "" {
		return nil
	}
	if _, err := s.repo.GetDefaultVoice(ctx, models.SystemUserID); err == nil {
		return nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("ошибка при проверке системного голоса: %w", err)
	}

	audio, err := os.ReadFile(seedPath)
	if err != nil {
		return fmt.Errorf("не удалось прочитать сид-файл системного голоса: %w", err)
	}
	_, err = s.Ingest(ctx, IngestInput{
		UserID:       models.SystemUserID,
		Audio:        audio,
		Filename:     filepath.Base(seedPath),
		Name:         "Системный голос",
		Exaggeration: 0.5,
		IsDefault:    true,
	})
	return err
}

func (s *Service) writeEmbedding(voiceID uuid.UUID, exaggeration float64, embedding []byte) (string, error) {
	if err := os.MkdirAll(s.embeddingsDir, 0o755); err != nil {
		return "", fmt.Errorf("не удалось создать каталог эмбеддингов: %w", err)
	}
	embPath := filepath.Join(s.embeddingsDir, EmbeddingFilename(voiceID, exaggeration))
	if err := os.WriteFile(embPath, embedding, 0o644); err != nil {
		return "", fmt.Errorf("не удалось сохранить артефакт эмбеддинга: %w", err)
	}
	return embPath, nil
}

// EmbeddingFilename - имя артефакта, ключ кеша (voice_id, exaggeration).
func EmbeddingFilename(voiceID uuid.UUID, exaggeration float64) string {
	return fmt.Sprintf("%s_exag%.2f.pt", voiceID, exaggeration)
}
