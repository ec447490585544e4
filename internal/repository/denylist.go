package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// AccessDenylist хранит отозванные access-токены в Redis до истечения их
// срока действия. При nil-клиенте (Redis не сконфигурирован) все операции
// становятся no-op: отзыв access-токенов деградирует до отзыва refresh.
type AccessDenylist struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewAccessDenylist создает денилист поверх клиента Redis. client может быть nil.
func NewAccessDenylist(client *redis.Client, logger zerolog.Logger) *AccessDenylist {
	return &AccessDenylist{client: client, logger: logger.With().Str("component", "denylist").Logger()}
}

func denyKey(token string) string {
	// Сами токены в ключах не храним.
	sum := sha256.Sum256([]byte(token))
	return "denied_access:" + hex.EncodeToString(sum[:])
}

// Deny помечает access-токен отозванным на остаток его срока действия.
func (d *AccessDenylist) Deny(ctx context.Context, token string, ttl time.Duration) error {
	if d.client == nil || ttl <= 0 {
		return nil
	}
	if err := d.client.Set(ctx, denyKey(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("ошибка при записи в денилист: %w", err)
	}
	return nil
}

// IsDenied проверяет, отозван ли access-токен. Недоступность Redis трактуется
// как "не отозван", с записью в лог.
func (d *AccessDenylist) IsDenied(ctx context.Context, token string) bool {
	if d.client == nil {
		return false
	}
	n, err := d.client.Exists(ctx, denyKey(token)).Result()
	if err != nil {
		d.logger.Warn().Err(err).Msg("денилист недоступен, пропускаем проверку")
		return false
	}
	return n > 0
}
