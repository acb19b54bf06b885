package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Окно чуть длиннее минуты: ключ переживает границу своей минуты, и гонка
// INCR/EXPIRE на стыке не открывает лишний бюджет.
const carrierWindow = 70 * time.Second

// RateLimiter ограничивает частоту опроса провайдера по коду перевозчика:
// фиксированное минутное окно, общий счётчик на все воркеры.
type RateLimiter struct {
	c *redis.Client
}

func NewRateLimiter(addr string) *RateLimiter {
	return &RateLimiter{
		c: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func carrierMinuteKey(carrierCode string, t time.Time) string {
	return fmt.Sprintf("rl:carrier:%s:%s", carrierCode, t.UTC().Format("200601021504"))
}

// AllowCarrier инкрементит счётчик текущей минуты перевозчика и ставит TTL,
// если ключ создаётся впервые. Возвращает (allowed, currentCount).
func (rl *RateLimiter) AllowCarrier(ctx context.Context, carrierCode string, limit int64, now time.Time) (bool, int64, error) {
	key := carrierMinuteKey(carrierCode, now)

	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, carrierWindow)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= limit, n, nil
}
