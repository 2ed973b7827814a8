package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter - Token Bucket для исходящих запросов к REST API биржи.
//
// Ведро наполняется со скоростью rate токенов/сек до ёмкости burst,
// каждый запрос забирает один токен. После ответа 429/418 биржа
// требует паузу: PauseUntil блокирует выдачу токенов до указанного момента.
//
//	limiter := NewRateLimiter(10, 20)
//	if err := limiter.Wait(ctx); err != nil { ... }
type RateLimiter struct {
	rate        float64
	burst       float64
	tokens      float64
	lastRefill  time.Time
	pausedUntil time.Time
	mu          sync.Mutex
}

// NewRateLimiter создаёт новый rate limiter.
// Ёмкость ведра меньше одного токена не пропустила бы ни одного запроса.
func NewRateLimiter(rate, burst float64) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst < 1 {
		burst = 1
	}

	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
	}
}

// refill пополняет токены на основе прошедшего времени
// ВАЖНО: вызывается под lock'ом
func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastRefill = now
}

// Wait блокирует до получения токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		var wait time.Duration
		if now.Before(rl.pausedUntil) {
			wait = rl.pausedUntil.Sub(now)
		} else {
			rl.refill(now)
			if rl.tokens >= 1 {
				rl.tokens--
				rl.mu.Unlock()
				return nil
			}
			wait = time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		}
		rl.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// PauseUntil запрещает запросы до момента t (Retry-After от биржи).
// Более ранний момент не сокращает уже действующую паузу.
func (rl *RateLimiter) PauseUntil(t time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if t.After(rl.pausedUntil) {
		rl.pausedUntil = t
	}
}

// PausedFor возвращает оставшееся время паузы
func (rl *RateLimiter) PausedFor() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if d := time.Until(rl.pausedUntil); d > 0 {
		return d
	}
	return 0
}
