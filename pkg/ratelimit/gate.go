package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AttemptType - категория ограничиваемых попыток
type AttemptType string

const (
	AttemptLogin   AttemptType = "login"
	AttemptVoucher AttemptType = "voucher"
)

// Limit - не больше MaxAttempts попыток за Window
type Limit struct {
	MaxAttempts int
	Window      time.Duration
}

// DefaultLimits - лимиты по умолчанию для каждой категории
var DefaultLimits = map[AttemptType]Limit{
	AttemptLogin:   {MaxAttempts: 5, Window: 15 * time.Minute},
	AttemptVoucher: {MaxAttempts: 5, Window: 10 * time.Minute},
}

// Decision - результат проверки попытки
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds округляет RetryAfter вверх до секунд (для заголовка Retry-After)
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int((d.RetryAfter + time.Second - 1) / time.Second)
}

// AttemptStore атомарно регистрирует попытку для ключа.
// При превышении лимита ключ блокируется на полное окно.
type AttemptStore interface {
	Take(ctx context.Context, key string, now time.Time, limit Limit) (Decision, error)
}

// Gate проверяет попытки по ключу (identifier, attemptType).
// Ошибка хранилища не блокирует пользователя: попытка разрешается.
type Gate struct {
	store   AttemptStore
	limits  map[AttemptType]Limit
	now     func() time.Time
	onError func(key string, err error)
}

// GateOption настраивает Gate
type GateOption func(*Gate)

// WithLimits переопределяет лимиты для категорий
func WithLimits(limits map[AttemptType]Limit) GateOption {
	return func(g *Gate) {
		for t, l := range limits {
			g.limits[t] = l
		}
	}
}

// WithClock подменяет источник времени (тесты)
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// WithErrorHandler вызывается когда хранилище вернуло ошибку
func WithErrorHandler(fn func(key string, err error)) GateOption {
	return func(g *Gate) { g.onError = fn }
}

// NewGate создаёт Gate поверх хранилища
func NewGate(store AttemptStore, opts ...GateOption) *Gate {
	g := &Gate{
		store:  store,
		limits: make(map[AttemptType]Limit, len(DefaultLimits)),
		now:    time.Now,
	}
	for t, l := range DefaultLimits {
		g.limits[t] = l
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check регистрирует попытку и решает, разрешена ли она.
// Категории без лимита всегда разрешены.
func (g *Gate) Check(ctx context.Context, identifier string, attemptType AttemptType) Decision {
	limit, ok := g.limits[attemptType]
	if !ok || limit.MaxAttempts <= 0 {
		return Decision{Allowed: true}
	}

	key := gateKey(identifier, attemptType)
	d, err := g.store.Take(ctx, key, g.now(), limit)
	if err != nil {
		if g.onError != nil {
			g.onError(key, err)
		}
		return Decision{Allowed: true, Remaining: limit.MaxAttempts}
	}
	return d
}

func gateKey(identifier string, attemptType AttemptType) string {
	return "ratelimit:" + string(attemptType) + ":" + identifier
}

// ============================================================
// MemoryStore
// ============================================================

type memoryEntry struct {
	attempts     []time.Time
	blockedUntil time.Time
}

// MemoryStore хранит попытки в памяти процесса (один инстанс или тесты)
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryStore создаёт пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

// Take реализует AttemptStore
func (s *MemoryStore) Take(_ context.Context, key string, now time.Time, limit Limit) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &memoryEntry{}
		s.entries[key] = e
	}

	if now.Before(e.blockedUntil) {
		return Decision{Allowed: false, RetryAfter: e.blockedUntil.Sub(now)}, nil
	}

	cutoff := now.Add(-limit.Window)
	kept := e.attempts[:0]
	for _, at := range e.attempts {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	e.attempts = kept

	if len(e.attempts) >= limit.MaxAttempts {
		e.blockedUntil = now.Add(limit.Window)
		return Decision{Allowed: false, RetryAfter: limit.Window}, nil
	}

	e.attempts = append(e.attempts, now)
	return Decision{Allowed: true, Remaining: limit.MaxAttempts - len(e.attempts)}, nil
}

// ============================================================
// RedisStore
// ============================================================

// takeScript: скользящее окно в sorted set + отдельный ключ блокировки.
// Возвращает {allowed(0/1), remaining, retry_after_ms}.
var takeScript = redis.NewScript(`
local attempts = KEYS[1]
local block = KEYS[2]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

local ttl = redis.call('PTTL', block)
if ttl > 0 then
	return {0, 0, ttl}
end

redis.call('ZREMRANGEBYSCORE', attempts, '-inf', now - window)
local count = redis.call('ZCARD', attempts)
if count >= max then
	redis.call('SET', block, '1', 'PX', window)
	return {0, 0, window}
end

redis.call('ZADD', attempts, now, ARGV[4])
redis.call('PEXPIRE', attempts, window)
return {1, max - count - 1, 0}
`)

// RedisStore хранит попытки в Redis, общий для всех инстансов
type RedisStore struct {
	client redis.Scripter
}

// NewRedisStore создаёт хранилище поверх клиента go-redis
func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client}
}

// Take реализует AttemptStore
func (s *RedisStore) Take(ctx context.Context, key string, now time.Time, limit Limit) (Decision, error) {
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(now.UnixNano(), 10)

	res, err := takeScript.Run(ctx, s.client,
		[]string{key, key + ":block"},
		nowMs, limit.Window.Milliseconds(), limit.MaxAttempts, member,
	).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}

	return Decision{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}
