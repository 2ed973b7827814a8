package pubsub

import (
	"context"
	"path"
	"sync"

	"riskwatch/pkg/utils"
)

// subscriberBuffer - размер буфера подписчика; при переполнении сообщение отбрасывается
const subscriberBuffer = 64

// MemoryBroker - брокер в памяти процесса (один инстанс, тесты)
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[*memorySub]struct{}
	closed bool
	log    *utils.Logger
}

// NewMemoryBroker создаёт брокер в памяти
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs: make(map[*memorySub]struct{}),
		log:  utils.L().WithComponent("pubsub"),
	}
}

type memorySub struct {
	broker   *MemoryBroker
	patterns []string
	ch       chan Message
	done     chan struct{}
	once     sync.Once
}

func (s *memorySub) C() <-chan Message { return s.ch }

func (s *memorySub) Close() error {
	s.broker.remove(s)
	return nil
}

func (s *memorySub) matches(topic string) bool {
	for _, p := range s.patterns {
		if ok, _ := path.Match(p, topic); ok {
			return true
		}
	}
	return false
}

// Publish рассылает сообщение подходящим подписчикам без блокировки
func (b *MemoryBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for s := range b.subs {
		if !s.matches(topic) {
			continue
		}
		select {
		case s.ch <- Message{Topic: topic, Payload: payload}:
		default:
			b.log.Warn("subscriber buffer full, message dropped", utils.String("topic", topic))
		}
	}
	return nil
}

// Subscribe регистрирует подписчика; подписка закрывается вместе с ctx
func (b *MemoryBroker) Subscribe(ctx context.Context, patterns ...string) (Subscription, error) {
	s := &memorySub{
		broker:   b,
		patterns: patterns,
		ch:       make(chan Message, subscriberBuffer),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			b.remove(s)
		case <-s.done:
		}
	}()
	return s, nil
}

func (b *MemoryBroker) remove(s *memorySub) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
	s.shutdown()
}

func (s *memorySub) shutdown() {
	s.once.Do(func() {
		close(s.ch)
		close(s.done)
	})
}

// Close закрывает все подписки
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[*memorySub]struct{})
	b.mu.Unlock()

	for s := range subs {
		s.shutdown()
	}
	return nil
}
