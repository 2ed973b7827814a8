package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisClient - часть go-redis клиента, нужная брокеру
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	PSubscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisBroker - брокер поверх Redis PUBLISH/PSUBSCRIBE для нескольких инстансов.
// Доставка at-most-once: подписчик, отключённый в момент публикации, событие не получит.
type RedisBroker struct {
	client RedisClient
}

// NewRedisBroker создаёт брокер поверх клиента go-redis
func NewRedisBroker(client RedisClient) *RedisBroker {
	return &RedisBroker{client: client}
}

// Publish реализует Broker
func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe реализует Broker. Подписка подтверждается до возврата.
func (b *RedisBroker) Subscribe(ctx context.Context, patterns ...string) (Subscription, error) {
	ps := b.client.PSubscribe(ctx, patterns...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis psubscribe: %w", err)
	}

	s := &redisSub{ps: ps, ch: make(chan Message, subscriberBuffer), done: make(chan struct{})}
	go s.forward(ctx)
	return s, nil
}

// Close ничего не делает: клиентом Redis владеет вызывающий
func (b *RedisBroker) Close() error { return nil }

type redisSub struct {
	ps   *redis.PubSub
	ch   chan Message
	done chan struct{}
	once sync.Once
}

func (s *redisSub) C() <-chan Message { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func (s *redisSub) forward(ctx context.Context) {
	defer close(s.ch)
	defer s.Close() //nolint:errcheck

	in := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.ch <- Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}
}
