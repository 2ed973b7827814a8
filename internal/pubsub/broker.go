// Package pubsub - публикация событий пользователя (уведомления, сирена,
// результаты опроса) для realtime-подписчиков.
//
// Ядро мониторинга публикует события в топик пользователя и не знает о
// транспорте: websocket hub подписывается на топики и доставляет их клиентам.
package pubsub

import (
	"context"
	"errors"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrClosed - брокер закрыт
var ErrClosed = errors.New("pubsub: broker closed")

// Префикс топиков пользователей
const userTopicPrefix = "riskwatch:user:"

// AllUsers - шаблон подписки на события всех пользователей
const AllUsers = userTopicPrefix + "*"

// Типы событий
const (
	EventNotification = "notification"
	EventAlarm        = "alarm"
	EventMonitor      = "monitor"
)

// Message - сообщение из топика
type Message struct {
	Topic   string
	Payload []byte
}

// Event - конверт события, в таком виде уходит в websocket
type Event struct {
	Type      string              `json:"type"`
	UserID    string              `json:"user_id"`
	Data      jsoniter.RawMessage `json:"data"`
	Timestamp time.Time           `json:"timestamp"`
}

// Subscription - активная подписка. Канал закрывается после Close
// или отмены контекста подписки.
type Subscription interface {
	C() <-chan Message
	Close() error
}

// Broker - транспорт событий
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe подписывается на glob-шаблоны топиков ("riskwatch:user:*")
	Subscribe(ctx context.Context, patterns ...string) (Subscription, error)
	Close() error
}

// UserTopic - топик событий пользователя
func UserTopic(userID string) string {
	return userTopicPrefix + userID
}

// UserFromTopic извлекает ID пользователя из топика
func UserFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, userTopicPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(topic, userTopicPrefix)
	return id, id != ""
}

// PublishEvent кодирует data в конверт Event и публикует в топик пользователя
func PublishEvent(ctx context.Context, b Broker, userID, eventType string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Event{
		Type:      eventType,
		UserID:    userID,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return b.Publish(ctx, UserTopic(userID), payload)
}

// DecodeEvent разбирает конверт события
func DecodeEvent(payload []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
