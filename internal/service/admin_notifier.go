package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"riskwatch/pkg/utils"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Типы событий для администратора
const (
	AdminEventRiskSettingsChanged = "risk_settings_changed"
	AdminEventCredentialsUpdated  = "credentials_updated"
)

// defaultAdminNotifyTimeout - сколько ждём доставку одного события
const defaultAdminNotifyTimeout = 5 * time.Second

// AdminNotifyTotal - доставка событий администратору
var AdminNotifyTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskwatch",
		Subsystem: "admin_notify",
		Name:      "events_total",
		Help:      "Admin notification deliveries by result",
	},
	[]string{"event", "result"}, // ok, error
)

// AdminEvent - событие для администратора (изменение риск-настроек и т.п.)
type AdminEvent struct {
	Type       string                 `json:"type"`
	UserID     string                 `json:"user_id"`
	Changed    []string               `json:"changed,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// AdminNotifier доставляет событие администратору
type AdminNotifier interface {
	Notify(ctx context.Context, event AdminEvent) error
}

// ============ Kafka ============

// kafkaWriter - часть *kafka.Writer, нужная издателю
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaAdminNotifier публикует события администратора в топик Kafka.
// Ключ сообщения - ID пользователя, события одного пользователя идут в одну партицию.
type KafkaAdminNotifier struct {
	writer kafkaWriter
	topic  string
}

// NewKafkaAdminNotifier создаёт издателя событий администратора
func NewKafkaAdminNotifier(brokers []string, topic string) *KafkaAdminNotifier {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaAdminNotifier{writer: writer, topic: topic}
}

// Notify отправляет событие в Kafka
func (k *KafkaAdminNotifier) Notify(ctx context.Context, event AdminEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal admin event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.UserID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(event.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close закрывает writer
func (k *KafkaAdminNotifier) Close() error {
	return k.writer.Close()
}

// ============ Лог ============

// LogAdminNotifier пишет события администратора в лог (Kafka не настроена)
type LogAdminNotifier struct {
	log *utils.Logger
}

// NewLogAdminNotifier создаёт notifier, пишущий в лог
func NewLogAdminNotifier() *LogAdminNotifier {
	return &LogAdminNotifier{log: utils.L().WithComponent("admin_notify")}
}

// Notify пишет событие в лог
func (l *LogAdminNotifier) Notify(_ context.Context, event AdminEvent) error {
	l.log.Info("admin event",
		utils.String("event", event.Type),
		utils.UserID(event.UserID),
		utils.Any("changed", event.Changed),
	)
	return nil
}

// ============ Асинхронная отправка ============

// AdminDispatcher отправляет события в фоне: сохранение настроек не ждёт
// доставку и не зависит от её результата. Ошибки логируются и считаются.
type AdminDispatcher struct {
	notifier AdminNotifier
	timeout  time.Duration
	wg       sync.WaitGroup
	log      *utils.Logger
}

// NewAdminDispatcher создаёт диспетчер. notifier == nil - события отбрасываются.
func NewAdminDispatcher(notifier AdminNotifier, timeout time.Duration) *AdminDispatcher {
	if timeout <= 0 {
		timeout = defaultAdminNotifyTimeout
	}
	return &AdminDispatcher{
		notifier: notifier,
		timeout:  timeout,
		log:      utils.L().WithComponent("admin_notify"),
	}
}

// Submit ставит событие в отправку и сразу возвращается
func (d *AdminDispatcher) Submit(event AdminEvent) {
	if d == nil || d.notifier == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				AdminNotifyTotal.WithLabelValues(event.Type, "error").Inc()
				d.log.Error("admin notifier panic", utils.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.notifier.Notify(ctx, event); err != nil {
			AdminNotifyTotal.WithLabelValues(event.Type, "error").Inc()
			d.log.Warn("admin notify failed",
				utils.String("event", event.Type),
				utils.UserID(event.UserID),
				utils.Err(err),
			)
			return
		}
		AdminNotifyTotal.WithLabelValues(event.Type, "ok").Inc()
	}()
}

// Wait ждёт завершения отправленных событий (graceful shutdown, тесты)
func (d *AdminDispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
