package websocket

import (
	"context"
	"sync"
	"sync/atomic"

	"riskwatch/internal/pubsub"
	"riskwatch/pkg/utils"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// deliverBufferSize - очередь сообщений хаба
const deliverBufferSize = 256

// ConnectedClients - открытые websocket соединения
var ConnectedClients = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskwatch",
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Number of connected dashboard websocket clients",
	},
)

// delivery - сообщение для всех соединений одного пользователя
type delivery struct {
	userID  string
	payload []byte
}

// SnapshotFunc возвращает текущее состояние пользователя (сирена, мониторинг),
// которое отправляется сразу после подключения
type SnapshotFunc func(userID string) interface{}

// Hub управляет websocket соединениями дашбордов.
//
// Соединения сгруппированы по пользователю: событие из топика
// пользователя уходит только в его вкладки. Источник событий - pubsub.Broker
// (Consume), поэтому хаб на любом инстансе получает события всех пуллеров.
//
// Использование:
// 1. Создать hub: hub := NewHub()
// 2. Запустить в горутине: go hub.Run()
// 3. Подписать на брокер: go hub.Consume(ctx, broker)
type Hub struct {
	// Зарегистрированные клиенты по пользователю
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	deliver    chan delivery
	register   chan *Client
	unregister chan *Client

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	snapshot SnapshotFunc
	dropped  atomic.Int64
	log      *utils.Logger
}

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		deliver:    make(chan delivery, deliverBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		log:        utils.L().WithComponent("ws_hub"),
	}
}

// SetSnapshot задаёт источник начального состояния для новых соединений.
// Вызывается до Run.
func (h *Hub) SetSnapshot(fn SnapshotFunc) {
	h.snapshot = fn
}

// Run запускает главный цикл Hub. Должен запускаться в отдельной горутине.
// Медленные клиенты (переполненный буфер) отключаются.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.stop:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
			h.mu.Unlock()
			ConnectedClients.Inc()
			h.log.Debug("client connected", utils.UserID(client.userID), utils.Int("total", h.ClientCount()))

		case client := <-h.unregister:
			if h.remove(client) {
				h.log.Debug("client disconnected", utils.UserID(client.userID), utils.Int("total", h.ClientCount()))
			}

		case d := <-h.deliver:
			h.mu.RLock()
			targets := make([]*Client, 0, len(h.clients[d.userID]))
			for c := range h.clients[d.userID] {
				targets = append(targets, c)
			}
			h.mu.RUnlock()

			for _, c := range targets {
				select {
				case c.send <- d.payload:
				default:
					// Клиент не успевает - отключаем
					h.remove(c)
					h.log.Warn("slow client removed", utils.UserID(c.userID))
				}
			}
		}
	}
}

// remove удаляет клиента и закрывает его канал. Возвращает false, если клиент уже удалён.
func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.userID]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
	ConnectedClients.Dec()
	return true
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for user, set := range h.clients {
		for c := range set {
			close(c.send)
			ConnectedClients.Dec()
		}
		delete(h.clients, user)
	}
}

// Stop останавливает Hub и закрывает все соединения
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Deliver ставит готовое сообщение в отправку соединениям пользователя.
// Не блокирует: при переполненной очереди сообщение отбрасывается.
func (h *Hub) Deliver(userID string, payload []byte) {
	select {
	case h.deliver <- delivery{userID: userID, payload: payload}:
	default:
		h.dropped.Add(1)
	}
}

// SendEvent кодирует событие в конверт pubsub.Event и отправляет пользователю
func (h *Hub) SendEvent(userID, eventType string, data interface{}) error {
	payload, err := encodeEvent(userID, eventType, data)
	if err != nil {
		return err
	}
	h.Deliver(userID, payload)
	return nil
}

// Consume пересылает события из брокера в соединения пользователей.
// Блокирует до отмены ctx или закрытия подписки.
func (h *Hub) Consume(ctx context.Context, broker pubsub.Broker) error {
	sub, err := broker.Subscribe(ctx, pubsub.AllUsers)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			userID, ok := pubsub.UserFromTopic(msg.Topic)
			if !ok {
				continue
			}
			h.Deliver(userID, msg.Payload)
		}
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// UserCount возвращает количество пользователей с открытым дашбордом
func (h *Hub) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages - сообщения, отброшенные из-за переполненной очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
