package websocket

import (
	"time"

	"riskwatch/internal/pubsub"
	"riskwatch/pkg/utils"
)

// Служебные сообщения хаба. События домена (notification, alarm, monitor)
// приходят из брокера уже закодированными в pubsub.Event.
const (
	// MessageTypeConnected - первое сообщение после подключения
	MessageTypeConnected = "connected"

	// MessageTypeSnapshot - текущее состояние сирены и мониторинга пользователя
	MessageTypeSnapshot = "snapshot"
)

// ConnectedData - содержимое сообщения connected
type ConnectedData struct {
	UserID     string    `json:"user_id"`
	ServerTime time.Time `json:"server_time"`
}

// encodeEvent кодирует сообщение в тот же конверт, что и события брокера
func encodeEvent(userID, eventType string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(pubsub.Event{
		Type:      eventType,
		UserID:    userID,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	})
}

// greeting - сообщения для нового соединения: connected и, если задан источник, snapshot
func (h *Hub) greeting(userID string) [][]byte {
	var out [][]byte
	if msg, err := encodeEvent(userID, MessageTypeConnected, ConnectedData{UserID: userID, ServerTime: time.Now().UTC()}); err == nil {
		out = append(out, msg)
	}
	if h.snapshot != nil {
		if msg, err := encodeEvent(userID, MessageTypeSnapshot, h.snapshot(userID)); err == nil {
			out = append(out, msg)
		} else {
			h.log.Warn("snapshot encode failed", utils.Err(err))
		}
	}
	return out
}
