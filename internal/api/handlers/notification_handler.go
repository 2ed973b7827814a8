package handlers

import (
	"net/http"

	"riskwatch/internal/models"
	"riskwatch/internal/service"
)

// NotificationHandler - история уведомлений пользователя.
// Новые уведомления приходят в реальном времени через /ws.
type NotificationHandler struct {
	notificationService service.NotificationServiceInterface
}

// NewNotificationHandler создает новый NotificationHandler
func NewNotificationHandler(notificationService service.NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

// GetNotificationsResponse - ответ GET /notifications/{userId}
type GetNotificationsResponse struct {
	Notifications []*models.Notification `json:"notifications"`
	Total         int                    `json:"total"`
}

// MarkReadRequest - тело POST /notifications/{userId}/read.
// Пустой список - отметить все.
type MarkReadRequest struct {
	IDs []int64 `json:"ids"`
}

// GetNotifications возвращает уведомления, новые первыми
// GET /api/v1/notifications/{userId}?limit=&unread=true
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDVar(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}

	items, err := h.notificationService.List(r.Context(), userID, limit, parseBool(r, "unread"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []*models.Notification{}
	}
	respondJSON(w, http.StatusOK, GetNotificationsResponse{Notifications: items, Total: len(items)})
}

// MarkRead отмечает уведомления прочитанными
// POST /api/v1/notifications/{userId}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDVar(w, r)
	if !ok {
		return
	}

	var req MarkReadRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			respondBadBody(w, err)
			return
		}
	}

	updated, err := h.notificationService.MarkRead(r.Context(), userID, req.IDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}
