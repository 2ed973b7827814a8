package handlers

import (
	"net/http"
	"strconv"

	"riskwatch/internal/service"

	"github.com/gorilla/mux"
)

// AlertHandler - алерты и сирена пользователя
type AlertHandler struct {
	alertService service.AlertServiceInterface
}

// NewAlertHandler создает новый AlertHandler
func NewAlertHandler(alertService service.AlertServiceInterface) *AlertHandler {
	return &AlertHandler{alertService: alertService}
}

// ListAlerts возвращает алерты пользователя, новые первыми
// GET /api/v1/alerts/{userId}?limit=&unacknowledged=true
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDVar(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}

	alerts, err := h.alertService.ListAlerts(r.Context(), userID, limit, parseBool(r, "unacknowledged"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"total":  len(alerts),
	})
}

// Acknowledge подтверждает алерт. Повторное подтверждение не ошибка.
// POST /api/v1/alerts/{id}/ack
func (h *AlertHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, CodeValidation, "alert id must be a positive integer")
		return
	}

	rec, err := h.alertService.Acknowledge(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// StopAlarm глушит сирену и подтверждает все открытые алерты
// POST /api/v1/alarm/{userId}/stop
func (h *AlertHandler) StopAlarm(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDVar(w, r)
	if !ok {
		return
	}

	res, err := h.alertService.StopAlarm(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// AlarmStatus возвращает состояние сирены
// GET /api/v1/alarm/{userId}
func (h *AlertHandler) AlarmStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDVar(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, h.alertService.AlarmStatus(userID))
}
