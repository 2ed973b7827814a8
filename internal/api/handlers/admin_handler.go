package handlers

import (
	"net/http"
	"strings"

	"riskwatch/internal/models"
	"riskwatch/internal/service"
)

// AdminHandler - админские операции (за middleware.AdminAuth)
type AdminHandler struct {
	alertService service.AlertServiceInterface
}

// NewAdminHandler создает новый AdminHandler
func NewAdminHandler(alertService service.AlertServiceInterface) *AdminHandler {
	return &AdminHandler{alertService: alertService}
}

// TestAlertRequest - тело POST /admin/alerts/test
type TestAlertRequest struct {
	UserID string           `json:"user_id"`
	Type   models.AlertType `json:"type"`
}

// SendTestAlert создаёт тестовый алерт и включает сирену пользователя
// POST /api/v1/admin/alerts/test
func (h *AdminHandler) SendTestAlert(w http.ResponseWriter, r *http.Request) {
	var req TestAlertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadBody(w, err)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeServiceError(w, r, &service.ValidationError{Field: "user_id", Message: "is required"})
		return
	}

	rec, err := h.alertService.SendTestAlert(r.Context(), req.UserID, req.Type)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

// ClearTestAlerts удаляет тестовые алерты пользователя (?user=) или всех
// DELETE /api/v1/admin/alerts/test
func (h *AdminHandler) ClearTestAlerts(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user"))

	deleted, err := h.alertService.ClearTestAlerts(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
