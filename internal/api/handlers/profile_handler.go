package handlers

import (
	"net/http"

	"riskwatch/internal/service"
)

// ProfileHandler - риск-профиль пользователя
//
// Функции:
// - Получение профиля (GET /api/v1/profile/{userId})
// - Частичное обновление (PUT /api/v1/profile/{userId})
//
// Пороги убытка и прибыли независимы, каждый в диапазоне [1, 50] %.
// Невалидный запрос не меняет профиль.
type ProfileHandler struct {
	profileService service.ProfileServiceInterface
}

// NewProfileHandler создает новый ProfileHandler
func NewProfileHandler(profileService service.ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{profileService: profileService}
}

// GetProfile возвращает риск-профиль
// GET /api/v1/profile/{userId}
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDVar(w, r)
	if !ok {
		return
	}

	profile, err := h.profileService.GetProfile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// UpdateProfile обновляет переданные поля профиля
// PUT /api/v1/profile/{userId}
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDVar(w, r)
	if !ok {
		return
	}

	var req service.UpdateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadBody(w, err)
		return
	}

	profile, err := h.profileService.UpdateProfile(r.Context(), userID, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}
